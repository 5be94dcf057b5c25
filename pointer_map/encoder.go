package pointer_map

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"ptrscan/process"
	"ptrscan/process/memory_map"
)

// Writer streams a map file: the header and region table are written by
// NewWriter, edges follow one record at a time.
type Writer struct {
	w     *bufio.Writer
	width process.PointerWidth
	rec   []byte
	count uint64
}

// NewWriter writes the header and region table to w.
func NewWriter(w io.Writer, width process.PointerWidth, regions []memory_map.MemoryRegion) (*Writer, error) {
	if !width.Valid() {
		return nil, errors.Errorf("unsupported pointer width %d", width)
	}

	bw := bufio.NewWriterSize(w, MaxBufSize)

	header := &fileHeader{
		Version:      FormatVersion,
		PointerWidth: uint8(width),
		RegionCount:  uint32(len(regions)),
	}
	if err := struc.PackWithOrder(bw, header, binary.LittleEndian); err != nil {
		return nil, errors.Wrap(err, "failed to pack header")
	}

	for _, r := range regions {
		rec, err := newRegionRecord(r)
		if err != nil {
			return nil, err
		}
		if err := struc.PackWithOrder(bw, rec, binary.LittleEndian); err != nil {
			return nil, errors.Wrapf(err, "failed to pack region %s", r)
		}
	}

	return &Writer{
		w:     bw,
		width: width,
		rec:   make([]byte, edgeRecordSize(width)),
	}, nil
}

// WriteEdge appends one edge record.
func (w *Writer) WriteEdge(e PointerEdge) error {
	n := int(w.width)
	if err := process.EncodeAddress(w.rec[:n], e.Location, w.width); err != nil {
		return errors.Wrap(err, "edge location")
	}
	if err := process.EncodeAddress(w.rec[n:], e.Target, w.width); err != nil {
		return errors.Wrap(err, "edge target")
	}
	if _, err := w.w.Write(w.rec); err != nil {
		return errors.Wrap(err, "failed to write edge")
	}
	w.count++
	return nil
}

// Count returns the number of edges written so far.
func (w *Writer) Count() uint64 {
	return w.count
}

// Flush pushes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	return errors.Wrap(w.w.Flush(), "failed to flush pointer map")
}

// Encode writes m to w in one go.
func Encode(w io.Writer, m *PointerMap) error {
	pw, err := NewWriter(w, m.PointerWidth, m.Regions)
	if err != nil {
		return err
	}
	for _, e := range m.Edges {
		if err := pw.WriteEdge(e); err != nil {
			return err
		}
	}
	return pw.Flush()
}
