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

// countingReader tracks the stream offset for error reporting.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// readHeader parses the header and region table. It returns the byte size of
// both together, which is where the edge section starts.
func readHeader(r io.Reader) (process.PointerWidth, []memory_map.MemoryRegion, int64, error) {
	cr := &countingReader{r: r}

	var header fileHeader
	if err := struc.UnpackWithOrder(cr, &header, binary.LittleEndian); err != nil {
		if isShort(err) {
			return 0, nil, 0, &TruncatedRecordError{Section: "header", Offset: 0, Expected: headerSize, Actual: cr.n}
		}
		return 0, nil, 0, errors.Wrap(err, "failed to unpack header")
	}
	if header.Version != FormatVersion {
		return 0, nil, 0, &VersionMismatchError{Got: header.Version, Supported: FormatVersion}
	}
	width := process.PointerWidth(header.PointerWidth)
	if !width.Valid() {
		return 0, nil, 0, errors.Errorf("unsupported pointer width %d", header.PointerWidth)
	}

	size := int64(headerSize)
	regions := make([]memory_map.MemoryRegion, 0, min(header.RegionCount, 4096))
	for i := uint32(0); i < header.RegionCount; i++ {
		start := cr.n
		var rec regionRecord
		if err := struc.UnpackWithOrder(cr, &rec, binary.LittleEndian); err != nil {
			if isShort(err) {
				return 0, nil, 0, &TruncatedRecordError{
					Section:  "region",
					Offset:   start,
					Expected: rec.encodedSize(),
					Actual:   cr.n - start,
				}
			}
			return 0, nil, 0, errors.Wrapf(err, "failed to unpack region %d", i)
		}
		size += rec.encodedSize()
		regions = append(regions, rec.region())
	}

	return width, regions, size, nil
}

func isShort(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Decode reads a complete map file from r.
func Decode(r io.Reader) (*PointerMap, error) {
	br := bufio.NewReaderSize(r, MaxBufSize)

	width, regions, offset, err := readHeader(br)
	if err != nil {
		return nil, err
	}

	m := &PointerMap{PointerWidth: width, Regions: regions}
	edges, err := readEdges(br, width, offset)
	if err != nil {
		return nil, err
	}
	m.Edges = edges
	return m, nil
}

// readEdges reads edge records until EOF. offset is the stream position of
// the first record.
func readEdges(r io.Reader, width process.PointerWidth, offset int64) ([]PointerEdge, error) {
	size := edgeRecordSize(width)
	rec := make([]byte, size)
	var edges []PointerEdge

	for {
		n, err := io.ReadFull(r, rec)
		if err == io.EOF {
			return edges, nil
		}
		if err == io.ErrUnexpectedEOF {
			return nil, &TruncatedRecordError{
				Section:  "edge",
				Offset:   offset,
				Expected: int64(size),
				Actual:   int64(n),
			}
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to read edge")
		}

		e, err := decodeEdge(rec, width)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
		offset += int64(size)
	}
}

func decodeEdge(rec []byte, width process.PointerWidth) (PointerEdge, error) {
	loc, err := process.DecodeAddress(rec, width)
	if err != nil {
		return PointerEdge{}, err
	}
	target, err := process.DecodeAddress(rec[width:], width)
	if err != nil {
		return PointerEdge{}, err
	}
	return PointerEdge{Location: loc, Target: target}, nil
}
