package pointer_map

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"

	"ptrscan/process"
	"ptrscan/process/memory_map"
)

// File is an opened map file with random access to its edge records.
type File struct {
	f           *os.File
	width       process.PointerWidth
	regions     []memory_map.MemoryRegion
	edgesOffset int64
	edgeCount   int64
}

// Open parses the header and region table of the map at path and checks that
// the edge section holds a whole number of records.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open pointer map")
	}

	width, regions, offset, err := readHeader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to stat pointer map")
	}

	size := int64(edgeRecordSize(width))
	rest := st.Size() - offset
	if rem := rest % size; rem != 0 {
		f.Close()
		return nil, &TruncatedRecordError{
			Section:  "edge",
			Offset:   offset + rest - rem,
			Expected: size,
			Actual:   rem,
		}
	}

	return &File{
		f:           f,
		width:       width,
		regions:     regions,
		edgesOffset: offset,
		edgeCount:   rest / size,
	}, nil
}

func (f *File) PointerWidth() process.PointerWidth {
	return f.width
}

// Regions returns the region table stored in the file.
func (f *File) Regions() []memory_map.MemoryRegion {
	out := make([]memory_map.MemoryRegion, len(f.regions))
	copy(out, f.regions)
	return out
}

func (f *File) EdgeCount() int64 {
	return f.edgeCount
}

// Edge reads edge record i without touching the records before it.
func (f *File) Edge(i int64) (PointerEdge, error) {
	if i < 0 || i >= f.edgeCount {
		return PointerEdge{}, errors.Errorf("edge index %d out of range [0, %d)", i, f.edgeCount)
	}

	size := edgeRecordSize(f.width)
	var rec [16]byte
	if _, err := f.f.ReadAt(rec[:size], f.edgesOffset+i*int64(size)); err != nil {
		return PointerEdge{}, errors.Wrapf(err, "failed to read edge %d", i)
	}
	return decodeEdge(rec[:size], f.width)
}

// Edges reads every edge record in file order.
func (f *File) Edges() ([]PointerEdge, error) {
	section := io.NewSectionReader(f.f, f.edgesOffset, f.edgeCount*int64(edgeRecordSize(f.width)))
	return readEdges(bufio.NewReaderSize(section, MaxBufSize), f.width, f.edgesOffset)
}

// Map reads the whole file into memory.
func (f *File) Map() (*PointerMap, error) {
	edges, err := f.Edges()
	if err != nil {
		return nil, err
	}
	return &PointerMap{PointerWidth: f.width, Regions: f.Regions(), Edges: edges}, nil
}

func (f *File) Close() error {
	return f.f.Close()
}
