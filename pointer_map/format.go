// Package pointer_map builds, stores and queries the pointer graph of a
// process: every location whose bytes point into a mapped region.
//
// On-disk layout, all integers little endian:
//
//	version        u32
//	pointer width  u8
//	region count   u32
//	region record  x region count
//	edge record    (location uN, target uN) repeated until EOF
//
// Edge records have no delimiters, so record i starts at a fixed offset and
// can be read without parsing the records before it.
package pointer_map

import (
	"fmt"

	"ptrscan/process"
	"ptrscan/process/memory_map"
)

// FormatVersion is the only layout version this package reads and writes.
const FormatVersion uint32 = 1

const headerSize = 4 + 1 + 4

// MaxBufSize is the write buffer used for map files.
const MaxBufSize = 4 << 20

// PointerEdge records that the bytes at Location, read as an address, equal
// Target, and that Target lies in a mapped region.
type PointerEdge struct {
	Location process.ProcessMemoryAddress
	Target   process.ProcessMemoryAddress
}

// PointerMap is a decoded map file.
type PointerMap struct {
	PointerWidth process.PointerWidth
	Regions      []memory_map.MemoryRegion
	Edges        []PointerEdge
}

// Index builds the region index of the map.
func (m *PointerMap) Index() (*memory_map.Index, error) {
	return memory_map.NewIndex(m.Regions)
}

type fileHeader struct {
	Version      uint32
	PointerWidth uint8
	RegionCount  uint32
}

type regionRecord struct {
	Start    uint64
	End      uint64
	Size     uint64
	Perms    uint8
	Category uint8
	PathLen  int `struc:"uint16,sizeof=Path"`
	Path     string
	NameLen  int `struc:"uint16,sizeof=Name"`
	Name     string
}

const maxStringLen = 1<<16 - 1

func (r *regionRecord) encodedSize() int64 {
	return 8*3 + 1 + 1 + 2 + int64(r.PathLen) + 2 + int64(r.NameLen)
}

func newRegionRecord(r memory_map.MemoryRegion) (*regionRecord, error) {
	if len(r.Path) > maxStringLen || len(r.Name) > maxStringLen {
		return nil, fmt.Errorf("region %s: path or name longer than %d bytes", r, maxStringLen)
	}
	return &regionRecord{
		Start:    r.Start,
		End:      r.End,
		Size:     r.Size,
		Perms:    uint8(r.Perms),
		Category: uint8(r.Category),
		PathLen:  len(r.Path),
		Path:     r.Path,
		NameLen:  len(r.Name),
		Name:     r.Name,
	}, nil
}

func (r *regionRecord) region() memory_map.MemoryRegion {
	return memory_map.MemoryRegion{
		Start:    r.Start,
		End:      r.End,
		Size:     r.Size,
		Perms:    memory_map.Perms(r.Perms),
		Category: memory_map.Category(r.Category),
		Path:     r.Path,
		Name:     r.Name,
	}
}

// edgeRecordSize is the byte size of one (location, target) pair.
func edgeRecordSize(w process.PointerWidth) int {
	return 2 * int(w)
}

// TruncatedRecordError reports input that ends inside a record.
type TruncatedRecordError struct {
	Section  string // "header", "region" or "edge"
	Offset   int64  // byte offset where the incomplete record starts
	Expected int64  // bytes the record needs
	Actual   int64  // bytes available
}

func (e *TruncatedRecordError) Error() string {
	return fmt.Sprintf("truncated %s record at byte %d: expected %d bytes, have %d",
		e.Section, e.Offset, e.Expected, e.Actual)
}

// VersionMismatchError reports a map file written in an unsupported layout.
type VersionMismatchError struct {
	Got       uint32
	Supported uint32
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("unsupported pointer map version %d (supported: %d)", e.Got, e.Supported)
}
