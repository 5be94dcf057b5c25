package process

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ProcessMemoryAddress represents a memory address within a process
type ProcessMemoryAddress uint64

// ProcessMemorySize represents a size of memory region
type ProcessMemorySize uint

// Offset is a signed displacement applied to an address.
type Offset int64

// String renders the offset with an explicit sign, e.g. "+0x8" or "-0x10".
func (o Offset) String() string {
	if o < 0 {
		// math.MinInt64 has no positive counterpart
		return fmt.Sprintf("-0x%x", uint64(-(o+1))+1)
	}
	return fmt.Sprintf("+0x%x", uint64(o))
}

// OffsetOverflowError is returned when applying an offset would leave the address space.
type OffsetOverflowError struct {
	Address ProcessMemoryAddress
	Offset  Offset
}

func (e *OffsetOverflowError) Error() string {
	return fmt.Sprintf("offset %s overflows address 0x%x", e.Offset, uint64(e.Address))
}

// Apply adds o to addr. Wraparound is reported as an *OffsetOverflowError.
func (o Offset) Apply(addr ProcessMemoryAddress) (ProcessMemoryAddress, error) {
	if o >= 0 {
		if uint64(o) > math.MaxUint64-uint64(addr) {
			return 0, &OffsetOverflowError{Address: addr, Offset: o}
		}
		return addr + ProcessMemoryAddress(o), nil
	}

	mag := uint64(-(o + 1)) + 1
	if mag > uint64(addr) {
		return 0, &OffsetOverflowError{Address: addr, Offset: o}
	}
	return addr - ProcessMemoryAddress(mag), nil
}

// OffsetBetween returns to - from as an Offset, and false if it does not fit.
func OffsetBetween(from, to ProcessMemoryAddress) (Offset, bool) {
	if to >= from {
		d := uint64(to - from)
		if d > math.MaxInt64 {
			return 0, false
		}
		return Offset(d), true
	}
	d := uint64(from - to)
	if d > math.MaxInt64 {
		return 0, false
	}
	return -Offset(d), true
}

// SaturatingSub returns addr - n, clamped at zero.
func SaturatingSub(addr ProcessMemoryAddress, n uint64) ProcessMemoryAddress {
	if uint64(addr) < n {
		return 0
	}
	return addr - ProcessMemoryAddress(n)
}

// SaturatingAdd returns addr + n, clamped at the top of the address space.
func SaturatingAdd(addr ProcessMemoryAddress, n uint64) ProcessMemoryAddress {
	if n > math.MaxUint64-uint64(addr) {
		return math.MaxUint64
	}
	return addr + ProcessMemoryAddress(n)
}

// PointerWidth is the size in bytes of a pointer in the target process.
type PointerWidth uint8

const (
	PointerWidth32 PointerWidth = 4
	PointerWidth64 PointerWidth = 8
)

// Valid reports whether w is a supported pointer width.
func (w PointerWidth) Valid() bool {
	return w == PointerWidth32 || w == PointerWidth64
}

// DecodeAddress interprets exactly w little-endian bytes of b as an address.
func DecodeAddress(b []byte, w PointerWidth) (ProcessMemoryAddress, error) {
	if len(b) < int(w) {
		return 0, fmt.Errorf("need %d bytes to decode a pointer, have %d", w, len(b))
	}
	switch w {
	case PointerWidth32:
		return ProcessMemoryAddress(binary.LittleEndian.Uint32(b[:4])), nil
	case PointerWidth64:
		return ProcessMemoryAddress(binary.LittleEndian.Uint64(b[:8])), nil
	}
	return 0, fmt.Errorf("unsupported pointer width %d", w)
}

// EncodeAddress writes addr into b as w little-endian bytes.
func EncodeAddress(b []byte, addr ProcessMemoryAddress, w PointerWidth) error {
	if len(b) < int(w) {
		return fmt.Errorf("need %d bytes to encode a pointer, have %d", w, len(b))
	}
	switch w {
	case PointerWidth32:
		if uint64(addr) > math.MaxUint32 {
			return fmt.Errorf("address 0x%x does not fit in 32 bits", uint64(addr))
		}
		binary.LittleEndian.PutUint32(b[:4], uint32(addr))
		return nil
	case PointerWidth64:
		binary.LittleEndian.PutUint64(b[:8], uint64(addr))
		return nil
	}
	return fmt.Errorf("unsupported pointer width %d", w)
}
