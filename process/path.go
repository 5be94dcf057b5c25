package process

import (
	"fmt"
)

// ReadFull reads len(buf) bytes at addr and fails on a short read.
func ReadFull(r MemoryReader, addr ProcessMemoryAddress, buf []byte) error {
	n, err := r.ReadAt(addr, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("partial read at 0x%x: %d of %d bytes", uint64(addr), n, len(buf))
	}
	return nil
}

// ReadPointer reads a w-byte little-endian pointer at addr.
func ReadPointer(r MemoryReader, addr ProcessMemoryAddress, w PointerWidth) (ProcessMemoryAddress, error) {
	if !w.Valid() {
		return 0, fmt.Errorf("unsupported pointer width %d", w)
	}

	var buf [8]byte
	if err := ReadFull(r, addr, buf[:w]); err != nil {
		return 0, err
	}
	return DecodeAddress(buf[:w], w)
}
