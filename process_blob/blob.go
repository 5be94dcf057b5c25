package process_blob

import (
	"ptrscan/process"
)

// ProcessBlob is a contiguous run of captured memory starting at a base address.
type ProcessBlob struct {
	baseaddress process.ProcessMemoryAddress
	data        []byte
}

var _ process.MemoryReader = (*ProcessBlob)(nil)

func NewProcessBlob(baseAddress process.ProcessMemoryAddress, data []byte) *ProcessBlob {
	return &ProcessBlob{
		baseaddress: baseAddress,
		data:        data,
	}
}

func (p *ProcessBlob) Base() process.ProcessMemoryAddress {
	return p.baseaddress
}

func (p *ProcessBlob) Data() []byte {
	return p.data
}

// ReadAt copies the captured bytes at addr into buf. Reading past the end of
// the blob is a short read, reading before its start is an error.
func (p *ProcessBlob) ReadAt(addr process.ProcessMemoryAddress, buf []byte) (int, error) {
	if addr < p.baseaddress {
		return 0, process.ErrAddressNotMapped
	}
	offset := uint64(addr - p.baseaddress)
	if offset >= uint64(len(p.data)) {
		return 0, nil
	}
	return copy(buf, p.data[offset:]), nil
}
