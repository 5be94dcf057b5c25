package process

import (
	"ptrscan/process/memory_map"
)

// RegionSource reports the geometry and attributes of a process's mapped regions.
type RegionSource interface {
	// Regions returns the mapped regions ordered by start address
	Regions() ([]memory_map.MemoryRegion, error)
}

// MemoryReader reads raw bytes out of a process's address space.
//
// ReadAt fills buf starting at addr and returns the number of bytes read.
// A short read is not an error by itself: n < len(buf) with a nil error
// means the bytes past n could not be read.
type MemoryReader interface {
	ReadAt(addr ProcessMemoryAddress, buf []byte) (int, error)
}

// Snapshot is anything that exposes both region geometry and memory contents,
// a live process or a saved image.
type Snapshot interface {
	RegionSource
	MemoryReader
}

// Process is the interface that defines operations for interacting with a system process
type Process interface {
	Snapshot

	// Open opens a process with the given PID for memory operations
	Open(pid ProcessID) error

	// Close closes the process and releases resources
	Close() error

	// GetPID returns the process ID
	GetPID() ProcessID

	// UpdateMemoryMap refreshes the memory map for the process
	UpdateMemoryMap() error

	// IsValidAddress checks if the given memory address is valid and readable
	IsValidAddress(addr ProcessMemoryAddress) bool

	// ReadMemory reads exactly size bytes from the process at the specified address
	ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error)

	// Save saves the process memory and metadata to a directory
	Save(dirname string) error
}
