//go:build linux

// Package process_linux implements the process layer on Linux using
// /proc/<pid>/maps and process_vm_readv.
package process_linux

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"ptrscan/process"
	"ptrscan/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// LinuxProcess implements the process.Process interface for Linux systems
type LinuxProcess struct {
	pid   process.ProcessID
	log   *logger.Logger
	mm    []memory_map.MemoryRegion
	index *memory_map.Index
	mu    sync.Mutex
}

var _ process.Process = (*LinuxProcess)(nil)

// New creates a new LinuxProcess instance
func New() *LinuxProcess {
	return &LinuxProcess{
		log: logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open")),
	}
}

// NewWithPID creates a new LinuxProcess instance and opens it with the given PID
func NewWithPID(pid process.ProcessID) (*LinuxProcess, error) {
	p := New()
	if err := p.Open(pid); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *LinuxProcess) Open(pid process.ProcessID) error {
	procPath := fmt.Sprintf("/proc/%d", pid)
	if _, err := os.Stat(procPath); os.IsNotExist(err) {
		return fmt.Errorf("pid %d: %w", pid, process.ErrProcessNotFound)
	}

	p.mu.Lock()
	p.pid = pid
	p.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("process-%d", pid)))
	p.mu.Unlock()

	if err := p.UpdateMemoryMap(); err != nil {
		p.mu.Lock()
		p.pid = 0
		p.mu.Unlock()
		return fmt.Errorf("failed to initialize memory map: %w", err)
	}

	p.log.Infoln("Process opened")

	return nil
}

func (p *LinuxProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pid = 0
	p.mm = nil
	p.index = nil

	p.log.Infoln("Process closed")
	p.log = logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open"))

	return nil
}

// GetPID returns the process ID
func (p *LinuxProcess) GetPID() process.ProcessID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *LinuxProcess) UpdateMemoryMap() error {
	p.mu.Lock()
	pid := p.pid
	p.mu.Unlock()
	if pid == 0 {
		return process.ErrProcessNotOpen
	}

	mm, err := memory_map.NewLinuxMemoryMap().ReadMemoryMap(int(pid))
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("pid %d: %w", pid, process.ErrPermissionDenied)
		}
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("pid %d: %w", pid, process.ErrProcessNotFound)
		}
		return fmt.Errorf("failed to read memory map: %w", err)
	}

	index, err := memory_map.NewIndex(mm)
	if err != nil {
		return fmt.Errorf("inconsistent memory map: %w", err)
	}

	p.mu.Lock()
	p.mm = index.Regions()
	p.index = index
	p.mu.Unlock()
	return nil
}

// Regions returns a copy of the last memory map read, in address order.
func (p *LinuxProcess) Regions() ([]memory_map.MemoryRegion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid == 0 {
		return nil, process.ErrProcessNotOpen
	}

	result := make([]memory_map.MemoryRegion, len(p.mm))
	copy(result, p.mm)
	return result, nil
}

func (p *LinuxProcess) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.index == nil {
		return false
	}
	region, ok := p.index.Contains(uint64(addr))
	return ok && region.IsReadable()
}

func (p *LinuxProcess) Save(dirname string) error {
	pid := p.GetPID()
	if pid == 0 {
		return process.ErrProcessNotOpen
	}

	if err := p.UpdateMemoryMap(); err != nil {
		return fmt.Errorf("failed to update memory map: %w", err)
	}

	p.log.Infoln("Saving process to directory:", dirname)
	return saveSnapshot(dirname, pid, p)
}
