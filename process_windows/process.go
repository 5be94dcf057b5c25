//go:build windows

package process_windows

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	gops "github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/windows"

	"ptrscan/process"
	"ptrscan/process/memory_map"
	"ptrscan/process_blob"
)

const (
	memCommit = 0x1000
	memImage  = 0x1000000

	pageNoAccess         = 0x01
	pageReadOnly         = 0x02
	pageReadWrite        = 0x04
	pageWriteCopy        = 0x08
	pageExecute          = 0x10
	pageExecuteRead      = 0x20
	pageExecuteReadWrite = 0x40
	pageExecuteWriteCopy = 0x80
	pageGuard            = 0x100
)

// WindowsProcess implements the process.Process interface for Windows systems
type WindowsProcess struct {
	pid    process.ProcessID
	handle windows.Handle
	log    *logger.Logger
	mm     []memory_map.MemoryRegion
	index  *memory_map.Index
	mu     sync.Mutex
}

// New creates a new WindowsProcess instance
func New() *WindowsProcess {
	return &WindowsProcess{
		log: logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open")),
	}
}

// NewWithPID creates a new WindowsProcess instance and opens it with the given PID
func NewWithPID(pid process.ProcessID) (*WindowsProcess, error) {
	p := New()
	if err := p.Open(pid); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *WindowsProcess) Open(pid process.ProcessID) error {
	handle, err := windows.OpenProcess(windows.PROCESS_VM_READ|windows.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		switch {
		case errors.Is(err, windows.ERROR_ACCESS_DENIED):
			return fmt.Errorf("pid %d: %w", pid, process.ErrPermissionDenied)
		case errors.Is(err, windows.ERROR_INVALID_PARAMETER):
			return fmt.Errorf("pid %d: %w", pid, process.ErrProcessNotFound)
		}
		return fmt.Errorf("OpenProcess failed: %w", err)
	}

	p.mu.Lock()
	p.pid = pid
	p.handle = handle
	p.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("process-%d", pid)))
	p.mu.Unlock()

	if err := p.UpdateMemoryMap(); err != nil {
		p.Close()
		return err
	}

	p.log.Infoln("Process opened")
	return nil
}

func (p *WindowsProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle != 0 {
		if err := windows.CloseHandle(p.handle); err != nil {
			return fmt.Errorf("CloseHandle failed: %w", err)
		}
		p.handle = 0
	}

	p.pid = 0
	p.mm = nil
	p.index = nil
	p.log.Infoln("Process closed")
	p.log = logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open"))

	return nil
}

func (p *WindowsProcess) GetPID() process.ProcessID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// UpdateMemoryMap walks the address space with VirtualQueryEx and keeps the
// committed regions. Image mappings are named after their module file.
func (p *WindowsProcess) UpdateMemoryMap() error {
	p.mu.Lock()
	handle := p.handle
	p.mu.Unlock()
	if handle == 0 {
		return process.ErrProcessNotOpen
	}

	var regions []memory_map.MemoryRegion
	modules := make(map[uintptr]string)

	var addr uintptr
	for {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQueryEx(handle, addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
			// past the last user-mode page
			break
		}
		next := mbi.BaseAddress + mbi.RegionSize
		if next <= addr {
			break
		}
		addr = next

		if mbi.State != memCommit {
			continue
		}

		pathname := ""
		if mbi.Type == memImage {
			name, ok := modules[mbi.AllocationBase]
			if !ok {
				name = moduleFileName(handle, mbi.AllocationBase)
				modules[mbi.AllocationBase] = name
			}
			pathname = name
		}

		regions = append(regions, memory_map.NewMemoryRegion(
			uint64(mbi.BaseAddress),
			uint64(mbi.BaseAddress+mbi.RegionSize),
			protectPerms(mbi.Protect),
			pathname,
		))
	}

	index, err := memory_map.NewIndex(regions)
	if err != nil {
		return fmt.Errorf("inconsistent memory map: %w", err)
	}

	p.mu.Lock()
	p.mm = index.Regions()
	p.index = index
	p.mu.Unlock()
	return nil
}

func moduleFileName(handle windows.Handle, base uintptr) string {
	var buf [windows.MAX_PATH]uint16
	if err := windows.GetModuleFileNameEx(handle, windows.Handle(base), &buf[0], uint32(len(buf))); err != nil {
		return ""
	}
	return filepath.ToSlash(windows.UTF16ToString(buf[:]))
}

func protectPerms(protect uint32) memory_map.Perms {
	if protect&pageGuard != 0 || protect&pageNoAccess != 0 {
		return 0
	}

	var perms memory_map.Perms
	switch protect & 0xff {
	case pageReadOnly:
		perms = memory_map.PermRead
	case pageReadWrite, pageWriteCopy:
		perms = memory_map.PermRead | memory_map.PermWrite
	case pageExecute:
		perms = memory_map.PermExec
	case pageExecuteRead:
		perms = memory_map.PermRead | memory_map.PermExec
	case pageExecuteReadWrite, pageExecuteWriteCopy:
		perms = memory_map.PermRead | memory_map.PermWrite | memory_map.PermExec
	}
	return perms
}

// Regions returns a copy of the last memory map read, in address order.
func (p *WindowsProcess) Regions() ([]memory_map.MemoryRegion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle == 0 {
		return nil, process.ErrProcessNotOpen
	}
	result := make([]memory_map.MemoryRegion, len(p.mm))
	copy(result, p.mm)
	return result, nil
}

func (p *WindowsProcess) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.index == nil {
		return false
	}
	region, ok := p.index.Contains(uint64(addr))
	return ok && region.IsReadable()
}

// ReadAt reads with ReadProcessMemory. A read that stops at an inaccessible
// page returns the bytes copied so far.
func (p *WindowsProcess) ReadAt(addr process.ProcessMemoryAddress, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	p.mu.Lock()
	handle := p.handle
	p.mu.Unlock()
	if handle == 0 {
		return 0, process.ErrProcessNotOpen
	}

	var n uintptr
	err := windows.ReadProcessMemory(handle, uintptr(addr), &buf[0], uintptr(len(buf)), &n)
	if err != nil {
		if errors.Is(err, windows.ERROR_PARTIAL_COPY) {
			return int(n), nil
		}
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return int(n), process.ErrPermissionDenied
		}
		return int(n), fmt.Errorf("ReadProcessMemory at 0x%x: %w", uint64(addr), err)
	}
	return int(n), nil
}

func (p *WindowsProcess) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	buf := make([]byte, size)
	if err := process.ReadFull(p, addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *WindowsProcess) Save(dirname string) error {
	pid := p.GetPID()
	if pid == 0 {
		return process.ErrProcessNotOpen
	}
	if err := p.UpdateMemoryMap(); err != nil {
		return fmt.Errorf("failed to update memory map: %w", err)
	}

	name := ""
	if proc, err := gops.NewProcess(int32(pid)); err == nil {
		name, _ = proc.Name()
	}

	p.log.Infoln("Saving process to directory:", dirname)
	return process_blob.SaveSnapshot(dirname, pid, name, p)
}

// FindProcess returns the lowest pid whose executable name is name, with or
// without the .exe suffix.
func FindProcess(name string) (process.ProcessID, error) {
	procs, err := gops.Processes()
	if err != nil {
		return 0, fmt.Errorf("failed to list processes: %w", err)
	}

	want := strings.TrimSuffix(strings.ToLower(name), ".exe")
	var best process.ProcessID
	for _, proc := range procs {
		n, err := proc.Name()
		if err != nil {
			continue
		}
		if strings.TrimSuffix(strings.ToLower(n), ".exe") != want {
			continue
		}
		if pid := process.ProcessID(proc.Pid); best == 0 || pid < best {
			best = pid
		}
	}
	if best == 0 {
		return 0, fmt.Errorf("name %q: %w", name, process.ErrProcessNotFound)
	}
	return best, nil
}
