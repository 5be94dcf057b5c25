//go:build linux

package process_linux

import (
	"errors"
	"fmt"

	"ptrscan/process"

	"golang.org/x/sys/unix"
)

// process_vm_readv reads len(localBuf) bytes at remoteAddr of pid into localBuf.
// It returns the number of bytes the kernel copied, which is short when the
// range runs into an unmapped page.
func process_vm_readv(
	pid process.ProcessID,
	localBuf []byte,
	remoteAddr process.ProcessMemoryAddress,
) (int, error) {
	if len(localBuf) == 0 {
		return 0, nil
	}

	localIov := []unix.Iovec{{Base: &localBuf[0]}}
	localIov[0].SetLen(len(localBuf))

	remoteIov := []unix.RemoteIovec{{
		Base: uintptr(remoteAddr),
		Len:  len(localBuf),
	}}

	n, err := unix.ProcessVMReadv(int(pid), localIov, remoteIov, 0)
	if err != nil {
		switch {
		case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
			return 0, fmt.Errorf("process_vm_readv: %w", process.ErrPermissionDenied)
		case errors.Is(err, unix.ESRCH):
			return 0, fmt.Errorf("process_vm_readv: %w", process.ErrProcessNotFound)
		case errors.Is(err, unix.EFAULT):
			return 0, fmt.Errorf("process_vm_readv at 0x%x: %w", uint64(remoteAddr), process.ErrAddressNotMapped)
		}
		return 0, fmt.Errorf("process_vm_readv failed: %w", err)
	}

	return n, nil
}

// ReadAt reads memory from the process. Short reads are reported through n.
func (p *LinuxProcess) ReadAt(addr process.ProcessMemoryAddress, buf []byte) (int, error) {
	pid := p.GetPID()
	if pid == 0 {
		return 0, process.ErrProcessNotOpen
	}

	return process_vm_readv(pid, buf, addr)
}

// ReadMemory reads exactly size bytes from the process at the specified address
func (p *LinuxProcess) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if !p.IsValidAddress(addr) {
		return nil, process.ErrAddressNotMapped
	}

	data := make([]byte, size)
	if err := process.ReadFull(p, addr, data); err != nil {
		return nil, fmt.Errorf("failed to read process memory: %w", err)
	}
	return data, nil
}
