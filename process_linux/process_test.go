//go:build linux

package process_linux

import (
	"os"
	"testing"
	"unsafe"

	"ptrscan/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissingProcess(t *testing.T) {
	_, err := NewWithPID(process.ProcessID(1 << 30))
	assert.ErrorIs(t, err, process.ErrProcessNotFound)
}

func TestReadOwnMemory(t *testing.T) {
	proc, err := NewWithPID(process.ProcessID(os.Getpid()))
	require.NoError(t, err)
	defer proc.Close()

	marker := []byte("ptrscan-marker-0123456789")
	addr := process.ProcessMemoryAddress(uintptr(unsafe.Pointer(&marker[0])))

	regions, err := proc.Regions()
	require.NoError(t, err)
	require.NotEmpty(t, regions)

	// the heap may have grown since the map was read
	require.NoError(t, proc.UpdateMemoryMap())
	assert.True(t, proc.IsValidAddress(addr))

	buf := make([]byte, len(marker))
	n, err := proc.ReadAt(addr, buf)
	require.NoError(t, err)
	assert.Equal(t, len(marker), n)
	assert.Equal(t, marker, buf)

	data, err := proc.ReadMemory(addr, process.ProcessMemorySize(len(marker)))
	require.NoError(t, err)
	assert.Equal(t, marker, data)
}

func TestFindSelf(t *testing.T) {
	info, err := NewProcessFinder().FindProcessByPID(process.ProcessID(os.Getpid()))
	require.NoError(t, err)
	assert.Equal(t, process.ProcessID(os.Getpid()), info.PID)
	assert.NotEmpty(t, info.Name)
}
