package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"ptrscan/pointer_path"
	"ptrscan/process"
	"ptrscan/process/memory_map"
	"ptrscan/process_blob"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeSnapshot saves a process with a module slot pointing at a record
// whose field at +8 points at a second record. The payload sits at +0x10 in
// the second record, address 0x10008010.
func writeSnapshot(t *testing.T) string {
	t.Helper()
	module := memory_map.NewMemoryRegion(0x400000, 0x401000, memory_map.PermRead|memory_map.PermWrite, "/opt/game/game")
	heap := memory_map.NewMemoryRegion(0x10000000, 0x10010000, memory_map.PermRead|memory_map.PermWrite, "[heap]")
	stack := memory_map.NewMemoryRegion(0x7ffc0000, 0x7ffc1000, memory_map.PermRead|memory_map.PermWrite, "[stack]")

	moduleData := make([]byte, module.Size)
	heapData := make([]byte, heap.Size)
	stackData := make([]byte, stack.Size)
	require.NoError(t, process.EncodeAddress(moduleData[0x20:], 0x10000100, process.PointerWidth64))
	require.NoError(t, process.EncodeAddress(heapData[0x108:], 0x10008000, process.PointerWidth64))
	require.NoError(t, process.EncodeAddress(heapData[0x8010:], 0x1337, process.PointerWidth64))
	require.NoError(t, process.EncodeAddress(stackData[0x40:], 0x10000100, process.PointerWidth64))

	dump := process_blob.NewProcessDump().
		AddRegion(module, moduleData).
		AddRegion(heap, heapData).
		AddRegion(stack, stackData)
	dump.PID = 4242
	dump.Name = "game"

	dir := filepath.Join(t.TempDir(), "snap")
	require.NoError(t, dump.Save(dir))
	return dir
}

func TestDumpScanVerify(t *testing.T) {
	snap := writeSnapshot(t)
	work := t.TempDir()
	mapFile := filepath.Join(work, "game.ptrmap")
	pathsFile := filepath.Join(work, "paths.yaml")

	out, err := run(t, "dump", "--snapshot", snap, "-o", mapFile, "--chunk-size", "4096", "--workers", "2")
	require.NoError(t, err, out)
	assert.Contains(t, out, "3 edges")

	out, err = run(t, "scan", "--map", mapFile, "-m", "game", "-t", "0x10008010", "-d", "2", "--max-offset", "64", "-f", "yaml", "-o", pathsFile)
	require.NoError(t, err, out)
	assert.Contains(t, out, "1 paths (found)")

	f, err := os.Open(pathsFile)
	require.NoError(t, err)
	defer f.Close()
	target, paths, err := pointer_path.Read(f)
	require.NoError(t, err)
	assert.Equal(t, "0x10008010", target)
	require.Len(t, paths, 1)
	assert.Equal(t, "game+0x20 -> +0x8 -> +0x10", paths[0].String())

	out, err = run(t, "verify", "--snapshot", snap, "--paths", pathsFile, "--preview", "16")
	require.NoError(t, err, out)
	assert.Contains(t, out, "OK       game+0x20 -> +0x8 -> +0x10: 0x10008010")
	assert.Contains(t, out, "0000000010008010")

	out, err = run(t, "verify", "--snapshot", snap, "--path", "game+0x20 -> +0x10 -> +0x10")
	assert.Error(t, err)
	assert.Contains(t, out, "BROKEN")

	out, err = run(t, "verify", "--snapshot", snap, "--path", "game+0x20 -> +0x8 -> +0x18", "-t", "10008010")
	assert.Error(t, err)
	assert.Contains(t, out, "MISMATCH")
}

func TestLiveScanFromSnapshot(t *testing.T) {
	snap := writeSnapshot(t)

	out, err := run(t, "scan", "--snapshot", snap, "-m", "game", "--offset", "0x20", "-t", "10008010", "-d", "2", "--max-offset", "64")
	require.NoError(t, err, out)
	assert.Contains(t, out, "game+0x20 -> +0x8 -> +0x10\n")

	out, err = run(t, "scan", "--snapshot", snap, "-m", "game", "-t", "10008010", "-d", "1", "--max-offset", "64")
	require.NoError(t, err, out)
	assert.Contains(t, out, "0 paths (no path found)")
}

func TestRegions(t *testing.T) {
	snap := writeSnapshot(t)
	mapFile := filepath.Join(t.TempDir(), "game.ptrmap")
	_, err := run(t, "dump", "--snapshot", snap, "-o", mapFile)
	require.NoError(t, err)

	for _, args := range [][]string{
		{"regions", "--snapshot", snap},
		{"regions", "--map", mapFile},
	} {
		out, err := run(t, args...)
		require.NoError(t, err, out)
		assert.Contains(t, out, "0000000000400000")
		assert.Contains(t, out, "game")
		assert.Contains(t, out, "[heap]")
		assert.Contains(t, out, "[stack]")
		// tablewriter upper-cases footers
		assert.Contains(t, out, "3 REGIONS")
	}
}

func TestCommandErrors(t *testing.T) {
	snap := writeSnapshot(t)

	tests := []struct {
		name string
		args []string
	}{
		{"dump without output", []string{"dump", "--snapshot", snap}},
		{"dump with two sources", []string{"dump", "--snapshot", snap, "--pid", "1", "-o", filepath.Join(t.TempDir(), "x")}},
		{"scan without target", []string{"scan", "--snapshot", snap, "-m", "game"}},
		{"scan without module", []string{"scan", "--snapshot", snap, "-t", "0x1000"}},
		{"scan unknown module", []string{"scan", "--snapshot", snap, "-m", "nope", "-t", "0x1000"}},
		{"scan map and snapshot", []string{"scan", "--map", "x", "--snapshot", snap, "-m", "game", "-t", "0x1000"}},
		{"scan bad format", []string{"scan", "--snapshot", snap, "-m", "game", "-t", "0x1000", "-f", "xml"}},
		{"scan bad width", []string{"scan", "--snapshot", snap, "-m", "game", "-t", "0x1000", "--width", "3"}},
		{"verify without paths", []string{"verify", "--snapshot", snap}},
		{"snapshot of snapshot", []string{"snapshot", "--snapshot", snap, "-o", t.TempDir()}},
		{"missing map", []string{"regions", "--map", filepath.Join(t.TempDir(), "missing")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestParseAddress(t *testing.T) {
	for in, want := range map[string]process.ProcessMemoryAddress{
		"0x10":           0x10,
		"10":             0x10,
		"0X7ffd0000":     0x7ffd0000,
		" deadbeef ":     0xdeadbeef,
		"ffffffffffffff": 0xffffffffffffff,
	} {
		got, err := parseAddress(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseAddress("0xzz")
	assert.Error(t, err)
}

func TestParseOffset(t *testing.T) {
	for in, want := range map[string]process.Offset{
		"0x20":                0x20,
		"20":                  0x20,
		"+0x20":               0x20,
		"-0x10":               -0x10,
		"-10":                 -0x10,
		"7fffffffffffffff":    math.MaxInt64,
		"-0x8000000000000000": math.MinInt64,
	} {
		got, err := parseOffset(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"0x8000000000000000", "-0x8000000000000001", "0xzz", ""} {
		_, err := parseOffset(in)
		assert.Error(t, err, in)
	}
}

func TestReadConfig(t *testing.T) {
	bad := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bad, "ptrscan.yaml"), []byte("scan: [unclosed\n"), 0644))
	assert.Error(t, readConfig(bad))

	assert.NoError(t, readConfig(t.TempDir()))
}
