package pointer_map

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"ptrscan/process"
	"ptrscan/process/memory_map"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegions() []memory_map.MemoryRegion {
	return []memory_map.MemoryRegion{
		memory_map.NewMemoryRegion(0x400000, 0x401000, memory_map.PermRead|memory_map.PermExec, "/opt/game/game"),
		memory_map.NewMemoryRegion(0x10000000, 0x10021000, memory_map.PermRead|memory_map.PermWrite, "[heap]"),
		memory_map.NewMemoryRegion(0x7ffc0000, 0x7ffe1000, memory_map.PermRead|memory_map.PermWrite, "[stack]"),
		memory_map.NewMemoryRegion(0x7f0000000000, 0x7f0000002000, memory_map.PermRead, ""),
	}
}

func manyEdges(n int) []PointerEdge {
	edges := make([]PointerEdge, n)
	for i := range edges {
		edges[i] = PointerEdge{
			Location: process.ProcessMemoryAddress(0x10000000 + 8*i),
			Target:   process.ProcessMemoryAddress(0x400000 + (i*24)%0x1000),
		}
	}
	return edges
}

func encode(t *testing.T, m *PointerMap) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, m))
	return buf.Bytes()
}

func TestCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		m    *PointerMap
	}{
		{"empty", &PointerMap{PointerWidth: process.PointerWidth64}},
		{"regions only", &PointerMap{PointerWidth: process.PointerWidth64, Regions: testRegions()}},
		{"single edge", &PointerMap{
			PointerWidth: process.PointerWidth64,
			Regions:      testRegions(),
			Edges:        []PointerEdge{{Location: 0x10000010, Target: 0x7f0000000008}},
		}},
		{"thousands of edges", &PointerMap{PointerWidth: process.PointerWidth64, Regions: testRegions(), Edges: manyEdges(5000)}},
		{"32-bit", &PointerMap{
			PointerWidth: process.PointerWidth32,
			Regions:      testRegions()[:2],
			Edges:        manyEdges(100),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := encode(t, tt.m)

			got, err := Decode(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, tt.m.PointerWidth, got.PointerWidth)
			assert.Equal(t, len(tt.m.Regions), len(got.Regions))
			for i := range tt.m.Regions {
				assert.Equal(t, tt.m.Regions[i], got.Regions[i])
			}
			assert.Equal(t, len(tt.m.Edges), len(got.Edges))
			if len(tt.m.Edges) > 0 {
				assert.Equal(t, tt.m.Edges, got.Edges)
			}
		})
	}
}

func TestEncodedLayout(t *testing.T) {
	region := memory_map.NewMemoryRegion(0x1000, 0x2000, memory_map.PermRead|memory_map.PermWrite, "/lib/x.so")
	m := &PointerMap{
		PointerWidth: process.PointerWidth32,
		Regions:      []memory_map.MemoryRegion{region},
		Edges:        []PointerEdge{{Location: 0x1004, Target: 0x1ff0}},
	}
	data := encode(t, m)

	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(data[0:]))
	assert.Equal(t, byte(4), data[4])
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(data[5:]))

	rec := data[9:]
	assert.Equal(t, uint64(0x1000), binary.LittleEndian.Uint64(rec[0:]))
	assert.Equal(t, uint64(0x2000), binary.LittleEndian.Uint64(rec[8:]))
	assert.Equal(t, uint64(0x1000), binary.LittleEndian.Uint64(rec[16:]))
	assert.Equal(t, byte(3), rec[24])
	assert.Equal(t, byte(0), rec[25])
	assert.Equal(t, uint16(9), binary.LittleEndian.Uint16(rec[26:]))
	assert.Equal(t, "/lib/x.so", string(rec[28:37]))
	assert.Equal(t, uint16(4), binary.LittleEndian.Uint16(rec[37:]))
	assert.Equal(t, "x.so", string(rec[39:43]))

	edges := rec[43:]
	require.Len(t, edges, 8)
	assert.Equal(t, uint32(0x1004), binary.LittleEndian.Uint32(edges[0:]))
	assert.Equal(t, uint32(0x1ff0), binary.LittleEndian.Uint32(edges[4:]))
}

func TestDecodeTruncated(t *testing.T) {
	m := &PointerMap{PointerWidth: process.PointerWidth64, Regions: testRegions(), Edges: manyEdges(10)}
	data := encode(t, m)
	edgesStart := int64(len(data) - 10*16)

	t.Run("inside last edge", func(t *testing.T) {
		_, err := Decode(bytes.NewReader(data[:len(data)-3]))
		var trunc *TruncatedRecordError
		require.ErrorAs(t, err, &trunc)
		assert.Equal(t, "edge", trunc.Section)
		assert.Equal(t, edgesStart+9*16, trunc.Offset)
		assert.Equal(t, int64(16), trunc.Expected)
		assert.Equal(t, int64(13), trunc.Actual)
	})

	t.Run("inside header", func(t *testing.T) {
		_, err := Decode(bytes.NewReader(data[:6]))
		var trunc *TruncatedRecordError
		require.ErrorAs(t, err, &trunc)
		assert.Equal(t, "header", trunc.Section)
	})

	t.Run("inside region table", func(t *testing.T) {
		_, err := Decode(bytes.NewReader(data[:headerSize+40]))
		var trunc *TruncatedRecordError
		require.ErrorAs(t, err, &trunc)
		assert.Equal(t, "region", trunc.Section)
		assert.Equal(t, int64(headerSize), trunc.Offset)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := Decode(bytes.NewReader(nil))
		var trunc *TruncatedRecordError
		require.ErrorAs(t, err, &trunc)
	})
}

func TestDecodeVersionMismatch(t *testing.T) {
	data := encode(t, &PointerMap{PointerWidth: process.PointerWidth64, Edges: manyEdges(2)})
	binary.LittleEndian.PutUint32(data, 2)

	_, err := Decode(bytes.NewReader(data))
	var mismatch *VersionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, uint32(2), mismatch.Got)
	assert.Equal(t, FormatVersion, mismatch.Supported)
}

func TestEncodeRejectsWideAddressIn32BitMap(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, &PointerMap{
		PointerWidth: process.PointerWidth32,
		Edges:        []PointerEdge{{Location: 0x1_0000_0000, Target: 0x10}},
	})
	assert.Error(t, err)
}

func TestOpenIndexedAccess(t *testing.T) {
	m := &PointerMap{PointerWidth: process.PointerWidth64, Regions: testRegions(), Edges: manyEdges(3000)}
	path := filepath.Join(t.TempDir(), "game.ptrmap")
	require.NoError(t, os.WriteFile(path, encode(t, m), 0644))

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, process.PointerWidth64, f.PointerWidth())
	assert.Equal(t, m.Regions, f.Regions())
	require.Equal(t, int64(3000), f.EdgeCount())

	for _, i := range []int64{0, 1, 1499, 2999} {
		e, err := f.Edge(i)
		require.NoError(t, err)
		assert.Equal(t, m.Edges[i], e)
	}
	_, err = f.Edge(3000)
	assert.Error(t, err)

	all, err := f.Map()
	require.NoError(t, err)
	assert.Equal(t, m.Edges, all.Edges)
}

func TestOpenTruncated(t *testing.T) {
	data := encode(t, &PointerMap{PointerWidth: process.PointerWidth32, Regions: testRegions(), Edges: manyEdges(4)})
	path := filepath.Join(t.TempDir(), "cut.ptrmap")
	require.NoError(t, os.WriteFile(path, data[:len(data)-1], 0644))

	_, err := Open(path)
	var trunc *TruncatedRecordError
	require.ErrorAs(t, err, &trunc)
	assert.Equal(t, int64(8), trunc.Expected)
	assert.Equal(t, int64(7), trunc.Actual)
}
