package pointer_map

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync/atomic"
	"testing"

	"ptrscan/process"
	"ptrscan/process/memory_map"
	"ptrscan/process_blob"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSink struct {
	edges []PointerEdge
}

func (s *sliceSink) WriteEdge(e PointerEdge) error {
	s.edges = append(s.edges, e)
	return nil
}

type failingSink struct {
	after int
	n     int
}

func (s *failingSink) WriteEdge(PointerEdge) error {
	s.n++
	if s.n > s.after {
		return errors.New("disk full")
	}
	return nil
}

func sortEdges(edges []PointerEdge) []PointerEdge {
	out := slices.Clone(edges)
	slices.SortFunc(out, func(a, b PointerEdge) int {
		switch {
		case a.Location < b.Location:
			return -1
		case a.Location > b.Location:
			return 1
		}
		return 0
	})
	return out
}

// randomImage fills two heap regions and a module with noise and plants
// pointers between them.
func randomImage(t *testing.T, seed int64) (*process_blob.ProcessDump, *memory_map.Index) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))

	regions := []memory_map.MemoryRegion{
		memory_map.NewMemoryRegion(0x400000, 0x401000, memory_map.PermRead|memory_map.PermExec, "/opt/game/game"),
		memory_map.NewMemoryRegion(0x10000000, 0x10002000, memory_map.PermRead|memory_map.PermWrite, "[heap]"),
		memory_map.NewMemoryRegion(0x20000000, 0x20000800, memory_map.PermRead|memory_map.PermWrite, ""),
	}

	dump := process_blob.NewProcessDump()
	for _, r := range regions {
		data := make([]byte, r.Size)
		rng.Read(data)
		for i := 0; i < 64; i++ {
			dst := regions[rng.Intn(len(regions))]
			target := dst.Start + uint64(rng.Int63n(int64(dst.Size)))
			off := rng.Intn(int(r.Size) - 8)
			require.NoError(t, process.EncodeAddress(data[off:], process.ProcessMemoryAddress(target), process.PointerWidth64))
		}
		dump.AddRegion(r, data)
	}

	ix, err := memory_map.NewIndex(regions)
	require.NoError(t, err)
	return dump, ix
}

// bruteForce examines every window of every region independently.
func bruteForce(t *testing.T, dump *process_blob.ProcessDump, ix *memory_map.Index, w process.PointerWidth, aligned bool) []PointerEdge {
	t.Helper()
	var out []PointerEdge
	for _, r := range ix.Regions() {
		data := dump.Blobs[r.Start].Data()
		for i := 0; i+int(w) <= len(data); i++ {
			loc := r.Start + uint64(i)
			if aligned && loc%uint64(w) != 0 {
				continue
			}
			v, err := process.DecodeAddress(data[i:], w)
			require.NoError(t, err)
			if ix.Has(uint64(v)) {
				out = append(out, PointerEdge{Location: process.ProcessMemoryAddress(loc), Target: v})
			}
		}
	}
	return sortEdges(out)
}

func TestBuildMatchesBruteForce(t *testing.T) {
	tests := []struct {
		name      string
		width     process.PointerWidth
		chunk     int
		unaligned bool
		workers   int
	}{
		{"aligned 64-bit", process.PointerWidth64, 64, false, 1},
		{"aligned 64-bit parallel", process.PointerWidth64, 40, false, 4},
		{"unaligned 64-bit", process.PointerWidth64, 24, true, 3},
		{"aligned 32-bit", process.PointerWidth32, 36, false, 2},
		{"unaligned 32-bit one chunk", process.PointerWidth32, DefaultChunkSize, true, 2},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dump, ix := randomImage(t, int64(i+1))
			sink := &sliceSink{}
			progress := &Progress{}

			opts := BuildOptions{PointerWidth: tt.width, ChunkSize: tt.chunk, Unaligned: tt.unaligned, Workers: tt.workers}
			require.NoError(t, Build(context.Background(), dump, ix, ix, opts, sink, progress))

			want := bruteForce(t, dump, ix, tt.width, !tt.unaligned)
			assert.Equal(t, want, sortEdges(sink.edges))

			stats := progress.Stats()
			assert.Equal(t, uint64(3), stats.RegionsTotal)
			assert.Equal(t, uint64(3), stats.RegionsDone)
			assert.Equal(t, uint64(len(want)), stats.EdgesFound)
			assert.Equal(t, uint64(0x1000+0x2000+0x800), stats.BytesRead)
		})
	}
}

func TestBuildPointerStraddlingChunks(t *testing.T) {
	region := memory_map.NewMemoryRegion(0x1000, 0x1040, memory_map.PermRead|memory_map.PermWrite, "")
	data := make([]byte, region.Size)
	// chunk size 16: bytes 13..20 straddle the first boundary
	require.NoError(t, process.EncodeAddress(data[13:], 0x1008, process.PointerWidth64))

	dump := process_blob.NewProcessDump().AddRegion(region, data)
	ix, err := memory_map.NewIndex([]memory_map.MemoryRegion{region})
	require.NoError(t, err)

	sink := &sliceSink{}
	opts := BuildOptions{PointerWidth: process.PointerWidth64, ChunkSize: 16, Unaligned: true, Workers: 1}
	require.NoError(t, Build(context.Background(), dump, ix, ix, opts, sink, nil))

	assert.Equal(t, []PointerEdge{{Location: 0x100d, Target: 0x1008}}, sink.edges)
}

func TestBuildSkipsUnreadableRemainder(t *testing.T) {
	heap := memory_map.NewMemoryRegion(0x1000, 0x2000, memory_map.PermRead|memory_map.PermWrite, "[heap]")
	broken := memory_map.NewMemoryRegion(0x3000, 0x4000, memory_map.PermRead|memory_map.PermWrite, "")

	heapData := make([]byte, heap.Size)
	require.NoError(t, process.EncodeAddress(heapData[0x10:], 0x3000, process.PointerWidth64))

	// only the first 0x100 bytes of broken were captured
	brokenData := make([]byte, 0x100)
	require.NoError(t, process.EncodeAddress(brokenData[0x20:], 0x1000, process.PointerWidth64))

	dump := process_blob.NewProcessDump().
		AddRegion(heap, heapData).
		AddRegion(broken, brokenData)
	ix, err := memory_map.NewIndex([]memory_map.MemoryRegion{heap, broken})
	require.NoError(t, err)

	sink := &sliceSink{}
	opts := BuildOptions{PointerWidth: process.PointerWidth64, ChunkSize: 0x80, Workers: 2}
	require.NoError(t, Build(context.Background(), dump, ix, ix, opts, sink, nil))

	assert.Equal(t, []PointerEdge{
		{Location: 0x1010, Target: 0x3000},
		{Location: 0x3020, Target: 0x1000},
	}, sortEdges(sink.edges))
}

func TestBuildCancelled(t *testing.T) {
	dump, ix := randomImage(t, 7)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Build(ctx, dump, ix, ix, BuildOptions{PointerWidth: process.PointerWidth64, ChunkSize: 64, Workers: 2}, &sliceSink{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

// cancellingReader cancels the build from inside its n-th read.
type cancellingReader struct {
	process.MemoryReader
	after  int64
	reads  atomic.Int64
	cancel context.CancelFunc
}

func (r *cancellingReader) ReadAt(addr process.ProcessMemoryAddress, buf []byte) (int, error) {
	if r.reads.Add(1) == r.after {
		r.cancel()
	}
	return r.MemoryReader.ReadAt(addr, buf)
}

func TestBuildCancelledMidwayLeavesDecodableMap(t *testing.T) {
	dump, ix := randomImage(t, 11)
	all := map[PointerEdge]bool{}
	for _, e := range bruteForce(t, dump, ix, process.PointerWidth64, true) {
		all[e] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem := &cancellingReader{MemoryReader: dump, after: 20, cancel: cancel}

	var out bytes.Buffer
	w, err := NewWriter(&out, process.PointerWidth64, ix.Regions())
	require.NoError(t, err)

	err = Build(ctx, mem, ix, ix, BuildOptions{PointerWidth: process.PointerWidth64, ChunkSize: 64, Workers: 2}, w, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, w.Flush())

	m, err := Decode(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	assert.Len(t, m.Edges, int(w.Count()))
	assert.Equal(t, ix.Regions(), m.Regions)
	for _, e := range m.Edges {
		assert.True(t, all[e], "unexpected edge %+v", e)
	}
}

type deniedReader struct{}

func (deniedReader) ReadAt(process.ProcessMemoryAddress, []byte) (int, error) {
	return 0, fmt.Errorf("process_vm_readv: %w", process.ErrPermissionDenied)
}

func TestBuildFailsWhenProcessUnreadable(t *testing.T) {
	_, ix := randomImage(t, 12)

	sink := &sliceSink{}
	err := Build(context.Background(), deniedReader{}, ix, ix, BuildOptions{PointerWidth: process.PointerWidth64, ChunkSize: 64, Workers: 2}, sink, nil)
	assert.ErrorIs(t, err, process.ErrPermissionDenied)
	assert.Empty(t, sink.edges)
}

func TestBuildSinkError(t *testing.T) {
	dump, ix := randomImage(t, 8)

	sink := &failingSink{after: 3}
	err := Build(context.Background(), dump, ix, ix, BuildOptions{PointerWidth: process.PointerWidth64, ChunkSize: 64, Workers: 2}, sink, nil)
	assert.EqualError(t, err, "disk full")
}

func TestBuildRejectsBadWidth(t *testing.T) {
	dump, ix := randomImage(t, 9)
	err := Build(context.Background(), dump, ix, ix, BuildOptions{PointerWidth: 3}, &sliceSink{}, nil)
	assert.Error(t, err)
}
