package pointer_map

import (
	"slices"

	"ptrscan/process"
	"ptrscan/process/memory_map"
)

// Graph is an in-memory edge set ordered by location.
type Graph struct {
	edges []PointerEdge
}

// NewGraph sorts edges by location and takes ownership of the slice.
func NewGraph(edges []PointerEdge) *Graph {
	slices.SortFunc(edges, func(a, b PointerEdge) int {
		switch {
		case a.Location < b.Location:
			return -1
		case a.Location > b.Location:
			return 1
		}
		return 0
	})
	return &Graph{edges: edges}
}

// Len returns the number of edges.
func (g *Graph) Len() int {
	return len(g.edges)
}

// EdgesIn returns the edges whose location lies in [lo, hi]. The result
// aliases the graph and must not be modified.
func (g *Graph) EdgesIn(lo, hi process.ProcessMemoryAddress) ([]PointerEdge, error) {
	if hi < lo {
		return nil, nil
	}
	i, _ := slices.BinarySearchFunc(g.edges, lo, func(e PointerEdge, t process.ProcessMemoryAddress) int {
		switch {
		case e.Location < t:
			return -1
		case e.Location > t:
			return 1
		}
		return 0
	})
	j := i
	for j < len(g.edges) && g.edges[j].Location <= hi {
		j++
	}
	return g.edges[i:j:j], nil
}

// LiveEdges discovers edges on demand by reading process memory around the
// requested location window.
type LiveEdges struct {
	reader  process.MemoryReader
	index   *memory_map.Index
	width   process.PointerWidth
	aligned bool
}

// NewLiveEdges reads locations from the regions of index and keeps values
// that index contains.
func NewLiveEdges(reader process.MemoryReader, index *memory_map.Index, width process.PointerWidth, aligned bool) *LiveEdges {
	return &LiveEdges{reader: reader, index: index, width: width, aligned: aligned}
}

// EdgesIn returns the edges whose location lies in [lo, hi]. Unreadable
// ranges yield no edges; losing access to the process is an error.
func (l *LiveEdges) EdgesIn(lo, hi process.ProcessMemoryAddress) ([]PointerEdge, error) {
	if hi < lo {
		return nil, nil
	}

	w := uint64(l.width)
	var out []PointerEdge
	for _, r := range l.index.Overlapping(uint64(lo), uint64(hi)) {
		if !r.IsReadable() {
			continue
		}

		first := max(uint64(lo), r.Start)
		if l.aligned {
			if rem := first % w; rem != 0 {
				first += w - rem
			}
		}
		if first >= r.End || r.End-first < w {
			continue
		}
		// last location whose window still fits inside the region
		last := min(uint64(hi), r.End-w)
		if last < first {
			continue
		}

		buf := make([]byte, last-first+w)
		n, err := l.reader.ReadAt(process.ProcessMemoryAddress(first), buf)
		if err != nil {
			if process.IsFatalReadError(err) {
				return nil, err
			}
			if n == 0 {
				continue
			}
		}
		out = appendEdges(out, buf[:n], process.ProcessMemoryAddress(first), l.width, l.step(), l.index)
	}
	return out, nil
}

func (l *LiveEdges) step() int {
	if l.aligned {
		return int(l.width)
	}
	return 1
}

// appendEdges scans buf, which starts at base, for values contained in
// targets. Every window starting at a multiple of step from the beginning
// of buf is examined.
func appendEdges(out []PointerEdge, buf []byte, base process.ProcessMemoryAddress, width process.PointerWidth, step int, targets *memory_map.Index) []PointerEdge {
	w := int(width)
	for i := 0; i+w <= len(buf); i += step {
		v, _ := process.DecodeAddress(buf[i:i+w], width)
		if targets.Has(uint64(v)) {
			out = append(out, PointerEdge{Location: base + process.ProcessMemoryAddress(i), Target: v})
		}
	}
	return out
}
