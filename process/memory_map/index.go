package memory_map

import (
	"fmt"
	"sort"
)

// OverlapError reports two regions that share at least one address.
type OverlapError struct {
	First  MemoryRegion
	Second MemoryRegion
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("regions overlap: %s and %s", e.First, e.Second)
}

// Index is a sorted, non-overlapping set of regions supporting O(log n)
// containment queries. An Index is immutable once built.
type Index struct {
	regions []MemoryRegion
}

// NewIndex sorts regions by start address and checks that no two overlap.
// Zero-size regions are dropped: they contain no address and would make the
// binary search ambiguous.
func NewIndex(regions []MemoryRegion) (*Index, error) {
	sorted := make([]MemoryRegion, 0, len(regions))
	for _, r := range regions {
		if r.Size == 0 {
			continue
		}
		if r.End-r.Start != r.Size || r.End <= r.Start {
			return nil, fmt.Errorf("invalid region %s: size %d does not match bounds", r, r.Size)
		}
		sorted = append(sorted, r)
	}

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Start < sorted[i-1].End {
			return nil, &OverlapError{First: sorted[i-1], Second: sorted[i]}
		}
	}

	return &Index{regions: sorted}, nil
}

// Contains returns the region holding addr.
func (ix *Index) Contains(addr uint64) (MemoryRegion, bool) {
	// First region whose end is past addr; regions are disjoint so it is the
	// only candidate.
	i := sort.Search(len(ix.regions), func(i int) bool {
		return ix.regions[i].End > addr
	})
	if i < len(ix.regions) && ix.regions[i].Start <= addr {
		return ix.regions[i], true
	}
	return MemoryRegion{}, false
}

// Has is Contains without the region.
func (ix *Index) Has(addr uint64) bool {
	_, ok := ix.Contains(addr)
	return ok
}

// Filter returns the subset of regions matching keep. The result is still
// sorted and disjoint.
func (ix *Index) Filter(keep func(MemoryRegion) bool) *Index {
	var out []MemoryRegion
	for _, r := range ix.regions {
		if keep(r) {
			out = append(out, r)
		}
	}
	return &Index{regions: out}
}

// Regions returns a copy of the indexed regions in address order.
func (ix *Index) Regions() []MemoryRegion {
	result := make([]MemoryRegion, len(ix.regions))
	copy(result, ix.regions)
	return result
}

func (ix *Index) Len() int {
	return len(ix.regions)
}

// FindModule returns the lowest mapped region of the module called name.
func (ix *Index) FindModule(name string) (MemoryRegion, bool) {
	for _, r := range ix.regions {
		if r.Name == name && r.Path != "" {
			return r, true
		}
	}
	return MemoryRegion{}, false
}

// ModuleRegions returns every region mapped from the module called name.
func (ix *Index) ModuleRegions(name string) []MemoryRegion {
	var out []MemoryRegion
	for _, r := range ix.regions {
		if r.Name == name && r.Path != "" {
			out = append(out, r)
		}
	}
	return out
}

// ModuleFor returns the module whose image contains addr and addr's offset
// from that module's base.
func (ix *Index) ModuleFor(addr uint64) (name string, offset uint64, ok bool) {
	r, found := ix.Contains(addr)
	if !found || !r.IsModule() {
		return "", 0, false
	}
	base, _ := ix.FindModule(r.Name)
	return r.Name, addr - base.Start, true
}

// Overlapping returns the regions intersecting the inclusive range [lo, hi].
func (ix *Index) Overlapping(lo, hi uint64) []MemoryRegion {
	if hi < lo {
		return nil
	}
	i := sort.Search(len(ix.regions), func(i int) bool {
		return ix.regions[i].End > lo
	})
	var out []MemoryRegion
	for ; i < len(ix.regions) && ix.regions[i].Start <= hi; i++ {
		out = append(out, ix.regions[i])
	}
	return out
}
