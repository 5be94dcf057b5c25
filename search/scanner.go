// Package search finds pointer paths from module anchors to a target address
// by walking the pointer graph level by level.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"ptrscan/pointer_map"
	"ptrscan/pointer_path"
	"ptrscan/process"
	"ptrscan/process/memory_map"
)

// ErrModuleNotFound is returned when an anchor names a module that is not
// mapped.
var ErrModuleNotFound = errors.New("anchor module not found")

// EdgeSource yields the pointer edges whose location lies in [lo, hi].
// pointer_map.Graph serves a saved map, pointer_map.LiveEdges a running
// process.
type EdgeSource interface {
	EdgesIn(lo, hi process.ProcessMemoryAddress) ([]pointer_map.PointerEdge, error)
}

// RegionIndex is the region lookup the scanner needs.
type RegionIndex interface {
	Contains(addr uint64) (memory_map.MemoryRegion, bool)
	FindModule(name string) (memory_map.MemoryRegion, bool)
	ModuleRegions(name string) []memory_map.MemoryRegion
}

// Status tells how a scan ended. None of these are errors.
type Status int

const (
	Found Status = iota
	NoPathFound
	LimitReached
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case NoPathFound:
		return "no path found"
	case LimitReached:
		return "limit reached"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Result holds the paths of a scan in discovery order: shallower first,
// then smaller offsets.
type Result struct {
	Paths  []pointer_path.PointerPath
	Status Status
}

// Anchor names where paths may start: a fixed slot in a module, or any
// pointer stored in the module image.
type Anchor struct {
	Module    string
	Offset    process.Offset
	HasOffset bool
}

// ModuleAnchor starts paths at every pointer stored in module.
func ModuleAnchor(module string) Anchor {
	return Anchor{Module: module}
}

// StaticAnchor starts paths at module base + offset only.
func StaticAnchor(module string, offset process.Offset) Anchor {
	return Anchor{Module: module, Offset: offset, HasOffset: true}
}

func (a Anchor) String() string {
	if a.HasOffset {
		return a.Module + a.Offset.String()
	}
	return a.Module
}

// NewScanner creates a scanner over edges. regions must describe the same
// address space the edges were taken from.
func NewScanner(edges EdgeSource, regions RegionIndex, options ...Option) *Scanner {
	s := defaultScanner()
	for _, opt := range options {
		opt(s)
	}
	s.edges = edges
	s.regions = regions
	if s.Workers <= 0 {
		s.Workers = 1
	}
	return s
}

// node is one frontier value: the address obtained after a dereference.
type node struct {
	value  process.ProcessMemoryAddress
	parent *node
	// offset from parent.value to the location that held value; for a root,
	// the location's offset from the module base
	offset process.Offset
}

func (n *node) path(module string, final process.Offset) pointer_path.PointerPath {
	var rev []process.Offset
	rev = append(rev, final)
	for n.parent != nil {
		rev = append(rev, n.offset)
		n = n.parent
	}
	steps := make([]process.Offset, len(rev))
	for i, o := range rev {
		steps[len(rev)-1-i] = o
	}
	return pointer_path.PointerPath{Module: module, BaseOffset: n.offset, Steps: steps}
}

type candidate struct {
	parent int
	offset process.Offset
	target process.ProcessMemoryAddress
}

func magnitude(o process.Offset) uint64 {
	if o < 0 {
		return uint64(-(o + 1)) + 1
	}
	return uint64(o)
}

// Scan searches for paths from one anchor to target.
func (s *Scanner) Scan(ctx context.Context, anchor Anchor, target process.ProcessMemoryAddress) (Result, error) {
	paths, limited, err := s.scan(ctx, anchor, target, s.MaxResults)
	if err != nil {
		return Result{}, err
	}
	return newResult(paths, limited), nil
}

// ScanAnchors runs one search per anchor on a pool of workers and merges the
// results in anchor order. Paths reachable from more than one anchor are
// reported once.
func (s *Scanner) ScanAnchors(ctx context.Context, anchors []Anchor, target process.ProcessMemoryAddress) (Result, error) {
	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "scanner"))

	results := make([][]pointer_path.PointerPath, len(anchors))
	var mu sync.Mutex
	limited := false

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Workers)
	for i, anchor := range anchors {
		g.Go(func() error {
			paths, hit, err := s.scan(gctx, anchor, target, s.MaxResults)
			if err != nil {
				return fmt.Errorf("anchor %s: %w", anchor, err)
			}
			log.Debugln("Anchor", anchor.String(), "yielded", len(paths), "paths")
			results[i] = paths
			if hit {
				mu.Lock()
				limited = true
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	seen := make(map[uint64]struct{})
	var merged []pointer_path.PointerPath
	for _, paths := range results {
		for _, p := range paths {
			h := xxh3.HashString(p.String())
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			if s.MaxResults > 0 && len(merged) >= s.MaxResults {
				limited = true
				break
			}
			merged = append(merged, p)
		}
	}

	log.Infoln("Scan finished:", len(merged), "paths from", len(anchors), "anchors")
	return newResult(merged, limited), nil
}

func newResult(paths []pointer_path.PointerPath, limited bool) Result {
	switch {
	case limited:
		return Result{Paths: paths, Status: LimitReached}
	case len(paths) == 0:
		return Result{Status: NoPathFound}
	}
	return Result{Paths: paths, Status: Found}
}

// stable reports whether a path may pass through addr.
func (s *Scanner) stable(addr process.ProcessMemoryAddress) bool {
	r, ok := s.regions.Contains(uint64(addr))
	if !ok {
		return false
	}
	return s.AllowStack || r.IsStable()
}

// roots dereferences the anchor: each pointer stored at an anchor location
// becomes a level-one frontier value.
func (s *Scanner) roots(anchor Anchor) ([]*node, error) {
	base, ok := s.regions.FindModule(anchor.Module)
	if !ok {
		return nil, fmt.Errorf("%s: %w", anchor.Module, ErrModuleNotFound)
	}
	moduleBase := process.ProcessMemoryAddress(base.Start)

	var edges []pointer_map.PointerEdge
	if anchor.HasOffset {
		loc, err := anchor.Offset.Apply(moduleBase)
		if err != nil {
			return nil, err
		}
		r, ok := s.regions.Contains(uint64(loc))
		if !ok || !r.IsModule() || r.Name != anchor.Module {
			return nil, fmt.Errorf("anchor %s is outside the module image", anchor)
		}
		found, err := s.edges.EdgesIn(loc, loc)
		if err != nil {
			return nil, err
		}
		edges = found
	} else {
		for _, r := range s.regions.ModuleRegions(anchor.Module) {
			if !r.IsModule() {
				continue
			}
			found, err := s.edges.EdgesIn(process.ProcessMemoryAddress(r.Start), process.ProcessMemoryAddress(r.End-1))
			if err != nil {
				return nil, err
			}
			edges = append(edges, found...)
		}
	}

	roots := make([]*node, 0, len(edges))
	for _, e := range edges {
		if !s.stable(e.Target) {
			continue
		}
		off, ok := process.OffsetBetween(moduleBase, e.Location)
		if !ok {
			continue
		}
		roots = append(roots, &node{value: e.Target, offset: off})
	}
	return roots, nil
}

// scan is a breadth-first walk: level d holds the values reachable with d
// dereferences. A value within MaxOffset of target completes a path; each
// value is expanded once, through the candidate with the smallest |offset|.
func (s *Scanner) scan(ctx context.Context, anchor Anchor, target process.ProcessMemoryAddress, limit int) ([]pointer_path.PointerPath, bool, error) {
	if s.MaxDepth < 1 {
		return nil, false, nil
	}

	roots, err := s.roots(anchor)
	if err != nil {
		return nil, false, err
	}

	visited := make(map[process.ProcessMemoryAddress]struct{}, len(roots))
	var frontier []*node
	for _, n := range roots {
		if _, seen := visited[n.value]; seen {
			continue
		}
		visited[n.value] = struct{}{}
		frontier = append(frontier, n)
	}

	var paths []pointer_path.PointerPath
	for depth := 1; depth <= s.MaxDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		for _, n := range frontier {
			off, ok := process.OffsetBetween(n.value, target)
			if !ok || magnitude(off) > s.MaxOffset {
				continue
			}
			paths = append(paths, n.path(anchor.Module, off))
			if limit > 0 && len(paths) >= limit {
				return paths, true, nil
			}
		}

		if depth == s.MaxDepth {
			break
		}

		var cands []candidate
		for i, n := range frontier {
			if i%1024 == 1023 {
				if err := ctx.Err(); err != nil {
					return nil, false, err
				}
			}
			lo := process.SaturatingSub(n.value, s.MaxOffset)
			hi := process.SaturatingAdd(n.value, s.MaxOffset)
			edges, err := s.edges.EdgesIn(lo, hi)
			if err != nil {
				return nil, false, err
			}
			for _, e := range edges {
				if _, seen := visited[e.Target]; seen || !s.stable(e.Target) {
					continue
				}
				off, ok := process.OffsetBetween(n.value, e.Location)
				if !ok {
					continue
				}
				cands = append(cands, candidate{parent: i, offset: off, target: e.Target})
			}
		}

		sort.SliceStable(cands, func(i, j int) bool {
			mi, mj := magnitude(cands[i].offset), magnitude(cands[j].offset)
			if mi != mj {
				return mi < mj
			}
			if cands[i].offset != cands[j].offset {
				return cands[i].offset < cands[j].offset
			}
			return cands[i].parent < cands[j].parent
		})

		next := make([]*node, 0, len(cands))
		for _, c := range cands {
			if _, seen := visited[c.target]; seen {
				continue
			}
			visited[c.target] = struct{}{}
			next = append(next, &node{value: c.target, parent: frontier[c.parent], offset: c.offset})
		}
		frontier = next
	}

	return paths, false, nil
}
