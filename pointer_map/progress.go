package pointer_map

import "sync/atomic"

// Progress counts builder work. It is safe to read while a build runs.
type Progress struct {
	regionsTotal atomic.Uint64
	regionsDone  atomic.Uint64
	bytesRead    atomic.Uint64
	edgesFound   atomic.Uint64
}

// ProgressStats is a point-in-time copy of a Progress.
type ProgressStats struct {
	RegionsTotal uint64
	RegionsDone  uint64
	BytesRead    uint64
	EdgesFound   uint64
}

func (p *Progress) Stats() ProgressStats {
	return ProgressStats{
		RegionsTotal: p.regionsTotal.Load(),
		RegionsDone:  p.regionsDone.Load(),
		BytesRead:    p.bytesRead.Load(),
		EdgesFound:   p.edgesFound.Load(),
	}
}
