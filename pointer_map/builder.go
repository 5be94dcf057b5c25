package pointer_map

import (
	"context"
	"fmt"
	"runtime"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"golang.org/x/sync/errgroup"

	"ptrscan/process"
	"ptrscan/process/memory_map"
)

// DefaultChunkSize is the number of window start positions read per chunk.
const DefaultChunkSize = 1 << 20

// batchSize bounds how many edges a worker collects before handing them to
// the writer.
const batchSize = 4096

// EdgeSink receives edges from a build. Only one goroutine calls WriteEdge.
type EdgeSink interface {
	WriteEdge(PointerEdge) error
}

// BuildOptions controls how memory is swept for pointers.
type BuildOptions struct {
	PointerWidth process.PointerWidth
	// ChunkSize is rounded down to a multiple of PointerWidth.
	ChunkSize int
	// Unaligned examines every byte offset instead of PointerWidth-aligned
	// addresses only.
	Unaligned bool
	Workers   int
}

func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		PointerWidth: process.PointerWidth64,
		ChunkSize:    DefaultChunkSize,
		Workers:      runtime.NumCPU(),
	}
}

func (o BuildOptions) normalize() (BuildOptions, error) {
	if !o.PointerWidth.Valid() {
		return o, fmt.Errorf("unsupported pointer width %d", o.PointerWidth)
	}
	w := int(o.PointerWidth)
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	o.ChunkSize -= o.ChunkSize % w
	if o.ChunkSize == 0 {
		o.ChunkSize = w
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return o, nil
}

// Build sweeps every region of sources, reads each pointer-sized window and
// sends an edge to sink for every value that targets contains.
//
// Regions are processed by parallel workers; all edges pass through a single
// writer so sink needs no locking. A region that cannot be read completely is
// logged once and the rest of it is skipped, but losing access to the process
// itself fails the build. If ctx is cancelled Build stops,
// returns ctx.Err() and sink holds only whole edges. progress may be nil.
func Build(ctx context.Context, mem process.MemoryReader, sources, targets *memory_map.Index, opts BuildOptions, sink EdgeSink, progress *Progress) error {
	opts, err := opts.normalize()
	if err != nil {
		return err
	}
	if progress == nil {
		progress = &Progress{}
	}

	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "pointer-map"))

	regions := sources.Regions()
	progress.regionsTotal.Store(uint64(len(regions)))
	log.Infoln("Building pointer map over", len(regions), "regions with", opts.Workers, "workers")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	work := make(chan memory_map.MemoryRegion)
	batches := make(chan []PointerEdge, opts.Workers*2)

	g.Go(func() error {
		defer close(work)
		for _, r := range regions {
			select {
			case work <- r:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < opts.Workers; i++ {
		g.Go(func() error {
			s := &regionSweeper{
				mem:      mem,
				targets:  targets,
				opts:     opts,
				progress: progress,
				log:      log,
				emit: func(batch []PointerEdge) error {
					select {
					case batches <- batch:
						return nil
					case <-gctx.Done():
						return gctx.Err()
					}
				},
			}
			for r := range work {
				if err := s.sweep(gctx, r); err != nil {
					return err
				}
				progress.regionsDone.Add(1)
			}
			return nil
		})
	}

	var workErr error
	done := make(chan struct{})
	go func() {
		workErr = g.Wait()
		close(batches)
		close(done)
	}()

	var sinkErr error
	for batch := range batches {
		if sinkErr != nil {
			continue
		}
		for _, e := range batch {
			if err := sink.WriteEdge(e); err != nil {
				sinkErr = err
				cancel()
				break
			}
		}
	}
	<-done

	if sinkErr != nil {
		return sinkErr
	}
	if workErr != nil {
		return workErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	log.Infoln("Pointer map built:", progress.edgesFound.Load(), "edges,", progress.bytesRead.Load(), "bytes read")
	return nil
}

type regionSweeper struct {
	mem      process.MemoryReader
	targets  *memory_map.Index
	opts     BuildOptions
	progress *Progress
	log      *logger.Logger
	emit     func([]PointerEdge) error
	buf      []byte
}

// sweep scans one region chunk by chunk. Each read covers ChunkSize window
// starts plus PointerWidth-1 trailing bytes, so a window straddling two
// chunks is still seen exactly once.
func (s *regionSweeper) sweep(ctx context.Context, r memory_map.MemoryRegion) error {
	w := uint64(s.opts.PointerWidth)
	chunk := uint64(s.opts.ChunkSize)
	if s.buf == nil {
		s.buf = make([]byte, chunk+w-1)
	}

	step := int(w)
	if s.opts.Unaligned {
		step = 1
	}

	var batch []PointerEdge
	for off := uint64(0); off < r.Size; off += chunk {
		if err := ctx.Err(); err != nil {
			return err
		}

		addr := r.Start + off
		want := min(chunk+w-1, r.Size-off)
		n, err := s.mem.ReadAt(process.ProcessMemoryAddress(addr), s.buf[:want])
		if err != nil && process.IsFatalReadError(err) {
			return fmt.Errorf("read %s at 0x%x: %w", r.Label(), addr, err)
		}
		if n < 0 {
			n = 0
		}
		s.progress.bytesRead.Add(uint64(min(uint64(n), chunk)))

		// windows starting in the trailing w-1 bytes cannot fit, so every
		// window found here starts inside this chunk
		data := s.buf[:n]

		first := 0
		if !s.opts.Unaligned {
			if rem := addr % w; rem != 0 {
				first = int(w - rem)
			}
		}
		if first < len(data) {
			batch = appendEdges(batch, data[first:], process.ProcessMemoryAddress(addr+uint64(first)), s.opts.PointerWidth, step, s.targets)
		}

		if len(batch) >= batchSize {
			s.progress.edgesFound.Add(uint64(len(batch)))
			if err := s.emit(batch); err != nil {
				return err
			}
			batch = nil
		}

		if err != nil || uint64(n) < want {
			if err == nil {
				err = fmt.Errorf("short read, %d of %d bytes", n, want)
			}
			s.log.Debugln("Region", r.Label(), fmt.Sprintf("0x%x", r.Start), "unreadable at", fmt.Sprintf("0x%x:", addr+uint64(n)), err)
			break
		}
	}

	if len(batch) > 0 {
		s.progress.edgesFound.Add(uint64(len(batch)))
		return s.emit(batch)
	}
	return nil
}
