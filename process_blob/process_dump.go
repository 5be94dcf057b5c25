package process_blob

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"ptrscan/process"
	"ptrscan/process/memory_map"
)

// ProcessDump is a process image held in memory: region geometry plus the
// captured bytes of each region. It is loaded from a snapshot directory or
// assembled by hand for tests.
type ProcessDump struct {
	PID       process.ProcessID
	Name      string
	MemoryMap []memory_map.MemoryRegion
	Blobs     map[uint64]*ProcessBlob // region start -> data
}

var _ process.Snapshot = (*ProcessDump)(nil)

// NewProcessDump creates a new ProcessDump instance
func NewProcessDump() *ProcessDump {
	return &ProcessDump{
		Blobs: make(map[uint64]*ProcessBlob),
	}
}

// AddRegion maps region and backs it with data. data may be shorter than the
// region, in which case reads past it come back short.
func (p *ProcessDump) AddRegion(region memory_map.MemoryRegion, data []byte) *ProcessDump {
	p.MemoryMap = append(p.MemoryMap, region)
	sort.Slice(p.MemoryMap, func(i, j int) bool {
		return p.MemoryMap[i].Start < p.MemoryMap[j].Start
	})
	if data != nil {
		p.Blobs[region.Start] = NewProcessBlob(process.ProcessMemoryAddress(region.Start), data)
	}
	return p
}

func (p *ProcessDump) Close() error {
	p.Blobs = nil
	p.MemoryMap = nil
	return nil
}

func (p *ProcessDump) GetPID() process.ProcessID {
	return p.PID
}

// Regions returns a copy of the memory map in address order.
func (p *ProcessDump) Regions() ([]memory_map.MemoryRegion, error) {
	result := make([]memory_map.MemoryRegion, len(p.MemoryMap))
	copy(result, p.MemoryMap)
	return result, nil
}

func (p *ProcessDump) regionFor(addr uint64) *memory_map.MemoryRegion {
	i := sort.Search(len(p.MemoryMap), func(i int) bool {
		return p.MemoryMap[i].End > addr
	})
	if i < len(p.MemoryMap) && p.MemoryMap[i].Start <= addr {
		return &p.MemoryMap[i]
	}
	return nil
}

// ReadAt reads from the region containing addr. A read never crosses into the
// next region; it comes back short instead.
func (p *ProcessDump) ReadAt(addr process.ProcessMemoryAddress, buf []byte) (int, error) {
	region := p.regionFor(uint64(addr))
	if region == nil {
		return 0, process.ErrAddressNotMapped
	}

	blob, ok := p.Blobs[region.Start]
	if !ok {
		return 0, fmt.Errorf("no data for region 0x%x", region.Start)
	}

	limit := region.End - uint64(addr)
	if uint64(len(buf)) > limit {
		buf = buf[:limit]
	}
	return blob.ReadAt(addr, buf)
}

// WriteMemory overwrites captured bytes; it exists so tests can mutate an image.
func (p *ProcessDump) WriteMemory(addr process.ProcessMemoryAddress, data []byte) error {
	region := p.regionFor(uint64(addr))
	if region == nil {
		return process.ErrAddressNotMapped
	}
	blob, ok := p.Blobs[region.Start]
	if !ok {
		return fmt.Errorf("no data for region 0x%x", region.Start)
	}
	offset := uint64(addr) - region.Start
	if offset+uint64(len(data)) > uint64(len(blob.data)) {
		return fmt.Errorf("write of %d bytes at 0x%x exceeds region data", len(data), uint64(addr))
	}
	copy(blob.data[offset:], data)
	return nil
}

func (p *ProcessDump) Save(dirname string) error {
	return SaveSnapshot(dirname, p.PID, p.Name, p)
}

func (p *ProcessDump) Load(dirname string) error {
	// Read metadata
	metadataBytes, err := os.ReadFile(filepath.Join(dirname, metadataFile))
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata snapshotMetadata
	if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	p.PID = metadata.PID
	p.Name = metadata.Name

	// Read memory map
	mmBytes, err := os.ReadFile(filepath.Join(dirname, memoryMapFile))
	if err != nil {
		return fmt.Errorf("failed to read memory map: %w", err)
	}

	var regions []memory_map.MemoryRegion
	if err := json.Unmarshal(mmBytes, &regions); err != nil {
		return fmt.Errorf("failed to unmarshal memory map: %w", err)
	}

	if p.Blobs == nil {
		p.Blobs = make(map[uint64]*ProcessBlob)
	}
	p.MemoryMap = nil

	for _, region := range regions {
		filename := filepath.Join(dirname, blobFileName(region))
		data, err := os.ReadFile(filename)
		if os.IsNotExist(err) {
			// Blob not saved (e.g. not readable)
			p.AddRegion(region, nil)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read blob %s: %w", filename, err)
		}

		p.AddRegion(region, data)
	}

	return nil
}

// LoadProcessDump reads a snapshot directory written by SaveSnapshot.
func LoadProcessDump(dirname string) (*ProcessDump, error) {
	dump := NewProcessDump()
	if err := dump.Load(dirname); err != nil {
		return nil, err
	}
	return dump, nil
}
