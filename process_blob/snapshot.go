package process_blob

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"ptrscan/process"
	"ptrscan/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

const (
	metadataFile  = "metadata.json"
	memoryMapFile = "process_memory_map.json"

	snapshotChunkSize = 1 << 20
	maxSnapshotRegion = 100 * 1024 * 1024
)

type snapshotMetadata struct {
	PID  process.ProcessID `json:"pid"`
	Name string            `json:"name"`
}

func blobFileName(region memory_map.MemoryRegion) string {
	return fmt.Sprintf("blob_0x%x_%d.bin", region.Start, region.Size)
}

// SaveSnapshot writes the memory map of src and the contents of every readable
// region to dirname. Regions that fail to read part way are saved truncated.
func SaveSnapshot(dirname string, pid process.ProcessID, name string, src process.Snapshot) error {
	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("snapshot-%d", pid)))

	if err := os.MkdirAll(dirname, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	metadataJSON, err := json.MarshalIndent(snapshotMetadata{PID: pid, Name: name}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dirname, metadataFile), metadataJSON, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	regions, err := src.Regions()
	if err != nil {
		return fmt.Errorf("failed to read memory map: %w", err)
	}

	memoryMapJSON, err := json.MarshalIndent(regions, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal memory map: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dirname, memoryMapFile), memoryMapJSON, 0644); err != nil {
		return fmt.Errorf("failed to write memory map file: %w", err)
	}

	var saved, skipped, partial int
	for _, region := range regions {
		if !region.IsReadable() || region.Size == 0 {
			skipped++
			continue
		}
		if region.Size > maxSnapshotRegion {
			log.Infoln("Skipping large region at", fmt.Sprintf("%x", region.Start), "(size:", region.Size/1024/1024, "MB)")
			skipped++
			continue
		}

		complete, err := saveRegion(filepath.Join(dirname, blobFileName(region)), region, src)
		if err != nil {
			return err
		}
		if !complete {
			log.Debugln("Region", fmt.Sprintf("%x", region.Start), "saved truncated")
			partial++
		}
		saved++
	}

	log.Infoln("Snapshot saved:", saved, "regions saved,", partial, "truncated,", skipped, "skipped")
	return nil
}

// saveRegion streams one region to filename and reports whether every byte was read.
func saveRegion(filename string, region memory_map.MemoryRegion, src process.MemoryReader) (bool, error) {
	f, err := os.Create(filename)
	if err != nil {
		return false, fmt.Errorf("failed to create blob file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, snapshotChunkSize)
	buf := make([]byte, snapshotChunkSize)
	complete := true

	for off := uint64(0); off < region.Size; off += snapshotChunkSize {
		want := region.Size - off
		if want > snapshotChunkSize {
			want = snapshotChunkSize
		}

		n, err := src.ReadAt(process.ProcessMemoryAddress(region.Start+off), buf[:want])
		if _, werr := w.Write(buf[:n]); werr != nil {
			return false, fmt.Errorf("failed to write blob file: %w", werr)
		}
		if err != nil || uint64(n) < want {
			complete = false
			break
		}
	}

	if err := w.Flush(); err != nil {
		return false, fmt.Errorf("failed to write blob file: %w", err)
	}
	return complete, f.Close()
}
