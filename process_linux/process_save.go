//go:build linux

package process_linux

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ptrscan/process"
	"ptrscan/process_blob"
)

func saveSnapshot(dirname string, pid process.ProcessID, src process.Snapshot) error {
	return process_blob.SaveSnapshot(dirname, pid, processName(pid), src)
}

// processName reads /proc/[pid]/comm, falling back to "unknown".
func processName(pid process.ProcessID) string {
	commData, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(int(pid)), "comm"))
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(commData))
}
