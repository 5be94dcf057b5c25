//go:build !linux && !windows

package main

import (
	"fmt"
	"runtime"

	"ptrscan/process"
)

func openProcess(pid process.ProcessID) (process.Process, error) {
	return nil, fmt.Errorf("live processes are not supported on %s, use --snapshot", runtime.GOOS)
}

func findProcess(name string) (process.ProcessID, error) {
	return 0, fmt.Errorf("live processes are not supported on %s, use --snapshot", runtime.GOOS)
}
