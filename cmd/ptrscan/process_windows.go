//go:build windows

package main

import (
	"ptrscan/process"
	"ptrscan/process_windows"
)

func openProcess(pid process.ProcessID) (process.Process, error) {
	proc, err := process_windows.NewWithPID(pid)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

func findProcess(name string) (process.ProcessID, error) {
	return process_windows.FindProcess(name)
}
