//go:build linux

package main

import (
	"ptrscan/process"
	"ptrscan/process_linux"
)

func openProcess(pid process.ProcessID) (process.Process, error) {
	proc, err := process_linux.NewWithPID(pid)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

func findProcess(name string) (process.ProcessID, error) {
	return process_linux.FindProcess(name)
}
