//go:build linux

package process_linux

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"

	"ptrscan/process"

	gops "github.com/shirou/gopsutil/v4/process"
)

// LinuxProcessFinder implements the process.ProcessFinder interface
type LinuxProcessFinder struct{}

// NewProcessFinder creates a new LinuxProcessFinder
func NewProcessFinder() process.ProcessFinder {
	return &LinuxProcessFinder{}
}

// FindProcess finds a process by name and returns the lowest matching PID
func FindProcess(name string) (process.ProcessID, error) {
	processes, err := NewProcessFinder().FindProcessByName(name)
	if err != nil {
		return 0, err
	}

	if len(processes) == 0 {
		return 0, fmt.Errorf("name %q: %w", name, process.ErrProcessNotFound)
	}

	return processes[0].PID, nil
}

// FindProcessByPID finds a process by its PID
func (f *LinuxProcessFinder) FindProcessByPID(pid process.ProcessID) (*process.ProcessInfo, error) {
	exists, err := gops.PidExists(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("failed to look up pid %d: %w", pid, err)
	}
	if !exists {
		return nil, fmt.Errorf("pid %d: %w", pid, process.ErrProcessNotFound)
	}

	p, err := gops.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("pid %d: %w", pid, process.ErrProcessNotFound)
	}

	info := getProcessInfo(p)
	return &info, nil
}

// FindProcessByName finds processes whose name or executable base name is name
func (f *LinuxProcessFinder) FindProcessByName(name string) ([]process.ProcessInfo, error) {
	return findProcessesByNamePattern("^" + regexp.QuoteMeta(name) + "$")
}

// FindProcessByNamePattern finds processes by their name (pattern match)
func (f *LinuxProcessFinder) FindProcessByNamePattern(pattern string) ([]process.ProcessInfo, error) {
	return findProcessesByNamePattern(pattern)
}

func findProcessesByNamePattern(pattern string) ([]process.ProcessInfo, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	procs, err := gops.Processes()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	var results []process.ProcessInfo
	for _, p := range procs {
		// Processes may exit while we look at them; missing fields stay empty.
		info := getProcessInfo(p)
		if re.MatchString(info.Name) || (info.Exe != "" && re.MatchString(filepath.Base(info.Exe))) {
			results = append(results, info)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].PID < results[j].PID
	})

	return results, nil
}

func getProcessInfo(p *gops.Process) process.ProcessInfo {
	info := process.ProcessInfo{PID: process.ProcessID(p.Pid)}

	if name, err := p.Name(); err == nil {
		info.Name = name
	}
	if exe, err := p.Exe(); err == nil {
		info.Exe = exe
	}
	if ppid, err := p.Ppid(); err == nil {
		info.PPID = process.ProcessID(ppid)
	}
	if cmdline, err := p.CmdlineSlice(); err == nil {
		info.Cmdline = cmdline
	}

	return info
}
