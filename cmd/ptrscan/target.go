package main

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ptrscan/process"
	"ptrscan/process/memory_map"
	"ptrscan/process_blob"
)

// targetFlags selects the process image a command works on.
type targetFlags struct {
	pid      int
	name     string
	snapshot string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.pid, "pid", "p", 0, "process id")
	cmd.Flags().StringVarP(&f.name, "name", "n", "", "process name, the lowest matching pid is used")
	cmd.Flags().StringVar(&f.snapshot, "snapshot", "", "snapshot directory written by the snapshot command")
}

func (f *targetFlags) given() bool {
	return f.pid != 0 || f.name != "" || f.snapshot != ""
}

// target is an opened live process or a loaded snapshot.
type target struct {
	process.Snapshot
	pid   process.ProcessID
	label string
	close func() error
}

func (t *target) Close() error {
	if t.close == nil {
		return nil
	}
	return t.close()
}

// index returns the region index of the target and the subset eligible for
// pointer scanning.
func (t *target) index() (all, eligible *memory_map.Index, err error) {
	regions, err := t.Regions()
	if err != nil {
		return nil, nil, err
	}
	all, err = memory_map.NewIndex(regions)
	if err != nil {
		return nil, nil, err
	}
	return all, all.Filter(memory_map.EligibleForScan), nil
}

func (f *targetFlags) open() (*target, error) {
	set := 0
	for _, ok := range []bool{f.pid != 0, f.name != "", f.snapshot != ""} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New("exactly one of --pid, --name or --snapshot is required")
	}

	if f.snapshot != "" {
		dump, err := process_blob.LoadProcessDump(f.snapshot)
		if err != nil {
			return nil, fmt.Errorf("load snapshot %s: %w", f.snapshot, err)
		}
		return &target{Snapshot: dump, pid: dump.GetPID(), label: f.snapshot, close: dump.Close}, nil
	}

	pid := process.ProcessID(f.pid)
	if f.name != "" {
		found, err := findProcess(f.name)
		if err != nil {
			return nil, err
		}
		pid = found
	}

	proc, err := openProcess(pid)
	if err != nil {
		return nil, err
	}
	return &target{Snapshot: proc, pid: pid, label: fmt.Sprintf("pid %d", pid), close: proc.Close}, nil
}

// parseAddress accepts hex with or without a 0x prefix.
func parseAddress(s string) (process.ProcessMemoryAddress, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", s, err)
	}
	return process.ProcessMemoryAddress(v), nil
}

// parseOffset accepts hex with an optional sign and 0x prefix.
func parseOffset(s string) (process.Offset, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	digits = strings.TrimPrefix(strings.TrimPrefix(digits, "0x"), "0X")

	v, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad offset %q: %w", s, err)
	}
	switch {
	case neg && v <= math.MaxInt64+1:
		return process.Offset(-int64(v - 1) - 1), nil
	case !neg && v <= math.MaxInt64:
		return process.Offset(v), nil
	}
	return 0, fmt.Errorf("offset %q out of range", s)
}

func pointerWidth() (process.PointerWidth, error) {
	w := process.PointerWidth(viper.GetInt(dumpPointerWidthKey))
	if !w.Valid() {
		return 0, fmt.Errorf("unsupported pointer width %d", w)
	}
	return w, nil
}
