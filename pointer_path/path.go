// Package pointer_path models module-relative pointer chains: how they are
// written down, parsed back and followed in a process.
package pointer_path

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ptrscan/process"
	"ptrscan/process/memory_map"
)

// ErrModuleNotLoaded is returned when a path's module has no mapping.
var ErrModuleNotLoaded = errors.New("module not loaded")

const separator = " -> "

// PointerPath describes how to reach an address from a module image.
//
// Following it: start at the module base plus BaseOffset, then for every
// step read the pointer stored there and add the step's offset. The address
// after the last step is the target.
type PointerPath struct {
	Module     string
	BaseOffset process.Offset
	Steps      []process.Offset
}

// Depth is the number of dereferences.
func (p PointerPath) Depth() int {
	return len(p.Steps)
}

func (p PointerPath) String() string {
	return Render(p)
}

// Render formats p as "module+0x1234 -> +0x8 -> -0x10". The form only holds
// module-relative offsets, never absolute addresses.
func Render(p PointerPath) string {
	var sb strings.Builder
	sb.WriteString(p.Module)
	sb.WriteString(p.BaseOffset.String())
	for _, o := range p.Steps {
		sb.WriteString(separator)
		sb.WriteString(o.String())
	}
	return sb.String()
}

// Parse reads the Render form back.
func Parse(s string) (PointerPath, error) {
	parts := strings.Split(strings.TrimSpace(s), strings.TrimSpace(separator))
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	head := parts[0]
	// module names may contain '+' or '-' themselves; the base offset is the
	// last signed hex number
	cut := strings.LastIndexAny(head, "+-")
	if cut <= 0 {
		return PointerPath{}, fmt.Errorf("path %q: missing module base offset", s)
	}
	base, err := parseOffset(head[cut:])
	if err != nil {
		return PointerPath{}, fmt.Errorf("path %q: %w", s, err)
	}

	p := PointerPath{Module: head[:cut], BaseOffset: base}
	for _, part := range parts[1:] {
		o, err := parseOffset(part)
		if err != nil {
			return PointerPath{}, fmt.Errorf("path %q: %w", s, err)
		}
		p.Steps = append(p.Steps, o)
	}
	return p, nil
}

func parseOffset(s string) (process.Offset, error) {
	if s == "" || (s[0] != '+' && s[0] != '-') {
		return 0, fmt.Errorf("offset %q must start with + or -", s)
	}
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad offset %q: %w", s, err)
	}
	return process.Offset(v), nil
}

// PathBrokenError reports the first step that could not be followed.
type PathBrokenError struct {
	Step    int                          // index into Steps
	Address process.ProcessMemoryAddress // address being dereferenced or produced
	Err     error
}

func (e *PathBrokenError) Error() string {
	return fmt.Sprintf("path broken at step %d (0x%x): %v", e.Step, uint64(e.Address), e.Err)
}

func (e *PathBrokenError) Unwrap() error {
	return e.Err
}

// Verify follows p in a process and returns the address it ends at.
//
// Each step must read its pointer from a readable region of index, and the
// address it produces must be readable too, or mapped for the last step.
// The first step that fails is reported as a *PathBrokenError.
func (p PointerPath) Verify(mem process.MemoryReader, index *memory_map.Index, width process.PointerWidth) (process.ProcessMemoryAddress, error) {
	module, ok := index.FindModule(p.Module)
	if !ok {
		return 0, fmt.Errorf("%s: %w", p.Module, ErrModuleNotLoaded)
	}

	addr, err := p.BaseOffset.Apply(process.ProcessMemoryAddress(module.Start))
	if err != nil {
		return 0, &PathBrokenError{Step: 0, Address: process.ProcessMemoryAddress(module.Start), Err: err}
	}
	if len(p.Steps) == 0 {
		return addr, nil
	}
	if !readable(index, addr) {
		return 0, &PathBrokenError{Step: 0, Address: addr, Err: process.ErrAddressNotMapped}
	}

	for i, o := range p.Steps {
		ptr, err := process.ReadPointer(mem, addr, width)
		if err != nil {
			return 0, &PathBrokenError{Step: i, Address: addr, Err: err}
		}
		next, err := o.Apply(ptr)
		if err != nil {
			return 0, &PathBrokenError{Step: i, Address: ptr, Err: err}
		}

		last := i == len(p.Steps)-1
		if (last && !index.Has(uint64(next))) || (!last && !readable(index, next)) {
			return 0, &PathBrokenError{Step: i, Address: next, Err: process.ErrAddressNotMapped}
		}
		addr = next
	}
	return addr, nil
}

func readable(index *memory_map.Index, addr process.ProcessMemoryAddress) bool {
	r, ok := index.Contains(uint64(addr))
	return ok && r.IsReadable()
}
