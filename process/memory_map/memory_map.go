package memory_map

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Perms is the access mask of a memory region.
type Perms uint8

const (
	PermRead Perms = 1 << iota
	PermWrite
	PermExec
)

// ParsePerms converts a maps-style permission string such as "r-xp".
func ParsePerms(s string) Perms {
	var p Perms
	if len(s) > 0 && s[0] == 'r' {
		p |= PermRead
	}
	if len(s) > 1 && s[1] == 'w' {
		p |= PermWrite
	}
	if len(s) > 2 && s[2] == 'x' {
		p |= PermExec
	}
	return p
}

func (p Perms) String() string {
	b := []byte("---")
	if p&PermRead != 0 {
		b[0] = 'r'
	}
	if p&PermWrite != 0 {
		b[1] = 'w'
	}
	if p&PermExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Category classifies anonymous regions the kernel gives special meaning to.
type Category uint8

const (
	CategoryNormal Category = iota
	CategoryStack
	CategoryHeap
)

func (c Category) String() string {
	switch c {
	case CategoryStack:
		return "stack"
	case CategoryHeap:
		return "heap"
	}
	return "normal"
}

// MemoryRegion represents a memory region in a process's address space
type MemoryRegion struct {
	Start    uint64 // first address of the region
	End      uint64 // one past the last address
	Size     uint64 // End - Start
	Perms    Perms
	Category Category
	Path     string // backing file, empty for anonymous mappings
	Name     string // file base name, or the kernel label such as "[heap]"
}

// NewMemoryRegion builds a region from its bounds, permissions and the
// pathname column of a maps line.
func NewMemoryRegion(start, end uint64, perms Perms, pathname string) MemoryRegion {
	r := MemoryRegion{
		Start: start,
		End:   end,
		Perms: perms,
	}
	if end > start {
		r.Size = end - start
	}

	switch {
	case pathname == "":
	case strings.HasPrefix(pathname, "["):
		r.Name = pathname
		if strings.HasPrefix(pathname, "[stack") {
			r.Category = CategoryStack
		} else if pathname == "[heap]" {
			r.Category = CategoryHeap
		}
	default:
		r.Path = pathname
		r.Name = filepath.Base(pathname)
	}

	return r
}

// String returns a string representation of the memory region
func (r MemoryRegion) String() string {
	return fmt.Sprintf("%016x-%016x %s %s", r.Start, r.End, r.Perms, r.Label())
}

// Label is the display name of the region, "[misc]" for anonymous memory.
func (r MemoryRegion) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return "[misc]"
}

// Contains reports whether addr lies in [Start, Start+Size).
func (r MemoryRegion) Contains(addr uint64) bool {
	return addr >= r.Start && addr-r.Start < r.Size
}

func (r MemoryRegion) IsReadable() bool {
	return r.Perms&PermRead != 0
}

func (r MemoryRegion) IsExecutable() bool {
	return r.Perms&PermExec != 0
}

// IsStable reports whether addresses in the region can anchor a path that
// survives a process restart. Stack memory cannot.
func (r MemoryRegion) IsStable() bool {
	return r.Category != CategoryStack
}

// systemPrefixes are mount points holding shared system files rather than
// the target's own modules.
var systemPrefixes = []string{"/dev/", "/usr/"}

var kernelPages = map[string]bool{
	"[vvar]":        true,
	"[vvar_vclock]": true,
	"[vsyscall]":    true,
	"[vdso]":        true,
}

func isSystemPath(path string) bool {
	for _, prefix := range systemPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// IsModule reports whether the region belongs to a file-backed image that can
// serve as an anchor.
func (r MemoryRegion) IsModule() bool {
	return r.IsReadable() && r.Path != "" && !isSystemPath(r.Path)
}

// EligibleForScan is the default region filter: readable memory that is not a
// kernel helper page and not a shared system file.
func EligibleForScan(r MemoryRegion) bool {
	if !r.IsReadable() || r.Size == 0 {
		return false
	}
	if kernelPages[r.Name] {
		return false
	}
	return !isSystemPath(r.Path)
}

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// IsExecutableImage reports whether the file at path starts with the ELF magic.
func IsExecutableImage(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, len(elfMagic))
	if _, err := io.ReadFull(f, buf); err != nil {
		return false
	}
	return bytes.Equal(buf, elfMagic)
}
