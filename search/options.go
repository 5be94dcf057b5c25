package search

import (
	"runtime"
)

// Scanner holds configuration for the search
type Scanner struct {
	edges   EdgeSource
	regions RegionIndex

	MaxDepth   int
	MaxOffset  uint64
	MaxResults int
	AllowStack bool
	Workers    int
}

// Option is a function that configures a Scanner
type Option func(*Scanner)

// WithMaxDepth bounds the number of dereferences in a path.
func WithMaxDepth(depth int) Option {
	return func(s *Scanner) {
		s.MaxDepth = depth
	}
}

// WithMaxOffset bounds |offset| for every step, including the final one.
func WithMaxOffset(offset uint64) Option {
	return func(s *Scanner) {
		s.MaxOffset = offset
	}
}

// WithMaxResults caps the number of paths returned. Zero means no cap.
func WithMaxResults(n int) Option {
	return func(s *Scanner) {
		s.MaxResults = n
	}
}

// WithAllowStack lets paths pass through stack memory.
func WithAllowStack(allow bool) Option {
	return func(s *Scanner) {
		s.AllowStack = allow
	}
}

func WithWorkers(n int) Option {
	return func(s *Scanner) {
		s.Workers = n
	}
}

func defaultScanner() *Scanner {
	return &Scanner{
		MaxDepth:   5,
		MaxOffset:  0x1000,
		MaxResults: 1000,
		Workers:    runtime.NumCPU(),
	}
}
