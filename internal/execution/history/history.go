// Package history keeps a bounded window of the most recent output lines
// of a process, for use in diagnostics.
package history

import (
	"strings"
	"sync"
)

// DefaultCapacity is the number of lines retained when no capacity is given.
const DefaultCapacity = 30

// Lines is a fixed-capacity FIFO of strings. Once full, appending a line
// evicts the oldest one. Lines is safe for concurrent use.
type Lines struct {
	size int

	mu   sync.RWMutex
	vals []string
}

// New returns a history retaining at most size lines. A size < 1 is
// treated as 1.
func New(size int) *Lines {
	if size < 1 {
		size = 1
	}

	return &Lines{
		size: size,
		vals: make([]string, 0, size),
	}
}

// Append adds a line to the tail, evicting the head if at capacity.
func (l *Lines) Append(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// trim before appending, so the backing array never grows past size
	if len(l.vals) == l.size {
		copy(l.vals, l.vals[1:])
		l.vals = l.vals[:len(l.vals)-1]
	}

	l.vals = append(l.vals, line)
}

// Lines returns a copy of the retained lines, oldest first.
func (l *Lines) Lines() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, len(l.vals))
	copy(out, l.vals)

	return out
}

// Join returns the retained lines joined by sep.
func (l *Lines) Join(sep string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return strings.Join(l.vals, sep)
}

// Len returns the number of retained lines.
func (l *Lines) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.vals)
}

// Cap returns the capacity of the history.
func (l *Lines) Cap() int {
	return l.size
}
