// Package latest provides a single-slot cell: one producer overwrites, any
// number of readers observe the most recent completed write.
package latest

import (
	"sync"
	"time"
)

// Cell holds at most one value. Store replaces the previous value; readers never
// see a partially written value and never wait on the producer for longer than a copy.
// The zero value is an empty cell ready for use.
type Cell[T any] struct {
	mu      sync.RWMutex
	val     T
	ok      bool
	stored  time.Time
	version uint64
}

// Store overwrites the slot.
func (c *Cell[T]) Store(v T) {
	c.mu.Lock()
	c.val = v
	c.ok = true
	c.stored = time.Now()
	c.version++
	c.mu.Unlock()
}

// Load returns the current value and whether anything was ever stored.
func (c *Cell[T]) Load() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.val, c.ok
}

// LoadWithMeta also returns when the value was stored and its version, which
// increases by one on every Store.
func (c *Cell[T]) LoadWithMeta() (v T, ok bool, stored time.Time, version uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.val, c.ok, c.stored, c.version
}
