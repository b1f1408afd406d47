// Package poison provides a cell that remembers whether an exclusive holder
// failed while mutating the value inside it.
//
// A Cell does no locking. The caller is responsible for making sure that
// shared access (Get) and exclusive access (Lock) never overlap; package
// qrwlock does this with a queued reader/writer lock.
//
// Poison is sticky: once set, every access reports ErrPoisoned until
// ClearPoison is called.
package poison

import (
	"errors"
	"sync/atomic"
)

// ErrPoisoned is returned when the value was left in a possibly inconsistent
// state by an exclusive holder that did not exit normally.
var ErrPoisoned = errors.New("poison: value poisoned by a failed exclusive holder")

// Cell wraps a value with a poison flag. The zero value holds the zero T and
// is not poisoned.
type Cell[T any] struct {
	failed atomic.Bool
	value  T
}

// NewCell returns a cell holding v.
func NewCell[T any](v T) *Cell[T] { return &Cell[T]{value: v} }

// Get returns shared access to the value. The pointer is returned even when
// the error is ErrPoisoned, so the caller can inspect the value.
func (c *Cell[T]) Get() (*T, error) {
	return &c.value, c.err()
}

// Lock opens the cell for exclusive access. The guard is returned even when
// the error is ErrPoisoned.
func (c *Cell[T]) Lock() (*Guard[T], error) {
	g := &Guard[T]{cell: c, poisonedAtStart: c.failed.Load()}
	return g, c.err()
}

// IsPoisoned reports whether the cell is poisoned.
func (c *Cell[T]) IsPoisoned() bool { return c.failed.Load() }

// ClearPoison marks the value as consistent again.
func (c *Cell[T]) ClearPoison() { c.failed.Store(false) }

// IntoInner returns the value, with ErrPoisoned if the cell is poisoned.
func (c *Cell[T]) IntoInner() (T, error) {
	return c.value, c.err()
}

// GetMut returns a pointer to the value without opening a guard.
func (c *Cell[T]) GetMut() (*T, error) {
	return &c.value, c.err()
}

func (c *Cell[T]) err() error {
	if c.failed.Load() {
		return ErrPoisoned
	}
	return nil
}

// Guard is exclusive access to the value of a Cell.
type Guard[T any] struct {
	cell            *Cell[T]
	poisonedAtStart bool
	released        atomic.Bool
}

// Value returns the value. The pointer must not be used after Release.
func (g *Guard[T]) Value() *T { return &g.cell.value }

// Release ends exclusive access. If panicking is true the holder is exiting
// abnormally and the cell is poisoned. Release panics if called twice.
func (g *Guard[T]) Release(panicking bool) {
	if g.released.Swap(true) {
		panic("poison: Release of released guard")
	}
	if panicking && !g.poisonedAtStart {
		g.cell.failed.Store(true)
	}
}
