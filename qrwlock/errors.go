package qrwlock

import (
	"errors"

	"github.com/ahrav/queuedrw/poison"
)

var (
	// ErrWouldBlock is returned by TryRead and TryWrite when the lock cannot
	// be acquired without waiting.
	ErrWouldBlock = errors.New("qrwlock: operation would block")

	// ErrPoisoned matches every *PoisonError with errors.Is.
	ErrPoisoned = poison.ErrPoisoned
)

// PoisonError reports that a writer failed while holding the lock. The lock
// has still been acquired: Into returns the guard, which must be released.
type PoisonError[G any] struct {
	guard G
}

func (e *PoisonError[G]) Error() string {
	return "qrwlock: lock poisoned by a failed writer"
}

// Unwrap returns ErrPoisoned.
func (e *PoisonError[G]) Unwrap() error { return ErrPoisoned }

// Into returns the guard, giving access to the possibly inconsistent value.
func (e *PoisonError[G]) Into() G { return e.guard }
