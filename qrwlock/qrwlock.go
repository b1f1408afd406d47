// Package qrwlock provides a reader/writer lock that serves writers in strict
// first-come-first-served order and poisons its value when a writer fails
// while mutating it.
//
// Writers draw a ticket when they arrive and are admitted in ticket order, so
// no writer can be overtaken by a later one. Any number of readers may hold
// the lock at once; a writer excludes new readers from the moment it is
// admitted and then waits for the readers already inside to leave.
//
//	lock := qrwlock.New(map[string]int{})
//
//	g, err := lock.Write()
//	if err != nil {
//		return err
//	}
//	(*g.Get())["a"] = 1
//	g.Unlock()
//
//	r, err := lock.Read()
//	if err != nil {
//		return err
//	}
//	fmt.Println((*r.Get())["a"])
//	r.Unlock()
//
// A writer can reserve its place in the queue before it is ready to write with
// TakeTicket. Every ticket must be redeemed with TicketGuard.Write or given up
// with TicketGuard.Cancel; otherwise all writers behind it wait until the
// garbage collector notices the abandoned ticket and redeems it.
//
// Readers are only blocked by an admitted writer, never by a queued one, so
// a steady stream of readers can delay a queued writer indefinitely.
//
// # Poisoning
//
// A write guard cannot detect on its own that its holder panicked.
// Release(true) reports an abnormal exit explicitly, and
// Update does it automatically when its callback panics. After that every
// acquisition returns a *PoisonError until ClearPoison is called. The error
// still carries the guard: the lock is held and must be released through it.
package qrwlock

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ahrav/queuedrw/admission"
	"github.com/ahrav/queuedrw/poison"
	"github.com/ahrav/queuedrw/raw"
)

// RWLock is a queued reader/writer lock protecting a value of type T.
// It must be created with New.
type RWLock[T any] struct {
	raw      *raw.Lock
	data     *poison.Cell[T]
	consumed atomic.Bool // set by IntoInner
}

// New creates a lock protecting v. The options configure the underlying
// raw.Lock.
func New[T any](v T, opts ...raw.Option) *RWLock[T] {
	return &RWLock[T]{
		raw:  raw.New(opts...),
		data: poison.NewCell(v),
	}
}

// Read blocks until no writer holds the lock and returns a shared guard.
// If the lock is poisoned the error is a *PoisonError[*ReadGuard[T]] holding
// the guard.
func (l *RWLock[T]) Read() (*ReadGuard[T], error) {
	l.mustBeLive("Read")
	l.raw.Read()
	return l.newReadGuard()
}

// TryRead is like Read but returns ErrWouldBlock instead of waiting for a
// writer.
func (l *RWLock[T]) TryRead() (*ReadGuard[T], error) {
	l.mustBeLive("TryRead")
	if !l.raw.TryRead() {
		return nil, ErrWouldBlock
	}
	return l.newReadGuard()
}

// Write takes a ticket and redeems it at once. It blocks until every writer
// that arrived earlier has finished and all readers have left.
// If the lock is poisoned the error is a *PoisonError[*WriteGuard[T]] holding
// the guard.
func (l *RWLock[T]) Write() (*WriteGuard[T], error) {
	l.mustBeLive("Write")
	// The ticket is redeemed immediately, so it never needs a TicketGuard.
	l.raw.Write(l.raw.TakeTicket())
	return l.newWriteGuard()
}

// TryWrite acquires the lock for writing only if it is completely idle: no
// readers, no writer and no outstanding tickets. Otherwise it returns
// ErrWouldBlock. It never jumps ahead of a queued writer.
func (l *RWLock[T]) TryWrite() (*WriteGuard[T], error) {
	l.mustBeLive("TryWrite")
	if !l.raw.TryWriteSkipQueue() {
		return nil, ErrWouldBlock
	}
	return l.newWriteGuard()
}

// TakeTicket reserves the next position in the writer queue.
func (l *RWLock[T]) TakeTicket() *TicketGuard[T] {
	l.mustBeLive("TakeTicket")
	return newTicketGuard(l, l.raw.TakeTicket())
}

// View runs fn with shared access. It returns ErrPoisoned without calling fn
// if the lock is poisoned.
func (l *RWLock[T]) View(fn func(v *T)) error {
	g, err := l.Read()
	if err != nil {
		releasePoisoned(err, (*ReadGuard[T]).Unlock)
		return ErrPoisoned
	}
	defer g.Unlock()

	fn(g.Get())
	return nil
}

// Update runs fn with exclusive access. If fn panics or exits the goroutine,
// the lock is poisoned before the panic continues. It returns ErrPoisoned
// without calling fn if the lock is already poisoned.
func (l *RWLock[T]) Update(fn func(v *T)) error {
	g, err := l.Write()
	if err != nil {
		releasePoisoned(err, (*WriteGuard[T]).Unlock)
		return ErrPoisoned
	}

	normalReturn := false
	defer func() { g.Release(!normalReturn) }()

	fn(g.Get())
	normalReturn = true
	return nil
}

// IsPoisoned reports whether a writer failed while holding the lock.
func (l *RWLock[T]) IsPoisoned() bool { return l.data.IsPoisoned() }

// ClearPoison marks the value as consistent again.
func (l *RWLock[T]) ClearPoison() { l.data.ClearPoison() }

// IntoInner returns the protected value. The error is ErrPoisoned if the lock
// is poisoned; the value is returned either way. IntoInner panics if a guard
// or ticket is outstanding.
//
// The lock is consumed: every later acquisition, GetMut or IntoInner panics.
// Snapshot and IsPoisoned keep working.
func (l *RWLock[T]) IntoInner() (T, error) {
	l.mustBeLive("IntoInner")
	l.mustBeIdle("IntoInner")
	if l.consumed.Swap(true) {
		panic(consumedMsg("IntoInner"))
	}
	return l.data.IntoInner()
}

// GetMut returns a pointer to the value without taking the lock. The caller
// must guarantee that no other goroutine uses the lock while the pointer is in
// use. GetMut panics if a guard or ticket is outstanding.
func (l *RWLock[T]) GetMut() (*T, error) {
	l.mustBeLive("GetMut")
	l.mustBeIdle("GetMut")
	return l.data.GetMut()
}

// Snapshot returns the current admission state of the lock.
func (l *RWLock[T]) Snapshot() admission.Snapshot { return l.raw.Snapshot() }

// String renders the value if it can be read without blocking.
func (l *RWLock[T]) String() string {
	if l.consumed.Load() {
		return "QueuedRWLock{<consumed>}"
	}
	g, err := l.TryRead()
	if err == nil {
		defer g.Unlock()
		return fmt.Sprintf("QueuedRWLock{data: %v}", *g.Get())
	}

	var pe *PoisonError[*ReadGuard[T]]
	if errors.As(err, &pe) {
		g := pe.Into()
		defer g.Unlock()
		return fmt.Sprintf("QueuedRWLock{data: Poisoned(%v)}", *g.Get())
	}
	return "QueuedRWLock{<locked>}"
}

func (l *RWLock[T]) newReadGuard() (*ReadGuard[T], error) {
	v, err := l.data.Get()
	g := &ReadGuard[T]{lock: l, value: v}
	if err != nil {
		return nil, &PoisonError[*ReadGuard[T]]{guard: g}
	}
	return g, nil
}

func (l *RWLock[T]) newWriteGuard() (*WriteGuard[T], error) {
	pg, err := l.data.Lock()
	g := &WriteGuard[T]{lock: l, data: pg}
	if err != nil {
		return nil, &PoisonError[*WriteGuard[T]]{guard: g}
	}
	return g, nil
}

func (l *RWLock[T]) mustBeLive(op string) {
	if l.consumed.Load() {
		panic(consumedMsg(op))
	}
}

func consumedMsg(op string) string { return "qrwlock: " + op + " after IntoInner" }

func (l *RWLock[T]) mustBeIdle(op string) {
	if s := l.raw.Snapshot(); !s.Idle() {
		panic(fmt.Sprintf("qrwlock: %s with outstanding guards or tickets (%s)", op, s))
	}
}

// releasePoisoned unlocks the guard carried by a *PoisonError.
func releasePoisoned[G any](err error, unlock func(G)) {
	var pe *PoisonError[G]
	if errors.As(err, &pe) {
		unlock(pe.Into())
	}
}
