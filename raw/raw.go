// Package raw implements the admission protocol of a reader/writer lock whose
// writers are served in strict first-come-first-served order.
//
// A Lock guards no data. It only decides when readers and writers are admitted:
//
//	l := raw.New()
//
//	// Shared access
//	l.Read()
//	// ... read ...
//	l.ReadUnlock()
//
//	// Exclusive access, queued behind earlier tickets
//	t := l.TakeTicket()
//	l.Write(t)
//	// ... write ...
//	l.WriteUnlock()
//
// Every ticket returned by TakeTicket must eventually be passed to Write, and
// the writer released with WriteUnlock, even if the caller no longer wants to
// write. A ticket that is never redeemed blocks every writer queued behind it
// forever. Package qrwlock wraps this rule in guards.
//
// Readers are blocked only by a writer that has been admitted. A writer that
// merely holds a ticket does not stop new readers, so a continuous stream of
// readers can delay a queued writer indefinitely.
package raw

import (
	"sync"

	"github.com/ahrav/queuedrw/admission"
)

// Lock is the synchronization engine. It must be created with New.
type Lock struct {
	mu    sync.Locker
	state admission.State

	// writerReleased is broadcast when a writer releases the lock. Both
	// readers and queued writers wait on it.
	writerReleased *sync.Cond
	// readersDrained is broadcast when the last reader leaves while a writer
	// is waiting for admission to complete.
	readersDrained *sync.Cond
}

// Option configures a Lock.
type Option func(*Lock)

// WithLocker sets the primitive guarding the admission state. The default is
// a *sync.Mutex. The locker is held only for the duration of a single
// protocol step, never while a caller uses the protected data.
func WithLocker(mu sync.Locker) Option {
	return func(l *Lock) {
		if mu != nil {
			l.mu = mu
		}
	}
}

// New creates an idle Lock.
func New(opts ...Option) *Lock {
	l := &Lock{mu: new(sync.Mutex)}
	for _, opt := range opts {
		opt(l)
	}
	l.writerReleased = sync.NewCond(l.mu)
	l.readersDrained = sync.NewCond(l.mu)
	return l
}

// Read blocks until no writer holds the lock and then registers a reader.
func (l *Lock) Read() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.state.HasWriter() {
		l.writerReleased.Wait()
	}
	l.state.AddReader()
}

// TryRead registers a reader if no writer holds the lock. It does not look at
// queued tickets.
func (l *Lock) TryRead() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.HasWriter() {
		return false
	}
	l.state.AddReader()
	return true
}

// ReadUnlock unregisters a reader. If a writer is waiting for readers to
// drain and this was the last one, the writer is woken.
func (l *Lock) ReadUnlock() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.RemoveReader()
	if l.state.HasWriter() && !l.state.HasReaders() {
		l.readersDrained.Broadcast()
	}
}

// TakeTicket reserves a position in the writer queue. It never blocks.
// The ticket must be redeemed with Write.
func (l *Lock) TakeTicket() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state.TakeTicket()
}

// Write admits the writer holding ticket. It blocks until every earlier
// ticket has been admitted and released, claims exclusive intent (which stops
// new readers), and then waits for the readers already inside to leave.
func (l *Lock) Write(ticket uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.state.HasWriter() || !l.state.IsNext(ticket) {
		l.writerReleased.Wait()
	}
	l.state.AddWriter()

	for l.state.HasReaders() {
		l.readersDrained.Wait()
	}
}

// TryWriteSkipQueue admits a writer without a ticket, but only when the lock
// is completely uncontended: no writer, no readers and no outstanding ticket.
// On success a ticket is issued and consumed in the same step.
func (l *Lock) TryWriteSkipQueue() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.HasWriter() || l.state.HasReaders() || !l.state.QueueEmpty() {
		return false
	}
	l.state.TakeTicket()
	l.state.AddWriter()
	return true
}

// WriteUnlock releases the writer and wakes everything waiting on it.
func (l *Lock) WriteUnlock() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.state.HasWriter() {
		panic("raw: WriteUnlock of unlocked lock")
	}
	l.state.RemoveWriter()
	l.writerReleased.Broadcast()
}

// Snapshot returns a consistent copy of the admission state.
func (l *Lock) Snapshot() admission.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state.Snapshot()
}
