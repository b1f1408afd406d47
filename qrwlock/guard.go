package qrwlock

import (
	"runtime"
	"sync/atomic"

	"github.com/ahrav/queuedrw/poison"
	"github.com/ahrav/queuedrw/raw"
)

// ReadGuard is shared access to the value of an RWLock.
type ReadGuard[T any] struct {
	lock     *RWLock[T]
	value    *T
	released atomic.Bool
}

// Get returns the protected value. It must not be modified. Get panics after
// Unlock; the pointer it returned earlier must not be used either.
func (g *ReadGuard[T]) Get() *T {
	if g.released.Load() {
		panic("qrwlock: Get of released ReadGuard")
	}
	return g.value
}

// Unlock releases shared access. It panics if called twice.
func (g *ReadGuard[T]) Unlock() {
	if g.released.Swap(true) {
		panic("qrwlock: Unlock of released ReadGuard")
	}
	g.lock.raw.ReadUnlock()
}

// WriteGuard is exclusive access to the value of an RWLock.
type WriteGuard[T any] struct {
	lock     *RWLock[T]
	data     *poison.Guard[T]
	released atomic.Bool
}

// Get returns the protected value for reading and writing. Get panics after
// the guard is released; the pointer it returned earlier must not be used
// either.
func (g *WriteGuard[T]) Get() *T {
	g.mustHold("Get")
	return g.data.Value()
}

// Set replaces the protected value. It panics after the guard is released.
func (g *WriteGuard[T]) Set(v T) {
	g.mustHold("Set")
	*g.data.Value() = v
}

// Unlock releases exclusive access after a normal exit.
func (g *WriteGuard[T]) Unlock() { g.Release(false) }

// Release releases exclusive access. panicking reports that the holder is
// exiting abnormally, in which case the lock is poisoned. Releasing a guard
// twice panics.
//
// To poison on panic without recovering it:
//
//	normalReturn := false
//	defer func() { g.Release(!normalReturn) }()
//	mutate(g.Get())
//	normalReturn = true
func (g *WriteGuard[T]) Release(panicking bool) {
	g.data.Release(panicking)
	g.released.Store(true)
	g.lock.raw.WriteUnlock()
}

func (g *WriteGuard[T]) mustHold(op string) {
	if g.released.Load() {
		panic("qrwlock: " + op + " of released WriteGuard")
	}
}

// TicketGuard is a reserved position in the writer queue. It must be consumed
// exactly once, by Write or Cancel.
//
// A TicketGuard that becomes unreachable without being consumed is redeemed
// by a runtime cleanup: the ticket takes its turn and releases the lock at
// once, so the writers behind it are not stalled forever. Until the garbage
// collector runs they are, so prefer an explicit Cancel.
type TicketGuard[T any] struct {
	lock    *RWLock[T]
	ticket  uint64
	claim   *ticketClaim
	cleanup runtime.Cleanup
}

// ticketClaim records whether a ticket has been consumed. It lives outside
// the TicketGuard so the cleanup can reach it without keeping the guard alive.
type ticketClaim struct {
	done atomic.Bool
}

// abandonedTicket is everything the cleanup of a TicketGuard needs.
type abandonedTicket struct {
	raw    *raw.Lock
	ticket uint64
	claim  *ticketClaim
}

func newTicketGuard[T any](l *RWLock[T], ticket uint64) *TicketGuard[T] {
	g := &TicketGuard[T]{lock: l, ticket: ticket, claim: new(ticketClaim)}
	g.cleanup = runtime.AddCleanup(g, redeemAbandoned, abandonedTicket{
		raw:    l.raw,
		ticket: ticket,
		claim:  g.claim,
	})
	return g
}

// redeemAbandoned runs on the cleanup goroutine, which must not block.
func redeemAbandoned(t abandonedTicket) {
	if !t.claim.done.CompareAndSwap(false, true) {
		return
	}
	go func() {
		t.raw.Write(t.ticket)
		t.raw.WriteUnlock()
	}()
}

// Ticket returns the queue position.
func (g *TicketGuard[T]) Ticket() uint64 { return g.ticket }

// Write blocks until every earlier ticket has been served and all readers
// have left, then returns exclusive access. It consumes the ticket; calling
// Write or Cancel again panics.
func (g *TicketGuard[T]) Write() (*WriteGuard[T], error) {
	g.consume()
	g.lock.raw.Write(g.ticket)
	return g.lock.newWriteGuard()
}

// Cancel gives up the ticket. It waits for the ticket's turn and releases the
// lock immediately, so it blocks like Write. It consumes the ticket.
func (g *TicketGuard[T]) Cancel() {
	g.consume()
	g.lock.raw.Write(g.ticket)
	g.lock.raw.WriteUnlock()
}

func (g *TicketGuard[T]) consume() {
	if !g.claim.done.CompareAndSwap(false, true) {
		panic("qrwlock: ticket already consumed")
	}
	g.cleanup.Stop()
}
