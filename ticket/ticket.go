// Package ticket provides a fair mutual exclusion spin lock using a ticket-based
// queuing system. Lock acquisitions are served in the exact order they arrive,
// with an adaptive spinning strategy that backs off proportionally to a
// goroutine's distance from the head of the queue.
//
// Lock implements sync.Locker, so it can serve as the critical section of a
// raw.Lock:
//
//	l := raw.New(raw.WithLocker(ticket.NewLock()))
//
// Because it spins, it suits critical sections that touch a few fields, such
// as the admission state of a queued reader/writer lock.
package ticket

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Lock implements a fair mutual exclusion lock using a ticket-based queuing system.
//
// The internal implementation uses two counters:
//   - serving: the ticket currently allowed to hold the lock
//   - next: the next ticket to be issued
//
// The lock is free when serving == next, and locked otherwise.
// The zero value is an unlocked Lock.
type Lock struct {
	serving atomic.Uint32
	next    atomic.Uint32
}

var _ sync.Locker = (*Lock)(nil)

// NewLock creates a new ticket Lock.
func NewLock() *Lock { return new(Lock) }

// TryLock attempts to acquire the lock without blocking. It returns true if the lock
// was acquired, and false if it is held or other goroutines are already queued.
func (t *Lock) TryLock() bool {
	me := t.next.Load()
	if t.serving.Load() != me {
		return false
	}
	// serving never passes next, so if next is unchanged nobody took a ticket
	// in between and the lock is still free.
	return t.next.CompareAndSwap(me, me+1)
}

const (
	ticketBaseWait uint32 = 10
	ticketWaitNext        = 5
	ticketSleepAt         = 20
)

// Lock acquires the lock. Goroutines spin proportionally to their distance
// from the head of the queue and yield the processor after every round, so
// the holder can run even with GOMAXPROCS=1. When far back (more than 20
// positions) they sleep instead of spinning to reduce CPU usage.
func (t *Lock) Lock() {
	my := t.next.Add(1) - 1

	// Fast path for uncontended case.
	if t.serving.Load() == my {
		return
	}

	wait := ticketBaseWait
	distancePrev := uint32(1)

	for {
		cur := t.serving.Load()
		if cur == my {
			return
		}
		distance := my - cur // Tickets ahead of us; wraps correctly.

		if distance > 1 {
			if distance != distancePrev { // Queue moved; restart the backoff.
				distancePrev = distance
				wait = ticketBaseWait
			}
			for range distance * wait {
			}
		} else {
			for range ticketWaitNext {
			}
		}

		if distance > ticketSleepAt {
			time.Sleep(time.Millisecond)
		} else {
			runtime.Gosched()
		}
	}
}

// Unlock releases the lock to the next ticket holder.
func (t *Lock) Unlock() { t.serving.Add(1) }

// isFree checks if the lock is free.
func (t *Lock) isFree() bool { return t.serving.Load() == t.next.Load() }

// queued returns the number of goroutines holding or waiting for the lock.
func (t *Lock) queued() uint32 { return t.next.Load() - t.serving.Load() }
