// Package mcs implements the Mellor-Crummey Scott (MCS) lock, a scalable FIFO queue-based spin lock.
//
// An MCS lock provides several advantages over traditional spin locks:
//   - FIFO ordering ensures fair lock acquisition
//   - Each goroutine spins on its own queue node, reducing memory contention
//   - Memory usage scales with the number of goroutines contending for the lock
//
// The raw Lock requires every acquisition to bring its own QNode:
//
//	lock := mcs.NewLock()
//	node := &mcs.QNode{}
//
//	lock.Lock(node)
//	// ... critical section ...
//	lock.Unlock(node)
//
// Locker hides the node bookkeeping behind sync.Locker so the lock can guard
// the admission state of a raw.Lock:
//
//	l := raw.New(raw.WithLocker(mcs.NewLocker()))
package mcs

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// QNode represents a queue node in the MCS lock.
type QNode struct {
	next    atomic.Pointer[QNode]
	waiting atomic.Uint32
}

// Lock represents the MCS lock.
type Lock struct {
	tail atomic.Pointer[QNode]
}

// NewLock creates a new MCS lock.
func NewLock() *Lock { return new(Lock) }

// TryLock attempts to acquire the lock without blocking.
// Returns true if lock was acquired, false otherwise.
func (l *Lock) TryLock(node *QNode) bool {
	node.next.Store(nil)
	return l.tail.CompareAndSwap(nil, node)
}

// Lock acquires the lock.
func (l *Lock) Lock(node *QNode) {
	node.next.Store(nil)
	pred := l.tail.Swap(node) // Atomically put ourselves at the tail

	if pred == nil { // No predecessor, lock acquired
		return
	}

	// The flag must be raised before we become visible to the predecessor.
	node.waiting.Store(1)
	pred.next.Store(node)

	for node.waiting.Load() != 0 {
		runtime.Gosched()
	}
}

// Unlock releases the lock.
func (l *Lock) Unlock(node *QNode) {
	succ := node.next.Load()
	if succ == nil {
		// No one waiting? Try to set tail to nil.
		if l.tail.CompareAndSwap(node, nil) {
			return
		}
		// Someone is in the process of enqueuing, wait for the link.
		for succ = node.next.Load(); succ == nil; succ = node.next.Load() {
			runtime.Gosched()
		}
	}
	succ.waiting.Store(0)
}

// IsFree returns true if the lock is currently free.
func (l *Lock) IsFree() bool { return l.tail.Load() == nil }

// Locker adapts Lock to sync.Locker. The node of the current holder is kept
// in the Locker itself; only the holder reads or writes it.
type Locker struct {
	lock  Lock
	held  *QNode
	nodes sync.Pool
}

var _ sync.Locker = (*Locker)(nil)

// NewLocker creates an unlocked Locker. The zero value is also usable.
func NewLocker() *Locker { return new(Locker) }

// Lock acquires the lock.
func (m *Locker) Lock() {
	node, _ := m.nodes.Get().(*QNode)
	if node == nil {
		node = new(QNode)
	}
	m.lock.Lock(node)
	m.held = node
}

// Unlock releases the lock. It panics if the lock is not held.
func (m *Locker) Unlock() {
	node := m.held
	if node == nil {
		panic("mcs: unlock of unlocked Locker")
	}
	m.held = nil
	m.lock.Unlock(node)
	// No other goroutine references node once Unlock has signaled the successor.
	m.nodes.Put(node)
}

// IsFree returns true if the lock is currently free.
func (m *Locker) IsFree() bool { return m.lock.IsFree() }
