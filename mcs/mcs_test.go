package mcs

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/queuedrw/raw"
)

func TestLockConcurrentAccess(t *testing.T) {
	lock := NewLock()
	const numGoroutines = 50
	const iterations = 500
	counter := 0
	var wg sync.WaitGroup

	wg.Add(numGoroutines)
	for range numGoroutines {
		go func() {
			defer wg.Done()
			node := &QNode{}
			for range iterations {
				lock.Lock(node)
				counter++
				lock.Unlock(node)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, numGoroutines*iterations, counter)
	assert.True(t, lock.IsFree())
}

func TestLockTryLock(t *testing.T) {
	lock := NewLock()
	a, b := &QNode{}, &QNode{}

	require.True(t, lock.TryLock(a))
	assert.False(t, lock.TryLock(b), "TryLock must fail while the lock is held")
	assert.False(t, lock.IsFree())

	lock.Unlock(a)
	assert.True(t, lock.IsFree())
}

func TestLockerConcurrentAccess(t *testing.T) {
	var m Locker
	const numGoroutines = 50
	const iterations = 500
	counter := 0
	var wg sync.WaitGroup

	wg.Add(numGoroutines)
	for range numGoroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				m.Lock()
				counter++
				m.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, numGoroutines*iterations, counter)
	assert.True(t, m.IsFree())
}

func TestLockerUnlockOfUnlocked(t *testing.T) {
	m := NewLocker()
	assert.Panics(t, m.Unlock)
}

func TestLockerGuardsRawLock(t *testing.T) {
	l := raw.New(raw.WithLocker(NewLocker()))
	const readers, writers = 8, 4
	const iterations = 200

	var active, writing int
	var mu sync.Mutex // Guards active and writing for the assertions only.
	var wg sync.WaitGroup

	wg.Add(readers + writers)
	for range readers {
		go func() {
			defer wg.Done()
			for range iterations {
				l.Read()
				mu.Lock()
				assert.Zero(t, writing, "reader admitted while a writer holds the lock")
				active++
				mu.Unlock()

				mu.Lock()
				active--
				mu.Unlock()
				l.ReadUnlock()
			}
		}()
	}
	for range writers {
		go func() {
			defer wg.Done()
			for range iterations {
				l.Write(l.TakeTicket())
				mu.Lock()
				assert.Zero(t, active, "writer admitted while readers hold the lock")
				writing++
				assert.Equal(t, 1, writing)
				writing--
				mu.Unlock()
				l.WriteUnlock()
			}
		}()
	}
	wg.Wait()

	assert.True(t, l.Snapshot().Idle())
}

func BenchmarkLockerContended(b *testing.B) {
	var m Locker
	shared := 0
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Lock()
			shared++
			m.Unlock()
		}
	})
}

func BenchmarkRawWriteMCS(b *testing.B) {
	l := raw.New(raw.WithLocker(NewLocker()))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			l.Write(l.TakeTicket())
			l.WriteUnlock()
		}
	})
}
