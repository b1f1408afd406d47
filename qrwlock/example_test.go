package qrwlock_test

import (
	"errors"
	"fmt"

	"github.com/ahrav/queuedrw/qrwlock"
)

func ExampleRWLock() {
	lock := qrwlock.New(0)

	w, err := lock.Write()
	if err != nil {
		panic(err)
	}
	w.Set(5)
	w.Unlock()

	r, err := lock.Read()
	if err != nil {
		panic(err)
	}
	fmt.Println(*r.Get())
	r.Unlock()
	// Output: 5
}

func ExampleRWLock_TakeTicket() {
	lock := qrwlock.New([]string{})

	first := lock.TakeTicket()
	second := lock.TakeTicket()

	// The first writer changes its mind. Cancel lets the queue move on.
	first.Cancel()

	w, err := second.Write()
	if err != nil {
		panic(err)
	}
	w.Set(append(*w.Get(), "second"))
	w.Unlock()

	fmt.Println(lock)
	// Output: QueuedRWLock{data: [second]}
}

func ExampleRWLock_Update() {
	lock := qrwlock.New(map[string]int{"a": 1})

	func() {
		defer func() { _ = recover() }()
		_ = lock.Update(func(m *map[string]int) {
			(*m)["a"]++
			panic("half-way through")
		})
	}()

	_, err := lock.Read()
	var pe *qrwlock.PoisonError[*qrwlock.ReadGuard[map[string]int]]
	if errors.As(err, &pe) {
		r := pe.Into()
		fmt.Println("poisoned, a =", (*r.Get())["a"])
		r.Unlock()
	}

	lock.ClearPoison()
	fmt.Println(lock.IsPoisoned())
	// Output:
	// poisoned, a = 2
	// false
}
