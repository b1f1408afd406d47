// Package admission holds the bookkeeping behind a queued reader/writer lock:
// whether a writer holds the lock, how many readers hold it, and the two ticket
// counters that order waiting writers.
//
// State performs no synchronization of its own. Every method is an
// instantaneous mutation that the caller must perform while holding the
// critical section that owns the State (see package raw).
//
// Ticket numbers are issued in strictly increasing order starting at 0 and are
// never reused. A writer is "next" exactly when its ticket equals the next
// ticket counter, and the counter advances at the moment a writer is admitted,
// not when the ticket is issued.
package admission

import "fmt"

// State is the admission state of one lock. The zero value is an idle lock
// with no tickets issued.
type State struct {
	writer       bool   // A writer holds (or is claiming) exclusive access
	readers      uint64 // Readers currently holding shared access
	nextTicket   uint64 // Ticket of the writer eligible to proceed
	totalTickets uint64 // Tickets ever issued
}

// AddReader registers a reader.
func (s *State) AddReader() { s.readers++ }

// RemoveReader unregisters a reader. It panics if no reader is registered.
func (s *State) RemoveReader() {
	if s.readers == 0 {
		panic("admission: reader count underflow")
	}
	s.readers--
}

// HasReaders reports whether any reader holds the lock.
func (s *State) HasReaders() bool { return s.readers != 0 }

// HasWriter reports whether a writer currently holds the lock. Writers that
// hold a ticket but have not been admitted are not counted.
func (s *State) HasWriter() bool { return s.writer }

// TakeTicket issues the next ticket.
func (s *State) TakeTicket() uint64 {
	t := s.totalTickets
	s.totalTickets++
	return t
}

// IsNext reports whether ticket is the one eligible to be admitted.
func (s *State) IsNext(ticket uint64) bool { return s.nextTicket == ticket }

// AddWriter admits the next writer: it consumes the current ticket and marks
// the writer as held.
func (s *State) AddWriter() {
	s.nextTicket++
	s.writer = true
}

// RemoveWriter clears the writer flag.
func (s *State) RemoveWriter() { s.writer = false }

// QueueEmpty reports whether every issued ticket has been admitted. A state
// that never issued a ticket is empty.
func (s *State) QueueEmpty() bool { return s.nextTicket == s.totalTickets }

// Pending returns the number of issued tickets not yet admitted.
func (s *State) Pending() uint64 { return s.totalTickets - s.nextTicket }

// Snapshot returns a copy of the current fields.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		WriterHeld:   s.writer,
		Readers:      s.readers,
		NextTicket:   s.nextTicket,
		TotalTickets: s.totalTickets,
	}
}

// Snapshot is a point-in-time copy of a State, safe to read without holding
// any lock.
type Snapshot struct {
	WriterHeld   bool
	Readers      uint64
	NextTicket   uint64
	TotalTickets uint64
}

// Pending returns the number of issued tickets not yet admitted.
func (s Snapshot) Pending() uint64 { return s.TotalTickets - s.NextTicket }

// Idle reports whether nothing holds or waits for the lock.
func (s Snapshot) Idle() bool {
	return !s.WriterHeld && s.Readers == 0 && s.NextTicket == s.TotalTickets
}

func (s Snapshot) String() string {
	return fmt.Sprintf("writer=%t readers=%d next=%d total=%d",
		s.WriterHeld, s.Readers, s.NextTicket, s.TotalTickets)
}
