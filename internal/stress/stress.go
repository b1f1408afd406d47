// Package stress drives a qrwlock.RWLock with concurrent readers and writers
// and checks, while running, that readers and writers never overlap and that
// writers are admitted in ticket order.
package stress

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/queuedrw/mcs"
	"github.com/ahrav/queuedrw/metrics"
	"github.com/ahrav/queuedrw/qrwlock"
	"github.com/ahrav/queuedrw/raw"
	"github.com/ahrav/queuedrw/ticket"
)

// Lockers accepted by Config.Locker.
const (
	LockerMutex  = "mutex"
	LockerTicket = "ticket"
	LockerMCS    = "mcs"
)

// Config controls a stress run.
type Config struct {
	Readers  int
	Writers  int
	Duration time.Duration
	// Hold is how long each reader and writer stays inside the lock.
	Hold time.Duration
	// Locker selects the primitive guarding the admission state.
	Locker string
	// TryEvery makes every n-th operation of a worker use TryRead or
	// TryWrite. Zero disables them.
	TryEvery int
	// CancelEvery makes every n-th ticketed write give its ticket up.
	// Zero disables cancellation.
	CancelEvery int
}

// DefaultConfig returns the configuration used when no flags are given.
func DefaultConfig() Config {
	return Config{
		Readers:     8,
		Writers:     4,
		Duration:    2 * time.Second,
		Hold:        10 * time.Microsecond,
		Locker:      LockerMutex,
		TryEvery:    5,
		CancelEvery: 7,
	}
}

// ErrInvalidConfig is wrapped by every error returned from Validate.
var ErrInvalidConfig = errors.New("stress: invalid config")

// Validate checks c.
func (c Config) Validate() error {
	switch {
	case c.Readers < 0 || c.Writers < 0:
		return fmt.Errorf("%w: negative worker count", ErrInvalidConfig)
	case c.Readers+c.Writers == 0:
		return fmt.Errorf("%w: no workers", ErrInvalidConfig)
	case c.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidConfig)
	case c.Hold < 0:
		return fmt.Errorf("%w: negative hold", ErrInvalidConfig)
	case c.TryEvery < 0 || c.CancelEvery < 0:
		return fmt.Errorf("%w: negative interval", ErrInvalidConfig)
	}
	if _, err := lockerOption(c.Locker); err != nil {
		return err
	}
	return nil
}

func lockerOption(name string) (raw.Option, error) {
	switch name {
	case "", LockerMutex:
		return raw.WithLocker(nil), nil
	case LockerTicket:
		return raw.WithLocker(ticket.NewLock()), nil
	case LockerMCS:
		return raw.WithLocker(mcs.NewLocker()), nil
	default:
		return nil, fmt.Errorf("%w: unknown locker %q", ErrInvalidConfig, name)
	}
}

// Report summarizes a run.
type Report struct {
	Reads         uint64
	Writes        uint64
	ReadMisses    uint64 // TryRead returned ErrWouldBlock
	WriteMisses   uint64 // TryWrite returned ErrWouldBlock
	Cancelled     uint64 // Tickets given up with Cancel
	Violations    uint64
	TicketsIssued uint64
	Elapsed       time.Duration
	LastAdmitted  uint64 // Ticket of the last admitted writer
}

// ErrViolation is returned by Run when an invariant was broken.
var ErrViolation = errors.New("stress: lock invariant violated")

// journal is the value protected by the lock under test.
type journal struct {
	lastTicket uint64
	written    bool
	writes     uint64
}

// Runner performs one stress run.
type Runner struct {
	cfg  Config
	log  *zap.Logger
	lock *qrwlock.RWLock[journal]

	readersIn atomic.Int64
	writersIn atomic.Int64
	reads     atomic.Uint64
	writes    atomic.Uint64
	rMisses   atomic.Uint64
	wMisses   atomic.Uint64
	cancelled atomic.Uint64
	violation atomic.Uint64
}

// New validates cfg and prepares a Runner.
func New(cfg Config, log *zap.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opt, err := lockerOption(cfg.Locker)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		cfg:  cfg,
		log:  log,
		lock: qrwlock.New(journal{}, opt),
	}, nil
}

// Source exposes the lock under test to a metrics.Collector.
func (r *Runner) Source() metrics.Source { return r.lock }

// Run drives the lock until the configured duration elapses or ctx is done.
// It returns ErrViolation if any invariant was broken.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Duration)
	defer cancel()

	r.log.Info("stress run starting",
		zap.Int("readers", r.cfg.Readers),
		zap.Int("writers", r.cfg.Writers),
		zap.Duration("duration", r.cfg.Duration),
		zap.String("locker", r.cfg.Locker),
	)

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for i := range r.cfg.Readers {
		g.Go(func() error { return r.reader(ctx, i) })
	}
	for i := range r.cfg.Writers {
		g.Go(func() error { return r.writer(ctx, i) })
	}
	err := g.Wait()

	j, innerErr := r.lock.IntoInner()
	if err == nil {
		err = innerErr
	}

	rep := Report{
		Reads:         r.reads.Load(),
		Writes:        r.writes.Load(),
		ReadMisses:    r.rMisses.Load(),
		WriteMisses:   r.wMisses.Load(),
		Cancelled:     r.cancelled.Load(),
		Violations:    r.violation.Load(),
		TicketsIssued: r.lock.Snapshot().TotalTickets,
		Elapsed:       time.Since(start),
		LastAdmitted:  j.lastTicket,
	}
	if rep.Writes != j.writes {
		r.violate("write count mismatch", zap.Uint64("counted", rep.Writes), zap.Uint64("journal", j.writes))
		rep.Violations = r.violation.Load()
	}

	r.log.Info("stress run finished",
		zap.Uint64("reads", rep.Reads),
		zap.Uint64("writes", rep.Writes),
		zap.Uint64("read_misses", rep.ReadMisses),
		zap.Uint64("write_misses", rep.WriteMisses),
		zap.Uint64("cancelled", rep.Cancelled),
		zap.Uint64("tickets", rep.TicketsIssued),
		zap.Uint64("violations", rep.Violations),
		zap.Duration("elapsed", rep.Elapsed),
	)

	if err != nil {
		return rep, err
	}
	if rep.Violations > 0 {
		return rep, fmt.Errorf("%w: %d violations", ErrViolation, rep.Violations)
	}
	return rep, nil
}

func (r *Runner) violate(msg string, fields ...zap.Field) {
	r.violation.Add(1)
	r.log.Error(msg, fields...)
}

func (r *Runner) hold() {
	if r.cfg.Hold > 0 {
		time.Sleep(r.cfg.Hold)
	}
}

func (r *Runner) tryTurn(n int) bool {
	return r.cfg.TryEvery > 0 && n%r.cfg.TryEvery == 0
}

func (r *Runner) reader(ctx context.Context, id int) error {
	log := r.log.With(zap.Int("reader", id))
	for n := 1; ctx.Err() == nil; n++ {
		var g *qrwlock.ReadGuard[journal]
		var err error
		if r.tryTurn(n) {
			g, err = r.lock.TryRead()
			if errors.Is(err, qrwlock.ErrWouldBlock) {
				r.rMisses.Add(1)
				continue
			}
		} else {
			g, err = r.lock.Read()
		}
		var pe *qrwlock.PoisonError[*qrwlock.ReadGuard[journal]]
		if errors.As(err, &pe) {
			pe.Into().Unlock()
		}
		if err != nil {
			return err
		}

		r.readersIn.Add(1)
		if w := r.writersIn.Load(); w != 0 {
			r.violate("reader admitted while a writer holds the lock", zap.Int("reader", id), zap.Int64("writers", w))
		}
		r.hold()
		r.readersIn.Add(-1)
		g.Unlock()
		r.reads.Add(1)
	}
	log.Debug("reader stopped")
	return nil
}

func (r *Runner) writer(ctx context.Context, id int) error {
	log := r.log.With(zap.Int("writer", id))
	for n := 1; ctx.Err() == nil; n++ {
		var g *qrwlock.WriteGuard[journal]
		var err error
		want := uint64(0)
		ticketed := false

		switch {
		case r.tryTurn(n):
			g, err = r.lock.TryWrite()
			if errors.Is(err, qrwlock.ErrWouldBlock) {
				r.wMisses.Add(1)
				continue
			}
		case n%2 == 0:
			tk := r.lock.TakeTicket()
			if r.cfg.CancelEvery > 0 && n%r.cfg.CancelEvery == 0 {
				tk.Cancel()
				r.cancelled.Add(1)
				continue
			}
			want, ticketed = tk.Ticket(), true
			g, err = tk.Write()
		default:
			g, err = r.lock.Write()
		}
		var pe *qrwlock.PoisonError[*qrwlock.WriteGuard[journal]]
		if errors.As(err, &pe) {
			pe.Into().Unlock()
		}
		if err != nil {
			return err
		}

		r.write(g, id, want, ticketed)
	}
	log.Debug("writer stopped")
	return nil
}

func (r *Runner) write(g *qrwlock.WriteGuard[journal], id int, want uint64, ticketed bool) {
	if w := r.writersIn.Add(1); w != 1 {
		r.violate("writers overlap", zap.Int("writer", id), zap.Int64("writers", w))
	}
	if rd := r.readersIn.Load(); rd != 0 {
		r.violate("writer admitted while readers hold the lock", zap.Int("writer", id), zap.Int64("readers", rd))
	}

	// Admission advances the next ticket, so the admitted ticket is one behind it.
	admitted := r.lock.Snapshot().NextTicket - 1
	if ticketed && admitted != want {
		r.violate("ticket admitted out of turn", zap.Uint64("ticket", want), zap.Uint64("admitted", admitted))
	}

	j := g.Get()
	if j.written && admitted <= j.lastTicket {
		r.violate("writers admitted out of order", zap.Uint64("previous", j.lastTicket), zap.Uint64("admitted", admitted))
	}
	j.lastTicket, j.written = admitted, true
	j.writes++

	r.hold()
	r.writersIn.Add(-1)
	g.Unlock()
	r.writes.Add(1)
}
