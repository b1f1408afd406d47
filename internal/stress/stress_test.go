package stress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "readers only", mutate: func(c *Config) { c.Writers = 0 }, ok: true},
		{name: "empty locker means mutex", mutate: func(c *Config) { c.Locker = "" }, ok: true},
		{name: "negative readers", mutate: func(c *Config) { c.Readers = -1 }},
		{name: "no workers", mutate: func(c *Config) { c.Readers, c.Writers = 0, 0 }},
		{name: "zero duration", mutate: func(c *Config) { c.Duration = 0 }},
		{name: "negative hold", mutate: func(c *Config) { c.Hold = -time.Second }},
		{name: "negative interval", mutate: func(c *Config) { c.CancelEvery = -1 }},
		{name: "unknown locker", mutate: func(c *Config) { c.Locker = "futex" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestRun(t *testing.T) {
	for _, locker := range []string{LockerMutex, LockerTicket, LockerMCS} {
		t.Run(locker, func(t *testing.T) {
			core, logs := observer.New(zap.InfoLevel)
			cfg := DefaultConfig()
			cfg.Duration = 200 * time.Millisecond
			cfg.Hold = 0
			cfg.Locker = locker

			r, err := New(cfg, zap.New(core))
			require.NoError(t, err)

			rep, err := r.Run(context.Background())
			require.NoError(t, err)

			assert.Zero(t, rep.Violations)
			assert.NotZero(t, rep.Reads)
			assert.NotZero(t, rep.Writes)
			assert.GreaterOrEqual(t, rep.TicketsIssued, rep.Writes+rep.Cancelled)
			assert.True(t, r.Source().Snapshot().Idle(), "every ticket must be consumed when the run ends")
			assert.Equal(t, 1, logs.FilterMessage("stress run finished").Len())
			assert.Zero(t, logs.FilterLevelExact(zap.ErrorLevel).Len())
		})
	}
}

func TestRunStopsWithContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Duration = time.Hour

	r, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewRejectsUnknownLocker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Locker = "spin"

	r, err := New(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Nil(t, r)
}

func TestLockerOption(t *testing.T) {
	for _, name := range []string{"", LockerMutex, LockerTicket, LockerMCS} {
		opt, err := lockerOption(name)
		require.NoError(t, err, name)
		assert.NotNil(t, opt, name)
	}

	_, err := lockerOption("spin")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
