// Command qrwstress hammers a queued reader/writer lock with concurrent
// readers and writers and fails if readers and writers ever overlap or
// writers are admitted out of ticket order.
//
//	qrwstress --readers 16 --writers 4 --duration 10s --locker ticket
//
// With --metrics-addr the lock's admission state is served in the Prometheus
// text format on /metrics while the run is in progress.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ahrav/queuedrw/internal/stress"
	"github.com/ahrav/queuedrw/metrics"
)

type options struct {
	stress      stress.Config
	metricsAddr string
	verbose     bool
}

func bindFlags(fs *pflag.FlagSet, o *options) {
	def := stress.DefaultConfig()
	fs.IntVar(&o.stress.Readers, "readers", def.Readers, "number of reader goroutines")
	fs.IntVar(&o.stress.Writers, "writers", def.Writers, "number of writer goroutines")
	fs.DurationVar(&o.stress.Duration, "duration", def.Duration, "how long to run")
	fs.DurationVar(&o.stress.Hold, "hold", def.Hold, "time spent inside the lock per operation")
	fs.StringVar(&o.stress.Locker, "locker", def.Locker, "admission state locker: mutex, ticket or mcs")
	fs.IntVar(&o.stress.TryEvery, "try-every", def.TryEvery, "use TryRead/TryWrite every n-th operation (0 disables)")
	fs.IntVar(&o.stress.CancelEvery, "cancel-every", def.CancelEvery, "cancel every n-th ticketed write (0 disables)")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (empty disables)")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "development logging")
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:           "qrwstress",
		Short:         "Stress test a queued reader/writer lock",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), o)
		},
	}
	bindFlags(cmd.Flags(), &o)
	return cmd
}

func run(ctx context.Context, o options) error {
	log, err := newLogger(o.verbose)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	r, err := stress.New(o.stress, log)
	if err != nil {
		return err
	}

	if o.metricsAddr != "" {
		c := metrics.NewCollector()
		c.Register("stress", r.Source())
		reg := prometheus.NewRegistry()
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("registering collector: %w", err)
		}

		stop := serveMetrics(o.metricsAddr, reg, log)
		defer stop()
	}

	rep, err := r.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "reads=%d writes=%d cancelled=%d tickets=%d elapsed=%s\n",
		rep.Reads, rep.Writes, rep.Cancelled, rep.TicketsIssued, rep.Elapsed.Round(time.Millisecond))
	return nil
}

// serveMetrics starts an HTTP server for reg and returns a function that
// shuts it down.
func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("metrics server shutdown", zap.Error(err))
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "qrwstress:", err)
		stop()
		os.Exit(1)
	}
}
