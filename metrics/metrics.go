// Package metrics exports the admission state of queued reader/writer locks
// as Prometheus metrics.
//
//	c := metrics.NewCollector()
//	c.Register("sessions", sessionsLock)
//	prometheus.MustRegister(c)
//
// Values are read when Prometheus scrapes, through each lock's Snapshot, so
// the collector adds no cost to lock operations.
package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ahrav/queuedrw/admission"
)

// Source is a lock whose state can be observed. *qrwlock.RWLock satisfies it.
type Source interface {
	Snapshot() admission.Snapshot
	IsPoisoned() bool
}

const namespace = "qrwlock"

var (
	readersDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "readers"),
		"Readers currently holding the lock.",
		[]string{"lock"}, nil,
	)
	writerDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "writer_held"),
		"1 if a writer has been admitted and not yet released.",
		[]string{"lock"}, nil,
	)
	pendingDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "pending_tickets"),
		"Writer tickets issued but not yet admitted.",
		[]string{"lock"}, nil,
	)
	ticketsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "tickets_issued_total"),
		"Writer tickets issued since the lock was created.",
		[]string{"lock"}, nil,
	)
	poisonedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "poisoned"),
		"1 if the lock is poisoned.",
		[]string{"lock"}, nil,
	)
)

// Collector is a prometheus.Collector over a set of named locks.
type Collector struct {
	mu      sync.RWMutex
	sources map[string]Source
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{sources: make(map[string]Source)}
}

// Register adds a lock under name, replacing any lock registered with the
// same name.
func (c *Collector) Register(name string, src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[name] = src
}

// Unregister removes the lock registered under name.
func (c *Collector) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sources, name)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- readersDesc
	ch <- writerDesc
	ch <- pendingDesc
	ch <- ticketsDesc
	ch <- poisonedDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	names := make([]string, 0, len(c.sources))
	for name := range c.sources {
		names = append(names, name)
	}
	sources := make([]Source, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		sources = append(sources, c.sources[name])
	}
	c.mu.RUnlock()

	for i, src := range sources {
		name := names[i]
		s := src.Snapshot()
		ch <- prometheus.MustNewConstMetric(readersDesc, prometheus.GaugeValue, float64(s.Readers), name)
		ch <- prometheus.MustNewConstMetric(writerDesc, prometheus.GaugeValue, boolToFloat(s.WriterHeld), name)
		ch <- prometheus.MustNewConstMetric(pendingDesc, prometheus.GaugeValue, float64(s.Pending()), name)
		ch <- prometheus.MustNewConstMetric(ticketsDesc, prometheus.CounterValue, float64(s.TotalTickets), name)
		ch <- prometheus.MustNewConstMetric(poisonedDesc, prometheus.GaugeValue, boolToFloat(src.IsPoisoned()), name)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
