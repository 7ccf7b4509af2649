// Package metrics exposes the runtime's Prometheus instrumentation.
package metrics

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// Profile builder metrics
	PrototypeBuilds *prometheus.CounterVec

	// Compiler and code cache metrics
	CacheLookups    *prometheus.CounterVec
	Compilations    *prometheus.CounterVec
	CompileDuration prometheus.Histogram

	// Session metrics
	SessionsActive prometheus.Gauge
}

// Cache lookup results.
const (
	CacheHit      = "hit"
	CacheMiss     = "miss"
	CacheStale    = "stale"
	CacheUncached = "uncached"
)

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PrototypeBuilds: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostrt_prototype_builds_total",
				Help: "Total number of prototypes built, per browser family",
			},
			[]string{"family"},
		),
		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostrt_codecache_lookups_total",
				Help: "Total number of code cache lookups by result",
			},
			[]string{"result"},
		),
		Compilations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostrt_compilations_total",
				Help: "Total number of compilations by outcome",
			},
			[]string{"outcome"},
		),
		CompileDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hostrt_compile_duration_seconds",
				Help:    "Script compilation duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
		),
		SessionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "hostrt_sessions_active",
				Help: "Number of open simulated sessions",
			},
		),
	}
}

// PrototypeBuilt records one prototype build for family.
func (m *Metrics) PrototypeBuilt(family string) {
	if m == nil {
		return
	}
	m.PrototypeBuilds.WithLabelValues(family).Inc()
}

// CacheLookup records a code cache lookup result.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// Compiled records a finished compilation.
func (m *Metrics) Compiled(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Compilations.WithLabelValues(outcome).Inc()
	m.CompileDuration.Observe(d.Seconds())
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// WriteText gathers g and writes it in the Prometheus text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
