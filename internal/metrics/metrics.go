// Package metrics exposes Prometheus collectors for viewing sessions.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Flush and identification outcomes.
const (
	ResultOK              = "ok"
	ResultError           = "error"
	ResultSkippedHidden   = "skipped_hidden"
	ResultSkippedInFlight = "skipped_in_flight"
)

// Options configures the collectors.
type Options struct {
	Registerer prometheus.Registerer
	Namespace  string
	Buckets    []float64
}

// Metrics holds the session collectors. A nil *Metrics records nothing.
type Metrics struct {
	SessionsActive  *prometheus.GaugeVec
	Notifications   *prometheus.CounterVec
	Flushes         *prometheus.CounterVec
	FlushDuration   *prometheus.HistogramVec
	Identifications *prometheus.CounterVec
	StaleSessions   *prometheus.CounterVec
}

// New constructs the collectors and registers them with opts.Registerer.
// Collectors already registered under the same name are reused.
func New(opts Options) (*Metrics, error) {
	ns := opts.Namespace
	if ns == "" {
		ns = "viewtrack"
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m := &Metrics{}
	var err error
	if m.SessionsActive, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "sessions_active",
		Help:      "Number of mounted viewing sessions partitioned by surface.",
	}, []string{"surface"})); err != nil {
		return nil, err
	}
	if m.Notifications, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "notifications_total",
		Help:      "Native surface notifications received partitioned by surface and type.",
	}, []string{"surface", "type"})); err != nil {
		return nil, err
	}
	if m.Flushes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "flushes_total",
		Help:      "Telemetry flushes partitioned by surface and result.",
	}, []string{"surface", "result"})); err != nil {
		return nil, err
	}
	if m.FlushDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "flush_duration_seconds",
		Help:      "Latency of delivered telemetry flushes partitioned by surface.",
		Buckets:   buckets,
	}, []string{"surface"})); err != nil {
		return nil, err
	}
	if m.Identifications, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "identifications_total",
		Help:      "Identification requests partitioned by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if m.StaleSessions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "stale_sessions_total",
		Help:      "Sessions ended by an absence timeout partitioned by surface.",
	}, []string{"surface"})); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
			return c, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

// SessionMounted adjusts the active session gauge by delta.
func (m *Metrics) SessionMounted(surface string, delta float64) {
	if m == nil {
		return
	}
	m.SessionsActive.WithLabelValues(surface).Add(delta)
}

// Notification counts one native notification.
func (m *Metrics) Notification(surface, typ string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(surface, typ).Inc()
}

// Flush counts one flush outcome; delivered flushes also observe latency.
func (m *Metrics) Flush(surface, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.Flushes.WithLabelValues(surface, result).Inc()
	if result == ResultOK || result == ResultError {
		m.FlushDuration.WithLabelValues(surface).Observe(took.Seconds())
	}
}

// Identification counts one identification outcome.
func (m *Metrics) Identification(result string) {
	if m == nil {
		return
	}
	m.Identifications.WithLabelValues(result).Inc()
}

// Stale counts a session ended by absence timeout.
func (m *Metrics) Stale(surface string) {
	if m == nil {
		return
	}
	m.StaleSessions.WithLabelValues(surface).Inc()
}
