// Package viewer mounts one viewing session: it owns the surface adapter,
// the aggregator and the scheduler, and serialises every handler that
// touches the session record.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fakeyudi/viewtrack/internal/adapter"
	"github.com/fakeyudi/viewtrack/internal/clock"
	"github.com/fakeyudi/viewtrack/internal/identity"
	"github.com/fakeyudi/viewtrack/internal/logger"
	"github.com/fakeyudi/viewtrack/internal/metrics"
	"github.com/fakeyudi/viewtrack/internal/schedule"
	"github.com/fakeyudi/viewtrack/internal/telemetry"
)

// ErrClosed is returned by Handle after Close.
var ErrClosed = errors.New("viewer closed")

// Options configures a Viewer. Clock, sender, logger and metrics of the
// nested configs are filled in by Mount.
type Options struct {
	Telemetry telemetry.Options
	Adapter   adapter.Options
	Schedule  schedule.Config

	// FinalFlushTimeout bounds the teardown flush.
	FinalFlushTimeout time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns the defaults of every nested component.
func DefaultOptions() Options {
	return Options{
		Telemetry:         telemetry.DefaultOptions(),
		Adapter:           adapter.DefaultOptions(),
		Schedule:          schedule.DefaultConfig(),
		FinalFlushTimeout: 5 * time.Second,
	}
}

// Viewer is one mounted session.
type Viewer struct {
	log     *zap.Logger
	metrics *metrics.Metrics
	surface telemetry.Surface
	timeout time.Duration

	mu     sync.Mutex
	agg    *telemetry.Aggregator
	ad     adapter.Adapter
	closed bool

	sched       *schedule.Scheduler
	unsubscribe func()

	stale     chan struct{}
	staleOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

// Mount starts a session for subject. ids may be shared by several
// viewers; the viewer follows its updates until Close.
func Mount(clk clock.Clock, subject telemetry.Subject, ids *identity.Context, sender schedule.Sender, opts Options) (*Viewer, error) {
	if clk == nil {
		clk = clock.Real()
	}
	agg, err := telemetry.NewAggregator(clk, subject, opts.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("mount %s viewer: %w", subject.Surface, err)
	}
	if opts.FinalFlushTimeout <= 0 {
		opts.FinalFlushTimeout = DefaultOptions().FinalFlushTimeout
	}

	v := &Viewer{
		log: logger.OrNop(opts.Logger).With(
			zap.String("session_id", agg.SessionID()),
			zap.String("surface", string(subject.Surface)),
			zap.String("subject", subject.ID),
		),
		metrics: opts.Metrics,
		surface: subject.Surface,
		timeout: opts.FinalFlushTimeout,
		agg:     agg,
		stale:   make(chan struct{}),
	}

	ao := opts.Adapter
	ao.Clock = clk
	ao.Emit = v.emit
	v.ad, err = adapter.For(subject.Surface, ao)
	if err != nil {
		return nil, err
	}

	sc := opts.Schedule
	sc.Clock = clk
	sc.Sender = sender
	sc.Logger = opts.Logger
	sc.Metrics = opts.Metrics
	sc.Subject = subject
	sc.SessionID = agg.SessionID()
	sc.Tick = v.Tick
	sc.Snapshot = v.snapshot
	sc.Identified = v.identified
	v.sched = schedule.New(sc)

	if ids == nil {
		ids = identity.NewContext(identity.Pending())
	}
	v.RefreshIdentity(ids.Get())
	v.unsubscribe = ids.Subscribe(v.RefreshIdentity)
	v.sched.Start()

	v.metrics.SessionMounted(string(subject.Surface), 1)
	v.log.Info("viewer mounted", zap.String("source_url", subject.SourceURL))
	return v, nil
}

// SessionID returns the session id.
func (v *Viewer) SessionID() string { return v.agg.SessionID() }

// Surface returns the surface variant.
func (v *Viewer) Surface() telemetry.Surface { return v.surface }

// Stale is closed when the session ended because the viewer stayed hidden
// past the absence timeout. The owner should Close the viewer.
func (v *Viewer) Stale() <-chan struct{} { return v.stale }

// Handle translates one surface notification and applies the resulting
// events in order.
func (v *Viewer) Handle(n adapter.Notification) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	v.metrics.Notification(string(v.surface), n.Type)
	v.applyLocked(v.ad.Translate(n))
	return nil
}

// Tick advances accounting for the open segment.
func (v *Viewer) Tick() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.agg.OnTick()
}

// RefreshIdentity copies id into the record and re-evaluates the
// identification handshake.
func (v *Viewer) RefreshIdentity(id identity.Identity) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.agg.RefreshIdentity(id)
	v.mu.Unlock()

	if v.sched != nil {
		v.sched.IdentityChanged(id)
	}
}

// Snapshot returns a copy of the record as of now.
func (v *Viewer) Snapshot() telemetry.Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.agg.Snapshot()
}

// Close stops every timer and subscription, closes the open segment and
// makes one final flush bounded by the final flush timeout. It returns the
// final snapshot; the error reports a failed final flush only. Close is
// idempotent.
func (v *Viewer) Close() (telemetry.Snapshot, error) {
	v.closeOnce.Do(func() {
		v.sched.Stop()
		v.unsubscribe()

		v.mu.Lock()
		v.applyLocked(v.ad.Close())
		v.agg.Close()
		v.closed = true
		v.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
		defer cancel()
		v.closeErr = v.sched.FlushNow(ctx, true)

		v.metrics.SessionMounted(string(v.surface), -1)
		snap := v.Snapshot()
		v.log.Info("viewer closed",
			zap.Duration("active_time", snap.ActiveTime),
			zap.Bool("stale", snap.Stale),
			zap.Bool("final_flush_ok", v.closeErr == nil),
		)
	})
	snap := v.Snapshot()
	snap.Final = true
	return snap, v.closeErr
}

func (v *Viewer) emit(evs []telemetry.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.applyLocked(evs)
}

func (v *Viewer) applyLocked(evs []telemetry.Event) {
	for _, e := range evs {
		eff := v.agg.Apply(e)
		if eff.Milestone > 0 {
			v.log.Info("pages visited milestone", zap.Int("pages", eff.Milestone))
		}
		if eff.Stale {
			v.markStale()
		}
	}
}

func (v *Viewer) markStale() {
	v.staleOnce.Do(func() {
		v.metrics.Stale(string(v.surface))
		v.log.Info("session went stale")
		close(v.stale)
	})
}

func (v *Viewer) snapshot() (telemetry.Snapshot, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.agg.Snapshot(), v.agg.Visible()
}

func (v *Viewer) identified() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.agg.MarkIdentified()
}
