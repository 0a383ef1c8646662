// Package schedule drives the timers of one viewing session: the accounting
// tick, the periodic telemetry flush and the one-time identification
// handshake.
package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fakeyudi/viewtrack/internal/clock"
	"github.com/fakeyudi/viewtrack/internal/delivery"
	"github.com/fakeyudi/viewtrack/internal/identity"
	"github.com/fakeyudi/viewtrack/internal/logger"
	"github.com/fakeyudi/viewtrack/internal/metrics"
	"github.com/fakeyudi/viewtrack/internal/telemetry"
)

// Sender delivers flushes and identification requests.
type Sender interface {
	SendSnapshot(ctx context.Context, snap telemetry.Snapshot) error
	Identify(ctx context.Context, req delivery.IdentifyRequest) error
}

// Config configures a Scheduler.
type Config struct {
	Clock   clock.Clock
	Sender  Sender
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	Subject   telemetry.Subject
	SessionID string

	FlushInterval time.Duration
	TickInterval  time.Duration
	// IdentifySettle is how long a stable identity must stay unchanged
	// before the identification request is sent.
	IdentifySettle  time.Duration
	MinUserIDLength int
	// SkipWhileHidden skips periodic flushes while the surface is hidden.
	SkipWhileHidden bool
	// RequestTimeout bounds each periodic delivery.
	RequestTimeout time.Duration

	// Tick is called every TickInterval.
	Tick func()
	// Snapshot returns the snapshot to flush and whether the surface is
	// visible. It must be safe to call from timer callbacks.
	Snapshot func() (telemetry.Snapshot, bool)
	// Identified is called once, when the identification latch is set.
	Identified func()

	// Dispatch runs network work. Defaults to a new goroutine per call.
	Dispatch func(func())
}

// DefaultConfig returns the timing defaults.
func DefaultConfig() Config {
	return Config{
		FlushInterval:   15 * time.Second,
		TickInterval:    time.Second,
		IdentifySettle:  3 * time.Second,
		MinUserIDLength: 16,
		SkipWhileHidden: true,
		RequestTimeout:  10 * time.Second,
	}
}

// Scheduler runs the timers of one session. Start it once; Stop releases
// every timer.
type Scheduler struct {
	cfg Config
	log *zap.Logger

	// sem holds one token per delivery in flight; capacity one.
	sem chan struct{}

	mu        sync.Mutex
	started   bool
	stopped   bool
	latched   bool
	latest    identity.Identity
	settle    *clock.Timer
	stopTick  func()
	stopFlush func()
}

// New returns a Scheduler for cfg. Zero durations take their defaults.
func New(cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.IdentifySettle < 0 {
		cfg.IdentifySettle = 0
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.Tick == nil {
		cfg.Tick = func() {}
	}
	if cfg.Identified == nil {
		cfg.Identified = func() {}
	}
	if cfg.Dispatch == nil {
		cfg.Dispatch = func(f func()) { go f() }
	}
	log := logger.OrNop(cfg.Logger).With(
		zap.String("session_id", cfg.SessionID),
		zap.String("surface", string(cfg.Subject.Surface)),
	)
	return &Scheduler{cfg: cfg, log: log, sem: make(chan struct{}, 1)}
}

// Start arms the tick and flush timers.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.stopTick = clock.Every(s.cfg.Clock, s.cfg.TickInterval, s.cfg.Tick)
	s.stopFlush = clock.Every(s.cfg.Clock, s.cfg.FlushInterval, s.flush)
}

// Stop cancels every timer. Deliveries already in flight complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.stopTick != nil {
		s.stopTick()
	}
	if s.stopFlush != nil {
		s.stopFlush()
	}
	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
	}
}

// Identified reports whether the identification latch is set.
func (s *Scheduler) Identified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latched
}

// IdentityChanged arms the identification settle timer when id is stable
// and carries a plausible user id. A change inside the settle window
// restarts the wait; an identity that becomes unstable cancels it. Once
// the request has been sent nothing more happens.
func (s *Scheduler) IdentityChanged(id identity.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latched || s.stopped {
		return
	}
	s.latest = id
	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
	}
	if !id.Stable() || len(id.UserID) < s.cfg.MinUserIDLength {
		return
	}
	s.settle = s.cfg.Clock.AfterFunc(s.cfg.IdentifySettle, s.identify)
}

func (s *Scheduler) identify() {
	s.mu.Lock()
	if s.latched || s.stopped {
		s.mu.Unlock()
		return
	}
	s.latched = true
	s.settle = nil
	req := delivery.IdentifyRequest{
		UserID:     s.latest.UserID,
		DocumentID: s.cfg.Subject.ID,
		MimeType:   string(s.cfg.Subject.Surface),
		SessionID:  s.cfg.SessionID,
	}
	s.mu.Unlock()

	s.cfg.Identified()
	s.cfg.Dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
		defer cancel()
		if err := s.cfg.Sender.Identify(ctx, req); err != nil {
			s.cfg.Metrics.Identification(metrics.ResultError)
			s.log.Warn("identification failed", zap.Error(err))
			return
		}
		s.cfg.Metrics.Identification(metrics.ResultOK)
		s.log.Info("identification sent", zap.String("user_id", req.UserID))
	})
}

// flush takes a snapshot and hands it to the sender, unless a delivery is
// still in flight or the surface is hidden and the policy skips hidden
// flushes.
func (s *Scheduler) flush() {
	surface := string(s.cfg.Subject.Surface)
	select {
	case s.sem <- struct{}{}:
	default:
		s.cfg.Metrics.Flush(surface, metrics.ResultSkippedInFlight, 0)
		s.log.Debug("flush skipped, previous delivery in flight")
		return
	}

	snap, visible := s.cfg.Snapshot()
	if !visible && s.cfg.SkipWhileHidden {
		<-s.sem
		s.cfg.Metrics.Flush(surface, metrics.ResultSkippedHidden, 0)
		return
	}

	s.cfg.Dispatch(func() {
		defer func() { <-s.sem }()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
		defer cancel()
		s.deliver(ctx, snap)
	})
}

func (s *Scheduler) deliver(ctx context.Context, snap telemetry.Snapshot) error {
	surface := string(s.cfg.Subject.Surface)
	start := time.Now()
	err := s.cfg.Sender.SendSnapshot(ctx, snap)
	took := time.Since(start)
	if err != nil {
		s.cfg.Metrics.Flush(surface, metrics.ResultError, took)
		s.log.Warn("flush failed", zap.Bool("final", snap.Final), zap.Error(err))
		return err
	}
	s.cfg.Metrics.Flush(surface, metrics.ResultOK, took)
	s.log.Debug("flush delivered",
		zap.Bool("final", snap.Final),
		zap.Duration("active_time", snap.ActiveTime),
		zap.Duration("took", took),
	)
	return nil
}

// FlushNow delivers a snapshot synchronously, waiting for any delivery in
// flight first. final marks the teardown flush.
func (s *Scheduler) FlushNow(ctx context.Context, final bool) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	snap, _ := s.cfg.Snapshot()
	snap.Final = final
	return s.deliver(ctx, snap)
}
