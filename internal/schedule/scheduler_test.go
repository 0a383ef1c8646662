package schedule

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/fakeyudi/viewtrack/internal/clock"
	"github.com/fakeyudi/viewtrack/internal/delivery"
	"github.com/fakeyudi/viewtrack/internal/identity"
	"github.com/fakeyudi/viewtrack/internal/telemetry"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingSender struct {
	mu         sync.Mutex
	snapshots  []telemetry.Snapshot
	identifies []delivery.IdentifyRequest
	failNext   int
}

func (r *recordingSender) SendSnapshot(_ context.Context, snap telemetry.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext > 0 {
		r.failNext--
		return errors.New("connection refused")
	}
	r.snapshots = append(r.snapshots, snap)
	return nil
}

func (r *recordingSender) Identify(_ context.Context, req delivery.IdentifyRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identifies = append(r.identifies, req)
	return nil
}

func (r *recordingSender) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots), len(r.identifies)
}

func sync_(f func()) { f() }

func resolvedIdentity(userID string) identity.Identity {
	return identity.Identity{
		IP: "203.0.113.7", Location: "Lisbon, PT", UserID: userID, Region: "Lisbon",
		OS: "Linux", Device: "Desktop", Browser: "Firefox",
	}
}

func newScheduler(t *testing.T, clk *clock.FakeClock, sender Sender, visible *bool) *Scheduler {
	cfg := DefaultConfig()
	cfg.Clock = clk
	cfg.Sender = sender
	cfg.Logger = zaptest.NewLogger(t)
	cfg.Subject = telemetry.Subject{ID: "aB3xY9", SourceURL: "https://cdn.example.com/a.pdf", Surface: telemetry.PDF}
	cfg.SessionID = "session-1"
	cfg.Dispatch = sync_
	cfg.Snapshot = func() (telemetry.Snapshot, bool) {
		return telemetry.Snapshot{At: clk.Now()}, visible == nil || *visible
	}
	s := New(cfg)
	t.Cleanup(s.Stop)
	return s
}

// Scenario: identification fires once, settle delay after the identity resolves.
func TestIdentificationFiresOnceAfterSettle(t *testing.T) {
	clk := clock.Fake(t0)
	sender := &recordingSender{}
	s := newScheduler(t, clk, sender, nil)
	s.Start()

	s.IdentityChanged(identity.Pending())
	clk.Advance(500 * time.Millisecond)
	s.IdentityChanged(resolvedIdentity(strings.Repeat("f", 40)))

	clk.AdvanceTo(t0.Add(3499 * time.Millisecond))
	if _, n := sender.counts(); n != 0 {
		t.Fatalf("identification sent early")
	}
	clk.AdvanceTo(t0.Add(3500 * time.Millisecond))
	if _, n := sender.counts(); n != 1 {
		t.Fatalf("got %d identifications at 3.5s, want 1", n)
	}

	s.IdentityChanged(resolvedIdentity(strings.Repeat("e", 40)))
	clk.Advance(time.Minute)
	if _, n := sender.counts(); n != 1 {
		t.Fatalf("identification repeated: %d", n)
	}
	req := sender.identifies[0]
	if req.UserID != strings.Repeat("f", 40) || req.DocumentID != "aB3xY9" || req.MimeType != "pdf" || req.SessionID != "session-1" {
		t.Errorf("unexpected request %+v", req)
	}
	if !s.Identified() {
		t.Error("latch not set")
	}
}

func TestIdentityChangeRestartsSettle(t *testing.T) {
	clk := clock.Fake(t0)
	sender := &recordingSender{}
	s := newScheduler(t, clk, sender, nil)

	s.IdentityChanged(resolvedIdentity(strings.Repeat("a", 20)))
	clk.Advance(2 * time.Second)
	s.IdentityChanged(resolvedIdentity(strings.Repeat("b", 20)))
	clk.Advance(2 * time.Second)
	if _, n := sender.counts(); n != 0 {
		t.Fatal("settle timer was not restarted")
	}
	clk.Advance(time.Second)
	if _, n := sender.counts(); n != 1 || sender.identifies[0].UserID != strings.Repeat("b", 20) {
		t.Fatalf("identifies = %+v", sender.identifies)
	}
}

func TestShortOrUnstableIdentityNeverIdentifies(t *testing.T) {
	clk := clock.Fake(t0)
	sender := &recordingSender{}
	s := newScheduler(t, clk, sender, nil)

	s.IdentityChanged(resolvedIdentity("short-id"))
	clk.Advance(10 * time.Second)
	s.IdentityChanged(resolvedIdentity(strings.Repeat("c", 20)))
	clk.Advance(time.Second)
	unstable := resolvedIdentity(strings.Repeat("c", 20))
	unstable.Region = identity.Detecting
	s.IdentityChanged(unstable)
	clk.Advance(10 * time.Second)

	if _, n := sender.counts(); n != 0 {
		t.Fatalf("got %d identifications, want 0", n)
	}
}

func TestPeriodicFlushAndHiddenSkip(t *testing.T) {
	clk := clock.Fake(t0)
	sender := &recordingSender{}
	visible := true
	s := newScheduler(t, clk, sender, &visible)
	s.Start()

	clk.Advance(45 * time.Second)
	if n, _ := sender.counts(); n != 3 {
		t.Fatalf("got %d flushes in 45s, want 3", n)
	}

	visible = false
	clk.Advance(30 * time.Second)
	if n, _ := sender.counts(); n != 3 {
		t.Fatalf("flushed while hidden")
	}

	visible = true
	clk.Advance(15 * time.Second)
	if n, _ := sender.counts(); n != 4 {
		t.Fatalf("flush timer did not survive hidden period")
	}
}

func TestFlushSkippedWhileDeliveryInFlight(t *testing.T) {
	clk := clock.Fake(t0)
	sender := &recordingSender{}
	s := newScheduler(t, clk, sender, nil)

	var queued []func()
	s.cfg.Dispatch = func(f func()) { queued = append(queued, f) }
	s.Start()

	clk.Advance(30 * time.Second)
	if len(queued) != 1 {
		t.Fatalf("got %d dispatched deliveries, want 1", len(queued))
	}
	queued[0]()
	clk.Advance(15 * time.Second)
	if len(queued) != 2 {
		t.Fatalf("flush did not resume after delivery completed")
	}
	queued[1]()
}

func TestStopCancelsTimers(t *testing.T) {
	clk := clock.Fake(t0)
	sender := &recordingSender{}
	s := newScheduler(t, clk, sender, nil)
	s.Start()
	s.IdentityChanged(resolvedIdentity(strings.Repeat("d", 32)))
	s.Stop()

	clk.Advance(time.Minute)
	if n, m := sender.counts(); n != 0 || m != 0 {
		t.Fatalf("timers fired after Stop: %d flushes, %d identifications", n, m)
	}
	if clk.Pending() != 0 {
		t.Errorf("%d timers pending after Stop", clk.Pending())
	}
}

func TestFlushNowMarksFinal(t *testing.T) {
	clk := clock.Fake(t0)
	sender := &recordingSender{}
	s := newScheduler(t, clk, sender, nil)

	if err := s.FlushNow(context.Background(), true); err != nil {
		t.Fatalf("FlushNow: %v", err)
	}
	if len(sender.snapshots) != 1 || !sender.snapshots[0].Final {
		t.Fatalf("snapshots = %+v", sender.snapshots)
	}

	sender.failNext = 1
	if err := s.FlushNow(context.Background(), false); err == nil {
		t.Fatal("FlushNow swallowed the delivery error")
	}
}

func TestFlushNowWaitsForInFlight(t *testing.T) {
	clk := clock.Fake(t0)
	s := newScheduler(t, clk, &recordingSender{}, nil)
	s.sem <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.FlushNow(ctx, true); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("FlushNow = %v, want deadline exceeded", err)
	}
}

// Feature: viewtrack, Property 6: a failed delivery loses nothing
func TestFailedDeliveryCarriesForward(t *testing.T) {
	clk := clock.Fake(t0)
	agg, err := telemetry.NewAggregator(clk, telemetry.Subject{
		ID: "aB3xY9", SourceURL: "https://cdn.example.com/a.pdf", Surface: telemetry.PDF,
	}, telemetry.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	sender := &recordingSender{failNext: 1}

	cfg := DefaultConfig()
	cfg.Clock = clk
	cfg.Sender = sender
	cfg.Dispatch = sync_
	cfg.Subject = telemetry.Subject{ID: "aB3xY9", Surface: telemetry.PDF}
	cfg.Tick = agg.OnTick
	cfg.Snapshot = func() (telemetry.Snapshot, bool) { return agg.Snapshot(), agg.Visible() }
	s := New(cfg)
	defer s.Stop()
	s.Start()

	agg.OnUnitChanged(1)
	agg.OnTextSelected("first", 1)
	clk.Advance(15 * time.Second)
	if n, _ := sender.counts(); n != 0 {
		t.Fatal("failed flush was recorded")
	}
	before := agg.Snapshot()

	agg.OnTextSelected("second", 1)
	clk.Advance(15 * time.Second)
	if n, _ := sender.counts(); n != 1 {
		t.Fatalf("got %d delivered flushes, want 1", n)
	}
	got := sender.snapshots[0]
	if len(got.Selections) != 2 || got.Selections[0].Text != "first" {
		t.Errorf("delivered selections = %+v", got.Selections)
	}
	if got.ActiveTime != 30*time.Second || before.ActiveTime != 15*time.Second {
		t.Errorf("active time before %v, delivered %v", before.ActiveTime, got.ActiveTime)
	}
}
