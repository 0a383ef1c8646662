// Package telemetry accumulates the analytics of one viewing session.
//
// An Aggregator owns a Record and applies canonical events to it as state
// transitions. Active time is credited from the injected clock, only while
// the surface is visible and engaged (always for pages, while playing for
// video), so hidden and paused stretches are never counted.
package telemetry

import (
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/fakeyudi/viewtrack/internal/clock"
	"github.com/fakeyudi/viewtrack/internal/identity"
)

// ErrIncompleteSubject is returned by NewAggregator when the subject lacks
// an id or source URL, or names an unknown surface.
var ErrIncompleteSubject = errors.New("incomplete subject")

// Options tunes time accounting.
type Options struct {
	// TickCap bounds the time credited by one accounting step, so a stalled
	// timer never credits a long unannounced background period. Zero
	// disables the cap.
	TickCap time.Duration

	// AbsenceTimeout ends the session when the surface comes back after
	// being hidden for longer. Zero disables the timeout.
	AbsenceTimeout time.Duration

	// RecordPausedSeeks records timeline scrubs made while paused.
	RecordPausedSeeks bool

	// GridSize is the heatmap cell size in CSS pixels.
	GridSize int

	// NewSessionID generates the session id. Defaults to a random UUID.
	NewSessionID func() string
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		TickCap:           5 * time.Second,
		AbsenceTimeout:    10 * time.Minute,
		RecordPausedSeeks: true,
		GridSize:          20,
	}
}

// VisibilityResult is returned by OnVisible.
type VisibilityResult struct {
	Absence Absence
	// Stale reports that the absence exceeded the timeout and the session
	// should end.
	Stale bool
}

// Aggregator is not safe for concurrent use; callers serialise access.
type Aggregator struct {
	clk  clock.Clock
	opts Options
	kind Kind
	rec  Record

	visible bool
	playing bool
	leaveAt time.Time

	// open is true while an active-time segment is running; lastCredit is
	// the instant up to which it has been credited.
	open       bool
	lastCredit time.Time

	unit int

	heat   heatCursor
	closed bool
}

// NewAggregator starts a session for subject at the current clock time.
// The surface is assumed visible; paged and page surfaces open an active
// segment immediately.
func NewAggregator(clk clock.Clock, subject Subject, opts Options) (*Aggregator, error) {
	if err := subject.Validate(); err != nil {
		return nil, err
	}
	if opts.GridSize <= 0 {
		opts.GridSize = DefaultOptions().GridSize
	}
	newID := opts.NewSessionID
	if newID == nil {
		newID = uuid.NewString
	}

	now := clk.Now()
	a := &Aggregator{
		clk:     clk,
		opts:    opts,
		kind:    subject.Surface.Kind(),
		visible: true,
		rec: Record{
			Identity:  identity.Pending(),
			Subject:   subject,
			SessionID: newID(),
			EntryTime: now,
			Absences:  []Absence{},
		},
	}
	switch a.kind {
	case KindPaged:
		a.rec.UnitTime = make(map[int]time.Duration)
	case KindVideo:
		a.rec.Playback = &Playback{}
	case KindPage:
		a.rec.Heatmap = make(map[string]time.Duration)
	}
	a.reconcile(now)
	return a, nil
}

// Surface returns the surface of the session.
func (a *Aggregator) Surface() Surface { return a.rec.Subject.Surface }

// SessionID returns the immutable session id.
func (a *Aggregator) SessionID() string { return a.rec.SessionID }

// Stale reports whether the session ended on an absence timeout.
func (a *Aggregator) Stale() bool { return a.rec.Stale }

// Visible reports whether the surface is in the foreground.
func (a *Aggregator) Visible() bool { return a.visible }

// ActiveTime returns the credited active time, excluding the part of the
// open segment not yet credited.
func (a *Aggregator) ActiveTime() time.Duration { return a.rec.ActiveTime }

// done reports whether timing has ended, by timeout or by Close.
func (a *Aggregator) done() bool { return a.rec.Stale || a.closed }

func (a *Aggregator) engaged() bool {
	if a.kind == KindVideo {
		return a.playing
	}
	return true
}

// reconcile opens or closes the active segment to match the current state.
// A segment that stays open keeps its credit point.
func (a *Aggregator) reconcile(now time.Time) {
	want := a.visible && a.engaged() && !a.done()
	switch {
	case want && !a.open:
		a.open = true
		a.lastCredit = now
	case !want && a.open:
		a.creditUntil(now)
		a.open = false
		a.lastCredit = time.Time{}
	}
}

// creditUntil credits the open segment up to now.
func (a *Aggregator) creditUntil(now time.Time) {
	if !a.open {
		return
	}
	elapsed := now.Sub(a.lastCredit)
	if elapsed <= 0 {
		return
	}
	if a.opts.TickCap > 0 && elapsed > a.opts.TickCap {
		elapsed = a.opts.TickCap
	}
	a.rec.ActiveTime += elapsed
	if a.kind == KindPaged && a.unit > 0 {
		a.rec.UnitTime[a.unit] += elapsed
		a.rec.recomputeMostVisited()
	}
	a.lastCredit = now
}

// OnTick credits elapsed time since the last credit point.
func (a *Aggregator) OnTick() {
	if a.done() {
		return
	}
	a.creditUntil(a.clk.Now())
}

// OnHidden closes the open segment and remembers when the surface left the
// foreground. A repeated hide is a no-op.
func (a *Aggregator) OnHidden() {
	if a.done() || !a.visible {
		return
	}
	now := a.clk.Now()
	a.heat.suspend(a, now)
	a.visible = false
	a.leaveAt = now
	a.reconcile(now)
}

// OnVisible records the absence that just ended and reopens the segment
// when viewing is engaged. When the absence exceeds the configured timeout
// the session is marked stale and no further time is credited.
func (a *Aggregator) OnVisible() VisibilityResult {
	if a.rec.Stale {
		return VisibilityResult{Stale: true}
	}
	if a.closed || a.visible {
		return VisibilityResult{}
	}
	now := a.clk.Now()
	absence := Absence{Leave: a.leaveAt, Return: now, Duration: now.Sub(a.leaveAt)}
	a.rec.Absences = append(a.rec.Absences, absence)
	a.visible = true
	a.leaveAt = time.Time{}

	if a.opts.AbsenceTimeout > 0 && absence.Duration > a.opts.AbsenceTimeout {
		a.rec.Stale = true
		return VisibilityResult{Absence: absence, Stale: true}
	}
	a.heat.resume(now)
	a.reconcile(now)
	return VisibilityResult{Absence: absence}
}

// OnUnitChanged moves time attribution to unit (1-indexed). The same unit
// twice is a no-op and units below one are ignored. It returns the visited
// page count when that count just reached a multiple of ten.
func (a *Aggregator) OnUnitChanged(unit int) int {
	if a.done() || a.kind != KindPaged || unit < 1 || unit == a.unit {
		return 0
	}
	a.creditUntil(a.clk.Now())
	a.unit = unit
	if _, seen := a.rec.UnitTime[unit]; seen {
		return 0
	}
	a.rec.UnitTime[unit] = 0
	a.rec.Units = append(a.rec.Units, unit)
	if n := len(a.rec.Units); n%10 == 0 {
		return n
	}
	return 0
}

// CurrentUnit returns the page time is attributed to, or zero.
func (a *Aggregator) CurrentUnit() int { return a.unit }

// RefreshIdentity merges the non-empty fields of id into the record.
func (a *Aggregator) RefreshIdentity(id identity.Identity) {
	a.rec.Identity = a.rec.Identity.Merge(id)
}

// MarkIdentified records that the identification request was sent.
func (a *Aggregator) MarkIdentified() { a.rec.IdentificationSent = true }

// Close credits and closes the open segment. The aggregator accepts no
// further timing afterwards; snapshots remain available.
func (a *Aggregator) Close() {
	if a.closed {
		return
	}
	now := a.clk.Now()
	if a.visible {
		a.heat.suspend(a, now)
	}
	a.closed = true
	a.reconcile(now)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
