package adapter

import (
	"strings"
	"sync"
	"time"

	"github.com/fakeyudi/viewtrack/internal/clock"
	"github.com/fakeyudi/viewtrack/internal/telemetry"
)

// Paged adapts document surfaces (pdf, docx, pptx).
type Paged struct {
	opts Options

	mu        sync.Mutex
	unit      int
	lastTouch map[string]time.Time
	pending   *telemetry.TextSelected
	settle    *clock.Timer
}

// NewPaged returns a paged-document adapter.
func NewPaged(opts Options) *Paged {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Emit == nil {
		opts.Emit = func([]telemetry.Event) {}
	}
	return &Paged{opts: opts, lastTouch: make(map[string]time.Time)}
}

func (p *Paged) Translate(n Notification) []telemetry.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch n.Type {
	case TypeVisibility:
		return []telemetry.Event{visibility(n)}
	case TypePageChange:
		if n.Page == nil || *n.Page < 0 {
			return nil
		}
		p.unit = *n.Page + 1
		return []telemetry.Event{telemetry.UnitChanged{Unit: p.unit}}
	case TypeSelection:
		if n.InViewer != nil && !*n.InViewer {
			return nil
		}
		if p.throttledLocked(n) {
			return nil
		}
		return p.selectLocked(n.Text)
	case TypeClick:
		if p.throttledLocked(n) {
			return nil
		}
		if url := strings.TrimSpace(n.URL); url != "" {
			return []telemetry.Event{
				telemetry.LinkClicked{URL: url, Unit: p.unit},
				telemetry.Clicked{},
			}
		}
		return []telemetry.Event{telemetry.Clicked{}}
	}
	return nil
}

// throttledLocked reports whether a touch notification arrived too soon
// after the last accepted touch notification of the same type.
func (p *Paged) throttledLocked(n Notification) bool {
	if n.Pointer != PointerTouch || p.opts.TouchThrottle <= 0 {
		return false
	}
	now := p.opts.Clock.Now()
	if last, ok := p.lastTouch[n.Type]; ok && now.Sub(last) < p.opts.TouchThrottle {
		return true
	}
	p.lastTouch[n.Type] = now
	return false
}

// selectLocked holds the selection back until it settles. A new selection
// replaces the held one and restarts the wait.
func (p *Paged) selectLocked(text string) []telemetry.Event {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	sel := telemetry.TextSelected{Text: text, Unit: p.unit}
	if p.opts.SelectionSettle <= 0 {
		return []telemetry.Event{sel}
	}
	p.pending = &sel
	if p.settle != nil {
		p.settle.Stop()
	}
	p.settle = p.opts.Clock.AfterFunc(p.opts.SelectionSettle, p.flushSelection)
	return nil
}

func (p *Paged) flushSelection() {
	p.mu.Lock()
	sel := p.pending
	p.pending = nil
	p.settle = nil
	p.mu.Unlock()

	if sel != nil {
		p.opts.Emit([]telemetry.Event{*sel})
	}
}

// Close cancels the settle timer and returns the held selection, if any.
func (p *Paged) Close() []telemetry.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settle != nil {
		p.settle.Stop()
		p.settle = nil
	}
	if p.pending == nil {
		return nil
	}
	sel := *p.pending
	p.pending = nil
	return []telemetry.Event{sel}
}
