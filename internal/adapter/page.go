package adapter

import (
	"math"

	"github.com/fakeyudi/viewtrack/internal/telemetry"
)

// Page adapts an embedded web page, which reports pointer positions from
// inside its frame.
type Page struct {
	opts Options
}

// NewPage returns a generic-page adapter.
func NewPage(opts Options) *Page { return &Page{opts: opts} }

func (p *Page) Translate(n Notification) []telemetry.Event {
	switch n.Type {
	case TypeVisibility:
		return []telemetry.Event{visibility(n)}
	case TypePointer:
		if p.opts.AllowedOrigin != "" && n.Origin != p.opts.AllowedOrigin {
			return nil
		}
		if n.X == nil || n.Y == nil || !finite(*n.X) || !finite(*n.Y) {
			return nil
		}
		return []telemetry.Event{telemetry.PointerMoved{X: *n.X, Y: *n.Y}}
	}
	return nil
}

func (p *Page) Close() []telemetry.Event { return nil }

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
