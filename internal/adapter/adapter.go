// Package adapter translates the native notifications of a rendering
// surface into canonical telemetry events.
//
// Adapters hold no time accounting of their own. They return the events a
// notification produces; events that are only known later, such as a
// selection that has settled, are handed to the Emit callback.
package adapter

import (
	"fmt"
	"time"

	"github.com/fakeyudi/viewtrack/internal/clock"
	"github.com/fakeyudi/viewtrack/internal/telemetry"
)

// Notification types.
const (
	TypeVisibility       = "visibility"
	TypePageChange       = "pagechange"
	TypeSelection        = "selection"
	TypeClick            = "click"
	TypeLoadedMetadata   = "loadedmetadata"
	TypePlay             = "play"
	TypePause            = "pause"
	TypeSeeking          = "seeking"
	TypeSeeked           = "seeked"
	TypeTimeUpdate       = "timeupdate"
	TypeJump             = "jump"
	TypeRateChange       = "ratechange"
	TypeFullscreenChange = "fullscreenchange"
	TypeDragStart        = "dragstart"
	TypeDragEnd          = "dragend"
	TypeDownload         = "download"
	TypePointer          = "pointer"
)

// Pointer input classes.
const (
	PointerMouse = "mouse"
	PointerTouch = "touch"
	PointerPen   = "pen"
)

// Notification is one native UI notification as sent by a surface.
type Notification struct {
	Type string `json:"type"`

	Hidden bool `json:"hidden,omitempty"`

	// Page is zero-indexed.
	Page *int `json:"page,omitempty"`

	Text     string `json:"text,omitempty"`
	InViewer *bool  `json:"inViewer,omitempty"`
	Pointer  string `json:"pointer,omitempty"`
	URL      string `json:"url,omitempty"`

	// Media notifications carry the element's position in seconds.
	CurrentTime float64 `json:"currentTime,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	Direction   string  `json:"direction,omitempty"`
	Rate        float64 `json:"rate,omitempty"`
	Fullscreen  bool    `json:"fullscreen,omitempty"`

	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Origin string   `json:"origin,omitempty"`
}

// Adapter translates notifications for one mounted viewer.
type Adapter interface {
	// Translate returns the events n produces, in order.
	Translate(n Notification) []telemetry.Event
	// Close cancels pending timers and returns any event still held back.
	Close() []telemetry.Event
}

// Options configures an adapter.
type Options struct {
	Clock clock.Clock
	// Emit receives events produced after Translate returned.
	Emit func([]telemetry.Event)

	// SelectionSettle delays selection capture until the selection has
	// stopped changing. Zero records selections immediately.
	SelectionSettle time.Duration
	// TouchThrottle drops touch notifications of one type arriving sooner
	// than this after the last accepted one.
	TouchThrottle time.Duration
	// JumpStep is the jump control step in seconds.
	JumpStep float64
	// AllowedOrigin, when set, drops pointer messages from other origins.
	AllowedOrigin string
}

// DefaultOptions returns the adapter defaults.
func DefaultOptions() Options {
	return Options{
		SelectionSettle: 500 * time.Millisecond,
		TouchThrottle:   500 * time.Millisecond,
		JumpStep:        10,
	}
}

// For returns the adapter for surface s.
func For(s telemetry.Surface, opts Options) (Adapter, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Emit == nil {
		opts.Emit = func([]telemetry.Event) {}
	}
	switch s.Kind() {
	case telemetry.KindPaged:
		return NewPaged(opts), nil
	case telemetry.KindVideo:
		return NewVideo(opts), nil
	case telemetry.KindPage:
		return NewPage(opts), nil
	default:
		return nil, fmt.Errorf("no adapter for surface %q", s)
	}
}

func visibility(n Notification) telemetry.Event {
	if n.Hidden {
		return telemetry.Hidden{}
	}
	return telemetry.Shown{}
}
