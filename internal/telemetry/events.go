package telemetry

// Event is a canonical state transition produced by an adapter.
type Event interface {
	// EventName is a short lowercase name used in logs and metrics.
	EventName() string
}

type (
	Hidden struct{}
	Shown  struct{}
	Ticked struct{}

	UnitChanged struct{ Unit int }

	TextSelected struct {
		Text string
		Unit int
	}
	LinkClicked struct {
		URL  string
		Unit int
	}
	Clicked struct{}

	// Media positions are in seconds.
	Played            struct{ At float64 }
	Paused            struct{ At float64 }
	Seeked            struct{ From, To float64 }
	Jumped            struct {
		Kind     JumpKind
		From, To float64
	}
	SpeedChanged struct {
		Speed float64
		At    float64
	}
	FullscreenEntered struct{ At float64 }
	FullscreenExited  struct{ At float64 }
	Downloaded        struct{}

	PointerMoved struct{ X, Y float64 }
)

func (Hidden) EventName() string            { return "hidden" }
func (Shown) EventName() string             { return "shown" }
func (Ticked) EventName() string            { return "tick" }
func (UnitChanged) EventName() string       { return "unit_changed" }
func (TextSelected) EventName() string      { return "text_selected" }
func (LinkClicked) EventName() string       { return "link_clicked" }
func (Clicked) EventName() string           { return "clicked" }
func (Played) EventName() string            { return "played" }
func (Paused) EventName() string            { return "paused" }
func (Seeked) EventName() string            { return "seeked" }
func (Jumped) EventName() string            { return "jumped" }
func (SpeedChanged) EventName() string      { return "speed_changed" }
func (FullscreenEntered) EventName() string { return "fullscreen_entered" }
func (FullscreenExited) EventName() string  { return "fullscreen_exited" }
func (Downloaded) EventName() string        { return "downloaded" }
func (PointerMoved) EventName() string      { return "pointer_moved" }

// Effect reports what applying an event changed beyond the record itself.
type Effect struct {
	// Stale is set when the event ended the session.
	Stale bool
	// Milestone is the visited page count when it just reached a multiple
	// of ten, otherwise zero.
	Milestone int
}

// Apply dispatches e to the matching operation.
func (a *Aggregator) Apply(e Event) Effect {
	switch e := e.(type) {
	case Hidden:
		a.OnHidden()
	case Shown:
		return Effect{Stale: a.OnVisible().Stale}
	case Ticked:
		a.OnTick()
	case UnitChanged:
		return Effect{Milestone: a.OnUnitChanged(e.Unit)}
	case TextSelected:
		a.OnTextSelected(e.Text, e.Unit)
	case LinkClicked:
		a.OnLinkClicked(e.URL, e.Unit)
	case Clicked:
		a.OnGeneralClick()
	case Played:
		a.OnPlaybackPlay(e.At)
	case Paused:
		a.OnPlaybackPause(e.At)
	case Seeked:
		a.OnSeek(e.From, e.To)
	case Jumped:
		a.OnJump(e.Kind, e.From, e.To)
	case SpeedChanged:
		a.OnSpeedChange(e.Speed, e.At)
	case FullscreenEntered:
		a.OnFullscreenEnter(e.At)
	case FullscreenExited:
		a.OnFullscreenExit(e.At)
	case Downloaded:
		a.OnDownload()
	case PointerMoved:
		a.OnPointerMoved(e.X, e.Y)
	}
	return Effect{}
}
