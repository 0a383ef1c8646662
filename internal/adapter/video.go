package adapter

import (
	"sync"

	"github.com/fakeyudi/viewtrack/internal/telemetry"
)

// Video adapts the video player surface.
//
// The player reports seeks it performs for the jump controls like any
// other seek; the adapter flags the jump and swallows the seek that
// follows. A timeline drag produces a stream of seeks that is recorded as
// a single skip from drag start to drag end. A seek records its origin at
// seeking time, since the player may report the target position through
// timeupdate before seeked arrives.
type Video struct {
	opts Options

	mu            sync.Mutex
	duration      float64
	position      float64
	jumpTriggered bool
	dragging      bool
	dragFrom      float64
	seeking       bool
	seekFrom      float64
}

// NewVideo returns a video adapter.
func NewVideo(opts Options) *Video {
	if opts.JumpStep <= 0 {
		opts.JumpStep = DefaultOptions().JumpStep
	}
	return &Video{opts: opts}
}

func (v *Video) Translate(n Notification) []telemetry.Event {
	v.mu.Lock()
	defer v.mu.Unlock()

	t := n.CurrentTime
	switch n.Type {
	case TypeVisibility:
		return []telemetry.Event{visibility(n)}
	case TypeLoadedMetadata:
		if n.Duration > 0 {
			v.duration = n.Duration
		}
	case TypePlay:
		v.position = t
		return []telemetry.Event{telemetry.Played{At: t}}
	case TypePause:
		v.position = t
		return []telemetry.Event{telemetry.Paused{At: t}}
	case TypeTimeUpdate:
		if !v.dragging && !v.seeking {
			v.position = t
		}
	case TypeSeeking:
		if !v.dragging && !v.jumpTriggered && !v.seeking {
			v.seeking = true
			v.seekFrom = v.position
		}
	case TypeSeeked:
		return v.seekedLocked(t)
	case TypeJump:
		return v.jumpLocked(n)
	case TypeRateChange:
		return []telemetry.Event{telemetry.SpeedChanged{Speed: n.Rate, At: t}}
	case TypeFullscreenChange:
		if n.Fullscreen {
			return []telemetry.Event{telemetry.FullscreenEntered{At: t}}
		}
		return []telemetry.Event{telemetry.FullscreenExited{At: t}}
	case TypeDragStart:
		v.dragging = true
		v.dragFrom = t
	case TypeDragEnd:
		if !v.dragging {
			return nil
		}
		v.dragging = false
		from := v.dragFrom
		v.position = t
		return []telemetry.Event{telemetry.Seeked{From: from, To: t}}
	case TypeDownload:
		return []telemetry.Event{telemetry.Downloaded{}}
	}
	return nil
}

func (v *Video) seekedLocked(t float64) []telemetry.Event {
	seeking := v.seeking
	v.seeking = false
	if v.jumpTriggered {
		v.jumpTriggered = false
		v.position = t
		return nil
	}
	if v.dragging {
		return nil
	}
	from := v.position
	if seeking {
		from = v.seekFrom
	}
	v.position = t
	return []telemetry.Event{telemetry.Seeked{From: from, To: t}}
}

func (v *Video) jumpLocked(n Notification) []telemetry.Event {
	var kind telemetry.JumpKind
	switch n.Direction {
	case string(telemetry.JumpForward):
		kind = telemetry.JumpForward
	case string(telemetry.JumpReplay):
		kind = telemetry.JumpReplay
	default:
		return nil
	}

	from := n.CurrentTime
	to := from + v.opts.JumpStep
	if kind == telemetry.JumpReplay {
		to = from - v.opts.JumpStep
	}
	if to < 0 {
		to = 0
	}
	if v.duration > 0 && to > v.duration {
		to = v.duration
	}
	v.jumpTriggered = true
	v.position = to
	return []telemetry.Event{telemetry.Jumped{Kind: kind, From: from, To: to}}
}

// Close has nothing to flush for video.
func (v *Video) Close() []telemetry.Event { return nil }
