package telemetry

// Playback operations apply to video sessions only; on other surfaces they
// are ignored.

func (a *Aggregator) playback() *Playback {
	if a.kind != KindVideo || a.done() {
		return nil
	}
	return a.rec.Playback
}

// OnPlaybackPlay resumes the open pause, if any, at media time t and opens
// the active segment.
func (a *Aggregator) OnPlaybackPlay(t float64) {
	pb := a.playback()
	if pb == nil {
		return
	}
	pb.PlayCount++
	if n := len(pb.PauseResume); n > 0 && pb.PauseResume[n-1].ResumeAt == nil {
		pb.PauseResume[n-1].ResumeAt = ptr(t)
	}
	a.playing = true
	a.reconcile(a.clk.Now())
}

// OnPlaybackPause closes the active segment and opens a pause at media
// time t, unless a pause is already open.
func (a *Aggregator) OnPlaybackPause(t float64) {
	pb := a.playback()
	if pb == nil {
		return
	}
	a.playing = false
	a.reconcile(a.clk.Now())
	if n := len(pb.PauseResume); n > 0 && pb.PauseResume[n-1].ResumeAt == nil {
		return
	}
	pb.PauseCount++
	pb.PauseResume = append(pb.PauseResume, PauseResume{PauseAt: t})
}

// Playing reports whether playback is running.
func (a *Aggregator) Playing() bool { return a.playing }

// OnSeek records a scrub from one media position to another. Active time
// is unaffected.
func (a *Aggregator) OnSeek(from, to float64) {
	pb := a.playback()
	if pb == nil {
		return
	}
	if !a.playing && !a.opts.RecordPausedSeeks {
		return
	}
	pb.SeekCount++
	pb.Skips = append(pb.Skips, Skip{From: from, To: to})
}

// OnJump records a use of the jump controls. Unknown kinds are ignored.
func (a *Aggregator) OnJump(kind JumpKind, from, to float64) {
	pb := a.playback()
	if pb == nil || (kind != JumpForward && kind != JumpReplay) {
		return
	}
	pb.Jumps = append(pb.Jumps, Jump{Kind: kind, From: from, To: to})
}

// OnSpeedChange closes the open speed interval at t and opens one at
// speed. Non-positive speeds and re-selecting the current speed are
// ignored.
func (a *Aggregator) OnSpeedChange(speed, t float64) {
	pb := a.playback()
	if pb == nil || speed <= 0 {
		return
	}
	if n := len(pb.Speeds); n > 0 && pb.Speeds[n-1].End == nil {
		if pb.Speeds[n-1].Speed == speed {
			return
		}
		pb.Speeds[n-1].End = ptr(t)
	}
	pb.Speeds = append(pb.Speeds, SpeedInterval{Speed: speed, Start: t})
}

// OnFullscreenEnter opens a fullscreen interval at t unless one is open.
func (a *Aggregator) OnFullscreenEnter(t float64) {
	pb := a.playback()
	if pb == nil {
		return
	}
	if n := len(pb.Fullscreen); n > 0 && pb.Fullscreen[n-1].Exited == nil {
		return
	}
	pb.Fullscreen = append(pb.Fullscreen, FullscreenInterval{Entered: t})
}

// OnFullscreenExit closes the open fullscreen interval at t. A stray exit
// is a no-op.
func (a *Aggregator) OnFullscreenExit(t float64) {
	pb := a.playback()
	if pb == nil {
		return
	}
	if n := len(pb.Fullscreen); n > 0 && pb.Fullscreen[n-1].Exited == nil {
		pb.Fullscreen[n-1].Exited = ptr(t)
	}
}

// OnDownload records that the viewer downloaded the media.
func (a *Aggregator) OnDownload() {
	if pb := a.playback(); pb != nil {
		pb.Downloaded = true
	}
}

func ptr(v float64) *float64 { return &v }
