package telemetry

import (
	"testing"
)

func TestSpeedIntervals(t *testing.T) {
	a, _ := newAgg(t, Video, DefaultOptions())
	a.OnSpeedChange(1.5, 10)
	a.OnSpeedChange(1.5, 12)
	a.OnSpeedChange(0, 14)
	a.OnSpeedChange(-2, 14)
	a.OnSpeedChange(2, 20)

	sp := a.Snapshot().Playback.Speeds
	if len(sp) != 2 {
		t.Fatalf("speeds = %+v", sp)
	}
	if sp[0].Speed != 1.5 || sp[0].Start != 10 || sp[0].End == nil || *sp[0].End != 20 {
		t.Errorf("first interval = %+v", sp[0])
	}
	if sp[1].Speed != 2 || sp[1].Start != 20 || sp[1].End != nil {
		t.Errorf("open interval = %+v", sp[1])
	}
}

func TestSeekWhilePausedPolicy(t *testing.T) {
	for _, record := range []bool{true, false} {
		opts := DefaultOptions()
		opts.RecordPausedSeeks = record
		a, _ := newAgg(t, Video, opts)
		a.OnSeek(0, 30)
		a.OnPlaybackPlay(30)
		a.OnSeek(31, 60)

		want := 1
		if record {
			want = 2
		}
		pb := a.Snapshot().Playback
		if len(pb.Skips) != want || pb.SeekCount != want {
			t.Errorf("record=%v: skips %+v, count %d", record, pb.Skips, pb.SeekCount)
		}
	}
}

func TestJumpsAndDownload(t *testing.T) {
	a, _ := newAgg(t, Video, DefaultOptions())
	a.Apply(Jumped{Kind: JumpForward, From: 5, To: 15})
	a.Apply(Jumped{Kind: "sideways", From: 5, To: 15})
	a.Apply(Jumped{Kind: JumpReplay, From: 15, To: 5})
	a.Apply(Downloaded{})

	pb := a.Snapshot().Playback
	if len(pb.Jumps) != 2 || pb.Jumps[0].Kind != JumpForward || pb.Jumps[1].Kind != JumpReplay {
		t.Errorf("jumps = %+v", pb.Jumps)
	}
	if len(pb.Skips) != 0 {
		t.Errorf("jumps leaked into skips: %+v", pb.Skips)
	}
	if !pb.Downloaded {
		t.Error("download not recorded")
	}
}

func TestSnapshotIntervalsAreCopies(t *testing.T) {
	a, _ := newAgg(t, Video, DefaultOptions())
	a.OnFullscreenEnter(3)
	a.OnFullscreenExit(9)

	snap := a.Snapshot()
	*snap.Playback.Fullscreen[0].Exited = 100
	snap.Playback.Fullscreen = append(snap.Playback.Fullscreen, FullscreenInterval{Entered: 1})

	fs := a.Snapshot().Playback.Fullscreen
	if len(fs) != 1 || *fs[0].Exited != 9 {
		t.Errorf("live record changed through a snapshot: %+v", fs)
	}
}

func TestPlaybackIgnoredOnPagedSurface(t *testing.T) {
	a, _ := newAgg(t, PDF, DefaultOptions())
	a.OnPlaybackPause(3)
	a.OnFullscreenEnter(3)
	if a.Snapshot().Playback != nil {
		t.Error("paged surface grew playback state")
	}
}
