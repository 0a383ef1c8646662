package telemetry

import (
	"maps"
	"slices"
	"time"
)

// Snapshot is an immutable point-in-time copy of a session record, with
// the open segment and heatmap dwell credited up to At.
type Snapshot struct {
	Record
	At time.Time `json:"at"`
	// Final marks the snapshot taken at teardown.
	Final bool `json:"final"`
}

// Snapshot returns a snapshot as of the current clock time.
func (a *Aggregator) Snapshot() Snapshot { return a.SnapshotAt(a.clk.Now()) }

// SnapshotAt returns a snapshot as of now. The live record is not touched:
// credit is applied to a copy, so repeated calls without intervening
// events agree.
func (a *Aggregator) SnapshotAt(now time.Time) Snapshot {
	shadow := *a
	shadow.rec = a.rec.clone()
	shadow.creditUntil(now)
	if shadow.visible && !shadow.done() {
		shadow.heat.suspend(&shadow, now)
	}
	return Snapshot{Record: shadow.rec, At: now}
}

func (r Record) clone() Record {
	out := r
	out.UnitTime = maps.Clone(r.UnitTime)
	out.Units = slices.Clone(r.Units)
	out.Selections = slices.Clone(r.Selections)
	out.Links = slices.Clone(r.Links)
	out.Heatmap = maps.Clone(r.Heatmap)
	out.Absences = slices.Clone(r.Absences)
	if r.Playback != nil {
		pb := *r.Playback
		pb.PauseResume = slices.Clone(pb.PauseResume)
		for i := range pb.PauseResume {
			pb.PauseResume[i].ResumeAt = clonePtr(pb.PauseResume[i].ResumeAt)
		}
		pb.Skips = slices.Clone(pb.Skips)
		pb.Jumps = slices.Clone(pb.Jumps)
		pb.Speeds = slices.Clone(pb.Speeds)
		for i := range pb.Speeds {
			pb.Speeds[i].End = clonePtr(pb.Speeds[i].End)
		}
		pb.Fullscreen = slices.Clone(pb.Fullscreen)
		for i := range pb.Fullscreen {
			pb.Fullscreen[i].Exited = clonePtr(pb.Fullscreen[i].Exited)
		}
		out.Playback = &pb
	}
	return out
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return ptr(*p)
}
