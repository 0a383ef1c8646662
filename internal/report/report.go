// Package report renders the final snapshot of a session as a shareable
// file, and parses such files back.
package report

import (
	"time"

	"github.com/fakeyudi/viewtrack/internal/delivery"
	"github.com/fakeyudi/viewtrack/internal/telemetry"
)

// Report is the renderable record of one session.
type Report struct {
	Session  SessionMeta        `json:"session"`
	Snapshot telemetry.Snapshot `json:"snapshot"`
}

// SessionMeta is the summary shown at the top of a report.
type SessionMeta struct {
	ID         string            `json:"id"`
	Surface    telemetry.Surface `json:"surface"`
	SubjectID  string            `json:"subject_id"`
	SourceURL  string            `json:"source_url"`
	EntryTime  time.Time         `json:"entry_time"`
	ExitTime   time.Time         `json:"exit_time"`
	Duration   string            `json:"duration"`    // wall clock, e.g. "1h 2m 3s"
	ActiveTime string            `json:"active_time"` // credited time
	Stale      bool              `json:"stale"`
}

// New builds a report from a snapshot.
func New(snap telemetry.Snapshot) *Report {
	return &Report{
		Session: SessionMeta{
			ID:         snap.SessionID,
			Surface:    snap.Subject.Surface,
			SubjectID:  snap.Subject.ID,
			SourceURL:  snap.Subject.SourceURL,
			EntryTime:  snap.EntryTime,
			ExitTime:   snap.At,
			Duration:   humanDuration(snap.At.Sub(snap.EntryTime)),
			ActiveTime: humanDuration(snap.ActiveTime),
			Stale:      snap.Stale,
		},
		Snapshot: snap,
	}
}

func humanDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return delivery.FormatTime(d.Seconds())
}
