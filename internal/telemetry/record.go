package telemetry

import (
	"strings"
	"time"

	"github.com/fakeyudi/viewtrack/internal/identity"
)

// MaxSelectionRunes bounds the stored length of a text selection.
const MaxSelectionRunes = 300

// Subject identifies what a session is looking at.
type Subject struct {
	ID        string  `json:"id"`
	SourceURL string  `json:"sourceUrl"`
	Surface   Surface `json:"surface"`
}

// Validate reports ErrIncompleteSubject unless the subject names an id, a
// source and a known surface.
func (s Subject) Validate() error {
	if strings.TrimSpace(s.ID) == "" || strings.TrimSpace(s.SourceURL) == "" || !s.Surface.Valid() {
		return ErrIncompleteSubject
	}
	return nil
}

// Selection is one distinct piece of selected text on one page.
type Selection struct {
	Text  string `json:"text"`
	Unit  int    `json:"unit"`
	Count int    `json:"count"`
}

// LinkClick is a followed hyperlink.
type LinkClick struct {
	Unit int       `json:"unit"`
	URL  string    `json:"url"`
	At   time.Time `json:"at"`
}

// PauseResume is a pause, open until playback resumes. Positions are
// media time in seconds.
type PauseResume struct {
	PauseAt  float64  `json:"pauseAt"`
	ResumeAt *float64 `json:"resumeAt"`
}

// Skip is a user scrub along the timeline.
type Skip struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// JumpKind is the direction of a jump control.
type JumpKind string

const (
	JumpForward JumpKind = "forward"
	JumpReplay  JumpKind = "replay"
)

// Jump is a use of the fixed-step jump controls.
type Jump struct {
	Kind JumpKind `json:"type"`
	From float64  `json:"from"`
	To   float64  `json:"to"`
}

// SpeedInterval is a stretch of playback at one rate.
type SpeedInterval struct {
	Speed float64  `json:"speed"`
	Start float64  `json:"start"`
	End   *float64 `json:"end"`
}

// FullscreenInterval is a stretch of fullscreen playback.
type FullscreenInterval struct {
	Entered float64  `json:"entered"`
	Exited  *float64 `json:"exited"`
}

// Playback holds the video-only part of a record.
type Playback struct {
	PlayCount   int                  `json:"playCount"`
	PauseCount  int                  `json:"pauseCount"`
	SeekCount   int                  `json:"seekCount"`
	PauseResume []PauseResume        `json:"pauseResume"`
	Skips       []Skip               `json:"skips"`
	Jumps       []Jump               `json:"jumps"`
	Speeds      []SpeedInterval      `json:"speeds"`
	Fullscreen  []FullscreenInterval `json:"fullscreen"`
	Downloaded  bool                 `json:"downloaded"`
}

// Absence is one hide/show cycle of the surface.
type Absence struct {
	Leave    time.Time     `json:"leave"`
	Return   time.Time     `json:"return"`
	Duration time.Duration `json:"duration"`
}

// Record is the accumulated analytics of one viewing session.
type Record struct {
	Identity  identity.Identity `json:"identity"`
	Subject   Subject           `json:"subject"`
	SessionID string            `json:"sessionId"`
	EntryTime time.Time         `json:"entryTime"`

	ActiveTime time.Duration `json:"activeTime"`

	// UnitTime is keyed by 1-indexed page. Units lists pages in the order
	// they were first visited.
	UnitTime    map[int]time.Duration `json:"unitTime"`
	Units       []int                 `json:"units,omitempty"`
	MostVisited int                   `json:"mostVisited,omitempty"`

	Selections  []Selection `json:"selections,omitempty"`
	Links       []LinkClick `json:"links,omitempty"`
	TotalClicks int         `json:"totalClicks"`

	Playback *Playback `json:"playback,omitempty"`

	// Heatmap is keyed "x,y" by grid cell origin.
	Heatmap map[string]time.Duration `json:"heatmap"`

	Absences []Absence `json:"absences"`

	IdentificationSent bool `json:"identificationSent"`
	Stale              bool `json:"stale"`
}

// PagesVisited is the number of distinct pages seen.
func (r *Record) PagesVisited() int { return len(r.Units) }

func (r *Record) recomputeMostVisited() {
	best, bestTime := 0, time.Duration(0)
	for _, u := range r.Units {
		if t := r.UnitTime[u]; t > bestTime {
			best, bestTime = u, t
		}
	}
	r.MostVisited = best
}
