package delivery

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/fakeyudi/viewtrack/internal/identity"
	"github.com/fakeyudi/viewtrack/internal/telemetry"
)

// Envelope holds the fields every telemetry payload carries.
type Envelope struct {
	identity.Identity

	PdfID   string `json:"pdfId,omitempty"`
	VideoID string `json:"videoId,omitempty"`
	WebID   string `json:"webId,omitempty"`

	SourceURL      string        `json:"sourceUrl"`
	SessionID      string        `json:"sessionId"`
	InTime         string        `json:"inTime"`
	OutTime        string        `json:"outTime"`
	AbsenceHistory []AbsenceWire `json:"absenceHistory"`
	Final          bool          `json:"final,omitempty"`
}

type AbsenceWire struct {
	LeaveTime  string `json:"leaveTime"`
	ReturnTime string `json:"returnTime"`
	DurationMs int64  `json:"durationMs"`
}

// PagedPayload is posted for pdf, docx and pptx sessions.
type PagedPayload struct {
	Envelope
	TotalTimeSpent    int64           `json:"totalTimeSpent"`
	PageTimeSpent     map[int]int64   `json:"pageTimeSpent"`
	TotalPagesVisited int             `json:"totalPagesVisited"`
	MostVisitedPage   *int            `json:"mostVisitedPage"`
	SelectedTexts     []SelectionWire `json:"selectedTexts"`
	TotalClicks       int             `json:"totalClicks"`
	LinkClicks        []LinkWire      `json:"linkClicks"`
}

type SelectionWire struct {
	SelectedText string `json:"selectedText"`
	Page         int    `json:"page"`
	Count        int    `json:"count"`
}

type LinkWire struct {
	Page        int    `json:"page"`
	ClickedLink string `json:"clickedLink"`
	Timestamp   string `json:"timestamp"`
}

// VideoPayload is posted for video sessions. Media positions are seconds;
// each has a human-readable companion.
type VideoPayload struct {
	Envelope
	TotalWatchTime          float64          `json:"totalWatchTime"`
	TotalWatchTimeFormatted string           `json:"totalWatchTimeFormatted"`
	PlayCount               int              `json:"playCount"`
	PauseCount              int              `json:"pauseCount"`
	SeekCount               int              `json:"seekCount"`
	PauseResumeEvents       []PauseWire      `json:"pauseResumeEvents"`
	SkipEvents              []SkipWire       `json:"skipEvents"`
	JumpEvents              []JumpWire       `json:"jumpEvents"`
	SpeedEvents             []SpeedWire      `json:"speedEvents"`
	FullscreenEvents        []FullscreenWire `json:"fullscreenEvents"`
	Download                bool             `json:"download"`
}

type PauseWire struct {
	PauseTime           float64  `json:"pauseTime"`
	PauseTimeFormatted  string   `json:"pauseTimeFormatted"`
	ResumeTime          *float64 `json:"resumeTime"`
	ResumeTimeFormatted *string  `json:"resumeTimeFormatted"`
}

type SkipWire struct {
	From          float64 `json:"from"`
	FromFormatted string  `json:"fromFormatted"`
	To            float64 `json:"to"`
	ToFormatted   string  `json:"toFormatted"`
}

type JumpWire struct {
	Type          string  `json:"type"`
	From          float64 `json:"from"`
	FromFormatted string  `json:"fromFormatted"`
	To            float64 `json:"to"`
	ToFormatted   string  `json:"toFormatted"`
}

type SpeedWire struct {
	Speed              float64  `json:"speed"`
	StartTime          float64  `json:"startTime"`
	StartTimeFormatted string   `json:"startTimeFormatted"`
	EndTime            *float64 `json:"endTime"`
	EndTimeFormatted   *string  `json:"endTimeFormatted"`
}

type FullscreenWire struct {
	Entered          float64  `json:"entered"`
	EnteredFormatted string   `json:"enteredFormatted"`
	Exited           *float64 `json:"exited"`
	ExitedFormatted  *string  `json:"exitedFormatted"`
}

// PagePayload is posted for web page sessions.
type PagePayload struct {
	Envelope
	TotalTimeSpent int64      `json:"totalTimeSpent"`
	PointerHeatmap []CellWire `json:"pointerHeatmap"`
}

type CellWire struct {
	Position  string `json:"position"`
	TimeSpent int64  `json:"timeSpent"`
}

// PayloadOptions tunes payload encoding.
type PayloadOptions struct {
	// HeatmapMinDwell drops heatmap cells whose whole seconds of dwell do
	// not exceed it.
	HeatmapMinDwell time.Duration
}

// BuildPayload converts a snapshot into the JSON body posted for its
// surface.
func BuildPayload(s telemetry.Snapshot, opts PayloadOptions) (any, error) {
	env := envelope(s)
	switch s.Subject.Surface.Kind() {
	case telemetry.KindPaged:
		return pagedPayload(env, s), nil
	case telemetry.KindVideo:
		return videoPayload(env, s), nil
	case telemetry.KindPage:
		return pagePayload(env, s, opts), nil
	default:
		return nil, fmt.Errorf("no payload for surface %q", s.Subject.Surface)
	}
}

func envelope(s telemetry.Snapshot) Envelope {
	env := Envelope{
		Identity:       s.Identity,
		SourceURL:      s.Subject.SourceURL,
		SessionID:      s.SessionID,
		InTime:         isoTime(s.EntryTime),
		OutTime:        isoTime(s.At),
		AbsenceHistory: make([]AbsenceWire, 0, len(s.Absences)),
		Final:          s.Final,
	}
	switch s.Subject.Surface.SubjectField() {
	case "videoId":
		env.VideoID = s.Subject.ID
	case "webId":
		env.WebID = s.Subject.ID
	default:
		env.PdfID = s.Subject.ID
	}
	for _, a := range s.Absences {
		env.AbsenceHistory = append(env.AbsenceHistory, AbsenceWire{
			LeaveTime:  isoTime(a.Leave),
			ReturnTime: isoTime(a.Return),
			DurationMs: a.Duration.Milliseconds(),
		})
	}
	return env
}

func pagedPayload(env Envelope, s telemetry.Snapshot) PagedPayload {
	p := PagedPayload{
		Envelope:          env,
		TotalTimeSpent:    wholeSeconds(s.ActiveTime),
		PageTimeSpent:     make(map[int]int64, len(s.UnitTime)),
		TotalPagesVisited: s.PagesVisited(),
		SelectedTexts:     make([]SelectionWire, 0, len(s.Selections)),
		TotalClicks:       s.TotalClicks,
		LinkClicks:        make([]LinkWire, 0, len(s.Links)),
	}
	for unit, d := range s.UnitTime {
		p.PageTimeSpent[unit] = wholeSeconds(d)
	}
	if s.MostVisited > 0 {
		mv := s.MostVisited
		p.MostVisitedPage = &mv
	}
	for _, sel := range s.Selections {
		p.SelectedTexts = append(p.SelectedTexts, SelectionWire{SelectedText: sel.Text, Page: sel.Unit, Count: sel.Count})
	}
	for _, l := range s.Links {
		p.LinkClicks = append(p.LinkClicks, LinkWire{Page: l.Unit, ClickedLink: l.URL, Timestamp: isoTime(l.At)})
	}
	return p
}

func videoPayload(env Envelope, s telemetry.Snapshot) VideoPayload {
	pb := s.Playback
	if pb == nil {
		pb = &telemetry.Playback{}
	}
	watch := math.Round(s.ActiveTime.Seconds()*1000) / 1000
	p := VideoPayload{
		Envelope:                env,
		TotalWatchTime:          watch,
		TotalWatchTimeFormatted: FormatTime(watch),
		PlayCount:               pb.PlayCount,
		PauseCount:              pb.PauseCount,
		SeekCount:               pb.SeekCount,
		PauseResumeEvents:       make([]PauseWire, 0, len(pb.PauseResume)),
		SkipEvents:              make([]SkipWire, 0, len(pb.Skips)),
		JumpEvents:              make([]JumpWire, 0, len(pb.Jumps)),
		SpeedEvents:             make([]SpeedWire, 0, len(pb.Speeds)),
		FullscreenEvents:        make([]FullscreenWire, 0, len(pb.Fullscreen)),
		Download:                pb.Downloaded,
	}
	for _, e := range pb.PauseResume {
		p.PauseResumeEvents = append(p.PauseResumeEvents, PauseWire{
			PauseTime:           e.PauseAt,
			PauseTimeFormatted:  FormatTime(e.PauseAt),
			ResumeTime:          e.ResumeAt,
			ResumeTimeFormatted: formatOptional(e.ResumeAt),
		})
	}
	for _, e := range pb.Skips {
		p.SkipEvents = append(p.SkipEvents, SkipWire{
			From: e.From, FromFormatted: FormatTime(e.From),
			To: e.To, ToFormatted: FormatTime(e.To),
		})
	}
	for _, e := range pb.Jumps {
		p.JumpEvents = append(p.JumpEvents, JumpWire{
			Type: string(e.Kind),
			From: e.From, FromFormatted: FormatTime(e.From),
			To: e.To, ToFormatted: FormatTime(e.To),
		})
	}
	for _, e := range pb.Speeds {
		p.SpeedEvents = append(p.SpeedEvents, SpeedWire{
			Speed:              e.Speed,
			StartTime:          e.Start,
			StartTimeFormatted: FormatTime(e.Start),
			EndTime:            e.End,
			EndTimeFormatted:   formatOptional(e.End),
		})
	}
	for _, e := range pb.Fullscreen {
		p.FullscreenEvents = append(p.FullscreenEvents, FullscreenWire{
			Entered:          e.Entered,
			EnteredFormatted: FormatTime(e.Entered),
			Exited:           e.Exited,
			ExitedFormatted:  formatOptional(e.Exited),
		})
	}
	return p
}

func pagePayload(env Envelope, s telemetry.Snapshot, opts PayloadOptions) PagePayload {
	p := PagePayload{
		Envelope:       env,
		TotalTimeSpent: wholeSeconds(s.ActiveTime),
		PointerHeatmap: []CellWire{},
	}
	for key, d := range s.Heatmap {
		secs := wholeSeconds(d)
		if secs <= wholeSeconds(opts.HeatmapMinDwell) {
			continue
		}
		p.PointerHeatmap = append(p.PointerHeatmap, CellWire{Position: key, TimeSpent: secs})
	}
	sort.Slice(p.PointerHeatmap, func(i, j int) bool {
		return p.PointerHeatmap[i].Position < p.PointerHeatmap[j].Position
	})
	return p
}

// FormatTime renders seconds as "1h 2m 3s", "2m 3s" or "3s".
func FormatTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int64(math.Floor(seconds))
	hrs := total / 3600
	mins := (total % 3600) / 60
	secs := total % 60
	switch {
	case hrs > 0:
		return fmt.Sprintf("%dh %dm %ds", hrs, mins, secs)
	case mins > 0:
		return fmt.Sprintf("%dm %ds", mins, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

func formatOptional(v *float64) *string {
	if v == nil {
		return nil
	}
	s := FormatTime(*v)
	return &s
}

func wholeSeconds(d time.Duration) int64 { return int64(d / time.Second) }

func isoTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
