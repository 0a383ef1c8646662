package report

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fakeyudi/viewtrack/internal/delivery"
	"github.com/fakeyudi/viewtrack/internal/telemetry"
)

const (
	versionSentinel = "<!-- viewtrack-report-version: 1 -->"
	dataPrefix      = "<!-- viewtrack-data: "
	dataSuffix      = " -->"
)

// Renderer serializes a Report to bytes.
type Renderer interface {
	Render(r *Report) ([]byte, error)
}

// RendererFor returns the renderer for format ("json" or "markdown").
func RendererFor(format string) (Renderer, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONRenderer{}, nil
	case "markdown", "md":
		return &MarkdownRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// JSONRenderer renders a Report as indented JSON.
type JSONRenderer struct{}

func (JSONRenderer) Render(r *Report) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// MarkdownRenderer renders a Report as readable Markdown with an embedded
// base64 JSON payload for lossless parsing.
type MarkdownRenderer struct{}

func (MarkdownRenderer) Render(r *Report) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(versionSentinel + "\n")
	fmt.Fprintf(&sb, "%s%s%s\n\n", dataPrefix, base64.StdEncoding.EncodeToString(raw), dataSuffix)

	s := r.Snapshot
	fmt.Fprintf(&sb, "# %s session: %s\n\n", r.Session.Surface, r.Session.SubjectID)

	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- Session: %s\n", r.Session.ID)
	fmt.Fprintf(&sb, "- Source: %s\n", r.Session.SourceURL)
	fmt.Fprintf(&sb, "- Entered: %s\n", stamp(r.Session.EntryTime))
	fmt.Fprintf(&sb, "- Left: %s\n", stamp(r.Session.ExitTime))
	fmt.Fprintf(&sb, "- Duration: %s\n", r.Session.Duration)
	fmt.Fprintf(&sb, "- Active time: %s\n", r.Session.ActiveTime)
	if r.Session.Stale {
		sb.WriteString("- Ended by inactivity\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## Viewer\n\n")
	id := s.Identity
	fmt.Fprintf(&sb, "- User: %s\n", id.UserID)
	fmt.Fprintf(&sb, "- Location: %s (%s)\n", id.Location, id.Region)
	fmt.Fprintf(&sb, "- Device: %s, %s, %s\n", id.Device, id.OS, id.Browser)
	fmt.Fprintf(&sb, "- Identification sent: %t\n\n", s.IdentificationSent)

	switch s.Subject.Surface.Kind() {
	case telemetry.KindPaged:
		writePaged(&sb, s)
	case telemetry.KindVideo:
		writePlayback(&sb, s)
	case telemetry.KindPage:
		writeHeatmap(&sb, s)
	}

	sb.WriteString("## Absences\n\n")
	if len(s.Absences) == 0 {
		sb.WriteString("_The viewer never left._\n")
	} else {
		sb.WriteString("| Left | Returned | Away |\n")
		sb.WriteString("|------|----------|------|\n")
		for _, a := range s.Absences {
			fmt.Fprintf(&sb, "| %s | %s | %s |\n", stamp(a.Leave), stamp(a.Return), humanDuration(a.Duration))
		}
	}
	sb.WriteString("\n")

	return []byte(sb.String()), nil
}

func writePaged(sb *strings.Builder, s telemetry.Snapshot) {
	sb.WriteString("## Pages\n\n")
	if len(s.Units) == 0 {
		sb.WriteString("_No pages viewed._\n")
	} else {
		fmt.Fprintf(sb, "%d pages visited", s.PagesVisited())
		if s.MostVisited > 0 {
			fmt.Fprintf(sb, ", most time on page %d", s.MostVisited)
		}
		sb.WriteString(".\n\n")
		sb.WriteString("| Page | Time |\n")
		sb.WriteString("|------|------|\n")
		for _, u := range s.Units {
			fmt.Fprintf(sb, "| %d | %s |\n", u, humanDuration(s.UnitTime[u]))
		}
	}
	sb.WriteString("\n")

	sb.WriteString("## Selections\n\n")
	if len(s.Selections) == 0 {
		sb.WriteString("_No text selected._\n")
	} else {
		for _, sel := range s.Selections {
			fmt.Fprintf(sb, "- p.%d ×%d: %q\n", sel.Unit, sel.Count, sel.Text)
		}
	}
	sb.WriteString("\n")

	sb.WriteString("## Clicks\n\n")
	fmt.Fprintf(sb, "%d clicks in the viewer.\n", s.TotalClicks)
	for _, l := range s.Links {
		fmt.Fprintf(sb, "- [%s] p.%d %s\n", stamp(l.At), l.Unit, l.URL)
	}
	sb.WriteString("\n")
}

func writePlayback(sb *strings.Builder, s telemetry.Snapshot) {
	sb.WriteString("## Playback\n\n")
	p := s.Playback
	if p == nil {
		sb.WriteString("_No playback recorded._\n\n")
		return
	}
	fmt.Fprintf(sb, "- Watched: %s\n", humanDuration(s.ActiveTime))
	fmt.Fprintf(sb, "- Plays: %d, pauses: %d, seeks: %d\n", p.PlayCount, p.PauseCount, p.SeekCount)
	if p.Downloaded {
		sb.WriteString("- Downloaded\n")
	}
	sb.WriteString("\n")

	sb.WriteString("### Pauses\n\n")
	if len(p.PauseResume) == 0 {
		sb.WriteString("_None._\n")
	}
	for _, pr := range p.PauseResume {
		fmt.Fprintf(sb, "- %s → %s\n", delivery.FormatTime(pr.PauseAt), openEnd(pr.ResumeAt))
	}
	sb.WriteString("\n")

	sb.WriteString("### Skips and jumps\n\n")
	if len(p.Skips) == 0 && len(p.Jumps) == 0 {
		sb.WriteString("_None._\n")
	}
	for _, sk := range p.Skips {
		fmt.Fprintf(sb, "- skip %s → %s\n", delivery.FormatTime(sk.From), delivery.FormatTime(sk.To))
	}
	for _, j := range p.Jumps {
		fmt.Fprintf(sb, "- %s %s → %s\n", j.Kind, delivery.FormatTime(j.From), delivery.FormatTime(j.To))
	}
	sb.WriteString("\n")

	sb.WriteString("### Speed\n\n")
	if len(p.Speeds) == 0 {
		sb.WriteString("_Normal speed throughout._\n")
	}
	for _, sp := range p.Speeds {
		fmt.Fprintf(sb, "- %gx from %s to %s\n", sp.Speed, delivery.FormatTime(sp.Start), openEnd(sp.End))
	}
	for _, fs := range p.Fullscreen {
		fmt.Fprintf(sb, "- fullscreen from %s to %s\n", delivery.FormatTime(fs.Entered), openEnd(fs.Exited))
	}
	sb.WriteString("\n")
}

func writeHeatmap(sb *strings.Builder, s telemetry.Snapshot) {
	sb.WriteString("## Pointer heatmap\n\n")
	if len(s.Heatmap) == 0 {
		sb.WriteString("_No pointer activity._\n\n")
		return
	}
	cells := make([]string, 0, len(s.Heatmap))
	for k := range s.Heatmap {
		cells = append(cells, k)
	}
	sort.Slice(cells, func(i, j int) bool {
		if s.Heatmap[cells[i]] != s.Heatmap[cells[j]] {
			return s.Heatmap[cells[i]] > s.Heatmap[cells[j]]
		}
		return cells[i] < cells[j]
	})
	sb.WriteString("| Cell | Dwell |\n")
	sb.WriteString("|------|-------|\n")
	for _, k := range cells {
		fmt.Fprintf(sb, "| %s | %s |\n", k, humanDuration(s.Heatmap[k]))
	}
	sb.WriteString("\n")
}

func openEnd(v *float64) string {
	if v == nil {
		return "end"
	}
	return delivery.FormatTime(*v)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
