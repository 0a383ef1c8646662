package cmd

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/viewtrack/internal/delivery"
	"github.com/fakeyudi/viewtrack/internal/report"
	"github.com/fakeyudi/viewtrack/internal/telemetry"
	"github.com/fakeyudi/viewtrack/internal/tui"
)

var plainOutput bool

var viewCmd = &cobra.Command{
	Use:   "view <file>",
	Short: "View a session report file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file not found: %s", path)
			}
			return err
		}

		r, err := report.ParserFor(path).Parse(data)
		if err != nil {
			return err
		}

		// The TUI needs a terminal; pipes get the plain summary.
		if plainOutput || !term.IsTerminal(os.Stdout.Fd()) {
			printReport(cmd.OutOrStdout(), r)
			return nil
		}
		return tui.Run(r, path)
	},
}

// printReport writes a plain-text summary to w.
func printReport(w io.Writer, r *report.Report) {
	s := r.Snapshot
	const stampLayout = "2006-01-02 15:04:05 MST"

	fmt.Fprintln(w, "## Summary")
	fmt.Fprintf(w, "  Subject:   %s (%s)\n", r.Session.SubjectID, r.Session.Surface)
	fmt.Fprintf(w, "  Source:    %s\n", r.Session.SourceURL)
	fmt.Fprintf(w, "  Session:   %s\n", r.Session.ID)
	fmt.Fprintf(w, "  Entered:   %s\n", r.Session.EntryTime.Format(stampLayout))
	fmt.Fprintf(w, "  Exited:    %s\n", r.Session.ExitTime.Format(stampLayout))
	fmt.Fprintf(w, "  Duration:  %s\n", r.Session.Duration)
	fmt.Fprintf(w, "  Active:    %s\n", r.Session.ActiveTime)
	if r.Session.Stale {
		fmt.Fprintln(w, "  Ended:     absence timeout")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Viewer")
	fmt.Fprintf(w, "  User:      %s\n", s.Identity.UserID)
	fmt.Fprintf(w, "  Location:  %s, %s\n", s.Identity.Location, s.Identity.Region)
	fmt.Fprintf(w, "  Device:    %s / %s / %s\n", s.Identity.Device, s.Identity.OS, s.Identity.Browser)
	fmt.Fprintln(w)

	switch s.Subject.Surface.Kind() {
	case telemetry.KindPaged:
		printPaged(w, s)
	case telemetry.KindVideo:
		printPlayback(w, s)
	case telemetry.KindPage:
		printHeatmap(w, s)
	}

	fmt.Fprintln(w, "## Absences")
	if len(s.Absences) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, a := range s.Absences {
		fmt.Fprintf(w, "  %s -> %s  (%s)\n", a.Leave.Format(time.TimeOnly), a.Return.Format(time.TimeOnly), human(a.Duration))
	}
	fmt.Fprintln(w)
}

func printPaged(w io.Writer, s telemetry.Snapshot) {
	fmt.Fprintln(w, "## Pages")
	if len(s.Units) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, u := range slices.Sorted(maps.Keys(s.UnitTime)) {
		mark := ""
		if u == s.MostVisited {
			mark = "  (most visited)"
		}
		fmt.Fprintf(w, "  p.%d  %s%s\n", u, human(s.UnitTime[u]), mark)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Selections")
	if len(s.Selections) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, sel := range s.Selections {
		fmt.Fprintf(w, "  p.%d  %q  x%d\n", sel.Unit, sel.Text, sel.Count)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Clicks")
	fmt.Fprintf(w, "  Total: %d\n", s.TotalClicks)
	for _, l := range s.Links {
		fmt.Fprintf(w, "  p.%d  %s\n", l.Unit, l.URL)
	}
	fmt.Fprintln(w)
}

func printPlayback(w io.Writer, s telemetry.Snapshot) {
	fmt.Fprintln(w, "## Playback")
	p := s.Playback
	if p == nil {
		fmt.Fprintln(w, "  (none)")
		fmt.Fprintln(w)
		return
	}
	fmt.Fprintf(w, "  Watched:     %s\n", human(s.ActiveTime))
	fmt.Fprintf(w, "  Plays:       %d\n", p.PlayCount)
	fmt.Fprintf(w, "  Pauses:      %d\n", p.PauseCount)
	fmt.Fprintf(w, "  Seeks:       %d\n", p.SeekCount)
	fmt.Fprintf(w, "  Skips:       %d\n", len(p.Skips))
	fmt.Fprintf(w, "  Jumps:       %d\n", len(p.Jumps))
	fmt.Fprintf(w, "  Fullscreen:  %d\n", len(p.Fullscreen))
	fmt.Fprintf(w, "  Downloaded:  %v\n", p.Downloaded)
	fmt.Fprintln(w)
}

func printHeatmap(w io.Writer, s telemetry.Snapshot) {
	fmt.Fprintln(w, "## Pointer heatmap")
	if len(s.Heatmap) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	cells := make([]string, 0, len(s.Heatmap))
	for cell := range s.Heatmap {
		cells = append(cells, cell)
	}
	slices.SortFunc(cells, func(a, b string) int {
		return cmp.Or(cmp.Compare(s.Heatmap[b], s.Heatmap[a]), strings.Compare(a, b))
	})
	for _, cell := range cells {
		fmt.Fprintf(w, "  %-12s %s\n", cell, human(s.Heatmap[cell]))
	}
	fmt.Fprintln(w)
}

func human(d time.Duration) string { return delivery.FormatTime(d.Seconds()) }

func init() {
	viewCmd.Flags().BoolVar(&plainOutput, "plain", false, "plain text output instead of TUI")
	rootCmd.AddCommand(viewCmd)
}
