package telemetry

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// OnTextSelected records a selection on unit. The text is trimmed and
// truncated; empty selections are ignored; repeats increment the count.
func (a *Aggregator) OnTextSelected(text string, unit int) {
	if a.done() {
		return
	}
	text = truncateRunes(strings.TrimSpace(text), MaxSelectionRunes)
	if text == "" {
		return
	}
	if unit < 0 {
		unit = 0
	}
	for i := range a.rec.Selections {
		if s := &a.rec.Selections[i]; s.Text == text && s.Unit == unit {
			s.Count++
			return
		}
	}
	a.rec.Selections = append(a.rec.Selections, Selection{Text: text, Unit: unit, Count: 1})
}

// OnLinkClicked records a followed link on unit.
func (a *Aggregator) OnLinkClicked(url string, unit int) {
	if a.done() {
		return
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return
	}
	if unit < 0 {
		unit = 0
	}
	a.rec.Links = append(a.rec.Links, LinkClick{Unit: unit, URL: url, At: a.clk.Now()})
}

// OnGeneralClick counts a click anywhere in the viewer.
func (a *Aggregator) OnGeneralClick() {
	if a.done() {
		return
	}
	a.rec.TotalClicks++
}

// heatCursor tracks the grid cell the pointer rests in. Dwell accrues only
// while the surface is visible.
type heatCursor struct {
	active bool
	key    string
	since  time.Time
}

func (h *heatCursor) suspend(a *Aggregator, now time.Time) {
	if !h.active || a.rec.Heatmap == nil {
		return
	}
	if d := now.Sub(h.since); d > 0 {
		a.rec.Heatmap[h.key] += d
	}
	h.since = now
}

func (h *heatCursor) resume(now time.Time) {
	if h.active {
		h.since = now
	}
}

// CellKey returns the heatmap key of the grid cell holding (x, y). Cells
// are centred horizontally on multiples of grid.
func CellKey(x, y float64, grid int) string {
	g := float64(grid)
	gx := math.Floor((x+g/2)/g) * g
	gy := math.Floor(y/g) * g
	// Avoid "-0" keys.
	if gx == 0 {
		gx = 0
	}
	if gy == 0 {
		gy = 0
	}
	return strconv.FormatFloat(gx, 'f', -1, 64) + "," + strconv.FormatFloat(gy, 'f', -1, 64)
}

// OnPointerMoved credits the dwell of the previous cell and moves the
// cursor to the cell holding (x, y). Page surfaces only.
func (a *Aggregator) OnPointerMoved(x, y float64) {
	if a.done() || a.kind != KindPage {
		return
	}
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return
	}
	now := a.clk.Now()
	if a.visible {
		a.heat.suspend(a, now)
	}
	key := CellKey(x, y, a.opts.GridSize)
	if _, ok := a.rec.Heatmap[key]; !ok {
		a.rec.Heatmap[key] = 0
	}
	a.heat = heatCursor{active: true, key: key, since: now}
}
