package telemetry

import (
	"testing"
	"time"
)

func TestCellKey(t *testing.T) {
	cases := []struct {
		x, y float64
		want string
	}{
		{0, 0, "0,0"},
		{9.9, 19.9, "0,0"},
		{10, 20, "20,20"},
		{35, 47, "40,40"},
		{-15, -1, "-20,-20"},
	}
	for _, c := range cases {
		if got := CellKey(c.x, c.y, 20); got != c.want {
			t.Errorf("CellKey(%v, %v) = %q, want %q", c.x, c.y, got, c.want)
		}
	}
}

func TestHeatmapDwellSuspendedWhileHidden(t *testing.T) {
	a, clk := newAgg(t, Weblink, DefaultOptions())

	a.OnPointerMoved(5, 5)
	clk.Advance(3 * time.Second)
	a.OnPointerMoved(35, 47)
	clk.Advance(2 * time.Second)
	a.OnHidden()
	clk.Advance(10 * time.Second)
	a.OnVisible()
	clk.Advance(time.Second)

	heat := a.Snapshot().Heatmap
	if heat["0,0"] != 3*time.Second {
		t.Errorf("cell 0,0 = %v, want 3s", heat["0,0"])
	}
	if heat["40,40"] != 3*time.Second {
		t.Errorf("cell 40,40 = %v, want 3s", heat["40,40"])
	}

	// The live record holds only dwell credited by moves and hides.
	if live := a.rec.Heatmap["40,40"]; live != 2*time.Second {
		t.Errorf("live cell 40,40 = %v, want 2s", live)
	}
}

func TestPointerIgnoredOnOtherSurfaces(t *testing.T) {
	a, _ := newAgg(t, PDF, DefaultOptions())
	a.OnPointerMoved(5, 5)
	if a.Snapshot().Heatmap != nil {
		t.Error("paged surface grew a heatmap")
	}
}

func TestSurfaceForMIME(t *testing.T) {
	cases := map[string]Surface{
		"video/mp4":       Video,
		"application/pdf": PDF,
		"application/msword": DOCX,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   DOCX,
		"application/vnd.openxmlformats-officedocument.presentationml.presentation": PPTX,
		"weblink":   Weblink,
		"text/html": Weblink,
		"":          Weblink,
	}
	for mime, want := range cases {
		if got := SurfaceForMIME(mime); got != want {
			t.Errorf("SurfaceForMIME(%q) = %q, want %q", mime, got, want)
		}
	}
}
