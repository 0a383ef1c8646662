package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fakeyudi/viewtrack/internal/adapter"
	"github.com/fakeyudi/viewtrack/internal/clock"
	"github.com/fakeyudi/viewtrack/internal/delivery"
	"github.com/fakeyudi/viewtrack/internal/identity"
	"github.com/fakeyudi/viewtrack/internal/journal"
	"github.com/fakeyudi/viewtrack/internal/metrics"
	"github.com/fakeyudi/viewtrack/internal/telemetry"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu        sync.Mutex
	snapshots []telemetry.Snapshot
}

func (f *fakeSender) SendSnapshot(_ context.Context, s telemetry.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, s)
	return nil
}

func (f *fakeSender) Identify(context.Context, delivery.IdentifyRequest) error { return nil }

func (f *fakeSender) final() (telemetry.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.snapshots {
		if s.Final {
			return s, true
		}
	}
	return telemetry.Snapshot{}, false
}

type fixture struct {
	srv    *Server
	http   *httptest.Server
	clk    *clock.FakeClock
	sender *fakeSender
	m      *metrics.Metrics
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(metrics.Options{Registerer: reg})
	require.NoError(t, err)

	f := &fixture{clk: clock.Fake(t0), sender: &fakeSender{}, m: m}
	cfg := Config{
		Clock:    f.clk,
		Sender:   f.sender,
		Logger:   zaptest.NewLogger(t),
		Metrics:  m,
		Gatherer: reg,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.srv = New(cfg)
	f.http = httptest.NewServer(f.srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		f.srv.Shutdown(ctx)
		f.http.Close()
	})
	return f
}

func (f *fixture) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(f.http.URL, "http") + path
}

func (f *fixture) dial(t *testing.T, path string, header http.Header) (*websocket.Conn, *http.Response) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL(path), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, resp
}

func send(t *testing.T, conn *websocket.Conn, n adapter.Notification) {
	t.Helper()
	data, err := json.Marshal(n)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// handled waits until the server has applied count notifications of typ.
func (f *fixture) handled(t *testing.T, surface, typ string, count float64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.m.Notifications.WithLabelValues(surface, typ)) >= count
	}, 2*time.Second, 5*time.Millisecond)

	// Snapshot takes the viewer lock, so it returns once Handle has finished.
	f.srv.mu.Lock()
	defer f.srv.mu.Unlock()
	for sess := range f.srv.sessions {
		sess.v.Snapshot()
	}
}

func intp(v int) *int { return &v }

func TestUnknownSubjectIs404(t *testing.T) {
	f := newFixture(t, nil)

	for _, path := range []string{
		"/v/abc/ws?surface=epub&src=https://cdn.example.com/a.epub",
		"/v/abc/ws?surface=pdf",
		"/v/abc/ws?mime=application/zip",
	} {
		resp, err := http.Get(f.http.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
	assert.Zero(t, f.srv.Active())
}

func TestFailedUpgradeMountsNothing(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.http.URL + "/v/abc/ws?surface=pdf&src=https://cdn.example.com/a.pdf")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Zero(t, f.srv.Active())
	assert.Zero(t, testutil.ToFloat64(f.m.SessionsActive.WithLabelValues("pdf")))
	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	assert.Empty(t, f.sender.snapshots, "a request that never upgraded was flushed")
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.http.URL + "/healthz")
	require.NoError(t, err)
	var health struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health.Status)

	f.dial(t, "/v/abc/ws?surface=pdf&src=https://cdn.example.com/a.pdf", nil)
	require.Eventually(t, func() bool { return f.srv.Active() == 1 }, 2*time.Second, 5*time.Millisecond)

	resp, err = http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := bufio.NewScanner(resp.Body)
	found := false
	for body.Scan() {
		if strings.HasPrefix(body.Text(), `viewtrack_sessions_active{surface="pdf"} 1`) {
			found = true
		}
	}
	assert.True(t, found, "sessions_active gauge missing from /metrics")
}

func TestSessionFlushesFinalOnDisconnect(t *testing.T) {
	f := newFixture(t, nil)
	conn, _ := f.dial(t, "/v/abc/ws?mime=application/pdf&src=https://cdn.example.com/a.pdf", nil)

	send(t, conn, adapter.Notification{Type: adapter.TypePageChange, Page: intp(2)})
	conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	send(t, conn, adapter.Notification{Type: adapter.TypeClick, URL: "https://example.com/ref"})
	f.handled(t, "pdf", adapter.TypeClick, 1)

	f.clk.Advance(4 * time.Second)
	require.NoError(t, conn.Close())

	var final telemetry.Snapshot
	require.Eventually(t, func() bool {
		var ok bool
		final, ok = f.sender.final()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "abc", final.Subject.ID)
	assert.Equal(t, telemetry.PDF, final.Subject.Surface)
	assert.Contains(t, final.Units, 3)
	assert.Len(t, final.Links, 1)
	assert.Equal(t, 4*time.Second, final.ActiveTime)
	require.Eventually(t, func() bool { return f.srv.Active() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestStaleSessionGetsPolicyClose(t *testing.T) {
	f := newFixture(t, nil)
	conn, _ := f.dial(t, "/v/abc/ws?surface=docx&src=https://cdn.example.com/a.docx", nil)

	send(t, conn, adapter.Notification{Type: adapter.TypeVisibility, Hidden: true})
	f.handled(t, "docx", adapter.TypeVisibility, 1)
	f.clk.Advance(11 * time.Minute)
	send(t, conn, adapter.Notification{Type: adapter.TypeVisibility})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)

	require.Eventually(t, func() bool {
		s, ok := f.sender.final()
		return ok && s.Stale
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.StaleSessions.WithLabelValues("docx")))
}

func TestUserIDCookie(t *testing.T) {
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"city":"Porto","region":"Porto","country":"PT"}`))
	}))
	defer geo.Close()

	f := newFixture(t, func(c *Config) {
		c.Resolver = identity.NewResolver(identity.ResolverConfig{GeoEndpoint: geo.URL + "/{ip}"})
	})

	_, resp := f.dial(t, "/v/abc/ws?surface=video&src=https://cdn.example.com/a.mp4&screen=1920x1080", nil)
	var issued *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == UserIDCookie {
			issued = c
		}
	}
	require.NotNil(t, issued, "no user id cookie on the upgrade response")
	assert.Len(t, issued.Value, 64)

	header := http.Header{}
	header.Add("Cookie", (&http.Cookie{Name: UserIDCookie, Value: issued.Value}).String())
	_, resp = f.dial(t, "/v/abc/ws?surface=video&src=https://cdn.example.com/a.mp4", header)
	for _, c := range resp.Cookies() {
		assert.NotEqual(t, UserIDCookie, c.Name, "returning viewer was issued a new cookie")
	}
}

func TestShutdownClosesSessionsAndJournals(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, func(c *Config) { c.JournalDir = dir })

	conn, _ := f.dial(t, "/v/abc/ws?surface=pdf&src=https://cdn.example.com/a.pdf", nil)
	send(t, conn, adapter.Notification{Type: adapter.TypePageChange, Page: intp(1)})
	f.handled(t, "pdf", adapter.TypePageChange, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.srv.Shutdown(ctx))

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	_, ok := f.sender.final()
	assert.True(t, ok, "shutdown did not flush the session")

	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	file, err := os.Open(files[0])
	require.NoError(t, err)
	defer file.Close()
	j, err := journal.Read(file)
	require.NoError(t, err)
	assert.Equal(t, "abc", j.Subject.ID)
	require.Len(t, j.Entries, 1)
	assert.Equal(t, adapter.TypePageChange, j.Entries[0].Type)

	resp, err := http.Get(f.http.URL + "/v/abc/ws?surface=pdf&src=https://cdn.example.com/a.pdf")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
