package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakeyudi/viewtrack/internal/clock"
	"github.com/fakeyudi/viewtrack/internal/telemetry"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func pdfSnapshot(t *testing.T) telemetry.Snapshot {
	t.Helper()
	clk := clock.Fake(t0)
	a, err := telemetry.NewAggregator(clk, telemetry.Subject{
		ID: "aB3xY9", SourceURL: "https://cdn.example.com/a.pdf", Surface: telemetry.PDF,
	}, telemetry.DefaultOptions())
	require.NoError(t, err)
	a.OnUnitChanged(1)
	for i := 0; i < 4; i++ {
		clk.Advance(time.Second)
		a.OnTick()
	}
	a.OnTextSelected("Hello", 1)
	return a.Snapshot()
}

type capture struct {
	header http.Header
	body   map[string]any
}

func captureServer(t *testing.T, status int, got *capture) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.header = r.Header.Clone()
		var rd io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			zr, err := gzip.NewReader(r.Body)
			if !assert.NoError(t, err) {
				return
			}
			rd = zr
		}
		assert.NoError(t, json.NewDecoder(rd).Decode(&got.body))
		w.WriteHeader(status)
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSendSnapshotPostsSurfacePayload(t *testing.T) {
	var got capture
	srv := captureServer(t, http.StatusOK, &got)
	c := New(Config{Telemetry: map[telemetry.Surface]string{telemetry.PDF: srv.URL}})

	require.NoError(t, c.SendSnapshot(context.Background(), pdfSnapshot(t)))

	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, "aB3xY9", got.body["pdfId"])
	assert.Equal(t, "https://cdn.example.com/a.pdf", got.body["sourceUrl"])
	assert.EqualValues(t, 4, got.body["totalTimeSpent"])
	assert.EqualValues(t, 1, got.body["mostVisitedPage"])
	assert.Equal(t, "Detecting...", got.body["ip"])
	assert.Equal(t, map[string]any{"1": float64(4)}, got.body["pageTimeSpent"])
	assert.NotContains(t, got.body, "videoId")
	assert.NotContains(t, got.body, "final")
}

func TestSendSnapshotCompressed(t *testing.T) {
	var got capture
	srv := captureServer(t, http.StatusCreated, &got)
	c := New(Config{Telemetry: map[telemetry.Surface]string{telemetry.PDF: srv.URL}, Compress: true})

	snap := pdfSnapshot(t)
	snap.Final = true
	require.NoError(t, c.SendSnapshot(context.Background(), snap))
	assert.Equal(t, "gzip", got.header.Get("Content-Encoding"))
	assert.Equal(t, true, got.body["final"])
}

func TestNon2xxIsStatusError(t *testing.T) {
	var got capture
	srv := captureServer(t, http.StatusServiceUnavailable, &got)
	c := New(Config{Telemetry: map[telemetry.Surface]string{telemetry.PDF: srv.URL}})

	err := c.SendSnapshot(context.Background(), pdfSnapshot(t))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Contains(t, se.Error(), "503")
}

func TestMissingEndpoint(t *testing.T) {
	c := New(Config{})
	assert.True(t, errors.Is(c.SendSnapshot(context.Background(), pdfSnapshot(t)), ErrNoEndpoint))
	assert.True(t, errors.Is(c.Identify(context.Background(), IdentifyRequest{}), ErrNoEndpoint))
}

func TestIdentifyBody(t *testing.T) {
	var got capture
	srv := captureServer(t, http.StatusOK, &got)
	c := New(Config{Identify: srv.URL})

	require.NoError(t, c.Identify(context.Background(), IdentifyRequest{
		UserID: "u-0123456789abcdef", DocumentID: "aB3xY9", MimeType: "pdf", SessionID: "s-1",
	}))
	assert.Equal(t, map[string]any{
		"userId": "u-0123456789abcdef", "documentId": "aB3xY9", "mimeType": "pdf", "sessionId": "s-1",
	}, got.body)
}

func TestTransportErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{Identify: url, Timeout: time.Second})
	err := c.Identify(context.Background(), IdentifyRequest{UserID: "u"})
	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
}
