// Package delivery posts session telemetry and identification requests to
// the collection endpoints. Delivery is best-effort: failures are returned
// to the caller, never retried and never queued.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/fakeyudi/viewtrack/internal/telemetry"
)

// ErrNoEndpoint is returned when no endpoint is configured for a request.
var ErrNoEndpoint = errors.New("no endpoint configured")

// StatusError is returned when an endpoint answers outside 2xx.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string // first bytes of the response body
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("post %s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("post %s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// IdentifyRequest is the one-time identification body.
type IdentifyRequest struct {
	UserID     string `json:"userId"`
	DocumentID string `json:"documentId"`
	MimeType   string `json:"mimeType"`
	SessionID  string `json:"sessionId,omitempty"`
}

// Config configures a Client.
type Config struct {
	// Telemetry maps each surface to its flush endpoint.
	Telemetry map[telemetry.Surface]string
	Identify  string

	HTTPClient *http.Client
	// Timeout bounds each request when HTTPClient is nil.
	Timeout time.Duration
	// Compress gzips request bodies.
	Compress bool

	Payload PayloadOptions
}

// Client posts JSON bodies. It is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

const maxErrorBody = 512

// New returns a Client for cfg.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, http: hc}
}

// SendSnapshot posts the surface payload for snap.
func (c *Client) SendSnapshot(ctx context.Context, snap telemetry.Snapshot) error {
	endpoint := c.cfg.Telemetry[snap.Subject.Surface]
	if endpoint == "" {
		return fmt.Errorf("telemetry for %s: %w", snap.Subject.Surface, ErrNoEndpoint)
	}
	body, err := BuildPayload(snap, c.cfg.Payload)
	if err != nil {
		return err
	}
	return c.post(ctx, endpoint, body)
}

// Identify posts the identification request.
func (c *Client) Identify(ctx context.Context, req IdentifyRequest) error {
	if c.cfg.Identify == "" {
		return fmt.Errorf("identify: %w", ErrNoEndpoint)
	}
	return c.post(ctx, c.cfg.Identify, req)
}

func (c *Client) post(ctx context.Context, endpoint string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode body for %s: %w", endpoint, err)
	}

	var body io.Reader = bytes.NewReader(data)
	if c.cfg.Compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("compress body for %s: %w", endpoint, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compress body for %s: %w", endpoint, err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.Compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
