// Package journal reads and writes notification journals: JSON lines, one
// timestamped surface notification per line, that can be replayed into a
// viewer.
package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fakeyudi/viewtrack/internal/adapter"
	"github.com/fakeyudi/viewtrack/internal/identity"
	"github.com/fakeyudi/viewtrack/internal/telemetry"
)

// Line types that are not surface notifications.
const (
	// TypeMount opens a journal and names the subject.
	TypeMount = "mount"
	// TypeIdentity carries an identity update.
	TypeIdentity = "identity"
)

// maxLine bounds one journal line.
const maxLine = 1 << 20

// ErrNoMount is returned when a journal does not start with a mount line.
var ErrNoMount = errors.New("journal does not start with a mount line")

// Entry is one journal line.
type Entry struct {
	At time.Time `json:"at"`
	adapter.Notification

	Subject  *telemetry.Subject `json:"subject,omitempty"`
	Identity *identity.Identity `json:"identity,omitempty"`
}

// LineError reports a journal line that could not be decoded.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("journal line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Decoder reads entries from a journal stream.
type Decoder struct {
	sc   *bufio.Scanner
	line int
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &Decoder{sc: sc}
}

// Next returns the next entry, skipping blank lines. It returns io.EOF at
// the end of the stream.
func (d *Decoder) Next() (Entry, error) {
	for d.sc.Scan() {
		d.line++
		raw := bytes.TrimSpace(d.sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		return decodeLine(d.line, raw)
	}
	if err := d.sc.Err(); err != nil {
		return Entry{}, err
	}
	return Entry{}, io.EOF
}

func decodeLine(n int, raw []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, &LineError{Line: n, Err: err}
	}
	if e.Type == "" {
		return Entry{}, &LineError{Line: n, Err: errors.New("missing type")}
	}
	if e.At.IsZero() {
		return Entry{}, &LineError{Line: n, Err: errors.New("missing at")}
	}
	if e.Type == TypeMount && e.Subject == nil {
		return Entry{}, &LineError{Line: n, Err: errors.New("mount line without subject")}
	}
	if e.Type == TypeIdentity && e.Identity == nil {
		return Entry{}, &LineError{Line: n, Err: errors.New("identity line without identity")}
	}
	return e, nil
}

// Journal is a fully read journal.
type Journal struct {
	Subject telemetry.Subject
	Start   time.Time
	// Entries excludes the mount line.
	Entries []Entry
}

// Read reads a whole journal from r. The first entry must be a mount line.
func Read(r io.Reader) (*Journal, error) {
	dec := NewDecoder(r)
	first, err := dec.Next()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoMount
	}
	if err != nil {
		return nil, err
	}
	if first.Type != TypeMount {
		return nil, ErrNoMount
	}

	j := &Journal{Subject: *first.Subject, Start: first.At}
	for {
		e, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return j, nil
		}
		if err != nil {
			return nil, err
		}
		j.Entries = append(j.Entries, e)
	}
}

// Writer appends entries to a journal stream. It is safe for concurrent
// use.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

// NewWriter returns a Writer appending to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, enc: json.NewEncoder(w)}
}

// Mount writes the opening line for subject.
func (w *Writer) Mount(at time.Time, subject telemetry.Subject) error {
	return w.Write(Entry{At: at, Notification: adapter.Notification{Type: TypeMount}, Subject: &subject})
}

// Identity writes an identity update line.
func (w *Writer) Identity(at time.Time, id identity.Identity) error {
	return w.Write(Entry{At: at, Notification: adapter.Notification{Type: TypeIdentity}, Identity: &id})
}

// Notification writes a surface notification line.
func (w *Writer) Notification(at time.Time, n adapter.Notification) error {
	return w.Write(Entry{At: at, Notification: n})
}

// Write appends one entry.
func (w *Writer) Write(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	e.At = e.At.UTC()
	if err := w.enc.Encode(e); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	return nil
}
