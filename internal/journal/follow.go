package journal

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"
)

// ErrRemoved is returned by Follow when the followed file is removed or
// renamed.
var ErrRemoved = errors.New("journal file removed")

// Follow calls fn for every entry already in the file at path and then for
// every entry appended to it, until ctx is cancelled, fn returns an error or
// the file goes away. A trailing partial line is held until its newline
// arrives.
func Follow(ctx context.Context, path string, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watch journal: %w", err)
	}

	t := &tail{r: bufio.NewReader(f), fn: fn}
	if err := t.drain(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) {
				if err := t.drain(); err != nil {
					return err
				}
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				return ErrRemoved
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were dropped; the data is still in the file.
				if err := t.drain(); err != nil {
					return err
				}
			}
		}
	}
}

type tail struct {
	r       *bufio.Reader
	fn      func(Entry) error
	partial []byte
	line    int
}

// drain reads every complete line available.
func (t *tail) drain() error {
	for {
		chunk, err := t.r.ReadBytes('\n')
		t.partial = append(t.partial, chunk...)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(t.partial) > maxLine {
			return &LineError{Line: t.line + 1, Err: errors.New("line too long")}
		}

		t.line++
		raw := bytes.TrimSpace(t.partial)
		t.partial = t.partial[:0]
		if len(raw) == 0 {
			continue
		}
		e, err := decodeLine(t.line, raw)
		if err != nil {
			return err
		}
		if err := t.fn(e); err != nil {
			return err
		}
	}
}
