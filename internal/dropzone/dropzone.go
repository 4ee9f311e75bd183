package dropzone

/*
secagg — client for aggregating security metadata about domain names
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package dropzone turns a directory into a file-drop surface: every regular
// file created or rewritten in it is read, decoded to UTF-8 and delivered on
// a channel for the caller to merge into its domain list.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/time/rate"

	"github.com/x-stp/secagg/internal/domains"
	"github.com/x-stp/secagg/internal/metrics"
)

const (
	// DefaultDebounce is how long a path must stay quiet before it is read.
	DefaultDebounce = 200 * time.Millisecond

	// DefaultMaxFileBytes caps a single read.
	DefaultMaxFileBytes = 4 << 20

	// Reads per second and burst of the read limiter.
	defaultReadRate  = 10
	defaultReadBurst = 5
)

// ErrFileTooLarge is returned for files above the configured size cap.
var ErrFileTooLarge = errors.New("file too large")

// Drop is one file picked up from the directory.
type Drop struct {
	Path string
	// Text is the decoded content; empty when Err is set.
	Text string
	Err  error
}

// Options configures a Watcher. Zero values select the defaults.
type Options struct {
	Debounce     time.Duration
	MaxFileBytes int64
	ReadRate     rate.Limit
	ReadBurst    int
}

// Watcher delivers drops from one directory.
type Watcher struct {
	dir     string
	opts    Options
	fsw     *fsnotify.Watcher
	limiter *rate.Limiter

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool

	ready     chan string
	out       chan Drop
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates dir when missing and starts watching it.
func New(dir string, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}
	if opts.ReadRate <= 0 {
		opts.ReadRate = defaultReadRate
	}
	if opts.ReadBurst <= 0 {
		opts.ReadBurst = defaultReadBurst
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating drop directory %s: %w", dir, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	return &Watcher{
		dir:     dir,
		opts:    opts,
		fsw:     fsw,
		limiter: rate.NewLimiter(opts.ReadRate, opts.ReadBurst),
		pending: make(map[string]*time.Timer),
		ready:   make(chan string, 64),
		out:     make(chan Drop, 16),
		done:    make(chan struct{}),
	}, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Watch starts the event loop and returns the drop channel. The channel is
// closed once ctx is cancelled or Close is called. Call Watch once.
func (w *Watcher) Watch(ctx context.Context) <-chan Drop {
	w.wg.Add(1)
	go w.loop(ctx)
	log.Printf("Watching %s for dropped domain files", w.dir)
	return w.out
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	defer close(w.out)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if path, ok := w.handleEvent(event); ok {
				w.schedule(path)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("Drop directory watcher error: %v", err)
		case path := <-w.ready:
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
			drop := w.read(path)
			select {
			case w.out <- drop:
			case <-ctx.Done():
				return
			case <-w.done:
				return
			}
		}
	}
}

// handleEvent returns the path to read for create and write events on
// regular, non-hidden files.
func (w *Watcher) handleEvent(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return "", false
	}
	if ignored(filepath.Base(event.Name)) {
		return "", false
	}
	info, err := os.Stat(event.Name)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return event.Name, true
}

func ignored(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".tmp") ||
		strings.HasSuffix(name, ".swp")
}

// schedule (re)arms the debounce timer of path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.opts.Debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) read(path string) Drop {
	m := metrics.GetMetrics()
	text, err := ReadFile(path, w.opts.MaxFileBytes)
	if err != nil {
		log.Printf("Failed to read dropped file %s: %v", path, err)
		m.RecordDrop("error")
		return Drop{Path: path, Err: err}
	}
	if len(domains.Normalize(text)) == 0 {
		m.RecordDrop("empty")
	} else {
		m.RecordDrop("merged")
	}
	log.Printf("Read dropped file %s (%d bytes)", path, len(text))
	return Drop{Path: path, Text: text}
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		for p, t := range w.pending {
			t.Stop()
			delete(w.pending, p)
		}
		w.mu.Unlock()

		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}

// ReadFile reads at most maxBytes of path and decodes it with Decode.
func ReadFile(path string, maxBytes int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	b, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if int64(len(b)) > maxBytes {
		return "", fmt.Errorf("%s: %w (limit %d bytes)", path, ErrFileTooLarge, maxBytes)
	}
	return Decode(b)
}

// Decode converts file content to UTF-8. A UTF-8 or UTF-16 byte order mark
// selects that encoding; without one, valid UTF-8 is kept and anything else
// is read as Windows-1252.
func Decode(b []byte) (string, error) {
	var fallback transform.Transformer = transform.Nop
	if !utf8.Valid(b) {
		fallback = charmap.Windows1252.NewDecoder()
	}
	out, _, err := transform.Bytes(unicode.BOMOverride(fallback), b)
	if err != nil {
		return "", fmt.Errorf("decoding: %w", err)
	}
	return string(out), nil
}
