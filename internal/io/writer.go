package io

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

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/x-stp/secagg/internal/metrics"
)

const (
	// DefaultBufferSize is the default buffer size for disk I/O
	DefaultBufferSize = 64 * 1024 // 64KB

	// GzipExt is appended to the target path of compressed writes.
	GzipExt = ".gz"
)

var (
	// ErrWriterClosed is returned when writing to a committed or aborted writer
	ErrWriterClosed = errors.New("file writer closed")
)

// WriterOptions configures an AtomicWriter.
type WriterOptions struct {
	BufferSize int
	Compressed bool
	// Operation labels the disk metrics ("export" by default).
	Operation string
}

// DefaultWriterOptions returns the default options for AtomicWriter
func DefaultWriterOptions() *WriterOptions {
	return &WriterOptions{
		BufferSize: DefaultBufferSize,
		Compressed: false,
		Operation:  "export",
	}
}

// AtomicWriter buffers writes into a temporary file next to the target and
// renames it into place on Commit. Readers of the target never observe a
// partially written file.
type AtomicWriter struct {
	mu        sync.Mutex
	path      string
	tmp       *os.File
	gzWriter  *gzip.Writer
	bufWriter *bufio.Writer
	operation string
	written   int64
	closed    bool
}

// NewAtomicWriter prepares a write to path. The parent directory is created
// when missing.
func NewAtomicWriter(path string, options *WriterOptions) (*AtomicWriter, error) {
	if options == nil {
		options = DefaultWriterOptions()
	}
	if options.BufferSize <= 0 {
		options.BufferSize = DefaultBufferSize
	}
	if options.Operation == "" {
		options.Operation = "export"
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		metrics.GetMetrics().RecordWrite(options.Operation, 0, err)
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		metrics.GetMetrics().RecordWrite(options.Operation, 0, err)
		return nil, fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}

	w := &AtomicWriter{
		path:      path,
		tmp:       tmp,
		operation: options.Operation,
	}
	if options.Compressed {
		gzw, err := gzip.NewWriterLevel(tmp, gzip.BestSpeed)
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		w.gzWriter = gzw
		w.bufWriter = bufio.NewWriterSize(gzw, options.BufferSize)
	} else {
		w.bufWriter = bufio.NewWriterSize(tmp, options.BufferSize)
	}
	return w, nil
}

// Path returns the final path the writer commits to.
func (w *AtomicWriter) Path() string {
	return w.path
}

// Write implements io.Writer. The byte count is the uncompressed size.
func (w *AtomicWriter) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrWriterClosed
	}
	n, err := w.bufWriter.Write(data)
	w.written += int64(n)
	return n, err
}

// Commit flushes every layer, syncs the temp file and renames it over the
// target. It returns the number of uncompressed bytes written.
func (w *AtomicWriter) Commit() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrWriterClosed
	}
	w.closed = true

	m := metrics.GetMetrics()
	done := metrics.MeasureDuration(m.DiskWriteDuration, map[string]string{"operation": w.operation})
	err := w.finish()
	done()
	m.RecordWrite(w.operation, w.written, err)
	if err != nil {
		os.Remove(w.tmp.Name())
		return 0, err
	}
	return w.written, nil
}

func (w *AtomicWriter) finish() error {
	if err := w.bufWriter.Flush(); err != nil {
		w.tmp.Close()
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if w.gzWriter != nil {
		if err := w.gzWriter.Close(); err != nil {
			w.tmp.Close()
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
	}
	if err := w.tmp.Sync(); err != nil {
		w.tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", w.tmp.Name(), err)
	}
	if err := w.tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", w.tmp.Name(), err)
	}
	if err := os.Chmod(w.tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", w.tmp.Name(), err)
	}
	if err := os.Rename(w.tmp.Name(), w.path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", w.path, err)
	}
	return nil
}

// Abort discards the temp file. Calling it after Commit is a no-op.
func (w *AtomicWriter) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true
	w.tmp.Close()
	os.Remove(w.tmp.Name())
}

// WriteFile atomically writes data to path. With Compressed set the data is
// gzipped and GzipExt is appended to path unless already present. It returns
// the final path.
func WriteFile(path string, data []byte, options *WriterOptions) (string, int64, error) {
	if options != nil && options.Compressed && filepath.Ext(path) != GzipExt {
		path += GzipExt
	}
	w, err := NewAtomicWriter(path, options)
	if err != nil {
		return "", 0, err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return "", 0, err
	}
	n, err := w.Commit()
	if err != nil {
		return "", 0, err
	}
	return path, n, nil
}
