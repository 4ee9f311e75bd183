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

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"plain utf8", []byte("a.com\nb.com"), "a.com\nb.com"},
		{"utf8 bom", []byte("\xef\xbb\xbfa.com"), "a.com"},
		{"utf16le bom", []byte{0xff, 0xfe, 'a', 0, '.', 0, 'c', 0, 'o', 0, 'm', 0}, "a.com"},
		{"utf16be bom", []byte{0xfe, 0xff, 0, 'x', 0, '.', 0, 'i', 0, 'o'}, "x.io"},
		{"windows-1252", []byte("caf\xe9.example"), "café.example"},
		{"empty", nil, ""},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Decode(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestReadFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("a.com,b.com"), 0644))

	text, err := ReadFile(path, 64)
	require.NoError(t, err)
	assert.Equal(t, "a.com,b.com", text)

	_, err = ReadFile(path, 4)
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = ReadFile(filepath.Join(dir, "missing.txt"), 64)
	assert.Error(t, err)
}

func TestHandleEvent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := New(dir, Options{})
	require.NoError(t, err)
	defer w.Close()

	regular := filepath.Join(dir, "list.txt")
	hidden := filepath.Join(dir, ".list.txt")
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.WriteFile(regular, []byte("a.com"), 0644))
	require.NoError(t, os.WriteFile(hidden, []byte("a.com"), 0644))
	require.NoError(t, os.Mkdir(sub, 0755))

	testCases := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"create", fsnotify.Event{Name: regular, Op: fsnotify.Create}, true},
		{"write", fsnotify.Event{Name: regular, Op: fsnotify.Write}, true},
		{"write chmod", fsnotify.Event{Name: regular, Op: fsnotify.Write | fsnotify.Chmod}, true},
		{"chmod", fsnotify.Event{Name: regular, Op: fsnotify.Chmod}, false},
		{"remove", fsnotify.Event{Name: regular, Op: fsnotify.Remove}, false},
		{"hidden", fsnotify.Event{Name: hidden, Op: fsnotify.Create}, false},
		{"directory", fsnotify.Event{Name: sub, Op: fsnotify.Create}, false},
		{"vanished", fsnotify.Event{Name: filepath.Join(dir, "gone.txt"), Op: fsnotify.Create}, false},
	}
	for _, tc := range testCases {
		_, got := w.handleEvent(tc.event)
		assert.Equal(t, tc.want, got, tc.name)
	}
}

func TestWatchDeliversDrops(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "drop")
	w, err := New(dir, Options{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	drops := w.Watch(ctx)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "domains.csv"), []byte("a.com, b.com\r\nc.com"), 0644)
	}()

	select {
	case d := <-drops:
		require.NoError(t, d.Err)
		assert.Equal(t, "domains.csv", filepath.Base(d.Path))
		assert.Equal(t, "a.com, b.com\r\nc.com", d.Text)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for drop")
	}
}

func TestWatchClosesChannelOnCancel(t *testing.T) {
	w, err := New(t.TempDir(), Options{})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	drops := w.Watch(ctx)
	cancel()

	select {
	case _, ok := <-drops:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("drop channel not closed after cancel")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	w, err := New(t.TempDir(), Options{})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
