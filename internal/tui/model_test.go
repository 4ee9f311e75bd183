package tui

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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-stp/secagg/internal/aggregator"
	"github.com/x-stp/secagg/internal/core"
	"github.com/x-stp/secagg/internal/dropzone"
	"github.com/x-stp/secagg/internal/render"
)

type stubAggregator struct {
	items []aggregator.Item
	err   error
	got   []string
}

func (s *stubAggregator) Aggregate(_ context.Context, list []string) ([]aggregator.Item, error) {
	s.got = list
	return s.items, s.err
}

func newModel(t *testing.T, agg core.Aggregator, drops <-chan dropzone.Drop) *Model {
	t.Helper()
	m := New(context.Background(), Config{
		Orchestrator: core.NewOrchestrator(agg),
		Renderer:     render.NewRenderer(nil),
		Drops:        drops,
		ExportPath:   filepath.Join(t.TempDir(), "out.csv"),
	})
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return m
}

func ctrl(k tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: k}
}

// runCmd executes cmd and feeds every resulting message whose type matches
// one of the model's own messages back into Update.
func runCmd(m *Model, cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		for _, c := range msg {
			runCmd(m, c)
		}
	case aggregateDoneMsg, exportDoneMsg, dropMsg:
		_, next := m.Update(msg)
		if _, isDrop := msg.(dropMsg); !isDrop {
			runCmd(m, next)
		}
	}
}

func TestSubmitFlow(t *testing.T) {
	t.Parallel()
	agg := &stubAggregator{items: []aggregator.Item{{Domain: "a.com"}, {Domain: "b.com"}}}
	m := newModel(t, agg, nil)
	m.input.SetValue("a.com\na.com, b.com")

	_, cmd := m.Update(ctrl(tea.KeyCtrlS))
	snap := m.Snapshot()
	assert.Equal(t, core.StateProcessing, snap.State)
	assert.Equal(t, "Processing 2 domain(s)...", snap.Status)
	assert.False(t, m.keys.Submit.Enabled())

	runCmd(m, cmd)
	snap = m.Snapshot()
	assert.Equal(t, []string{"a.com", "b.com"}, agg.got)
	assert.Equal(t, core.StateDone, snap.State)
	assert.Equal(t, "Done. Processed 2 domain(s).", snap.Status)
	assert.True(t, m.keys.Export.Enabled())
	assert.True(t, m.keys.Submit.Enabled())
	assert.Contains(t, m.View(), "Done. Processed 2 domain(s).")
	assert.Contains(t, m.results.View(), "a.com")
}

func TestSubmitEmptyShowsHint(t *testing.T) {
	t.Parallel()
	agg := &stubAggregator{}
	m := newModel(t, agg, nil)

	_, cmd := m.Update(ctrl(tea.KeyCtrlS))
	assert.Nil(t, cmd)
	assert.Nil(t, agg.got)
	assert.Equal(t, core.StatusNoDomains, m.Snapshot().Status)
	assert.Contains(t, m.View(), core.StatusNoDomains)
}

func TestSubmitFailureKeepsPreviousResults(t *testing.T) {
	t.Parallel()
	agg := &stubAggregator{items: []aggregator.Item{{Domain: "a.com"}}}
	m := newModel(t, agg, nil)
	m.input.SetValue("a.com")
	_, cmd := m.Update(ctrl(tea.KeyCtrlS))
	runCmd(m, cmd)
	rendered := m.results.View()

	agg.err = &aggregator.Error{Kind: aggregator.KindTransport, StatusCode: 500}
	m.input.SetValue("b.com")
	_, cmd = m.Update(ctrl(tea.KeyCtrlS))
	runCmd(m, cmd)

	snap := m.Snapshot()
	assert.Equal(t, core.StateError, snap.State)
	assert.Contains(t, snap.Status, "500")
	assert.True(t, snap.ExportEnabled)
	assert.Equal(t, rendered, m.results.View())
}

func TestExportBeforeResults(t *testing.T) {
	t.Parallel()
	m := newModel(t, &stubAggregator{}, nil)
	m.input.SetValue("a.com")
	require.False(t, m.keys.Export.Enabled())

	_, cmd := m.Update(ctrl(tea.KeyCtrlO))
	assert.Nil(t, cmd)
	assert.Equal(t, "a.com", m.input.Value())
	assert.NoFileExists(t, m.exportPath)

	assert.Nil(t, m.export())
	assert.Equal(t, "Nothing to export yet.", m.notice)
}

func TestSubmitKeyDisabledWhileProcessing(t *testing.T) {
	t.Parallel()
	agg := &stubAggregator{items: []aggregator.Item{{Domain: "a.com"}}}
	m := newModel(t, agg, nil)
	m.input.SetValue("a.com")

	_, first := m.Update(ctrl(tea.KeyCtrlS))
	require.NotNil(t, first)
	require.False(t, m.keys.Submit.Enabled())

	m.input.SetValue("b.com")
	_, cmd := m.Update(ctrl(tea.KeyCtrlS))
	assert.Nil(t, cmd)
	assert.Equal(t, "b.com", m.input.Value())
	assert.Equal(t, "Processing 1 domain(s)...", m.Snapshot().Status)

	// the orchestrator still refuses a second submission on its own
	assert.Nil(t, m.submit())
	assert.Equal(t, "A submission is already in progress.", m.notice)
	assert.Equal(t, core.StateProcessing, m.Snapshot().State)

	runCmd(m, first)
	assert.Equal(t, []string{"a.com"}, agg.got)
	assert.True(t, m.keys.Submit.Enabled())
}

func TestStatusCountsReturnedResults(t *testing.T) {
	t.Parallel()
	agg := &stubAggregator{items: []aggregator.Item{{Domain: "a.com"}}}
	m := newModel(t, agg, nil)
	m.input.SetValue("a.com, b.com, c.com")

	_, cmd := m.Update(ctrl(tea.KeyCtrlS))
	assert.Equal(t, "Processing 3 domain(s)...", m.Snapshot().Status)
	runCmd(m, cmd)

	assert.Equal(t, []string{"a.com", "b.com", "c.com"}, agg.got)
	assert.Equal(t, "Done. Processed 1 domain(s).", m.Snapshot().Status)
	assert.Contains(t, m.View(), "Done. Processed 1 domain(s).")
}

func TestExportWritesArtifact(t *testing.T) {
	t.Parallel()
	m := newModel(t, &stubAggregator{items: []aggregator.Item{{Domain: "a.com"}}}, nil)
	m.input.SetValue("a.com")
	_, cmd := m.Update(ctrl(tea.KeyCtrlS))
	runCmd(m, cmd)

	_, cmd = m.Update(ctrl(tea.KeyCtrlO))
	require.NotNil(t, cmd)
	runCmd(m, cmd)

	assert.True(t, strings.HasPrefix(m.notice, "Exported "), m.notice)
	b, err := os.ReadFile(m.exportPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "domain,vendors,"))
}

func TestDropMergesIntoInput(t *testing.T) {
	t.Parallel()
	drops := make(chan dropzone.Drop, 2)
	m := newModel(t, &stubAggregator{}, drops)
	m.input.SetValue("a.com\nb.com")

	drops <- dropzone.Drop{Path: "/tmp/drop/list.txt", Text: "b.com, c.com\r\nd.com"}
	runCmd(m, waitForDrop(m.drops))
	assert.Equal(t, "a.com\nb.com\nc.com\nd.com", m.input.Value())
	assert.Equal(t, "Merged list.txt: 2 new domain(s).", m.notice)

	drops <- dropzone.Drop{Path: "/tmp/drop/bad.bin", Err: errors.New("file too large")}
	runCmd(m, waitForDrop(m.drops))
	assert.Equal(t, "a.com\nb.com\nc.com\nd.com", m.input.Value())
	assert.Contains(t, m.notice, "Could not read bad.bin")

	close(drops)
	runCmd(m, waitForDrop(m.drops))
	assert.Nil(t, m.drops)
}

func TestStaleResultsAreFlagged(t *testing.T) {
	t.Parallel()
	m := newModel(t, &stubAggregator{items: []aggregator.Item{{Domain: "a.com"}}}, nil)
	m.input.SetValue("a.com")
	_, cmd := m.Update(ctrl(tea.KeyCtrlS))
	runCmd(m, cmd)
	assert.NotContains(t, m.View(), "different list")

	m.input.SetValue("a.com\nz.com")
	assert.Contains(t, m.View(), "different list")
}

func TestQuit(t *testing.T) {
	t.Parallel()
	m := newModel(t, &stubAggregator{}, nil)
	_, cmd := m.Update(ctrl(tea.KeyEsc))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
