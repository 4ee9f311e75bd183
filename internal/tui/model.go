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

// Package tui is the interactive front end: a text area for the domain list,
// a status line, a scrollable results view and an export key, all driven by
// a core.Orchestrator. Files dropped into the watched directory are merged
// into the text area.

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/x-stp/secagg/internal/aggregator"
	"github.com/x-stp/secagg/internal/core"
	"github.com/x-stp/secagg/internal/domains"
	"github.com/x-stp/secagg/internal/dropzone"
	"github.com/x-stp/secagg/internal/render"
)

const (
	inputHeight = 8
	// title, status, notice, help and separators
	chromeHeight = 7
)

// aggregateDoneMsg carries the outcome of the backend call.
type aggregateDoneMsg struct {
	domains []string
	items   []aggregator.Item
	err     error
}

// dropMsg carries one file from the drop directory; ok is false once the
// watcher has stopped.
type dropMsg struct {
	drop dropzone.Drop
	ok   bool
}

// exportDoneMsg carries the outcome of writing the CSV artifact.
type exportDoneMsg struct {
	path  string
	bytes int64
	err   error
}

// Config holds the collaborators of the model.
type Config struct {
	Orchestrator *core.Orchestrator
	Renderer     *render.Renderer
	// Drops is nil when no drop directory is watched.
	Drops      <-chan dropzone.Drop
	DropDir    string
	ExportPath string
	Compress   bool
}

// Model is the bubbletea model of the aggregation screen.
type Model struct {
	ctx      context.Context
	orch     *core.Orchestrator
	renderer *render.Renderer
	keys     *KeyMap

	input   textarea.Model
	results viewport.Model
	spinner spinner.Model
	help    help.Model

	drops      <-chan dropzone.Drop
	dropDir    string
	exportPath string
	compress   bool

	snap   core.Snapshot
	notice string
	width  int
	height int
}

// Ensure Model implements tea.Model.
var _ tea.Model = (*Model)(nil)

// New returns a model bound to cfg.Orchestrator.
func New(ctx context.Context, cfg Config) *Model {
	if cfg.Renderer == nil {
		cfg.Renderer = render.NewRenderer(render.DefaultStyles())
	}

	ta := textarea.New()
	ta.Placeholder = "example.com, example.org\none domain per line, or comma separated"
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.MaxHeight = 0
	ta.SetHeight(inputHeight)
	ta.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED"))

	m := &Model{
		ctx:        ctx,
		orch:       cfg.Orchestrator,
		renderer:   cfg.Renderer,
		keys:       DefaultKeyMap(),
		input:      ta,
		results:    viewport.New(80, 10),
		spinner:    sp,
		help:       help.New(),
		drops:      cfg.Drops,
		dropDir:    cfg.DropDir,
		exportPath: cfg.ExportPath,
		compress:   cfg.Compress,
		snap:       cfg.Orchestrator.Snapshot(),
	}
	m.syncKeys()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		tea.SetWindowTitle("secagg"),
		waitForDrop(m.drops),
	)
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case aggregateDoneMsg:
		m.snap = m.orch.Complete(msg.domains, msg.items, msg.err)
		if msg.err == nil {
			m.results.SetContent(m.renderer.String(m.snap.Results))
			m.results.GotoTop()
		}
		m.syncKeys()
		return m, nil

	case exportDoneMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("Export failed: %v", msg.err)
		} else {
			m.notice = fmt.Sprintf("Exported %s (%d bytes)", msg.path, msg.bytes)
		}
		return m, nil

	case dropMsg:
		if !msg.ok {
			m.drops = nil
			m.notice = "Drop directory closed."
			return m, nil
		}
		m.applyDrop(msg.drop)
		return m, waitForDrop(m.drops)

	case spinner.TickMsg:
		if m.snap.State != core.StateProcessing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Submit):
		return m, m.submit()

	case key.Matches(msg, m.keys.Export):
		return m, m.export()

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.resize(m.width, m.height)
		return m, nil

	case key.Matches(msg, m.keys.ScrollUp, m.keys.ScrollDown):
		var cmd tea.Cmd
		m.results, cmd = m.results.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit starts a submission of the text area content. The orchestrator
// rejects it while another one is processing.
func (m *Model) submit() tea.Cmd {
	list, err := m.orch.Begin(m.input.Value())
	m.snap = m.orch.Snapshot()
	m.syncKeys()
	if err != nil {
		if errors.Is(err, core.ErrSubmissionInFlight) {
			m.notice = "A submission is already in progress."
		}
		return nil
	}
	m.notice = ""

	ctx, orch := m.ctx, m.orch
	call := func() tea.Msg {
		items, err := orch.Call(ctx, list)
		return aggregateDoneMsg{domains: list, items: items, err: err}
	}
	return tea.Batch(m.spinner.Tick, call)
}

func (m *Model) export() tea.Cmd {
	if !m.snap.ExportEnabled {
		m.notice = "Nothing to export yet."
		return nil
	}
	orch, path, compress := m.orch, m.exportPath, m.compress
	return func() tea.Msg {
		final, n, err := orch.WriteExport(path, compress)
		return exportDoneMsg{path: final, bytes: n, err: err}
	}
}

// applyDrop merges a dropped file into the text area, existing entries first.
func (m *Model) applyDrop(d dropzone.Drop) {
	name := filepath.Base(d.Path)
	if d.Err != nil {
		m.notice = fmt.Sprintf("Could not read %s: %v", name, d.Err)
		return
	}
	before := len(domains.Normalize(m.input.Value()))
	merged := domains.MergeText(m.input.Value(), d.Text)
	added := len(domains.Normalize(merged)) - before
	m.input.SetValue(merged)
	m.notice = fmt.Sprintf("Merged %s: %d new domain(s).", name, added)
}

func waitForDrop(ch <-chan dropzone.Drop) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		d, ok := <-ch
		return dropMsg{drop: d, ok: ok}
	}
}

func (m *Model) syncKeys() {
	m.keys.Submit.SetEnabled(m.snap.SubmitEnabled)
	m.keys.Export.SetEnabled(m.snap.ExportEnabled)
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	if width <= 0 || height <= 0 {
		return
	}
	m.input.SetWidth(width - 2)
	m.help.Width = width

	chrome := chromeHeight
	if m.help.ShowAll {
		chrome += 2
	}
	vh := height - inputHeight - chrome
	if vh < 3 {
		vh = 3
	}
	m.results.Width = width
	m.results.Height = vh
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1"))
	staleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF"))
	borderStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(lipgloss.Color("#45475A"))
)

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder

	title := titleStyle.Render("Security Aggregator")
	if m.dropDir != "" && m.drops != nil {
		title += mutedStyle.Render("  drop files into " + m.dropDir)
	}
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(borderStyle.Width(m.results.Width).Render(m.results.View()))
	b.WriteString("\n")
	if m.notice != "" {
		b.WriteString(mutedStyle.Render(m.notice))
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) statusLine() string {
	status := m.snap.Status
	switch m.snap.State {
	case core.StateProcessing:
		return m.spinner.View() + " " + status
	case core.StateError:
		return errorStyle.Render(status)
	case core.StateDone:
		line := okStyle.Render(status)
		if m.snap.StaleFor(m.input.Value()) {
			line += staleStyle.Render("  (results are for a different list)")
		}
		return line
	}
	if status == "" {
		return mutedStyle.Render("Paste or type domains, then press ctrl+s.")
	}
	return status
}

// Snapshot returns the last orchestrator snapshot applied to the model.
func (m *Model) Snapshot() core.Snapshot {
	return m.snap
}
