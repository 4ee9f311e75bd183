package render

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
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/x-stp/secagg/internal/aggregator"
)

const (
	// NotAvailable marks an absent DMARC, SPF or blacklist value.
	NotAvailable = "n/a"
	// NoneDetected replaces an empty vendor list.
	NoneDetected = "none detected"
	// Clean and Flagged classify the VirusTotal counters.
	Clean   = "clean"
	Flagged = "flagged"
)

// Summary is the display unit of one aggregation item.
type Summary struct {
	Domain         string
	Vendors        []string
	Malicious      int
	Suspicious     int
	Harmless       int
	Classification string
	DMARC          string
	SPF            string
	Blacklist      string
	// Reputation is nil when VirusTotal did not report one.
	Reputation *int
}

// Summarize projects item onto its display fields. It is total: any facet
// may be missing.
func Summarize(item aggregator.Item) Summary {
	stats := item.Stats()
	s := Summary{
		Domain:         item.Domain,
		Vendors:        item.VendorNames(),
		Malicious:      stats.MaliciousCount(),
		Suspicious:     stats.SuspiciousCount(),
		Harmless:       stats.HarmlessCount(),
		Classification: Clean,
		DMARC:          orNotAvailable(item.DMARC()),
		SPF:            orNotAvailable(item.SPF()),
		Blacklist:      NotAvailable,
	}
	if stats.Flagged() {
		s.Classification = Flagged
	}
	if bl, ok := item.Blacklist(); ok {
		s.Blacklist = bl
	}
	if rep, ok := item.Reputation(); ok {
		s.Reputation = &rep
	}
	return s
}

func orNotAvailable(s string) string {
	if s == "" {
		return NotAvailable
	}
	return s
}

// Styles holds the lipgloss styles used by a Renderer. Every style is only
// ever applied to single-line fragments.
type Styles struct {
	Domain  lipgloss.Style
	Label   lipgloss.Style
	Badge   lipgloss.Style
	Muted   lipgloss.Style
	Clean   lipgloss.Style
	Flagged lipgloss.Style
	// BadgeOpen and BadgeClose wrap badges when no colour is available.
	BadgeOpen  string
	BadgeClose string
}

// DefaultStyles returns the coloured terminal styles.
func DefaultStyles() *Styles {
	return &Styles{
		Domain: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")),
		Label: lipgloss.NewStyle().
			Bold(true),
		Badge: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#1E1E2E")).
			Background(lipgloss.Color("#06B6D4")).
			Padding(0, 1),
		Muted: lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("#6C7086")),
		Clean: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6E3A1")),
		Flagged: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F38BA8")),
	}
}

// PlainStyles renders without escape sequences; badges get brackets.
func PlainStyles() *Styles {
	plain := lipgloss.NewStyle()
	return &Styles{
		Domain:     plain,
		Label:      plain,
		Badge:      plain,
		Muted:      plain,
		Clean:      plain,
		Flagged:    plain,
		BadgeOpen:  "[",
		BadgeClose: "]",
	}
}

// Renderer turns result lists into text.
type Renderer struct {
	styles *Styles
}

// NewRenderer returns a Renderer; nil styles select PlainStyles.
func NewRenderer(styles *Styles) *Renderer {
	if styles == nil {
		styles = PlainStyles()
	}
	return &Renderer{styles: styles}
}

// Render writes one summary unit per item, in order, separated by a blank line.
func (r *Renderer) Render(w io.Writer, items []aggregator.Item) error {
	for i, item := range items {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, r.Unit(Summarize(item))); err != nil {
			return err
		}
	}
	return nil
}

// String returns the complete display of items. Callers replace any prior
// display with it.
func (r *Renderer) String(items []aggregator.Item) string {
	var sb strings.Builder
	_ = r.Render(&sb, items)
	return sb.String()
}

// Unit formats one summary, newline terminated.
func (r *Renderer) Unit(s Summary) string {
	st := r.styles
	var sb strings.Builder

	sb.WriteString(st.Domain.Render(s.Domain))
	sb.WriteByte('\n')

	r.line(&sb, "Security vendors", r.vendors(s.Vendors))

	class := st.Clean
	if s.Classification == Flagged {
		class = st.Flagged
	}
	vt := class.Render(s.Classification) + " " +
		fmt.Sprintf("malicious=%d, suspicious=%d, harmless=%d", s.Malicious, s.Suspicious, s.Harmless)
	if s.Reputation != nil {
		vt += fmt.Sprintf(", reputation=%d", *s.Reputation)
	}
	r.line(&sb, "VirusTotal", vt)

	r.line(&sb, "DMARC", r.value(s.DMARC))
	r.line(&sb, "SPF", r.value(s.SPF))
	r.line(&sb, "Blacklist summary", r.value(s.Blacklist))
	return sb.String()
}

func (r *Renderer) line(sb *strings.Builder, label, value string) {
	sb.WriteString("  ")
	sb.WriteString(r.styles.Label.Render(label + ":"))
	sb.WriteByte(' ')
	sb.WriteString(value)
	sb.WriteByte('\n')
}

func (r *Renderer) vendors(names []string) string {
	if len(names) == 0 {
		return r.styles.Muted.Render(NoneDetected)
	}
	badges := make([]string, 0, len(names))
	for _, n := range names {
		badges = append(badges, r.styles.Badge.Render(r.styles.BadgeOpen+n+r.styles.BadgeClose))
	}
	return strings.Join(badges, " ")
}

func (r *Renderer) value(v string) string {
	if v == NotAvailable {
		return r.styles.Muted.Render(v)
	}
	return v
}
