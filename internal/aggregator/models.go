package aggregator

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
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// AggregateRequest is the JSON body of POST /aggregate.
type AggregateRequest struct {
	Domains []string `json:"domains"`
}

// AggregateResponse is the JSON body returned by the aggregation endpoints.
// A missing or null results field decodes to an empty result list.
type AggregateResponse struct {
	Results []Item `json:"results"`
}

// Item is one per-domain result record. Every facet below Security is
// optional; use the accessor methods, which define the default for each
// absent field, instead of walking the pointers by hand.
type Item struct {
	Domain   string    `json:"domain"`
	Security *Security `json:"security,omitempty"`
}

// Security groups the three independent security facets of an Item.
type Security struct {
	Vendors    []Vendor    `json:"vendors,omitempty"`
	VirusTotal *VirusTotal `json:"virustotal,omitempty"`
	MXToolbox  *MXToolbox  `json:"mxtoolbox,omitempty"`
}

// Vendor is a security technology detected on the domain (BuiltWith).
type Vendor struct {
	Name       string   `json:"name"`
	Categories []string `json:"categories,omitempty"`
}

// VirusTotal holds the VirusTotal projection of a domain report.
type VirusTotal struct {
	LastAnalysisStats *AnalysisStats    `json:"last_analysis_stats,omitempty"`
	Reputation        *int              `json:"reputation,omitempty"`
	Categories        map[string]string `json:"categories,omitempty"`
}

// AnalysisStats are the engine verdict counters of the last VirusTotal analysis.
type AnalysisStats struct {
	Malicious  *int `json:"malicious,omitempty"`
	Suspicious *int `json:"suspicious,omitempty"`
	Harmless   *int `json:"harmless,omitempty"`
}

// MXToolbox holds the mail related lookups.
type MXToolbox struct {
	DMARCRecord      *Record         `json:"dmarc_record,omitempty"`
	SPFRecord        *Record         `json:"spf_record,omitempty"`
	BlacklistSummary json.RawMessage `json:"blacklist_summary,omitempty"`
}

// Record is a DNS policy record reported verbatim by the backend. It is
// normally a JSON string; arrays of strings are joined with ",", false and
// numeric zero read as an absent record and any other JSON value keeps its
// compact textual form.
type Record string

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	if isFalsy(data) {
		*r = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = Record(s)
		return nil
	}
	var parts []string
	if err := json.Unmarshal(data, &parts); err == nil {
		*r = Record(strings.Join(parts, ","))
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return err
	}
	*r = Record(buf.String())
	return nil
}

// Vendors returns the detected vendors, nil when the facet is absent.
func (i Item) Vendors() []Vendor {
	if i.Security == nil {
		return nil
	}
	return i.Security.Vendors
}

// VendorNames returns the vendor names in detection order.
func (i Item) VendorNames() []string {
	vendors := i.Vendors()
	if len(vendors) == 0 {
		return nil
	}
	names := make([]string, 0, len(vendors))
	for _, v := range vendors {
		names = append(names, v.Name)
	}
	return names
}

// Stats returns the VirusTotal counters. An absent facet yields the zero
// value, whose counters all read as 0.
func (i Item) Stats() AnalysisStats {
	if i.Security == nil || i.Security.VirusTotal == nil || i.Security.VirusTotal.LastAnalysisStats == nil {
		return AnalysisStats{}
	}
	return *i.Security.VirusTotal.LastAnalysisStats
}

// Reputation returns the VirusTotal reputation score and whether it was reported.
func (i Item) Reputation() (int, bool) {
	if i.Security == nil || i.Security.VirusTotal == nil || i.Security.VirusTotal.Reputation == nil {
		return 0, false
	}
	return *i.Security.VirusTotal.Reputation, true
}

// DMARC returns the DMARC record, "" when absent.
func (i Item) DMARC() string {
	mx := i.mx()
	if mx == nil || mx.DMARCRecord == nil {
		return ""
	}
	return string(*mx.DMARCRecord)
}

// SPF returns the SPF record, "" when absent.
func (i Item) SPF() string {
	mx := i.mx()
	if mx == nil || mx.SPFRecord == nil {
		return ""
	}
	return string(*mx.SPFRecord)
}

// Blacklist returns the compact JSON text of the blacklist summary and
// whether it carries anything. null, false, "" and numeric zero read as
// absent and return ""; [] and {} are returned as-is but count as empty.
func (i Item) Blacklist() (string, bool) {
	mx := i.mx()
	if mx == nil || len(mx.BlacklistSummary) == 0 || isFalsy(mx.BlacklistSummary) {
		return "", false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, mx.BlacklistSummary); err != nil {
		// Raw bytes that are not JSON only come from hand-built values.
		return string(mx.BlacklistSummary), true
	}
	text := buf.String()
	if text == "[]" || text == "{}" {
		return text, false
	}
	return text, true
}

// isFalsy reports whether data is one of the JSON literals the backend uses
// for "nothing": null, false, "" or a number equal to zero.
func isFalsy(data []byte) bool {
	text := string(bytes.TrimSpace(data))
	switch text {
	case "null", "false", `""`:
		return true
	case "":
		return false
	}
	if c := text[0]; c != '-' && (c < '0' || c > '9') {
		return false
	}
	f, err := strconv.ParseFloat(text, 64)
	return err == nil && f == 0
}

func (i Item) mx() *MXToolbox {
	if i.Security == nil {
		return nil
	}
	return i.Security.MXToolbox
}

// MaliciousCount returns the malicious counter, 0 when absent.
func (s AnalysisStats) MaliciousCount() int { return deref(s.Malicious) }

// SuspiciousCount returns the suspicious counter, 0 when absent.
func (s AnalysisStats) SuspiciousCount() int { return deref(s.Suspicious) }

// HarmlessCount returns the harmless counter, 0 when absent.
func (s AnalysisStats) HarmlessCount() int { return deref(s.Harmless) }

// Flagged reports whether any engine considered the domain malicious or suspicious.
func (s AnalysisStats) Flagged() bool {
	return s.MaliciousCount()+s.SuspiciousCount() > 0
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
