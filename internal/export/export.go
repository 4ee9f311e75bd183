package export

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

// Package export serializes aggregation results to the CSV artifact.
//
// The dialect is loose: fields that may contain commas have
// them replaced by ';' and are wrapped in double quotes, but embedded quotes
// are not escaped. Consumers that need strict RFC 4180 should re-encode.

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/x-stp/secagg/internal/aggregator"
	secio "github.com/x-stp/secagg/internal/io"
)

const (
	// FileName is the default artifact name.
	FileName = "security_aggregator.csv"

	// MIMEType of the artifact.
	MIMEType = "text/csv"

	// Header is the first row of every document.
	Header = "domain,vendors,vt_malicious,vt_suspicious,vt_harmless,dmarc,spf,blacklist"

	emptyBlacklist = "[]"
)

// ErrNoResults is returned by Write for an empty result list.
var ErrNoResults = errors.New("no results to export")

var commaToSemicolon = strings.NewReplacer(",", ";")

// ToCSV returns the CSV document for items: the header plus one row per
// item in input order, joined by "\n" without a trailing newline.
func ToCSV(items []aggregator.Item) string {
	rows := make([]string, 0, len(items)+1)
	rows = append(rows, Header)
	for _, it := range items {
		rows = append(rows, Row(it))
	}
	return strings.Join(rows, "\n")
}

// Row returns the CSV row for one item.
func Row(it aggregator.Item) string {
	stats := it.Stats()
	fields := []string{
		it.Domain,
		quote(strings.Join(it.VendorNames(), ";")),
		strconv.Itoa(stats.MaliciousCount()),
		strconv.Itoa(stats.SuspiciousCount()),
		strconv.Itoa(stats.HarmlessCount()),
		quote(commaToSemicolon.Replace(it.DMARC())),
		quote(commaToSemicolon.Replace(it.SPF())),
		quote(commaToSemicolon.Replace(blacklistText(it))),
	}
	return strings.Join(fields, ",")
}

// blacklistText is the compact JSON of the summary; an absent summary
// serializes as an empty array.
func blacklistText(it aggregator.Item) string {
	text, _ := it.Blacklist()
	if text == "" {
		return emptyBlacklist
	}
	return text
}

func quote(s string) string {
	return `"` + s + `"`
}

// Write stores the CSV document for items at path, gzip-compressed with a
// ".gz" suffix when compress is set. It returns the final path and the
// number of uncompressed bytes.
func Write(path string, items []aggregator.Item, compress bool) (string, int64, error) {
	if len(items) == 0 {
		return "", 0, ErrNoResults
	}
	if path == "" {
		path = FileName
	}

	final, n, err := secio.WriteFile(path, []byte(ToCSV(items)), &secio.WriterOptions{
		Compressed: compress,
		Operation:  "export",
	})
	if err != nil {
		return "", 0, fmt.Errorf("exporting %d result(s): %w", len(items), err)
	}
	log.Printf("Exported %d result(s) to %s (%d bytes)", len(items), final, n)
	return final, n, nil
}
