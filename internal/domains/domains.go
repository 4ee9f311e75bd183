package domains

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

/*
Package domains turns raw user input into the ordered, de-duplicated list of
domain tokens that is submitted to the aggregation backend.

Tokens are passed through verbatim once trimmed: no lower-casing, scheme or
trailing-slash stripping and no DNS validation happens on the client. Hostname
normalization, if any, is the backend's job.
*/

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

// separators maps every token boundary to a newline before splitting.
var separators = strings.NewReplacer(",", "\n", "\r", "\n")

// Normalize splits raw text on commas, carriage returns and newlines, trims
// every token and drops empty ones. Duplicates collapse to their first
// occurrence, so the result keeps insertion order.
//
// Empty or whitespace-only input yields an empty (nil) slice, not an error.
func Normalize(raw string) []string {
	if raw == "" {
		return nil
	}
	return dedupe(strings.Split(separators.Replace(raw), "\n"))
}

// Merge concatenates existing and incoming (in that order) and removes
// duplicates, keeping the first occurrence of each token.
func Merge(existing, incoming []string) []string {
	all := make([]string, 0, len(existing)+len(incoming))
	all = append(all, existing...)
	all = append(all, incoming...)
	return dedupe(all)
}

// Join renders a list as newline separated text, the inverse of Normalize for
// already normalized input.
func Join(list []string) string {
	return strings.Join(list, "\n")
}

// MergeText normalizes both texts, merges them (existing first) and returns
// the result as text. The drop zone uses it to rewrite the input area.
func MergeText(existing, dropped string) string {
	return Join(Merge(Normalize(existing), Normalize(dropped)))
}

// Fingerprint returns a NON-CRYPTOGRAPHIC xxh3 hash of the ordered list.
// Two lists share a fingerprint only if they hold the same tokens in the same
// order, which is what decides whether a result set is stale.
func Fingerprint(list []string) string {
	if len(list) == 0 {
		return ""
	}
	// NUL separator keeps ["ab"] and ["a","b"] apart.
	h := xxh3.HashString(strings.Join(list, "\x00"))
	return fmt.Sprintf("%016x", h)
}

func dedupe(tokens []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
