package aggregator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeItem(t *testing.T, raw string) Item {
	t.Helper()
	var it Item
	require.NoError(t, json.Unmarshal([]byte(raw), &it))
	return it
}

func TestItemAccessors_AbsentSecurity(t *testing.T) {
	t.Parallel()
	it := decodeItem(t, `{"domain":"x.com"}`)

	assert.Nil(t, it.Vendors())
	assert.Nil(t, it.VendorNames())
	assert.Equal(t, 0, it.Stats().MaliciousCount())
	assert.Equal(t, 0, it.Stats().SuspiciousCount())
	assert.Equal(t, 0, it.Stats().HarmlessCount())
	assert.False(t, it.Stats().Flagged())
	assert.Equal(t, "", it.DMARC())
	assert.Equal(t, "", it.SPF())
	_, ok := it.Blacklist()
	assert.False(t, ok)
	_, ok = it.Reputation()
	assert.False(t, ok)
}

func TestItemAccessors_PartialFacets(t *testing.T) {
	t.Parallel()
	it := decodeItem(t, `{"domain":"x.com","security":{"virustotal":{"last_analysis_stats":{"suspicious":2}},"mxtoolbox":{}}}`)

	assert.Equal(t, 0, it.Stats().MaliciousCount())
	assert.Equal(t, 2, it.Stats().SuspiciousCount())
	assert.True(t, it.Stats().Flagged())
	assert.Equal(t, "", it.DMARC())
}

func TestItemAccessors_FullRecord(t *testing.T) {
	t.Parallel()
	it := decodeItem(t, `{
		"domain": "example.com",
		"providers": {"ignored": true},
		"security": {
			"vendors": [{"name": "Cloudflare", "categories": ["CDN"]}, {"name": "Imperva"}],
			"virustotal": {"last_analysis_stats": {"malicious": 1, "suspicious": 0, "harmless": 60, "undetected": 5}, "reputation": -3},
			"mxtoolbox": {
				"dmarc_record": "v=DMARC1, p=reject",
				"spf_record": "v=spf1 -all",
				"blacklist_summary": [ ["Failed", 0], ["Blacklists", 2] ]
			}
		}
	}`)

	assert.Equal(t, []string{"Cloudflare", "Imperva"}, it.VendorNames())
	assert.Equal(t, 1, it.Stats().MaliciousCount())
	assert.Equal(t, 60, it.Stats().HarmlessCount())
	rep, ok := it.Reputation()
	assert.True(t, ok)
	assert.Equal(t, -3, rep)
	assert.Equal(t, "v=DMARC1, p=reject", it.DMARC())
	assert.Equal(t, "v=spf1 -all", it.SPF())
	bl, ok := it.Blacklist()
	assert.True(t, ok)
	assert.Equal(t, `[["Failed",0],["Blacklists",2]]`, bl)
}

func TestBlacklistEmptyForms(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{`null`, `[]`, `{}`, `""`, `false`, `0`, `0.0`, `-0`} {
		it := decodeItem(t, `{"domain":"x","security":{"mxtoolbox":{"blacklist_summary":`+raw+`}}}`)
		_, ok := it.Blacklist()
		assert.False(t, ok, raw)
	}
}

func TestBlacklistFalsyReadsAbsent(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		raw      string
		expected string
		ok       bool
	}{
		{`false`, "", false},
		{`0`, "", false},
		{` 0e3 `, "", false},
		{`null`, "", false},
		{`""`, "", false},
		{`[]`, "[]", false},
		{`{}`, "{}", false},
		{`1`, "1", true},
		{`true`, "true", true},
		{`"0"`, `"0"`, true},
		{`["spamhaus"]`, `["spamhaus"]`, true},
	}
	for _, tc := range testCases {
		it := decodeItem(t, `{"domain":"x","security":{"mxtoolbox":{"blacklist_summary":`+tc.raw+`}}}`)
		text, ok := it.Blacklist()
		assert.Equal(t, tc.expected, text, tc.raw)
		assert.Equal(t, tc.ok, ok, tc.raw)
	}
}

func TestRecordUnmarshal(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		raw      string
		expected string
	}{
		{`"v=spf1 include:_spf.example.com ~all"`, "v=spf1 include:_spf.example.com ~all"},
		{`["v=DMARC1", "p=none"]`, "v=DMARC1,p=none"},
		{`42`, "42"},
		{`{"a": 1}`, `{"a":1}`},
		{`0`, ""},
		{`-0.0`, ""},
		{`false`, ""},
		{`true`, "true"},
		{`""`, ""},
		{`"0"`, "0"},
	}
	for _, tc := range testCases {
		var r Record
		require.NoError(t, json.Unmarshal([]byte(tc.raw), &r), tc.raw)
		assert.Equal(t, tc.expected, string(r))
	}
}

func TestRecordNullStaysAbsent(t *testing.T) {
	t.Parallel()
	it := decodeItem(t, `{"domain":"x","security":{"mxtoolbox":{"dmarc_record":null,"spf_record":""}}}`)
	assert.Equal(t, "", it.DMARC())
	assert.Equal(t, "", it.SPF())
}

func TestErrorKindString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "transport", KindTransport.String())
	assert.Equal(t, "malformed_response", KindMalformedResponse.String())
	assert.Equal(t, "unknown", ErrorKind(9).String())
}
