package tlsrptrecord

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInvalidFormat(t *testing.T) {
	_, err := Parse("not a tlsrpt record")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no semicolon found")
}

func TestParseInvalidVersion(t *testing.T) {
	_, err := Parse("v=TLSRPTv99;rua=mailto:reports@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unsupported TLSRPT version")
}

func TestParseValid(t *testing.T) {
	tests := []struct {
		name   string
		record string
		want   []string
	}{
		{
			name:   "single destination",
			record: "v=TLSRPTv1;rua=mailto:reports@example.com",
			want:   []string{"mailto:reports@example.com"},
		},
		{
			name:   "trailing semicolon",
			record: "v=TLSRPTv1;rua=mailto:reports@example.com;",
			want:   []string{"mailto:reports@example.com"},
		},
		{
			name:   "multiple destinations",
			record: "v=TLSRPTv1;rua=mailto:reports@example.com,mailto:hostmaster@example.com",
			want:   []string{"mailto:reports@example.com", "mailto:hostmaster@example.com"},
		},
		{
			name:   "mixed scheme destinations with leading space",
			record: "v=TLSRPTv1; rua=mailto:reports@example.com,https://reportbot.example.com:12345/tlsrpt",
			want:   []string{"mailto:reports@example.com", "https://reportbot.example.com:12345/tlsrpt"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.record)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRoundTrips(t *testing.T) {
	uris := []string{"mailto:a@example.com", "https://example.com/tlsrpt", "mailto:b@example.org"}
	record := recordVersion + ";rua=" + strings.Join(uris, ",")
	got, err := Parse(record)
	require.NoError(t, err)
	assert.Equal(t, uris, got)
}

func TestNormalizeDomainName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{".", "."},
		{"example.com", "example.com"},
		{"NAME.tld", "name.tld"},
		{"name.tld.", "name.tld"},
		{"name.tld..", "name.tld.."},
		{"name.tld...", "name.tld..."},
		{"NAME.TLD.", "name.tld"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeDomainName(tt.in), "input %q", tt.in)
	}
}

func TestNormalizeDomainNameIdempotent(t *testing.T) {
	for _, d := range []string{"Example.COM.", "foo.bar", "x..", "X.Y..."} {
		once := NormalizeDomainName(d)
		twice := NormalizeDomainName(once)
		assert.Equal(t, once, twice)
	}
}
