// Package tlsrptrecord parses TLSRPT DNS record text into its rua=
// destinations and normalizes domain names for aggregation keys.
package tlsrptrecord

import (
	"fmt"
	"strings"
)

const recordVersion = "v=TLSRPTv1"

// Parse extracts the rua= destination URIs from a TLSRPT record, e.g.
// "v=TLSRPTv1; rua=mailto:reports@example.com,https://example.com/tlsrpt".
func Parse(record string) ([]string, error) {
	parts := strings.Split(record, ";")
	if len(parts) < 2 {
		return nil, fmt.Errorf("malformed TLSRPT record: no semicolon found")
	}
	if parts[0] != recordVersion {
		return nil, fmt.Errorf("Unsupported TLSRPT version: %s", parts[0])
	}
	ruaPart := strings.TrimSpace(parts[1])
	if !strings.HasPrefix(ruaPart, "rua=") {
		return nil, fmt.Errorf("malformed TLSRPT record: no rua found")
	}
	ruaPart = strings.TrimPrefix(ruaPart, "rua=")
	return strings.Split(ruaPart, ","), nil
}

// NormalizeDomainName lowercases a domain and strips exactly one trailing
// dot. A domain ending in two or more dots is left untouched, matching the
// reference implementation's behavior.
func NormalizeDomainName(domain string) string {
	d := strings.ToLower(domain)
	if len(d) > 1 && strings.HasSuffix(d, ".") && !strings.HasSuffix(d, "..") {
		d = d[:len(d)-1]
	}
	return d
}
