package utils

import (
	"testing"
)

func TestGetBaseDomain(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Simple subdomain",
			input:    "foo.example.com",
			expected: "example.com",
		},
		{
			name:     "Multiple subdomains",
			input:    "mail.subdomain.example.com",
			expected: "example.com",
		},
		{
			name:     "Akamai edge case",
			input:    "e3191.c.akamaiedge.net",
			expected: "c.akamaiedge.net",
		},
		{
			name:     "Already base domain",
			input:    "example.com",
			expected: "example.com",
		},
		{
			name:     "Top level domain",
			input:    "com",
			expected: "com",
		},
		{
			name:     "Empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GetBaseDomain(tt.input)
			if result != tt.expected {
				t.Errorf("GetBaseDomain(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Simple hostname",
			input:    "example.com",
			expected: "example.com",
		},
		{
			name:     "With trailing dot",
			input:    "example.com.",
			expected: "example.com",
		},
		{
			name:     "Uppercase",
			input:    "EXAMPLE.COM",
			expected: "example.com",
		},
		{
			name:     "Mixed case with trailing dot",
			input:    "Example.COM.",
			expected: "example.com",
		},
		{
			name:     "Empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeHost(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizeHost(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
