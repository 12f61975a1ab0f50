package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMakeYesterdayDBName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/var/lib/tlsrpt/collectd.sqlite3", "/var/lib/tlsrpt/collectd.yesterday.sqlite3"},
		{"collectd.db", "collectd.yesterday.db"},
		{"collectd", "collectd.yesterday"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MakeYesterdayDBName(tt.in), "input %q", tt.in)
	}
}
