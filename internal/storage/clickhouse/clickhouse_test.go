package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
)

// TestNewFailsWithoutAReachableServer exercises connection setup against
// an address nothing is listening on; CI has no ClickHouse server.
func TestNewFailsWithoutAReachableServer(t *testing.T) {
	cfg := config.ClickHouseConfig{
		Enabled:  true,
		Host:     "127.0.0.1",
		Port:     1,
		Database: "tlsrpt_test",
		Username: "default",
	}
	_, err := New(cfg, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestSendReportRejectsMalformedJSON(t *testing.T) {
	m := &Mirror{logger: zaptest.NewLogger(t)}
	err := m.SendReport(context.Background(), "2026-07-30", "example.com", "test-report-id", []byte("not json"))
	require.Error(t, err)
}

func TestNameIsClickhouse(t *testing.T) {
	m := &Mirror{}
	require.Equal(t, "clickhouse", m.Name())
}
