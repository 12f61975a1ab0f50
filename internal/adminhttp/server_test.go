package adminhttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServerDisabledStartReturnsImmediately(t *testing.T) {
	s := New(config.HTTPConfig{Enabled: false}, "tlsrpt-test", zaptest.NewLogger(t))
	require.NoError(t, s.Start(context.Background()))
}

func TestServerHealthAndMetrics(t *testing.T) {
	port := freePort(t)
	cfg := config.HTTPConfig{Enabled: true, Host: "127.0.0.1", Port: port, RateLimit: 0}
	s := New(cfg, "tlsrpt-test", zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get(base + "/health")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	cancel()
	require.NoError(t, <-done)
}
