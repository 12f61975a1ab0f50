package daemon

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenTranslatesDevelRollover(t *testing.T) {
	tok := New(true)
	defer tok.Stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR2))

	select {
	case sig := <-tok.Signals():
		assert.Equal(t, DevelRollover, sig)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SIGUSR2 to be classified")
	}

	select {
	case <-tok.Done():
		t.Fatal("context cancelled on a non-shutdown signal")
	default:
	}
}

func TestTokenShutdownCancelsContext(t *testing.T) {
	tok := New(false)
	defer tok.Stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case sig := <-tok.Signals():
		assert.Equal(t, Shutdown, sig)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SIGTERM to be classified")
	}

	select {
	case <-tok.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context was not cancelled after shutdown signal")
	}
}
