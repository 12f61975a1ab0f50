package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
)

func TestNewRequiresHosts(t *testing.T) {
	_, err := New(config.KafkaConfig{Enabled: true, Topic: "tlsrpt.reports"}, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestNewRequiresTopic(t *testing.T) {
	_, err := New(config.KafkaConfig{Enabled: true, Hosts: []string{"localhost:9092"}}, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestNewBuildsPlainWriterWithoutTLSOrSASL(t *testing.T) {
	m, err := New(config.KafkaConfig{
		Enabled: true,
		Hosts:   []string{"localhost:9092"},
		Topic:   "tlsrpt.reports",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "kafka", m.Name())
	assert.Nil(t, m.writer.Transport)
	require.NoError(t, m.Close())
}

func TestNewBuildsTLSTransportWhenSSLEnabled(t *testing.T) {
	m, err := New(config.KafkaConfig{
		Enabled:    true,
		Hosts:      []string{"localhost:9093"},
		Topic:      "tlsrpt.reports",
		SSL:        true,
		SkipVerify: true,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, m.writer.Transport)
	defer m.Close()
}

func TestNewBuildsSASLTransportWhenCredentialsSet(t *testing.T) {
	m, err := New(config.KafkaConfig{
		Enabled:  true,
		Hosts:    []string{"localhost:9092"},
		Topic:    "tlsrpt.reports",
		Username: "reporter",
		Password: "secret",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, m.writer.Transport)
	defer m.Close()
}

func TestSendReportFailsWithoutABroker(t *testing.T) {
	m, err := New(config.KafkaConfig{
		Enabled: true,
		Hosts:   []string{"127.0.0.1:1"},
		Topic:   "tlsrpt.reports",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = m.SendReport(ctx, "2026-07-30", "example.com", "test-report-id", []byte(`{"organization-name":"example"}`))
	require.Error(t, err)
}
