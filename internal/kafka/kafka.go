// Package kafka mirrors rendered SMTP TLS reports onto a Kafka topic. It
// is a fire-and-forget sink: a publish failure is logged and counted, it
// never gates or retries report delivery (spec.md §4.8).
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/zap"

	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
)

const writeTimeout = 10 * time.Second

// Mirror publishes rendered reports to a Kafka topic. It implements
// reportd.Mirror.
type Mirror struct {
	writer *kafkago.Writer
	logger *zap.Logger
}

// New constructs a Kafka mirror from its configuration. The broker
// connection itself is lazy: kafka-go dials on first write.
func New(cfg config.KafkaConfig, logger *zap.Logger) (*Mirror, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("no kafka topic configured")
	}

	var tlsConfig *tls.Config
	if cfg.SSL {
		tlsConfig = &tls.Config{InsecureSkipVerify: cfg.SkipVerify}
	}
	var mechanism plain.Mechanism
	if cfg.Username != "" && cfg.Password != "" {
		mechanism = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Hosts...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
	}
	if tlsConfig != nil || mechanism.Username != "" {
		transport := &kafkago.Transport{TLS: tlsConfig}
		if mechanism.Username != "" {
			transport.SASL = mechanism
		}
		writer.Transport = transport
	}

	return &Mirror{writer: writer, logger: logger}, nil
}

// Name identifies this sink in metrics and logs.
func (m *Mirror) Name() string { return "kafka" }

// SendReport publishes the rendered RFC 8460 report JSON as one Kafka
// message keyed by reportID.
func (m *Mirror) SendReport(ctx context.Context, day, domain, reportID string, reportJSON []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	msg := kafkago.Message{
		Key:   []byte(reportID),
		Value: reportJSON,
		Time:  time.Now(),
		Headers: []kafkago.Header{
			{Key: "day", Value: []byte(day)},
			{Key: "domain", Value: []byte(domain)},
		},
	}

	if err := m.writer.WriteMessages(ctx, msg); err != nil {
		m.logger.Error("failed to publish report to kafka",
			zap.String("domain", domain), zap.String("day", day), zap.Error(err))
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

// Close releases the underlying writer's connections.
func (m *Mirror) Close() error { return m.writer.Close() }
