// Package clickhouse mirrors rendered SMTP TLS reports into ClickHouse for
// long-term analytics: one row per report in tlsrpt_reports, one row per
// policy result in tlsrpt_policies. Like the Kafka mirror, it is
// fire-and-forget and never gates core delivery (spec.md §4.8).
package clickhouse

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
	"github.com/andreasschulze/tlsrpt-reporter/internal/render"
)

// Mirror writes rendered reports and their policy results into ClickHouse.
// It implements reportd.Mirror.
type Mirror struct {
	conn   driver.Conn
	logger *zap.Logger
}

// New opens the ClickHouse connection, pings it and creates the mirror
// tables if they don't already exist.
func New(cfg config.ClickHouseConfig, logger *zap.Logger) (*Mirror, error) {
	options := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
	if cfg.TLS {
		options.TLS = &tls.Config{InsecureSkipVerify: cfg.SkipVerify}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	m := &Mirror{conn: conn, logger: logger}
	if err := m.createTables(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create clickhouse tables: %w", err)
	}
	return m, nil
}

func (m *Mirror) createTables(ctx context.Context) error {
	reportsSQL := `
	CREATE TABLE IF NOT EXISTS tlsrpt_reports (
		day String,
		domain String,
		report_id String,
		organization_name String,
		contact_info String,
		start_datetime DateTime,
		end_datetime DateTime,
		report_json String,
		created_at DateTime DEFAULT now()
	) ENGINE = MergeTree()
	ORDER BY (day, domain, report_id)
	PARTITION BY day`

	if err := m.conn.Exec(ctx, reportsSQL); err != nil {
		return fmt.Errorf("tlsrpt_reports: %w", err)
	}

	policiesSQL := `
	CREATE TABLE IF NOT EXISTS tlsrpt_policies (
		day String,
		domain String,
		report_id String,
		policy_type String,
		policy_domain String,
		total_successful_session_count UInt64,
		total_failure_session_count UInt64,
		created_at DateTime DEFAULT now()
	) ENGINE = MergeTree()
	ORDER BY (day, domain, policy_type)
	PARTITION BY day`

	if err := m.conn.Exec(ctx, policiesSQL); err != nil {
		return fmt.Errorf("tlsrpt_policies: %w", err)
	}
	return nil
}

// Name identifies this sink in metrics and logs.
func (m *Mirror) Name() string { return "clickhouse" }

// SendReport inserts one tlsrpt_reports row and one tlsrpt_policies row
// per rendered policy result.
func (m *Mirror) SendReport(ctx context.Context, day, domain, reportID string, reportJSON []byte) error {
	var report render.Report
	if err := json.Unmarshal(reportJSON, &report); err != nil {
		return fmt.Errorf("unmarshal rendered report: %w", err)
	}

	start, err := time.Parse(time.RFC3339, report.DateRange.StartDatetime)
	if err != nil {
		return fmt.Errorf("parse start-datetime: %w", err)
	}
	end, err := time.Parse(time.RFC3339, report.DateRange.EndDatetime)
	if err != nil {
		return fmt.Errorf("parse end-datetime: %w", err)
	}

	if err := m.conn.Exec(ctx,
		`INSERT INTO tlsrpt_reports (day, domain, report_id, organization_name, contact_info, start_datetime, end_datetime, report_json) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		day, domain, reportID, report.OrganizationName, report.ContactInfo, start, end, string(reportJSON),
	); err != nil {
		m.logger.Error("failed to insert report into clickhouse", zap.String("domain", domain), zap.Error(err))
		return fmt.Errorf("insert tlsrpt_reports: %w", err)
	}

	if len(report.Policies) == 0 {
		return nil
	}

	batch, err := m.conn.PrepareBatch(ctx, `INSERT INTO tlsrpt_policies (day, domain, report_id, policy_type, policy_domain, total_successful_session_count, total_failure_session_count)`)
	if err != nil {
		return fmt.Errorf("prepare tlsrpt_policies batch: %w", err)
	}
	for _, p := range report.Policies {
		if err := batch.Append(
			day, domain, reportID, p.Policy.PolicyType, p.Policy.PolicyDomain,
			uint64(p.Summary.TotalSuccessfulSessionCount), uint64(p.Summary.TotalFailureSessionCount),
		); err != nil {
			return fmt.Errorf("append tlsrpt_policies row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		m.logger.Error("failed to send policy batch to clickhouse", zap.String("domain", domain), zap.Error(err))
		return fmt.Errorf("send tlsrpt_policies batch: %w", err)
	}
	return nil
}

// Close closes the underlying ClickHouse connection.
func (m *Mirror) Close() error {
	if m.conn == nil {
		return nil
	}
	return m.conn.Close()
}
