package collectd

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/andreasschulze/tlsrpt-reporter/internal/metrics"
	"github.com/andreasschulze/tlsrpt-reporter/internal/store"
	"github.com/andreasschulze/tlsrpt-reporter/internal/timeutil"
	"github.com/andreasschulze/tlsrpt-reporter/internal/tlsrptrecord"
)

// DBPurpose identifies the collectd schema to the versioned-store check.
const DBPurpose = "TLSRPT-Collectd-DB"

var ddl = []string{
	"CREATE TABLE finalresults(day, domain, tlsrptrecord, policy, cntrtotal, cntrfailure, " +
		"its datetime default CURRENT_TIMESTAMP, PRIMARY KEY(day, domain, tlsrptrecord, policy))",
	"CREATE TABLE failures(day, domain, tlsrptrecord, policy, reason, cntr, " +
		"its datetime default CURRENT_TIMESTAMP, PRIMARY KEY(day, domain, tlsrptrecord, policy, reason))",
	"CREATE TABLE daystatus(daycomplete, its datetime default CURRENT_TIMESTAMP, PRIMARY KEY(daycomplete))",
	"CREATE TABLE dbversion(version, installdate, purpose)",
}

// SQLiteConfig carries the subset of CollectdConfig the SQLite backend
// needs; kept narrow so the backend doesn't depend on internal/config.
type SQLiteConfig struct {
	SocketTimeoutSeconds     int
	MaxUncommittedDatagrams  int
	RetryCommitDatagramCount int
	DailyRolloverScript      string
}

// SQLiteCollectd is the default storage backend: one SQLite database per
// UTC day, committed in batches and rolled over at UTC midnight.
type SQLiteCollectd struct {
	url     string
	dbPath  string
	cfg     SQLiteConfig
	logger  *zap.Logger
	metrics *metrics.CollectdMetrics

	db                 *store.DB
	today              string
	uncommittedCount   int
	totalDatagramsRead int
	nextCommit         time.Time
}

// NewSQLite opens (or creates) the today-store at path and returns a ready
// SQLiteCollectd. url is retained for the daily_rollover_script invocation.
func NewSQLite(url, path string, cfg SQLiteConfig, logger *zap.Logger, m *metrics.CollectdMetrics) (*SQLiteCollectd, error) {
	db, err := store.OpenVersioned(path, DBPurpose, ddl, logger)
	if err != nil {
		return nil, err
	}
	return &SQLiteCollectd{
		url:        url,
		dbPath:     path,
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		db:         db,
		today:      timeutil.DateNow(),
		nextCommit: timeutil.Now(),
	}, nil
}

func (c *SQLiteCollectd) Close() error { return c.db.Close() }

// AddDatagram implements the per-datagram aggregation algorithm of §4.1.
func (c *SQLiteCollectd) AddDatagram(d *Datagram) error {
	now := timeutil.DateNow()
	if c.today != now {
		if err := c.SwitchToNextDay(false); err != nil {
			return err
		}
	}
	if err := c.addPoliciesFrom(c.today, d); err != nil {
		return err
	}
	c.uncommittedCount++
	c.totalDatagramsRead++
	if c.metrics != nil {
		c.metrics.DatagramsTotal.WithLabelValues("ok").Inc()
	}
	return c.commitAfterNDatagrams()
}

func (c *SQLiteCollectd) addPoliciesFrom(day string, d *Datagram) error {
	if d.Policies == nil {
		c.logger.Warn("no policies found in datagram", zap.String("domain", d.Domain))
		return nil
	}
	if d.DPV != "" && d.DPV != "1" {
		c.logger.Error("wrong datagram protocol version", zap.String("dpv", d.DPV))
	}
	domain := tlsrptrecord.NormalizeDomainName(d.Domain)
	for _, rawPolicy := range d.Policies {
		if err := c.addPolicy(day, domain, d.Record, rawPolicy); err != nil {
			return err
		}
	}
	return nil
}

func (c *SQLiteCollectd) addPolicy(day, domain, record string, raw []byte) error {
	failed, claimed, hasCount, failures, policy, err := splitPolicy(raw)
	if err != nil {
		return fmt.Errorf("malformed policy: %w", err)
	}
	if hasCount && claimed != len(failures) {
		c.logger.Error("failure count mismatch in received datagram",
			zap.Int("claimed", claimed), zap.Int("actual", len(failures)))
	}
	failedInc := 0
	if failed {
		failedInc = 1
	}
	tx, err := c.db.SQL.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO finalresults (day, domain, tlsrptrecord, policy, cntrtotal, cntrfailure) VALUES(?,?,?,?,1,?) "+
			"ON CONFLICT(day, domain, tlsrptrecord, policy) "+
			"DO UPDATE SET cntrtotal=cntrtotal+1, cntrfailure=cntrfailure+?",
		day, domain, record, policy, failedInc, failedInc); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, f := range failures {
		reason, err := canonicalJSON(f)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("malformed failure detail: %w", err)
		}
		if _, err := tx.Exec(
			"INSERT INTO failures (day, domain, tlsrptrecord, policy, reason, cntr) VALUES(?,?,?,?,?,1) "+
				"ON CONFLICT(day, domain, tlsrptrecord, policy, reason) DO UPDATE SET cntr=cntr+1",
			day, domain, record, policy, reason); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// commitAfterNDatagrams implements the batching/backoff policy of §4.1:
// next_commit is advanced before the attempt so a failing store cannot be
// busy-retried on every subsequent datagram.
func (c *SQLiteCollectd) commitAfterNDatagrams() error {
	if timeutil.Now().After(c.nextCommit) {
		c.commit("overdue commit")
	}
	if c.uncommittedCount >= c.cfg.MaxUncommittedDatagrams {
		over := c.uncommittedCount - c.cfg.MaxUncommittedDatagrams
		if c.cfg.RetryCommitDatagramCount <= 0 || over%c.cfg.RetryCommitDatagramCount == 0 {
			c.commit("commit")
		}
	}
	return nil
}

// commit is a no-op: SQLite via database/sql autocommits each statement,
// so there is no pending-transaction buffer to flush. The batching
// bookkeeping (next_commit, uncommittedCount) is retained so metrics and
// SocketTimeout observe the same cadence as the reference implementation.
func (c *SQLiteCollectd) commit(reason string) {
	c.nextCommit = timeutil.Now().Add(time.Duration(c.cfg.SocketTimeoutSeconds) * time.Second)
	if c.uncommittedCount == 0 {
		return
	}
	c.logger.Debug(reason, zap.Int("datagrams", c.uncommittedCount), zap.Int("total", c.totalDatagramsRead))
	if c.metrics != nil {
		c.metrics.CommitsTotal.WithLabelValues(reason).Inc()
	}
	c.uncommittedCount = 0
}

// SocketTimeout fires after sockettimeout seconds with no datagram: check
// for day rollover, else do a timed commit.
func (c *SQLiteCollectd) SocketTimeout() error {
	now := timeutil.DateNow()
	if c.today != now {
		return c.SwitchToNextDay(false)
	}
	c.commit("timed")
	return nil
}

// SwitchToNextDay implements the atomic day-rollover sequence of §4.1. In
// develMode, today's rows are relabeled to yesterday's date before the
// rename so an operator can exercise the reporter against non-stale data.
func (c *SQLiteCollectd) SwitchToNextDay(develMode bool) error {
	yesterday := timeutil.DateYesterday()
	if develMode {
		if _, err := c.db.SQL.Exec("UPDATE finalresults SET day=? WHERE day=?", yesterday, c.today); err != nil {
			return err
		}
		if _, err := c.db.SQL.Exec("UPDATE failures SET day=? WHERE day=?", yesterday, c.today); err != nil {
			return err
		}
	}
	c.commit("midnight UTC database rollover")
	if _, err := c.db.SQL.Exec("INSERT INTO daystatus (daycomplete) VALUES(?)", yesterday); err != nil {
		return err
	}
	if err := c.db.Close(); err != nil {
		return err
	}

	yesterdayPath := store.MakeYesterdayDBName(c.dbPath)
	if _, err := os.Stat(yesterdayPath); err == nil {
		if err := os.Remove(yesterdayPath); err != nil {
			return fmt.Errorf("removing stale yesterday store: %w", err)
		}
	}
	if err := os.Rename(c.dbPath, yesterdayPath); err != nil {
		return fmt.Errorf("renaming today store to yesterday: %w", err)
	}

	db, err := store.OpenVersioned(c.dbPath, DBPurpose, ddl, c.logger)
	if err != nil {
		return err
	}
	c.db = db
	c.today = timeutil.DateNow()
	if c.uncommittedCount != 0 {
		c.logger.Error("uncommitted datagrams during day roll-over", zap.Int("count", c.uncommittedCount))
		c.uncommittedCount = 0
	}
	c.totalDatagramsRead = 0
	if c.metrics != nil {
		c.metrics.RolloversTotal.Inc()
	}

	if c.cfg.DailyRolloverScript != "" {
		fields := strings.Fields(c.cfg.DailyRolloverScript)
		args := append(append([]string{}, fields[1:]...), c.url, yesterdayPath)
		cmd := exec.Command(fields[0], args...)
		if err := cmd.Start(); err != nil {
			c.logger.Error("failed to start daily rollover script", zap.Error(err))
		}
	}
	return nil
}
