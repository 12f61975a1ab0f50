// Package reportd implements the scheduler daemon: it polls one or more
// fetchers for yesterday's aggregated counters, renders RFC 8460 reports
// per domain and drives their delivery with retry/backoff (spec.md §4.3).
package reportd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
	"github.com/andreasschulze/tlsrpt-reporter/internal/delivery"
	"github.com/andreasschulze/tlsrpt-reporter/internal/fetcher"
	"github.com/andreasschulze/tlsrpt-reporter/internal/metrics"
	"github.com/andreasschulze/tlsrpt-reporter/internal/randpool"
	"github.com/andreasschulze/tlsrpt-reporter/internal/render"
	"github.com/andreasschulze/tlsrpt-reporter/internal/store"
	"github.com/andreasschulze/tlsrpt-reporter/internal/timeutil"
	"github.com/andreasschulze/tlsrpt-reporter/internal/tlsrptrecord"
)

// FetcherSpec is one configured fetcher: the command line used to invoke
// tlsrpt-fetcher (or a wrapper, e.g. over ssh, around it).
type FetcherSpec struct {
	Index   int
	Command string
}

// ParseFetchers splits the comma-separated fetchers configuration option
// into individually addressable FetcherSpecs.
func ParseFetchers(raw string) []FetcherSpec {
	var specs []FetcherSpec
	for i, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		specs = append(specs, FetcherSpec{Index: i, Command: part})
	}
	return specs
}

// Mirror is an optional fire-and-forget sink a rendered report is also
// sent to, e.g. Kafka or ClickHouse.
type Mirror interface {
	Name() string
	SendReport(ctx context.Context, day, domain, reportID string, reportJSON []byte) error
}

// Reportd holds everything the five scheduler stages share.
type Reportd struct {
	cfg      *config.ReportdConfig
	fetchers []FetcherSpec
	db       *store.DB
	logger   *zap.Logger
	metrics  *metrics.ReportdMetrics
	pool     *randpool.Pool
	mirrors  []Mirror
	enricher *render.Enricher
}

// New opens (or creates) the reportd store and returns a ready Reportd.
func New(cfg *config.ReportdConfig, logger *zap.Logger, m *metrics.ReportdMetrics, mirrors []Mirror) (*Reportd, error) {
	db, err := store.OpenVersioned(cfg.DBName, DBPurpose, ddl, logger)
	if err != nil {
		return nil, err
	}
	fetchers := ParseFetchers(cfg.Fetchers)
	spread := cfg.SpreadOutDelivery
	if spread <= 0 {
		spread = 1
	}
	enricher := render.NewEnricher(cfg.Enrichment.Nameservers, cfg.Enrichment.DNSTimeout, cfg.Enrichment.GeoIPDBPath, logger)
	return &Reportd{
		cfg:      cfg,
		fetchers: fetchers,
		db:       db,
		logger:   logger,
		metrics:  m,
		pool:     randpool.New(spread),
		mirrors:  mirrors,
		enricher: enricher,
	}, nil
}

func (r *Reportd) Close() error { return r.db.Close() }

// CheckDay implements the reference implementation's check_day: purge rows
// older than keep_days, and if yesterday has no fetchjobs row yet, insert
// one per configured fetcher so CollectDomains has work to do.
func (r *Reportd) CheckDay(ctx context.Context) error {
	if err := r.purgeOldRows(ctx); err != nil {
		return err
	}

	day := timeutil.DateYesterday()
	var exists int
	err := r.db.SQL.QueryRowContext(ctx, "SELECT COUNT(*) FROM fetchjobs WHERE day = ?", day).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking fetchjobs for %s: %w", day, err)
	}
	if exists > 0 {
		return nil
	}

	now := timeutil.Now()
	for _, f := range r.fetchers {
		_, err := r.db.SQL.ExecContext(ctx,
			"INSERT INTO fetchjobs (day, fetcherindex, fetcher, nexttry) VALUES (?,?,?,?)",
			day, f.Index, f.Command, now)
		if err != nil {
			return fmt.Errorf("scheduling fetchjob %d for %s: %w", f.Index, day, err)
		}
	}
	return nil
}

func (r *Reportd) purgeOldRows(ctx context.Context) error {
	cutoff := timeutil.Now().AddDate(0, 0, -r.cfg.KeepDays).Format("2006-01-02")
	for _, table := range []string{"fetchjobs", "reportdata", "reports"} {
		if _, err := r.db.SQL.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE day < ?", table), cutoff); err != nil {
			return fmt.Errorf("purging %s older than %s: %w", table, cutoff, err)
		}
	}
	return nil
}

// CollectDomains spawns each due fetcher in list mode and records every
// domain it reports into reportdata, so FetchData can fetch details for
// them individually.
func (r *Reportd) CollectDomains(ctx context.Context) error {
	rows, err := r.db.SQL.QueryContext(ctx,
		"SELECT day, fetcherindex, fetcher, retries FROM fetchjobs WHERE status = 'new' AND nexttry <= ?",
		timeutil.Now())
	if err != nil {
		return fmt.Errorf("querying due fetchjobs: %w", err)
	}
	type job struct {
		day     string
		index   int
		command string
		retries int
	}
	var jobs []job
	for rows.Next() {
		var j job
		if err := rows.Scan(&j.day, &j.index, &j.command, &j.retries); err != nil {
			rows.Close()
			return fmt.Errorf("scanning fetchjob: %w", err)
		}
		jobs = append(jobs, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, j := range jobs {
		domains, err := r.listDomains(ctx, j.command, j.day)
		if err != nil {
			r.logger.Warn("collect_domains failed", zap.String("fetcher", j.command), zap.Error(err))
			if err := r.retryFetchjob(ctx, j.day, j.index, j.retries); err != nil {
				return err
			}
			if r.metrics != nil {
				r.metrics.FetchJobsTotal.WithLabelValues("retry").Inc()
			}
			continue
		}

		tx, err := r.db.SQL.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, domain := range domains {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO reportdata (day, domain, fetcher, fetcherindex, nexttry) VALUES (?,?,?,?,?)",
				j.day, domain, j.command, j.index, timeutil.Now()); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("recording domain %s: %w", domain, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "UPDATE fetchjobs SET status='done' WHERE day=? AND fetcherindex=?",
			j.day, j.index); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		if r.metrics != nil {
			r.metrics.FetchJobsTotal.WithLabelValues("done").Inc()
		}
	}
	return nil
}

func (r *Reportd) retryFetchjob(ctx context.Context, day string, index, retries int) error {
	retries++
	if retries > r.cfg.MaxRetriesDomainlist {
		_, err := r.db.SQL.ExecContext(ctx, "UPDATE fetchjobs SET status='failed', retries=? WHERE day=? AND fetcherindex=?",
			retries, day, index)
		return err
	}
	wait := backoff(retries, r.cfg.MinWaitDomainlist, r.cfg.MaxWaitDomainlist)
	_, err := r.db.SQL.ExecContext(ctx,
		"UPDATE fetchjobs SET retries=?, nexttry=? WHERE day=? AND fetcherindex=?",
		retries, timeutil.Now().Add(wait), day, index)
	return err
}

// backoff grows linearly with retries, clamped to [min,max] seconds. The
// reference implementation's randomized exponential backoff is simplified
// here to a deterministic ramp.
func backoff(retries, minSeconds, maxSeconds int) time.Duration {
	secs := minSeconds * retries
	if secs > maxSeconds {
		secs = maxSeconds
	}
	if secs < minSeconds {
		secs = minSeconds
	}
	return time.Duration(secs) * time.Second
}

// checkClockOffset warns, but never acts on, a collectd clock that drifted
// from ours beyond max_collectd_timediff. The source never promotes this
// past a warning; nothing here retries or fails a fetch on it (spec.md §9).
func (r *Reportd) checkClockOffset(rawTimestamp string) {
	if r.cfg.MaxCollectdTimediff <= 0 {
		return
	}
	remoteTime, err := time.Parse("2006-01-02 15:04:05", rawTimestamp)
	if err != nil {
		r.logger.Warn("could not parse fetcher clock timestamp", zap.String("raw", rawTimestamp), zap.Error(err))
		return
	}
	offset := timeutil.Now().UTC().Sub(remoteTime)
	if offset < 0 {
		offset = -offset
	}
	if offset > time.Duration(r.cfg.MaxCollectdTimediff)*time.Second {
		r.logger.Warn("collectd clock offset exceeds max_collectd_timediff",
			zap.Duration("offset", offset), zap.Int("max_collectd_timediff", r.cfg.MaxCollectdTimediff))
	}
}

func (r *Reportd) listDomains(ctx context.Context, command, day string) ([]string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty fetcher command")
	}
	args := append(append([]string{}, fields[1:]...), day)
	cctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.MaxCollectdTimeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, fields[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("running fetcher: %w: %s", err, stderr.String())
	}

	scanner := bufio.NewScanner(&stdout)
	if !scanner.Scan() || scanner.Text() != fetcher.Banner {
		return nil, fmt.Errorf("fetcher sent unexpected banner")
	}
	if !scanner.Scan() {
		return nil, fmt.Errorf("fetcher did not send a timestamp line")
	}
	r.checkClockOffset(scanner.Text())
	if !scanner.Scan() {
		return nil, fmt.Errorf("fetcher did not send a day-status line")
	}
	if available := scanner.Text(); available != day {
		return nil, fmt.Errorf("fetcher reports available day %q, requested %q", available, day)
	}

	var domains []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "." {
			return domains, nil
		}
		domains = append(domains, line)
	}
	return nil, fmt.Errorf("fetcher output truncated before terminator")
}

// FetchData spawns the fetcher in detail mode for every pending
// reportdata row and stores the returned JSON payload.
func (r *Reportd) FetchData(ctx context.Context) error {
	rows, err := r.db.SQL.QueryContext(ctx,
		"SELECT day, domain, fetcher, fetcherindex, retries FROM reportdata WHERE status='new' AND nexttry <= ?",
		timeutil.Now())
	if err != nil {
		return fmt.Errorf("querying pending reportdata: %w", err)
	}
	type pending struct {
		day, domain, command string
		index, retries       int
	}
	var items []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.day, &p.domain, &p.command, &p.index, &p.retries); err != nil {
			rows.Close()
			return fmt.Errorf("scanning reportdata: %w", err)
		}
		items = append(items, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range items {
		data, err := r.fetchDomainDetails(ctx, p.command, p.day, p.domain)
		if err != nil {
			r.logger.Warn("fetch_data failed", zap.String("domain", p.domain), zap.Error(err))
			if err := r.retryReportdata(ctx, p.day, p.domain, p.command, p.retries); err != nil {
				return err
			}
			continue
		}
		if _, err := r.db.SQL.ExecContext(ctx,
			"UPDATE reportdata SET data=?, status='fetched' WHERE day=? AND domain=? AND fetcher=?",
			data, p.day, p.domain, p.command); err != nil {
			return fmt.Errorf("storing fetched data for %s: %w", p.domain, err)
		}
	}
	return nil
}

func (r *Reportd) retryReportdata(ctx context.Context, day, domain, command string, retries int) error {
	retries++
	if retries > r.cfg.MaxRetriesDomaindetails {
		_, err := r.db.SQL.ExecContext(ctx,
			"UPDATE reportdata SET status='failed', retries=? WHERE day=? AND domain=? AND fetcher=?",
			retries, day, domain, command)
		return err
	}
	wait := backoff(retries, r.cfg.MinWaitDomaindetails, r.cfg.MaxWaitDomaindetails)
	_, err := r.db.SQL.ExecContext(ctx,
		"UPDATE reportdata SET retries=?, nexttry=? WHERE day=? AND domain=? AND fetcher=?",
		retries, timeutil.Now().Add(wait), day, domain, command)
	return err
}

func (r *Reportd) fetchDomainDetails(ctx context.Context, command, day, domain string) (string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty fetcher command")
	}
	args := append(append([]string{}, fields[1:]...), day, domain)
	cctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.MaxCollectdTimeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, fields[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("running fetcher: %w: %s", err, stderr.String())
	}

	var envelope struct {
		Domain string `json:"d"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &envelope); err != nil {
		return "", fmt.Errorf("decoding fetcher output: %w", err)
	}
	if envelope.Domain != domain {
		return "", fmt.Errorf("fetcher returned data for %q, expected %q", envelope.Domain, domain)
	}
	return stdout.String(), nil
}

// reportDataPayload mirrors fetcher.domainDetails for decoding purposes.
type reportDataPayload struct {
	Domain   string `json:"d"`
	Policies map[string]map[string]struct {
		CntrTotal   int            `json:"cntrtotal"`
		CntrFailure int            `json:"cntrfailure"`
		Failures    map[string]int `json:"failures"`
	} `json:"policies"`
}

// CreateReports aggregates every fetched shard for each domain whose
// reportdata rows are all in status='fetched', renders the RFC 8460
// report and schedules one destination row per address the domain's
// TLSRPT record names.
func (r *Reportd) CreateReports(ctx context.Context) error {
	day := timeutil.DateYesterday()
	domains, err := r.domainsReadyForReport(ctx, day)
	if err != nil {
		return err
	}

	for _, domain := range domains {
		if err := r.createReportFor(ctx, day, domain); err != nil {
			r.logger.Error("create_report failed", zap.String("domain", domain), zap.Error(err))
		}
	}
	return nil
}

func (r *Reportd) domainsReadyForReport(ctx context.Context, day string) ([]string, error) {
	rows, err := r.db.SQL.QueryContext(ctx, `
		SELECT domain FROM reportdata
		WHERE day = ?
		GROUP BY domain
		HAVING SUM(CASE WHEN status = 'fetched' THEN 0 ELSE 1 END) = 0
		AND domain NOT IN (SELECT domain FROM reports WHERE day = ?)`, day, day)
	if err != nil {
		return nil, fmt.Errorf("querying domains ready for report: %w", err)
	}
	defer rows.Close()
	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

func (r *Reportd) createReportFor(ctx context.Context, day, domain string) error {
	rows, err := r.db.SQL.QueryContext(ctx, "SELECT data FROM reportdata WHERE day=? AND domain=? AND status='fetched'", day, domain)
	if err != nil {
		return fmt.Errorf("querying shards for %s: %w", domain, err)
	}
	agg := render.NewAggregatedDomain(domain)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			return err
		}
		var payload reportDataPayload
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			rows.Close()
			return fmt.Errorf("decoding shard for %s: %w", domain, err)
		}
		for record, policies := range payload.Policies {
			for policy, counts := range policies {
				agg.Merge(record, policy, counts.CntrTotal, counts.CntrFailure, counts.Failures)
			}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(agg.Policies) == 0 {
		return nil
	}

	for record := range agg.Policies {
		if err := r.createReportForRecord(ctx, day, domain, record, agg); err != nil {
			r.logger.Error("render error, leaving reportdata for retry",
				zap.String("domain", domain), zap.String("record", record), zap.Error(err))
		}
	}
	return nil
}

func (r *Reportd) createReportForRecord(ctx context.Context, day, domain, record string, agg *render.AggregatedDomain) error {
	perRecord := render.NewAggregatedDomain(domain)
	perRecord.Policies[record] = agg.Policies[record]

	report, err := render.BuildReport(day, perRecord, r.logger)
	if err != nil {
		return fmt.Errorf("building report for %s: %w", domain, err)
	}
	report.OrganizationName = r.cfg.OrganizationName
	report.ContactInfo = r.cfg.ContactInfo
	r.enricher.Annotate(domain, report)

	var uniqid int
	if err := r.db.SQL.QueryRowContext(ctx, "SELECT COUNT(*)+1 FROM reports WHERE day=? AND domain=?", day, domain).Scan(&uniqid); err != nil {
		return fmt.Errorf("computing uniqid for %s: %w", domain, err)
	}
	report.ReportID = reportID(day, uniqid, domain)

	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report for %s: %w", domain, err)
	}

	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		"INSERT INTO reports (day, domain, uniqid, tlsrptrecord, report) VALUES (?,?,?,?,?)",
		day, domain, uniqid, record, string(reportJSON))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("storing report for %s: %w", domain, err)
	}
	rID, err := res.LastInsertId()
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	destinations, err := tlsrptrecord.Parse(record)
	if err != nil {
		r.logger.Warn("could not parse tlsrpt record", zap.String("domain", domain), zap.Error(err))
		return tx.Commit()
	}
	for _, dest := range destinations {
		nexttry := timeutil.Now().Add(time.Duration(r.pool.Get()) * time.Second)
		if r.metrics != nil {
			r.metrics.RandPoolDraws.Inc()
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO destinations (destination, d_r_id, nexttry) VALUES (?,?,?)",
			dest, rID, nexttry); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("scheduling destination %s: %w", dest, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if r.metrics != nil {
		r.metrics.ReportsTotal.Inc()
	}
	for _, m := range r.mirrors {
		if err := m.SendReport(ctx, day, domain, report.ReportID, reportJSON); err != nil {
			r.logger.Warn("mirror send failed", zap.String("mirror", m.Name()), zap.Error(err))
			if r.metrics != nil {
				r.metrics.MirrorFailures.WithLabelValues(m.Name()).Inc()
			}
		}
	}
	return nil
}

// reportID builds the "<start>_idx<n>_<domain>" identifier the reference
// implementation uses for the RFC 8460 report-id field.
func reportID(day string, uniqid int, domain string) string {
	return timeutil.ReportStartDatetime(day) + "_idx" + strconv.Itoa(uniqid) + "_" + domain
}

// SendOutReports dispatches every due destination row via mail or HTTP
// according to its scheme, updating retry/backoff state on failure.
func (r *Reportd) SendOutReports(ctx context.Context) error {
	rows, err := r.db.SQL.QueryContext(ctx, `
		SELECT d.destination, d.d_r_id, d.retries, rp.day, rp.domain, rp.uniqid, rp.report
		FROM destinations d JOIN reports rp ON rp.r_id = d.d_r_id
		WHERE d.status = 'new' AND d.nexttry <= ?`, timeutil.Now())
	if err != nil {
		return fmt.Errorf("querying due destinations: %w", err)
	}
	type due struct {
		destination string
		rID         int64
		retries     int
		day, domain string
		uniqid      int
		report      string
	}
	var items []due
	for rows.Next() {
		var d due
		if err := rows.Scan(&d.destination, &d.rID, &d.retries, &d.day, &d.domain, &d.uniqid, &d.report); err != nil {
			rows.Close()
			return fmt.Errorf("scanning destination: %w", err)
		}
		items = append(items, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, d := range items {
		result, err := r.sendOne(d.destination, d.day, d.domain, d.uniqid, []byte(d.report))
		if err != nil {
			r.logger.Warn("delivery attempt failed", zap.String("destination", d.destination), zap.Error(err))
		}
		if err := r.recordDeliveryResult(ctx, d.destination, d.rID, d.retries, result); err != nil {
			return err
		}
		if r.metrics != nil {
			r.metrics.DeliveriesTotal.WithLabelValues(resultLabel(result)).Inc()
		}
	}
	return nil
}

func resultLabel(r delivery.Result) string {
	switch r {
	case delivery.Succeeded:
		return "succeeded"
	case delivery.PermanentFailure:
		return "permanent_failure"
	case delivery.UnknownRUA:
		return "unknown_rua"
	default:
		return "retry"
	}
}

func (r *Reportd) sendOne(destination, day, domain string, uniqid int, reportJSON []byte) (delivery.Result, error) {
	gzipped, err := delivery.GzipReport(reportJSON, r.cfg.CompressionLevel)
	if err != nil {
		return delivery.PermanentFailure, err
	}
	startTS, _ := timeutil.ReportStartTimestamp(day)
	endTS, _ := timeutil.ReportEndTimestamp(day)
	meta := delivery.ReportMeta{
		Domain:           domain,
		OrganizationName: r.cfg.OrganizationName,
		ContactInfo:      r.cfg.ContactInfo,
		SenderAddress:    r.cfg.SenderAddress,
		ReportID:         reportID(day, uniqid, domain),
		UniqID:           uniqid,
		Day:              day,
	}
	filename := delivery.AttachmentFilename(meta, startTS, endTS)

	switch {
	case r.cfg.DebugSendFileDest != "":
		return delivery.Succeeded, writeDebugFile(r.cfg.DebugSendFileDest, filename, gzipped)
	case strings.HasPrefix(destination, "mailto:"):
		to := strings.TrimPrefix(destination, "mailto:")
		if r.cfg.DebugSendMailDest != "" {
			to = r.cfg.DebugSendMailDest
		}
		msg, err := delivery.ComposeMail(meta, to, gzipped, filename)
		if err != nil {
			return delivery.PermanentFailure, err
		}
		return delivery.SendMail(r.cfg.SendmailScript, msg, time.Duration(r.cfg.SendmailTimeout)*time.Second)
	case strings.HasPrefix(destination, "https://"):
		dest := destination
		if r.cfg.DebugSendHTTPDest != "" {
			dest = r.cfg.DebugSendHTTPDest
		}
		return delivery.SendHTTP(r.cfg.HTTPScript, dest, gzipped, time.Duration(r.cfg.HTTPTimeout)*time.Second)
	default:
		return delivery.UnknownRUA, fmt.Errorf("unsupported destination scheme: %s", destination)
	}
}

// writeDebugFile implements the debug_send_file_dest override of §4.5: the
// rendered (gzip-compressed) report is written to dir in place of
// delivery. sendOne then does not contact the destination and records the
// attempt as succeeded.
func writeDebugFile(dir, filename string, gzipped []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating debug send dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, filename), gzipped, 0o644); err != nil {
		return fmt.Errorf("writing debug send file: %w", err)
	}
	return nil
}

func (r *Reportd) recordDeliveryResult(ctx context.Context, destination string, rID int64, retries int, result delivery.Result) error {
	switch result {
	case delivery.Succeeded:
		_, err := r.db.SQL.ExecContext(ctx, "UPDATE destinations SET status='succeeded' WHERE destination=? AND d_r_id=?",
			destination, rID)
		return err
	case delivery.UnknownRUA:
		_, err := r.db.SQL.ExecContext(ctx, "UPDATE destinations SET status='unknownrua' WHERE destination=? AND d_r_id=?",
			destination, rID)
		return err
	case delivery.PermanentFailure:
		_, err := r.db.SQL.ExecContext(ctx, "UPDATE destinations SET status='failed' WHERE destination=? AND d_r_id=?",
			destination, rID)
		return err
	default:
		retries++
		if retries > r.cfg.MaxRetriesDelivery {
			_, err := r.db.SQL.ExecContext(ctx, "UPDATE destinations SET status='failed', retries=? WHERE destination=? AND d_r_id=?",
				retries, destination, rID)
			return err
		}
		wait := backoff(retries, r.cfg.MinWaitDelivery, r.cfg.MaxWaitDelivery)
		_, err := r.db.SQL.ExecContext(ctx,
			"UPDATE destinations SET retries=?, nexttry=? WHERE destination=? AND d_r_id=?",
			retries, timeutil.Now().Add(wait), destination, rID)
		return err
	}
}

// RunLoop drives the five scheduler stages on interval_main_loop, exiting
// cleanly when ctx is cancelled (spec.md §4.3).
func (r *Reportd) RunLoop(ctx context.Context) error {
	interval := time.Duration(r.cfg.IntervalMainLoop) * time.Second
	for {
		if err := r.tick(ctx); err != nil {
			r.logger.Error("scheduler tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func (r *Reportd) tick(ctx context.Context) error {
	if err := r.CheckDay(ctx); err != nil {
		return fmt.Errorf("check_day: %w", err)
	}
	if err := r.CollectDomains(ctx); err != nil {
		return fmt.Errorf("collect_domains: %w", err)
	}
	if err := r.FetchData(ctx); err != nil {
		return fmt.Errorf("fetch_data: %w", err)
	}
	if err := r.CreateReports(ctx); err != nil {
		return fmt.Errorf("create_reports: %w", err)
	}
	if err := r.SendOutReports(ctx); err != nil {
		return fmt.Errorf("send_out_reports: %w", err)
	}
	return nil
}
