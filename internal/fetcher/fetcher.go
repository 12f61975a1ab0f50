// Package fetcher implements the short-lived bridge process that exposes a
// rolled-over ("yesterday") collectd store to tlsrpt-reportd over stdout,
// using a tiny line protocol rather than a shared schema (spec.md §4.2).
package fetcher

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/andreasschulze/tlsrpt-reporter/internal/timeutil"
)

// Banner identifies the protocol version a reportd caller should expect on
// the first line of output.
const Banner = "TLSRPT_FETCHER_VERSION_STRING_V1"

// Fetcher reads a rolled-over collectd store read-only.
type Fetcher struct {
	db *sql.DB
}

// Open opens path read-only; it must already exist (created by a prior
// collectd day rollover) and does not go through the versioned-store
// bootstrap, since a fetcher never creates a schema.
func Open(path string) (*Fetcher, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening %s read-only: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening %s read-only: %w", path, err)
	}
	return &Fetcher{db: db}, nil
}

func (f *Fetcher) Close() error { return f.db.Close() }

// writeLine writes one protocol line. Write errors (most commonly a closed
// pipe because reportd stopped reading early) are swallowed: the reference
// implementation tolerates BrokenPipeError and simply exits.
func writeLine(w io.Writer, line string) bool {
	_, err := fmt.Fprintln(w, line)
	return err == nil
}

// ListDomains implements fetch_domain_list: banner, current time, day
// completeness marker, then one distinct domain per line, terminated by a
// lone ".".
func (f *Fetcher) ListDomains(w io.Writer, day string) error {
	if !writeLine(w, Banner) {
		return nil
	}
	if !writeLine(w, timeutil.Now().UTC().Format("2006-01-02 15:04:05")) {
		return nil
	}

	var daycomplete string
	row := f.db.QueryRow("SELECT daycomplete FROM daystatus LIMIT 1")
	if err := row.Scan(&daycomplete); err != nil {
		daycomplete = ""
	}
	if !writeLine(w, daycomplete) {
		return nil
	}

	rows, err := f.db.Query("SELECT DISTINCT domain FROM finalresults WHERE day = ? ORDER BY domain", day)
	if err != nil {
		return fmt.Errorf("querying domain list: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return fmt.Errorf("scanning domain: %w", err)
		}
		if !writeLine(w, domain) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating domain list: %w", err)
	}
	writeLine(w, ".")
	return nil
}

type policyCounts struct {
	CntrTotal   int            `json:"cntrtotal"`
	CntrFailure int            `json:"cntrfailure"`
	Failures    map[string]int `json:"failures"`
}

type domainDetails struct {
	Domain   string                              `json:"d"`
	Policies map[string]map[string]*policyCounts `json:"policies"`
}

// DomainDetails implements fetch_domain_details: a single JSON object,
// indented, nested policies[tlsrptrecord][policy] = {cntrtotal,
// cntrfailure, failures}.
func (f *Fetcher) DomainDetails(w io.Writer, day, domain string) error {
	details := domainDetails{Domain: domain, Policies: map[string]map[string]*policyCounts{}}

	rows, err := f.db.Query(
		"SELECT tlsrptrecord, policy, cntrtotal, cntrfailure FROM finalresults WHERE day = ? AND domain = ?",
		day, domain)
	if err != nil {
		return fmt.Errorf("querying finalresults: %w", err)
	}
	for rows.Next() {
		var record, policy string
		var total, failure int
		if err := rows.Scan(&record, &policy, &total, &failure); err != nil {
			rows.Close()
			return fmt.Errorf("scanning finalresults: %w", err)
		}
		if details.Policies[record] == nil {
			details.Policies[record] = map[string]*policyCounts{}
		}
		details.Policies[record][policy] = &policyCounts{CntrTotal: total, CntrFailure: failure, Failures: map[string]int{}}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterating finalresults: %w", err)
	}
	rows.Close()

	frows, err := f.db.Query(
		"SELECT tlsrptrecord, policy, reason, cntr FROM failures WHERE day = ? AND domain = ?",
		day, domain)
	if err != nil {
		return fmt.Errorf("querying failures: %w", err)
	}
	for frows.Next() {
		var record, policy, reason string
		var cntr int
		if err := frows.Scan(&record, &policy, &reason, &cntr); err != nil {
			frows.Close()
			return fmt.Errorf("scanning failures: %w", err)
		}
		if details.Policies[record] != nil && details.Policies[record][policy] != nil {
			details.Policies[record][policy].Failures[reason] = cntr
		}
	}
	if err := frows.Err(); err != nil {
		frows.Close()
		return fmt.Errorf("iterating failures: %w", err)
	}
	frows.Close()

	b, err := json.MarshalIndent(details, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding domain details: %w", err)
	}
	writeLine(w, string(b))
	return nil
}

// TrimBanner strips the line ending from one protocol line and reports
// whether the line is the lone "." terminator, which reportd's line reader
// should not treat as data.
func TrimBanner(line string) (string, bool) {
	trimmed := strings.TrimRight(line, "\r\n")
	return trimmed, trimmed == "."
}
