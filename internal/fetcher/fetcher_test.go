package fetcher

import (
	"bufio"
	"bytes"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		"CREATE TABLE finalresults(day, domain, tlsrptrecord, policy, cntrtotal, cntrfailure, its)",
		"CREATE TABLE failures(day, domain, tlsrptrecord, policy, reason, cntr, its)",
		"CREATE TABLE daystatus(daycomplete, its)",
		"INSERT INTO finalresults VALUES('2026-07-30','example.com','pr','p1',3,1,'')",
		"INSERT INTO failures VALUES('2026-07-30','example.com','pr','p1','{\"c\":201}',1,'')",
		"INSERT INTO daystatus VALUES('2026-07-30','')",
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
}

func TestListDomainsProtocol(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yesterday.sqlite3")
	seedStore(t, path)

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	var buf bytes.Buffer
	require.NoError(t, f.ListDomains(&buf, "2026-07-30"))

	scanner := bufio.NewScanner(&buf)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.True(t, len(lines) >= 5)
	assert.Equal(t, Banner, lines[0])
	assert.Equal(t, "2026-07-30", lines[2])
	assert.Equal(t, "example.com", lines[3])
	assert.Equal(t, ".", lines[4])
}

func TestListDomainsReportsActualAvailableDayEvenOnMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yesterday.sqlite3")
	seedStore(t, path)

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	var buf bytes.Buffer
	require.NoError(t, f.ListDomains(&buf, "2026-07-31"))

	scanner := bufio.NewScanner(&buf)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.True(t, len(lines) >= 3)
	assert.Equal(t, "2026-07-30", lines[2], "available day line must report what daystatus actually has, not the requested day")
}

func TestDomainDetailsNestsFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yesterday.sqlite3")
	seedStore(t, path)

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	var buf bytes.Buffer
	require.NoError(t, f.DomainDetails(&buf, "2026-07-30", "example.com"))
	assert.Contains(t, buf.String(), `"d": "example.com"`)
	assert.Contains(t, buf.String(), `"cntrtotal": 3`)
	assert.Contains(t, buf.String(), `"{\"c\":201}": 1`)
}

func TestTrimBanner(t *testing.T) {
	line, terminator := TrimBanner(".\n")
	assert.Equal(t, ".", line)
	assert.True(t, terminator)

	line, terminator = TrimBanner("example.com\r\n")
	assert.Equal(t, "example.com", line)
	assert.False(t, terminator)
}
