package collectd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testCfg() SQLiteConfig {
	return SQLiteConfig{
		SocketTimeoutSeconds:     300,
		MaxUncommittedDatagrams:  100,
		RetryCommitDatagramCount: 7,
	}
}

func mustDatagram(t *testing.T, raw string) *Datagram {
	t.Helper()
	d, err := ParseDatagram([]byte(raw))
	require.NoError(t, err)
	return d
}

func TestSQLiteCollectdAddDatagramAggregates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "collectd.sqlite3")
	logger := zaptest.NewLogger(t)
	c, err := NewSQLite("sqlite:"+path, path, testCfg(), logger, nil)
	require.NoError(t, err)
	defer c.Close()

	raw := `{"d":"example.com","pr":"v=TLSRPTv1;rua=mailto:ops@example.com","policies":[
		{"policy":{"policy-type":"sts","policy-string":["version: STSv1"],"policy-domain":"example.com"},"summary":{"total-successful-session-count":1,"total-failure-session-count":0}}
	]}`
	d := mustDatagram(t, raw)
	require.NoError(t, c.AddDatagram(d))

	var cntrtotal, cntrfailure int
	row := c.db.SQL.QueryRow("SELECT cntrtotal, cntrfailure FROM finalresults WHERE domain='example.com'")
	require.NoError(t, row.Scan(&cntrtotal, &cntrfailure))
	assert.Equal(t, 1, cntrtotal)
	assert.Equal(t, 0, cntrfailure)
}

func TestSQLiteCollectdAddDatagramWithFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "collectd.sqlite3")
	logger := zaptest.NewLogger(t)
	c, err := NewSQLite("sqlite:"+path, path, testCfg(), logger, nil)
	require.NoError(t, err)
	defer c.Close()

	raw := `{"d":"fail.example.com","pr":"v=TLSRPTv1;rua=mailto:ops@example.com","policies":[
		{"policy":{"policy-type":"tlsa","policy-string":[],"policy-domain":"fail.example.com"},
		 "f":1,"t":1,
		 "failure-details":[{"c":201,"r":"198.51.100.1"}]}
	]}`
	d := mustDatagram(t, raw)
	require.NoError(t, c.AddDatagram(d))

	var cntrfailure int
	row := c.db.SQL.QueryRow("SELECT cntrfailure FROM finalresults WHERE domain='fail.example.com'")
	require.NoError(t, row.Scan(&cntrfailure))
	assert.Equal(t, 1, cntrfailure)

	var failCntr int
	frow := c.db.SQL.QueryRow("SELECT cntr FROM failures WHERE domain='fail.example.com'")
	require.NoError(t, frow.Scan(&failCntr))
	assert.Equal(t, 1, failCntr)
}

func TestSQLiteCollectdSwitchToNextDayRenamesStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "collectd.sqlite3")
	logger := zaptest.NewLogger(t)
	c, err := NewSQLite("sqlite:"+path, path, testCfg(), logger, nil)
	require.NoError(t, err)

	require.NoError(t, c.SwitchToNextDay(false))
	defer c.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "today store recreated at the live path")

	yesterdayPath := filepath.Join(dir, "collectd.yesterday.sqlite3")
	_, err = os.Stat(yesterdayPath)
	assert.NoError(t, err, "rolled-over store exists")
}

func TestSplitPolicyRoundTripsThroughCanonicalJSON(t *testing.T) {
	raw := json.RawMessage(`{"policy":{"policy-type":"no-policy-found"},"f":0,"t":0,"failure-details":[]}`)
	failed, claimed, hasCount, failures, canonical, err := splitPolicy(raw)
	require.NoError(t, err)
	assert.False(t, failed)
	assert.True(t, hasCount)
	assert.Equal(t, 0, claimed)
	assert.Empty(t, failures)
	assert.JSONEq(t, `{"policy":{"policy-type":"no-policy-found"}}`, canonical)
}
