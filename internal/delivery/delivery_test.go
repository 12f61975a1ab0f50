package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachmentFilename(t *testing.T) {
	meta := ReportMeta{OrganizationName: "example.org", Domain: "example.com", UniqID: 3}
	name := AttachmentFilename(meta, 1, 2)
	assert.Equal(t, "example.org!example.com!1!2!3.json.gz", name)
}

func TestGzipReportRoundTrips(t *testing.T) {
	data := []byte(`{"hello":"world"}`)
	gz, err := GzipReport(data, 6)
	require.NoError(t, err)
	assert.NotEmpty(t, gz)
	assert.NotEqual(t, data, gz)
}

func TestComposeMailSetsReportTypeAndHeaders(t *testing.T) {
	meta := ReportMeta{
		Domain:           "example.com",
		OrganizationName: "example.org",
		SenderAddress:    "tlsrpt@example.org",
		ReportID:         "20260730T000000Z_idx1_example.com",
	}
	gz, err := GzipReport([]byte(`{}`), 6)
	require.NoError(t, err)

	msg, err := ComposeMail(meta, "ops@example.com", gz, "example.org!example.com!1!2!1.json.gz")
	require.NoError(t, err)

	s := string(msg)
	assert.Contains(t, s, "multipart/report; report-type=tlsrpt")
	assert.Contains(t, s, "TLS-Report-Domain: example.com")
	assert.Contains(t, s, "TLS-Required: No")
}

func TestRunPipedReportsTryAgainOnTimeout(t *testing.T) {
	res, err := runPiped("sleep 5", nil, nil, 10*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, TryAgain, res)
}

func TestSendMailEmptyScript(t *testing.T) {
	res, err := SendMail("", []byte("body"), time.Second)
	require.Error(t, err)
	assert.Equal(t, PermanentFailure, res)
}

func TestSendMailSupportsShellSyntax(t *testing.T) {
	res, err := SendMail("cat >/dev/null", []byte("body"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res)
}

func TestSendHTTPPassesDestinationAsPositionalArg(t *testing.T) {
	res, err := SendHTTP(`test "$1" = "ok"`, "ok", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res)
}

func TestSendHTTPDestinationNotShellExpanded(t *testing.T) {
	res, err := SendHTTP(`test "$1" = '$(echo unsafe)'`, "$(echo unsafe)", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res)
}
