package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildReportAggregatesFailuresAndSummary(t *testing.T) {
	agg := NewAggregatedDomain("example.com")
	policyText := `{"policy-type":1,"policy-string":["v=STSv1"],"policy-domain":"example.com"}`
	agg.Merge("v=TLSRPTv1;rua=mailto:ops@example.com", policyText, 10, 0, nil)
	agg.Merge("v=TLSRPTv1;rua=mailto:ops@example.com", policyText, 5, 3, map[string]int{
		`{"c":201,"r":"198.51.100.1"}`: 3,
	})

	report, err := BuildReport("2026-07-30", agg, nil)
	require.NoError(t, err)
	require.Len(t, report.Policies, 1)

	pr := report.Policies[0]
	assert.Equal(t, "tlsa", pr.Policy.PolicyType)
	assert.Equal(t, "example.com", pr.Policy.PolicyDomain)
	assert.Equal(t, 3, pr.Summary.TotalFailureSessionCount)
	assert.Equal(t, 12, pr.Summary.TotalSuccessfulSessionCount)

	require.Len(t, pr.FailureDetails, 1)
	fd := pr.FailureDetails[0]
	assert.Equal(t, "starttls-not-supported", fd.ResultType)
	assert.Equal(t, "198.51.100.1", fd.ReceivingIP)
	assert.Equal(t, 3, fd.FailedSessionCount)

	assert.Equal(t, "2026-07-30T00:00:00Z", report.DateRange.StartDatetime)
	assert.Equal(t, "2026-07-30T23:59:59Z", report.DateRange.EndDatetime)
}

func TestBuildReportUnknownPolicyTypeIsAnError(t *testing.T) {
	agg := NewAggregatedDomain("example.com")
	agg.Merge("pr", `{"policy-type":99,"policy-domain":"example.com"}`, 1, 0, nil)
	_, err := BuildReport("2026-07-30", agg, nil)
	require.Error(t, err)
}

func TestBuildReportNoPolicyFound(t *testing.T) {
	agg := NewAggregatedDomain("example.com")
	agg.Merge("pr", `{"policy-type":9}`, 1, 0, nil)
	report, err := BuildReport("2026-07-30", agg, nil)
	require.NoError(t, err)
	assert.Equal(t, "no-policy-found", report.Policies[0].Policy.PolicyType)
}

func TestBuildReportFailureReasonCodeIndependentOfResultTypeCode(t *testing.T) {
	agg := NewAggregatedDomain("example.com")
	agg.Merge("pr", `{"policy-type":9}`, 1, 1, map[string]int{
		`{"c":204,"f":"handshake-failure"}`: 1,
	})
	report, err := BuildReport("2026-07-30", agg, nil)
	require.NoError(t, err)
	require.Len(t, report.Policies[0].FailureDetails, 1)
	fd := report.Policies[0].FailureDetails[0]
	assert.Equal(t, "certificate-expired", fd.ResultType)
	assert.Equal(t, "handshake-failure", fd.FailureReasonCode)
}

func TestBuildReportUnknownResultTypeCodeOmitsResultType(t *testing.T) {
	agg := NewAggregatedDomain("example.com")
	agg.Merge("pr", `{"policy-type":9}`, 1, 1, map[string]int{
		`{"c":999}`: 1,
	})
	report, err := BuildReport("2026-07-30", agg, nil)
	require.NoError(t, err)
	require.Len(t, report.Policies[0].FailureDetails, 1)
	assert.Empty(t, report.Policies[0].FailureDetails[0].ResultType)
}

func TestFailureDetailKeyName(t *testing.T) {
	assert.Equal(t, "receiving-ip", FailureDetailKeyName("r"))
	assert.Equal(t, "", FailureDetailKeyName("zzz"))
}
