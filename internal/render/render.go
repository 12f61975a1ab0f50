// Package render turns the counters collected by collectd, and relayed by
// one or more fetchers, into an RFC 8460 aggregate TLS report JSON
// document (spec.md §4.4).
package render

import (
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/andreasschulze/tlsrpt-reporter/internal/timeutil"
)

// policyTypeNames maps the compact numeric policy-type code stored in the
// collectd datagram to the RFC 8460 policy-type string.
var policyTypeNames = map[int]string{
	1: "tlsa",
	2: "sts",
	9: "no-policy-found",
}

// failureDetailKeyNames expands the short keys datagrams use for
// failure-details into the RFC 8460 field names.
var failureDetailKeyNames = map[string]string{
	"a": "additional-information",
	"f": "failure-reason-code",
	"h": "receiving-mx-helo",
	"n": "receiving-mx-hostname",
	"r": "receiving-ip",
	"s": "sending-mta-ip",
}

// failureCodeNames maps the compact numeric failure code carried under the
// short key "c" to the RFC 8460 result-type string.
var failureCodeNames = map[int]string{
	201: "starttls-not-supported",
	202: "certificate-host-mismatch",
	203: "certificate-not-trusted",
	204: "certificate-expired",
	205: "validation-failure",
	301: "sts-policy-fetch-error",
	302: "sts-policy-invalid",
	303: "sts-webpki-invalid",
	304: "tlsa-invalid",
	305: "dnssec-invalid",
	306: "dane-required",
}

// DateRange is the RFC 8460 date-range object.
type DateRange struct {
	StartDatetime string `json:"start-datetime"`
	EndDatetime   string `json:"end-datetime"`
}

// Summary is the RFC 8460 summary object.
type Summary struct {
	TotalSuccessfulSessionCount int `json:"total-successful-session-count"`
	TotalFailureSessionCount    int `json:"total-failure-session-count"`
}

// FailureDetail is one RFC 8460 failure-details entry.
type FailureDetail struct {
	ResultType            string `json:"result-type,omitempty"`
	SendingMTAIP          string `json:"sending-mta-ip,omitempty"`
	ReceivingMXHostname   string `json:"receiving-mx-hostname,omitempty"`
	ReceivingMXHelo       string `json:"receiving-mx-helo,omitempty"`
	ReceivingIP           string `json:"receiving-ip,omitempty"`
	FailedSessionCount    int    `json:"failed-session-count"`
	AdditionalInformation string `json:"additional-information,omitempty"`
	FailureReasonCode     string `json:"failure-reason-code,omitempty"`
}

// PolicyResult is one RFC 8460 policies[] entry.
type PolicyResult struct {
	Policy struct {
		PolicyType   string   `json:"policy-type"`
		PolicyString []string `json:"policy-string,omitempty"`
		PolicyDomain string   `json:"policy-domain"`
		MXHost       []string `json:"mx-host,omitempty"`
	} `json:"policy"`
	Summary        Summary         `json:"summary"`
	FailureDetails []FailureDetail `json:"failure-details,omitempty"`
}

// Report is the top-level RFC 8460 aggregate report document.
type Report struct {
	OrganizationName string         `json:"organization-name"`
	DateRange        DateRange      `json:"date-range"`
	ContactInfo      string         `json:"contact-info"`
	ReportID         string         `json:"report-id"`
	Policies         []PolicyResult `json:"policies"`
}

// policyKey is the raw policy JSON object (sans f/t/failure-details) that
// collectd stored as the finalresults.policy database key.
type policyKey struct {
	PolicyType   int      `json:"policy-type"`
	PolicyString []string `json:"policy-string,omitempty"`
	PolicyDomain string   `json:"policy-domain"`
	MXHost       []string `json:"mx-host,omitempty"`
}

// failureKey is the raw failure-detail JSON object keyed by short field
// names as received in the datagram. "c" and "f" are independent fields:
// "c" is the numeric result-type code mapped through failureCodeNames,
// "f" is carried through verbatim as failure-reason-code (spec.md §4.4).
type failureKey struct {
	A string `json:"a,omitempty"`
	C int    `json:"c,omitempty"`
	F string `json:"f,omitempty"`
	H string `json:"h,omitempty"`
	N string `json:"n,omitempty"`
	R string `json:"r,omitempty"`
	S string `json:"s,omitempty"`
}

// PolicyCounts is the per-(tlsrptrecord, policy) aggregate a fetcher
// reports, indexed by the canonical JSON text of the policy and, within
// it, by the canonical JSON text of each failure-detail.
type PolicyCounts struct {
	CntrTotal   int
	CntrFailure int
	Failures    map[string]int
}

// AggregatedDomain collects PolicyCounts across every configured fetcher
// for one domain, keyed first by tlsrptrecord then by policy text.
type AggregatedDomain struct {
	Domain   string
	Policies map[string]map[string]*PolicyCounts
}

// NewAggregatedDomain starts an empty aggregation for domain.
func NewAggregatedDomain(domain string) *AggregatedDomain {
	return &AggregatedDomain{Domain: domain, Policies: map[string]map[string]*PolicyCounts{}}
}

// Merge unions one fetcher shard's counts into the aggregate, summing
// cntrtotal/cntrfailure/failure counters across shards per §4.3.
func (a *AggregatedDomain) Merge(record, policy string, total, failure int, failures map[string]int) {
	byPolicy := a.Policies[record]
	if byPolicy == nil {
		byPolicy = map[string]*PolicyCounts{}
		a.Policies[record] = byPolicy
	}
	pc := byPolicy[policy]
	if pc == nil {
		pc = &PolicyCounts{Failures: map[string]int{}}
		byPolicy[policy] = pc
	}
	pc.CntrTotal += total
	pc.CntrFailure += failure
	for reason, cntr := range failures {
		pc.Failures[reason] += cntr
	}
}

// BuildReport turns aggregated counters for one domain into an RFC 8460
// report covering day, without the envelope fields (organization-name,
// report-id, contact-info) that the caller fills in once per report.
func BuildReport(day string, agg *AggregatedDomain, logger *zap.Logger) (*Report, error) {
	r := &Report{
		DateRange: DateRange{
			StartDatetime: timeutil.ReportStartDatetime(day),
			EndDatetime:   timeutil.ReportEndDatetime(day),
		},
	}

	records := sortedKeys(agg.Policies)
	for _, record := range records {
		policies := sortedKeys(agg.Policies[record])
		for _, policyText := range policies {
			pc := agg.Policies[record][policyText]
			pr, err := buildPolicyResult(policyText, pc, logger)
			if err != nil {
				return nil, fmt.Errorf("domain %s record %s: %w", agg.Domain, record, err)
			}
			r.Policies = append(r.Policies, *pr)
		}
	}
	return r, nil
}

func buildPolicyResult(policyText string, pc *PolicyCounts, logger *zap.Logger) (*PolicyResult, error) {
	var pk policyKey
	if err := json.Unmarshal([]byte(policyText), &pk); err != nil {
		return nil, fmt.Errorf("decoding policy key: %w", err)
	}

	name, ok := policyTypeNames[pk.PolicyType]
	if !ok {
		return nil, fmt.Errorf("unknown policy-type %d", pk.PolicyType)
	}

	var pr PolicyResult
	pr.Policy.PolicyType = name
	pr.Policy.PolicyString = pk.PolicyString
	pr.Policy.PolicyDomain = pk.PolicyDomain
	pr.Policy.MXHost = pk.MXHost
	pr.Summary.TotalFailureSessionCount = pc.CntrFailure
	pr.Summary.TotalSuccessfulSessionCount = pc.CntrTotal - pc.CntrFailure

	reasons := sortedKeys(pc.Failures)
	for _, reason := range reasons {
		fd, err := buildFailureDetail(reason, pc.Failures[reason], logger)
		if err != nil {
			return nil, err
		}
		pr.FailureDetails = append(pr.FailureDetails, *fd)
	}
	return &pr, nil
}

func buildFailureDetail(reasonText string, cntr int, logger *zap.Logger) (*FailureDetail, error) {
	var fk failureKey
	if err := json.Unmarshal([]byte(reasonText), &fk); err != nil {
		return nil, fmt.Errorf("decoding failure-detail key: %w", err)
	}
	fd := &FailureDetail{
		SendingMTAIP:          fk.S,
		ReceivingMXHostname:   fk.N,
		ReceivingMXHelo:       fk.H,
		ReceivingIP:           fk.R,
		AdditionalInformation: fk.A,
		FailureReasonCode:     fk.F,
		FailedSessionCount:    cntr,
	}
	if fk.C != 0 {
		name, ok := failureCodeNames[fk.C]
		if !ok {
			if logger != nil {
				logger.Error("unknown failure result-type code, omitting result-type", zap.Int("code", fk.C))
			}
		} else {
			fd.ResultType = name
		}
	}
	return fd, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FailureDetailKeyName exposes the short-to-long field name mapping, used
// by diagnostics/logging that want to describe a failure-detail key to an
// operator without repeating the internal field names.
func FailureDetailKeyName(short string) string {
	return failureDetailKeyNames[short]
}
