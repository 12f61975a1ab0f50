package collectd

import (
	"encoding/json"
	"fmt"
)

// Datagram is one MTA-emitted JSON event as received over the datagram
// socket (spec.md §3).
type Datagram struct {
	Domain   string            `json:"d"`
	Record   string            `json:"pr"`
	DPV      string            `json:"dpv,omitempty"`
	Policies []json.RawMessage `json:"policies"`
}

// ParseDatagram decodes one received datagram. It does not validate policy
// structure; that happens while iterating policies in addPoliciesFrom.
func ParseDatagram(raw []byte) (*Datagram, error) {
	var d Datagram
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return &d, nil
}

// splitPolicy separates the failure-tracking fields (f, t, failure-details)
// from the rest of a policy object, and returns the remainder as canonical
// (sorted-key) JSON text per spec.md §3's "policy-serialized" definition.
func splitPolicy(raw json.RawMessage) (failed bool, claimedCount int, hasCount bool, failures []json.RawMessage, canonical string, err error) {
	var env struct {
		F              *int              `json:"f"`
		T              *int              `json:"t"`
		FailureDetails []json.RawMessage `json:"failure-details"`
	}
	if err = json.Unmarshal(raw, &env); err != nil {
		return
	}
	failed = env.F != nil && *env.F != 0
	if env.T != nil {
		claimedCount = *env.T
		hasCount = true
	}
	failures = env.FailureDetails

	var m map[string]json.RawMessage
	if err = json.Unmarshal(raw, &m); err != nil {
		return
	}
	delete(m, "f")
	delete(m, "t")
	delete(m, "failure-details")
	var b []byte
	b, err = json.Marshal(m)
	if err != nil {
		return
	}
	canonical = string(b)
	return
}

// canonicalJSON re-serializes raw JSON with sorted object keys, the form
// used as a database key for failure-detail rows.
func canonicalJSON(raw json.RawMessage) (string, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
