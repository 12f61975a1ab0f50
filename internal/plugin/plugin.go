// Package plugin is a scheme-keyed constructor registry standing in for
// the reference implementation's use of Python entry_points() groups: a
// storage URL's scheme ("sqlite:", "dummy:", "kafka:", ...) selects a
// backend constructor within a named group ("collectd", "fetcher").
package plugin

import (
	"fmt"
	"net/url"
	"sync"
)

// Group names the set of backends a given daemon may select among.
type Group string

const (
	GroupCollectd Group = "collectd"
	GroupFetcher  Group = "fetcher"
)

// Constructor builds a backend from a parsed storage URL.
type Constructor func(u *url.URL) (any, error)

var (
	mu       sync.Mutex
	registry = map[Group]map[string]Constructor{}
)

// Register adds a constructor for scheme within group. Called from init()
// functions of packages that implement a backend, mirroring the reference
// implementation's declarative entry_points() registration.
func Register(group Group, scheme string, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	if registry[group] == nil {
		registry[group] = map[string]Constructor{}
	}
	registry[group][scheme] = ctor
}

// NoImplementationError reports a storage URL whose scheme has no
// registered constructor in the requested group.
type NoImplementationError struct {
	Group  Group
	Scheme string
}

func (e *NoImplementationError) Error() string {
	return fmt.Sprintf("no %s plugin implements scheme %q", e.Group, e.Scheme)
}

// Get resolves rawURL to a constructor within group and invokes it. The
// sqlite: scheme for the collectd and fetcher groups is intentionally not
// looked up here: both daemons construct their SQLite backend directly,
// since it is the only backend either one ships unconditionally.
func Get(group Group, rawURL string) (any, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid storage url %q: %w", rawURL, err)
	}
	scheme := u.Scheme

	mu.Lock()
	ctor, ok := registry[group][scheme]
	mu.Unlock()
	if !ok {
		return nil, &NoImplementationError{Group: group, Scheme: scheme}
	}
	return ctor(u)
}
