// Package collectd implements the datagram ingester: aggregation of TLS
// session outcomes into a per-day store, batched commits, and atomic
// UTC-midnight day rollover (spec.md §4.1).
package collectd

import "go.uber.org/zap"

// Collectd is the capability set spec.md §4.9/§9 asks for: a URL-scheme
// selected backend that can absorb a datagram, react to a socket read
// timeout, and roll over to a new day.
type Collectd interface {
	AddDatagram(d *Datagram) error
	SocketTimeout() error
	SwitchToNextDay(develMode bool) error
	Close() error
}

// DummyCollectd only logs received datagrams; used during development to
// exercise multiple simultaneous collectd backends.
type DummyCollectd struct {
	logger *zap.Logger
	doLog  bool
}

// NewDummy constructs the log-only backend. doLog mirrors the reference
// implementation's "dummy:?log" query-string toggle.
func NewDummy(logger *zap.Logger, doLog bool) *DummyCollectd {
	return &DummyCollectd{logger: logger, doLog: doLog}
}

func (c *DummyCollectd) AddDatagram(d *Datagram) error {
	if c.doLog {
		c.logger.Info("dummy collectd got datagram", zap.String("domain", d.Domain))
	}
	return nil
}

func (c *DummyCollectd) SocketTimeout() error {
	if c.doLog {
		c.logger.Info("dummy collectd got socket timeout")
	}
	return nil
}

func (c *DummyCollectd) SwitchToNextDay(develMode bool) error { return nil }

func (c *DummyCollectd) Close() error { return nil }
