// Command tlsrpt-collectd listens on a Unix datagram socket for TLS
// session outcome events emitted by the MTA and aggregates them into a
// per-UTC-day store for tlsrpt-reportd to pick up later (spec.md §4.1).
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/user"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/andreasschulze/tlsrpt-reporter/internal/adminhttp"
	"github.com/andreasschulze/tlsrpt-reporter/internal/collectd"
	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
	"github.com/andreasschulze/tlsrpt-reporter/internal/daemon"
	"github.com/andreasschulze/tlsrpt-reporter/internal/exitcode"
	"github.com/andreasschulze/tlsrpt-reporter/internal/logger"
	"github.com/andreasschulze/tlsrpt-reporter/internal/metrics"
	"github.com/andreasschulze/tlsrpt-reporter/internal/plugin"
	"github.com/andreasschulze/tlsrpt-reporter/internal/store"
)

const maxDatagramSize = 65536

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "", "YAML config file path")
	flag.Parse()

	cfg, err := config.LoadCollectd(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitcode.Usage
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitcode.Usage
	}
	defer log.Sync()

	log.Info("tlsrpt-collectd starting", zap.String("socket", cfg.SocketName))

	m := metrics.NewCollectdMetrics()

	backend, err := openBackend(cfg, log, m)
	if err != nil {
		log.Error("failed to open storage backend", zap.Error(err))
		if _, ok := err.(*store.VersionErr); ok {
			return exitcode.WrongDBVersion
		}
		return exitcode.DBSetupFailure
	}
	defer backend.Close()

	conn, err := bindSocket(cfg, log)
	if err != nil {
		log.Error("failed to bind datagram socket", zap.Error(err))
		return exitcode.Socket
	}
	defer func() {
		conn.Close()
		os.Remove(cfg.SocketName)
	}()

	token := daemon.New(true)
	defer token.Stop()

	admin := adminhttp.New(cfg.HTTP, "tlsrpt-collectd", log)
	go func() {
		if err := admin.Start(token.Context()); err != nil {
			log.Error("admin http server failed", zap.Error(err))
		}
	}()

	if cfg.PidFileName != "" {
		if err := writePidFile(cfg.PidFileName); err != nil {
			log.Error("failed to write pid file", zap.Error(err))
		} else {
			defer os.Remove(cfg.PidFileName)
		}
	}

	receiveLoop(token, conn, backend, cfg, log, m)

	log.Info("tlsrpt-collectd shut down cleanly")
	return exitcode.OK
}

// openBackend selects the collectd storage backend by URL scheme. sqlite:
// is a built-in shortcut, same as the fetcher's; anything else goes
// through the plugin registry (spec.md §4.9.3).
func openBackend(cfg *config.CollectdConfig, log *zap.Logger, m *metrics.CollectdMetrics) (collectd.Collectd, error) {
	path, ok := sqlitePath(cfg.Storage)
	if !ok {
		b, err := plugin.Get(plugin.GroupCollectd, cfg.Storage)
		if err != nil {
			return nil, err
		}
		c, ok := b.(collectd.Collectd)
		if !ok {
			return nil, fmt.Errorf("plugin for storage url %q does not implement collectd", cfg.Storage)
		}
		return c, nil
	}
	sqliteCfg := collectd.SQLiteConfig{
		SocketTimeoutSeconds:     cfg.SocketTimeout,
		MaxUncommittedDatagrams:  cfg.MaxUncommittedDatagrams,
		RetryCommitDatagramCount: cfg.RetryCommitDatagramCount,
		DailyRolloverScript:      cfg.DailyRolloverScript,
	}
	return collectd.NewSQLite(cfg.Storage, path, sqliteCfg, log, m)
}

func sqlitePath(url string) (string, bool) {
	const prefix = "sqlite:"
	if len(url) <= len(prefix) || url[:len(prefix)] != prefix {
		return "", false
	}
	return url[len(prefix):], true
}

// bindSocket creates the Unix datagram socket at cfg.SocketName, applying
// the configured ownership and permissions (spec.md §4.9.1).
func bindSocket(cfg *config.CollectdConfig, log *zap.Logger) (*net.UnixConn, error) {
	if cfg.SocketName == "" {
		return nil, fmt.Errorf("no socketname configured")
	}
	if _, err := os.Stat(cfg.SocketName); err == nil {
		if err := os.Remove(cfg.SocketName); err != nil {
			return nil, fmt.Errorf("removing stale socket: %w", err)
		}
	}

	addr, err := net.ResolveUnixAddr("unixgram", cfg.SocketName)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, err
	}

	if err := applySocketOwnership(cfg, log); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func applySocketOwnership(cfg *config.CollectdConfig, log *zap.Logger) error {
	if cfg.SocketMode != "" {
		mode, err := strconv.ParseUint(cfg.SocketMode, 8, 32)
		if err != nil {
			return fmt.Errorf("invalid socketmode %q: %w", cfg.SocketMode, err)
		}
		if err := os.Chmod(cfg.SocketName, os.FileMode(mode)); err != nil {
			return fmt.Errorf("chmod socket: %w", err)
		}
	}
	if cfg.SocketUser == "" && cfg.SocketGroup == "" {
		return nil
	}
	uid, gid := -1, -1
	if cfg.SocketUser != "" {
		u, err := user.Lookup(cfg.SocketUser)
		if err != nil {
			return fmt.Errorf("lookup socketuser %q: %w", cfg.SocketUser, err)
		}
		uid, err = strconv.Atoi(u.Uid)
		if err != nil {
			return err
		}
	}
	if cfg.SocketGroup != "" {
		g, err := user.LookupGroup(cfg.SocketGroup)
		if err != nil {
			return fmt.Errorf("lookup socketgroup %q: %w", cfg.SocketGroup, err)
		}
		gid, err = strconv.Atoi(g.Gid)
		if err != nil {
			return err
		}
	}
	if err := os.Chown(cfg.SocketName, uid, gid); err != nil {
		return fmt.Errorf("chown socket: %w", err)
	}
	log.Debug("applied socket ownership", zap.String("user", cfg.SocketUser), zap.String("group", cfg.SocketGroup))
	return nil
}

// receiveLoop is the ingester's main loop: read a datagram, hand it to the
// backend, repeat, with a read deadline driving SocketTimeout and a
// watch on ctx for shutdown and devel rollover signals.
func receiveLoop(token *daemon.Token, conn *net.UnixConn, backend collectd.Collectd, cfg *config.CollectdConfig, log *zap.Logger, m *metrics.CollectdMetrics) {
	buf := make([]byte, maxDatagramSize)
	timeout := time.Duration(cfg.SocketTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx := token.Context()
	go func() {
		<-ctx.Done()
		conn.SetReadDeadline(time.Now())
	}()
	go func() {
		for sig := range token.Signals() {
			if sig == daemon.DevelRollover {
				log.Info("devel rollover requested via SIGUSR2")
				if err := backend.SwitchToNextDay(true); err != nil {
					log.Error("devel rollover failed", zap.Error(err))
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(timeout))
		n, _, err := conn.ReadFromUnix(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if err := backend.SocketTimeout(); err != nil {
					log.Error("socket timeout handling failed", zap.Error(err))
				}
				continue
			}
			log.Error("socket read error", zap.Error(err))
			m.DatagramsTotal.WithLabelValues("read_error").Inc()
			continue
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])
		handleDatagram(raw, backend, cfg, log, m)
	}
}

func handleDatagram(raw []byte, backend collectd.Collectd, cfg *config.CollectdConfig, log *zap.Logger, m *metrics.CollectdMetrics) {
	d, err := collectd.ParseDatagram(raw)
	if err != nil {
		log.Error("malformed datagram", zap.Error(err))
		m.DatagramsTotal.WithLabelValues("malformed").Inc()
		dumpInvalidDatagram(cfg.DumpPathForInvalidDgram, raw, log)
		return
	}
	if err := backend.AddDatagram(d); err != nil {
		log.Error("failed to add datagram", zap.Error(err), zap.String("domain", d.Domain))
		m.DatagramsTotal.WithLabelValues("store_error").Inc()
	}
}

func dumpInvalidDatagram(path string, raw []byte, log *zap.Logger) {
	if path == "" {
		return
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		log.Error("failed to dump invalid datagram", zap.Error(err), zap.String("path", path))
	}
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
