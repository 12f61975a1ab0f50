// Command tlsrpt-reportd is the scheduler daemon: it polls fetchers for
// yesterday's aggregated counters, renders RFC 8460 reports and drives
// their delivery with retry/backoff (spec.md §4.3).
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/andreasschulze/tlsrpt-reporter/internal/adminhttp"
	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
	"github.com/andreasschulze/tlsrpt-reporter/internal/daemon"
	"github.com/andreasschulze/tlsrpt-reporter/internal/exitcode"
	"github.com/andreasschulze/tlsrpt-reporter/internal/kafka"
	"github.com/andreasschulze/tlsrpt-reporter/internal/logger"
	"github.com/andreasschulze/tlsrpt-reporter/internal/metrics"
	"github.com/andreasschulze/tlsrpt-reporter/internal/reportd"
	"github.com/andreasschulze/tlsrpt-reporter/internal/storage/clickhouse"
	"github.com/andreasschulze/tlsrpt-reporter/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "", "YAML config file path")
	flag.Parse()

	cfg, err := config.LoadReportd(*configFile)
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

	log.Info("tlsrpt-reportd starting", zap.String("dbname", cfg.DBName))

	mirrors, closeMirrors := buildMirrors(cfg, log)
	defer closeMirrors()

	m := metrics.NewReportdMetrics()
	r, err := reportd.New(cfg, log, m, mirrors)
	if err != nil {
		log.Error("failed to open reportd store", zap.Error(err))
		if _, ok := err.(*store.VersionErr); ok {
			return exitcode.WrongDBVersion
		}
		return exitcode.DBSetupFailure
	}
	defer r.Close()

	token := daemon.New(false)
	defer token.Stop()

	admin := adminhttp.New(cfg.HTTP, "tlsrpt-reportd", log)
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

	if err := r.RunLoop(token.Context()); err != nil {
		log.Error("scheduler loop exited with error", zap.Error(err))
		return exitcode.Other
	}

	log.Info("tlsrpt-reportd shut down cleanly")
	return exitcode.OK
}

// buildMirrors constructs the optional fire-and-forget sinks a rendered
// report is also sent to. A mirror failing to construct is logged and
// skipped: mirrors never gate report delivery (spec.md §4.8).
func buildMirrors(cfg *config.ReportdConfig, log *zap.Logger) ([]reportd.Mirror, func()) {
	var mirrors []reportd.Mirror
	var closers []func() error

	if cfg.Kafka.Enabled {
		k, err := kafka.New(cfg.Kafka, log)
		if err != nil {
			log.Error("failed to initialize kafka mirror", zap.Error(err))
		} else {
			mirrors = append(mirrors, k)
			closers = append(closers, k.Close)
		}
	}

	if cfg.ClickHouse.Enabled {
		ch, err := clickhouse.New(cfg.ClickHouse, log)
		if err != nil {
			log.Error("failed to initialize clickhouse mirror", zap.Error(err))
		} else {
			mirrors = append(mirrors, ch)
			closers = append(closers, ch.Close)
		}
	}

	return mirrors, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Error("failed to close mirror", zap.Error(err))
			}
		}
	}
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
