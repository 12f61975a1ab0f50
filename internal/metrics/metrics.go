package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CollectdMetrics contains metrics for the datagram ingester.
type CollectdMetrics struct {
	DatagramsTotal  *prometheus.CounterVec
	CommitsTotal    *prometheus.CounterVec
	RolloversTotal  prometheus.Counter
	RandPoolDraws   prometheus.Counter
}

// ReportdMetrics contains metrics for the scheduler/delivery daemon.
type ReportdMetrics struct {
	FetchJobsTotal   *prometheus.CounterVec
	ReportsTotal     prometheus.Counter
	DeliveriesTotal  *prometheus.CounterVec
	MirrorFailures   *prometheus.CounterVec
	RandPoolDraws    prometheus.Counter
}

func register(c prometheus.Collector) {
	if err := prometheus.DefaultRegisterer.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			panic(err)
		}
	}
}

// NewCollectdMetrics creates and registers collectd metrics.
func NewCollectdMetrics() *CollectdMetrics {
	m := &CollectdMetrics{
		DatagramsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tlsrpt_collectd_datagrams_total",
				Help: "Total number of datagrams received",
			},
			[]string{"outcome"},
		),
		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tlsrpt_collectd_commits_total",
				Help: "Total number of store commits",
			},
			[]string{"reason"},
		),
		RolloversTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tlsrpt_collectd_rollovers_total",
				Help: "Total number of day rollovers performed",
			},
		),
		RandPoolDraws: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tlsrpt_randpool_draws_total",
				Help: "Total number of values drawn from a RandPool",
			},
		),
	}
	register(m.DatagramsTotal)
	register(m.CommitsTotal)
	register(m.RolloversTotal)
	register(m.RandPoolDraws)
	return m
}

// NewReportdMetrics creates and registers reportd metrics.
func NewReportdMetrics() *ReportdMetrics {
	m := &ReportdMetrics{
		FetchJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tlsrpt_reportd_fetchjobs_total",
				Help: "Total number of fetch jobs by outcome",
			},
			[]string{"status"},
		),
		ReportsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tlsrpt_reportd_reports_total",
				Help: "Total number of rendered reports",
			},
		),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tlsrpt_reportd_deliveries_total",
				Help: "Total number of delivery attempts by result",
			},
			[]string{"result"},
		),
		MirrorFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tlsrpt_reportd_mirror_failures_total",
				Help: "Total number of failures mirroring a rendered report to an optional sink",
			},
			[]string{"sink"},
		),
		RandPoolDraws: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tlsrpt_randpool_draws_total",
				Help: "Total number of values drawn from a RandPool",
			},
		),
	}
	register(m.FetchJobsTotal)
	register(m.ReportsTotal)
	register(m.DeliveriesTotal)
	register(m.MirrorFailures)
	register(m.RandPoolDraws)
	return m
}
