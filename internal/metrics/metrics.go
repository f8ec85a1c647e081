package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics records report runs. Each instance owns its registry so servers
// in tests do not collide on registration.
type Metrics struct {
	registry       *prometheus.Registry
	reportsTotal   *prometheus.CounterVec
	reportDuration prometheus.Histogram
	usersValued    prometheus.Counter
	lastTotalUSD   prometheus.Gauge
	rateLimited    prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		reportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_reports_total",
				Help: "Total number of report requests by HTTP status",
			},
			[]string{"status"},
		),
		reportDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wallet_report_duration_seconds",
				Help:    "Time to parse, value and render one report",
				Buckets: prometheus.DefBuckets,
			},
		),
		usersValued: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wallet_users_valued_total",
				Help: "Total number of users valued across all reports",
			},
		),
		lastTotalUSD: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wallet_last_report_total_usd",
				Help: "Total USD value held in the most recent successful report",
			},
		),
		rateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wallet_rate_limited_requests_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
	}
}

func (m *Metrics) RecordRequest(status int, duration time.Duration) {
	m.reportsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	m.reportDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordReport(users int, totalUSD decimal.Decimal) {
	m.usersValued.Add(float64(users))
	m.lastTotalUSD.Set(totalUSD.InexactFloat64())
}

func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
