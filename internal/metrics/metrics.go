// Package metrics exports pipeline and API counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"healthmap/internal/models"
)

// Metrics owns a private registry so that tests can build several.
type Metrics struct {
	registry *prometheus.Registry

	coverage      prometheus.Gauge
	indicatorRows prometheus.Gauge
	matchedRows   prometheus.Gauge
	unmatched     prometheus.Gauge
	staleAliases  prometheus.Gauge
	loadSeconds   prometheus.Gauge
	loadFailures  prometheus.Counter
	cacheLookups  *prometheus.CounterVec
	requests      *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		coverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "healthmap_join_coverage_ratio",
			Help: "Fraction of indicator rows matched to a boundary.",
		}),
		indicatorRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "healthmap_indicator_rows",
			Help: "Indicator rows loaded.",
		}),
		matchedRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "healthmap_matched_rows",
			Help: "Indicator rows matched by the join.",
		}),
		unmatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "healthmap_unmatched_names",
			Help: "Distinct indicator country names without a boundary.",
		}),
		staleAliases: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "healthmap_stale_aliases",
			Help: "Alias entries whose source name is absent from the indicator data.",
		}),
		loadSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "healthmap_load_duration_seconds",
			Help: "Wall time of the last pipeline load.",
		}),
		loadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "healthmap_load_failures_total",
			Help: "Pipeline loads that ended in an error.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthmap_aggregate_cache_lookups_total",
			Help: "Aggregate cache lookups by result.",
		}, []string{"result"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healthmap_http_request_duration_seconds",
			Help:    "API request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
	m.registry.MustRegister(
		m.coverage, m.indicatorRows, m.matchedRows, m.unmatched, m.staleAliases,
		m.loadSeconds, m.loadFailures, m.cacheLookups, m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveLoad records the coverage of a finished load.
func (m *Metrics) ObserveLoad(cov models.Coverage, took time.Duration) {
	m.coverage.Set(cov.Ratio)
	m.indicatorRows.Set(float64(cov.IndicatorRows))
	m.matchedRows.Set(float64(cov.MatchedRows))
	m.unmatched.Set(float64(len(cov.Unmatched)))
	m.staleAliases.Set(float64(len(cov.StaleAliases)))
	m.loadSeconds.Set(took.Seconds())
}

func (m *Metrics) LoadFailed() { m.loadFailures.Inc() }

func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRequest(route, status string, took time.Duration) {
	m.requests.WithLabelValues(route, status).Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
