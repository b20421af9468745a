package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the server's prometheus instruments on a private
// registry so tests can run servers side by side.
type Metrics struct {
	registry *prometheus.Registry

	generations *prometheus.CounterVec
	duration    prometheus.Histogram
	logLik      prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cantus",
			Name:      "generations_total",
			Help:      "Generation requests by outcome.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cantus",
			Name:      "generation_duration_seconds",
			Help:      "Wall time of completed generations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		logLik: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cantus",
			Name:      "generation_log_likelihood",
			Help:      "Final log-likelihood of the winning candidate.",
			Buckets:   prometheus.LinearBuckets(-100, 10, 11),
		}),
	}
	reg.MustRegister(m.generations, m.duration, m.logLik)
	return m
}

func (m *Metrics) observeSuccess(d time.Duration, logLik float64) {
	m.generations.WithLabelValues("ok").Inc()
	m.duration.Observe(d.Seconds())
	m.logLik.Observe(logLik)
}

func (m *Metrics) observeFailure(status string) {
	m.generations.WithLabelValues(status).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
