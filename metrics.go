package main

import (
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	"github.com/numbleroot/pgas/distribution"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PgasMetrics struct {
	Distribution *DistributionMetrics
}

type DistributionMetrics struct {
	Mutations     metrics.Counter
	Duration      metrics.Histogram
	RoutingMisses metrics.Counter
	QueueDepth    metrics.Gauge
}

func NewPgasMetrics(prometheusAddr string) *PgasMetrics {

	m := &PgasMetrics{}

	if prometheusAddr == "" {
		m.Distribution = &DistributionMetrics{
			Mutations:     discard.NewCounter(),
			Duration:      discard.NewHistogram(),
			RoutingMisses: discard.NewCounter(),
			QueueDepth:    discard.NewGauge(),
		}
	} else {
		m.Distribution = &DistributionMetrics{
			Mutations: prometheus.NewCounterFrom(prom.CounterOpts{
				Namespace: "pgas",
				Subsystem: "distribution",
				Name:      "mutations_total",
				Help:      "Number of completed structural mutations",
			}, []string{"op"}),
			Duration: prometheus.NewHistogramFrom(prom.HistogramOpts{
				Namespace: "pgas",
				Subsystem: "distribution",
				Name:      "mutation_duration_seconds",
				Help:      "Time from issuing a mutation until all locations applied it",
				Buckets:   prom.ExponentialBuckets(0.0001, 4, 10),
			}, []string{"op"}),
			RoutingMisses: prometheus.NewCounterFrom(prom.CounterOpts{
				Namespace: "pgas",
				Subsystem: "distribution",
				Name:      "routing_misses_total",
				Help:      "Number of requests forwarded after reaching a location not owning their target",
			}, nil),
			QueueDepth: prometheus.NewGaugeFrom(prom.GaugeOpts{
				Namespace: "pgas",
				Subsystem: "distribution",
				Name:      "mutation_queue_depth",
				Help:      "Number of mutations waiting for their turn",
			}, nil),
		}
	}

	return m
}

// Instruments hands the internal measurements over
// to a container.
func (m *DistributionMetrics) Instruments() distribution.Instruments {

	return distribution.Instruments{
		RoutingMisses: m.RoutingMisses,
		QueueDepth:    m.QueueDepth,
	}
}

func runPromHTTP(logger log.Logger, addr string) {

	if addr == "" {
		level.Debug(logger).Log("msg", "prometheus addr is empty, not exposing prometheus metrics")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	level.Info(logger).Log("msg", "prometheus handler listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		level.Warn(logger).Log("msg", "failed to serve prometheus metrics", "err", err)
	}
}
