package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	exchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmgate_exchanges_total",
		Help: "Exchanges by terminal outcome (complete, failed).",
	}, []string{"outcome"})

	exchangeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmgate_exchange_failures_total",
		Help: "Failed exchanges by error kind.",
	}, []string{"kind"})

	failoversTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmgate_failovers_total",
		Help: "Candidate failovers across all exchanges.",
	})

	iterationsPerExchange = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "llmgate_iterations_per_exchange",
		Help:    "Agent rounds needed to finish an exchange.",
		Buckets: prometheus.LinearBuckets(1, 1, 10),
	})

	toolExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmgate_tool_executions_total",
		Help: "Tool executions by status (completed, error).",
	}, []string{"status"})

	exchangeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "llmgate_exchange_duration_seconds",
		Help:    "Wall-clock exchange duration.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llmgate_upstream_latency_seconds",
		Help:    "Per-attempt upstream call latency by provider.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"provider"})
)
