// Package telemetry exposes the agent's own operational metrics on the
// default Prometheus registry, served by the status server.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cycles counts completed collection cycles by outcome.
	Cycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostvantage_cycles_total",
		Help: "Completed collection cycles by outcome.",
	}, []string{"outcome"})

	// CycleDuration observes end-to-end collect+export cycle time.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hostvantage_cycle_duration_seconds",
		Help:    "End-to-end duration of a collect and export cycle.",
		Buckets: prometheus.DefBuckets,
	})

	// CollectorFailures counts per-collector collection failures.
	CollectorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostvantage_collector_failures_total",
		Help: "Collection failures by collector and cause.",
	}, []string{"collector", "cause"})

	// SamplesCollected reports the sample count of the latest snapshot.
	SamplesCollected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hostvantage_snapshot_samples",
		Help: "Number of samples in the most recent snapshot.",
	})

	// ExportRetries counts push-export transmission retries.
	ExportRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostvantage_export_retries_total",
		Help: "Push-export batch transmission retries.",
	})

	// ExportFailures counts export cycles that ultimately failed.
	ExportFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostvantage_export_failures_total",
		Help: "Export failures by channel.",
	}, []string{"channel"})
)
