package upload

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chunkup_sessions_initiated_total",
		Help: "Total number of upload sessions initiated",
	})

	sessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chunkup_sessions_finished_total",
		Help: "Upload sessions that reached a terminal state, by status",
	}, []string{"status"})

	chunksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chunkup_chunks_received_total",
		Help: "Chunk uploads by outcome (stored, duplicate, rejected)",
	}, []string{"outcome"})

	chunkBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chunkup_chunk_bytes_total",
		Help: "Total chunk payload bytes written to staging",
	})

	assemblyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chunkup_assembly_duration_seconds",
		Help:    "Time spent assembling final artifacts",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	})

	assemblyErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chunkup_assembly_errors_total",
		Help: "Total number of failed assemblies",
	})

	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chunkup_publish_errors_total",
		Help: "Total number of failed artifact publications",
	})
)
