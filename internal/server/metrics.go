// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New against a per-server registry so that
// tests stay hermetic and never pollute the default registry.
type serverMetrics struct {
	// consultRequestsTotal counts completed /api/consult requests,
	// partitioned by outcome: "ok", "no_audio", "invalid", or "error".
	consultRequestsTotal *prometheus.CounterVec

	// consultDurationSeconds records the wall-clock duration of each
	// /api/consult request from receipt to response.
	consultDurationSeconds *prometheus.HistogramVec

	// consultAudioTotal counts successful consultations partitioned by the
	// synthesizer that produced the audio ("elevenlabs", "gtts", or "" when
	// no audio was produced). A rising gtts share means the primary voice
	// is failing.
	consultAudioTotal *prometheus.CounterVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		consultRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medvoice",
			Subsystem: "consult",
			Name:      "requests_total",
			Help:      "Total number of /api/consult requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		consultDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medvoice",
			Subsystem: "consult",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/consult requests from receipt to response.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		consultAudioTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medvoice",
			Subsystem: "consult",
			Name:      "audio_total",
			Help:      "Successful consultations partitioned by the synthesizer that produced the audio.",
		}, []string{"provider"}),
	}
}
