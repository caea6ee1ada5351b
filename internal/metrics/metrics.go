// Package metrics exposes Prometheus counters for the call pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/simhire/callsim/internal/log"
)

var (
	// FramesSent counts capture frames delivered to the voice session.
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callsim_capture_frames_sent_total",
		Help: "Capture frames sent to the voice session.",
	})

	// FramesDropped counts capture frames discarded under backpressure.
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callsim_capture_frames_dropped_total",
		Help: "Capture frames dropped because the send queue was full.",
	})

	// ChunksPlayed counts audio chunks written to the playback sink.
	ChunksPlayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callsim_playback_chunks_total",
		Help: "Audio chunks scheduled and played.",
	})

	// DecodeSkips counts malformed audio chunks skipped.
	DecodeSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callsim_decode_skips_total",
		Help: "Malformed audio chunks skipped during decode.",
	})

	// TranscriptEntries counts committed transcript entries by speaker.
	TranscriptEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callsim_transcript_entries_total",
		Help: "Committed transcript entries.",
	}, []string{"speaker"})

	// CallState reports the current call state as a one-hot gauge.
	CallState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "callsim_call_state",
		Help: "Current call state (1 for the active state).",
	}, []string{"state"})

	// TurnLatency observes time from end of candidate speech to first
	// AI audio of the following turn.
	TurnLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "callsim_turn_latency_seconds",
		Help:    "Latency between candidate turn end and first response audio.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 8),
	})
)

// SetCallState flips the one-hot state gauge.
func SetCallState(state string) {
	for _, s := range []string{"ringing", "connected", "ended"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		CallState.WithLabelValues(s).Set(v)
	}
}

// Serve starts the Prometheus scrape endpoint on its own listener. It
// runs until the process exits.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.L().Info("metrics listener started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.L().Error("metrics listener failed", "error", err)
		}
	}()
}
