// Package metrics registers the pipeline's Prometheus collectors. Counters
// live on the default registry; cmd/opsvox exposes them via promhttp when a
// debug address is configured.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reconnects counts reconnect attempts per channel name.
	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsvox_channel_reconnects_total",
		Help: "Reconnect attempts scheduled after abnormal closes.",
	}, []string{"channel"})

	// FramesIn counts inbound frames dispatched to handlers per channel.
	FramesIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsvox_channel_frames_in_total",
		Help: "Inbound frames delivered to the registered handler.",
	}, []string{"channel"})

	// FramesDropped counts outbound sends declined while disconnected.
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsvox_channel_frames_dropped_total",
		Help: "Outbound payloads declined because the channel was not connected.",
	}, []string{"channel"})

	// DuplicatesDropped counts feedback events rejected by the dedup window.
	DuplicatesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opsvox_notify_duplicates_dropped_total",
		Help: "Feedback events dropped as near-duplicates inside the dedup window.",
	})

	// AutoPlays counts ingestion-time auto-play decisions by output mode.
	AutoPlays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsvox_notify_autoplay_total",
		Help: "Auto-play decisions taken at notification ingestion.",
	}, []string{"mode"})

	// PlaybackErrors counts failed playback starts or device errors.
	PlaybackErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opsvox_playback_errors_total",
		Help: "Playback attempts that failed to decode or reach the device.",
	})

	// LockContention counts playback requests dropped because another
	// process held the playback lock.
	LockContention = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opsvox_playback_lock_contention_total",
		Help: "Playback requests dropped while the cross-process lock was held elsewhere.",
	})
)
