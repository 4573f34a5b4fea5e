// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	transmitAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ember",
			Subsystem: "node",
			Name:      "transmit_attempts_total",
			Help:      "Unicast transmit attempts by attempt number and result.",
		},
		[]string{"attempt", "result"},
	)
	discoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ember",
			Subsystem: "node",
			Name:      "discovery_total",
			Help:      "Host discovery runs by result.",
		},
		[]string{"result"},
	)
	rounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ember",
			Subsystem: "node",
			Name:      "rounds_total",
			Help:      "SendMessage rounds by result.",
		},
		[]string{"result"},
	)
	roundDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ember",
			Subsystem: "node",
			Name:      "round_duration_seconds",
			Help:      "SendMessage round duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)
	pendingFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ember",
			Subsystem: "node",
			Name:      "pending_frames_total",
			Help:      "Frames received while collecting pending data, by kind.",
		},
		[]string{"kind"},
	)
	firmwareUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ember",
			Subsystem: "node",
			Name:      "firmware_updates_total",
			Help:      "Firmware update attempts by result.",
		},
		[]string{"result"},
	)
)

// RegisterMetrics registers the collectors with the default registry once
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(transmitAttempts, discoveries, rounds, roundDuration, pendingFrames, firmwareUpdates)
	})
}

func RecordTransmit(attempt int, ok bool) {
	RegisterMetrics()
	transmitAttempts.WithLabelValues(strconv.Itoa(attempt), resultLabel(ok)).Inc()
}

func RecordDiscovery(ok bool) {
	RegisterMetrics()
	discoveries.WithLabelValues(resultLabel(ok)).Inc()
}

func RecordRound(ok bool, duration time.Duration) {
	RegisterMetrics()
	rounds.WithLabelValues(resultLabel(ok)).Inc()
	roundDuration.Observe(duration.Seconds())
}

func RecordPendingFrame(kind string) {
	RegisterMetrics()
	pendingFrames.WithLabelValues(kind).Inc()
}

func RecordFirmwareUpdate(ok bool) {
	RegisterMetrics()
	firmwareUpdates.WithLabelValues(resultLabel(ok)).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
