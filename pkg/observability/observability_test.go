// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	before := testutil.ToFloat64(transmitAttempts.WithLabelValues("2", "failure"))
	RecordTransmit(2, false)
	if got := testutil.ToFloat64(transmitAttempts.WithLabelValues("2", "failure")); got != before+1 {
		t.Errorf("transmit counter = %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(discoveries.WithLabelValues("success"))
	RecordDiscovery(true)
	if got := testutil.ToFloat64(discoveries.WithLabelValues("success")); got != before+1 {
		t.Errorf("discovery counter = %v, want %v", got, before+1)
	}

	RecordRound(true, 120*time.Millisecond)
	RecordPendingFrame("PENDING_TIMESTAMP_RESPONSE")
	RecordFirmwareUpdate(false)

	if got := testutil.ToFloat64(firmwareUpdates.WithLabelValues("failure")); got < 1 {
		t.Errorf("firmware update counter = %v, want >= 1", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, false},
		{" WARN ", zerolog.WarnLevel, false},
		{"loud", zerolog.NoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewLogger_WritesComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("ember-test", zerolog.InfoLevel, &buf)
	logger.Debug().Msg("hidden")
	logger.Info().Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug line written at info level")
	}
	if !strings.Contains(out, "visible") || !strings.Contains(out, "ember-test") {
		t.Errorf("output = %q", out)
	}
}
