// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// instrumentationName names the tracer and meter of this package.
const instrumentationName = "github.com/jeranaias/flowchat/internal/chat"

// instruments are the metrics recorded per send.
type instruments struct {
	sends      metric.Int64Counter
	deltas     metric.Int64Counter
	skipped    metric.Int64Counter
	failures   metric.Int64Counter
	firstDelta metric.Float64Histogram
}

func newInstruments(meter metric.Meter, logger *slog.Logger) instruments {
	fallback := noop.NewMeterProvider().Meter(instrumentationName)

	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Warn("metric unavailable", "name", name, "error", err)
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}

	hist, err := meter.Float64Histogram("flowchat.chat.first_delta",
		metric.WithDescription("Time from send to the first streamed delta"),
		metric.WithUnit("ms"))
	if err != nil {
		logger.Warn("metric unavailable", "name", "flowchat.chat.first_delta", "error", err)
		hist, _ = fallback.Float64Histogram("flowchat.chat.first_delta")
	}

	return instruments{
		sends:      counter("flowchat.chat.sends", "Accepted sends"),
		deltas:     counter("flowchat.chat.deltas", "Deltas applied to assistant messages"),
		skipped:    counter("flowchat.chat.skipped_records", "Malformed stream records skipped"),
		failures:   counter("flowchat.chat.failures", "Sends that ended in an error, by kind"),
		firstDelta: hist,
	}
}
