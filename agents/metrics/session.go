/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package metrics records token usage, tool calls and session outcomes as
// OpenTelemetry counters.
package metrics

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Session holds the counters an agent session reports into. Counters that
// fail to register degrade to no-ops.
type Session struct {
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
	toolCalls        metric.Int64Counter
	outcomes         metric.Int64Counter
	enrich           AttributeEnricher
}

// NewSession registers the session counters on the named meter. The model is
// recorded as an attribute rather than being part of the meter name.
func NewSession(meterName string) *Session {
	meter := otel.Meter(meterName, metric.WithInstrumentationVersion("1.0.0"))
	return &Session{
		promptTokens:     counter(meter, "genai.token.prompt", "The number of prompt tokens used", "{tokens}"),
		completionTokens: counter(meter, "genai.token.completion", "The number of completion tokens used", "{tokens}"),
		toolCalls:        counter(meter, "genai.tool.calls", "The number of tool calls made during execution", "{calls}"),
		outcomes:         counter(meter, "safeops.session.outcomes", "Agent sessions by terminal outcome", "{sessions}"),
	}
}

func counter(meter metric.Meter, name, description, unit string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		slog.Warn("Failed to create counter, metric will be disabled", "error", err, "counter", name)
		return noop.Int64Counter{}
	}
	return c
}

// SetAttributeEnricher installs an enricher applied before each recording.
func (m *Session) SetAttributeEnricher(enricher AttributeEnricher) {
	m.enrich = enricher
}

func (m *Session) attributes(ctx context.Context, base []attribute.KeyValue, extra []attribute.KeyValue) metric.MeasurementOption {
	if m.enrich != nil {
		base = m.enrich(ctx, base)
	}
	return metric.WithAttributes(append(base, extra...)...)
}

// RecordTokens adds one model response's usage.
func (m *Session) RecordTokens(ctx context.Context, model string, promptTokens, completionTokens int64, attrs ...attribute.KeyValue) {
	opt := m.attributes(ctx, []attribute.KeyValue{attribute.String("model", model)}, attrs)
	m.promptTokens.Add(ctx, promptTokens, opt)
	m.completionTokens.Add(ctx, completionTokens, opt)
}

// RecordToolCall counts one dispatched tool invocation.
func (m *Session) RecordToolCall(ctx context.Context, model, tool string, failed bool) {
	m.toolCalls.Add(ctx, 1, m.attributes(ctx, []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("tool", tool),
		attribute.Bool("error", failed),
	}, nil))
}

// RecordOutcome counts a finished session.
func (m *Session) RecordOutcome(ctx context.Context, model, outcome string) {
	m.outcomes.Add(ctx, 1, m.attributes(ctx, []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("outcome", outcome),
	}, nil))
}
