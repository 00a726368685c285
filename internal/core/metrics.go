package core

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/JonMunkholm/livpulse/internal/core"

// pipelineMetrics holds the instruments recorded by the pipeline. They are
// bound to the global MeterProvider, so nothing is exported until the
// server installs one.
type pipelineMetrics struct {
	uploads       metric.Int64Counter
	rowsValidated metric.Int64Counter
	rowsCommitted metric.Int64Counter
	batches       metric.Int64Counter
	validateTime  metric.Float64Histogram
	commitTime    metric.Float64Histogram
}

func newPipelineMetrics() *pipelineMetrics {
	m, err := buildPipelineMetrics(otel.Meter(instrumentationName))
	if err != nil {
		slog.Warn("pipeline metrics disabled", "error", err)
		m, _ = buildPipelineMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	}
	return m
}

func buildPipelineMetrics(meter metric.Meter) (*pipelineMetrics, error) {
	var (
		m   pipelineMetrics
		err error
	)

	if m.uploads, err = meter.Int64Counter("livpulse_uploads_total",
		metric.WithDescription("Uploads by data type and outcome")); err != nil {
		return nil, err
	}
	if m.rowsValidated, err = meter.Int64Counter("livpulse_rows_validated_total",
		metric.WithDescription("Validated data rows by validity")); err != nil {
		return nil, err
	}
	if m.rowsCommitted, err = meter.Int64Counter("livpulse_rows_committed_total",
		metric.WithDescription("Records written to destination tables")); err != nil {
		return nil, err
	}
	if m.batches, err = meter.Int64Counter("livpulse_commit_batches_total",
		metric.WithDescription("Commit batches by outcome")); err != nil {
		return nil, err
	}
	if m.validateTime, err = meter.Float64Histogram("livpulse_validate_duration_seconds",
		metric.WithDescription("Parse and validate duration"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.commitTime, err = meter.Float64Histogram("livpulse_commit_duration_seconds",
		metric.WithDescription("Commit duration"), metric.WithUnit("s")); err != nil {
		return nil, err
	}

	return &m, nil
}

func (m *pipelineMetrics) upload(ctx context.Context, dt, outcome string) {
	m.uploads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("data_type", dt),
		attribute.String("outcome", outcome),
	))
}

func (m *pipelineMetrics) validated(ctx context.Context, dt string, r ValidationResult, took time.Duration) {
	typ := attribute.String("data_type", dt)
	m.rowsValidated.Add(ctx, int64(r.ValidRows), metric.WithAttributes(typ, attribute.Bool("valid", true)))
	m.rowsValidated.Add(ctx, int64(r.InvalidRows), metric.WithAttributes(typ, attribute.Bool("valid", false)))
	m.validateTime.Record(ctx, took.Seconds(), metric.WithAttributes(typ))
}

func (m *pipelineMetrics) batch(ctx context.Context, dt string, records int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.batches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("data_type", dt),
		attribute.String("outcome", outcome),
	))
	if err == nil {
		m.rowsCommitted.Add(ctx, int64(records), metric.WithAttributes(attribute.String("data_type", dt)))
	}
}

func (m *pipelineMetrics) committed(ctx context.Context, dt string, took time.Duration) {
	m.commitTime.Record(ctx, took.Seconds(), metric.WithAttributes(attribute.String("data_type", dt)))
}
