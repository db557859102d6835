// Package otel provides OpenTelemetry metric instruments for the engine.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "flowforge"

// Metrics holds all FlowForge metric instruments.
type Metrics struct {
	RunsStarted    metric.Int64Counter
	RunsCompleted  metric.Int64Counter
	RunsFailed     metric.Int64Counter
	RunsRetried    metric.Int64Counter
	RunsCancelled  metric.Int64Counter
	CacheHits      metric.Int64Counter
	CacheMisses    metric.Int64Counter
	AdmissionWaits metric.Int64Counter
	RunDuration    metric.Float64Histogram
	AdmissionWait  metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("flowforge.runs.started",
		metric.WithDescription("Number of runs submitted"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("flowforge.runs.completed",
		metric.WithDescription("Number of runs that reached Completed"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("flowforge.runs.failed",
		metric.WithDescription("Number of runs that finalized in a failure state"))
	if err != nil {
		return nil, err
	}

	m.RunsRetried, err = meter.Int64Counter("flowforge.runs.retried",
		metric.WithDescription("Number of retry episodes scheduled"))
	if err != nil {
		return nil, err
	}

	m.RunsCancelled, err = meter.Int64Counter("flowforge.runs.cancelled",
		metric.WithDescription("Number of runs cancelled"))
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter("flowforge.cache.hits",
		metric.WithDescription("Number of result cache hits adopted by runs"))
	if err != nil {
		return nil, err
	}

	m.CacheMisses, err = meter.Int64Counter("flowforge.cache.misses",
		metric.WithDescription("Number of result cache misses"))
	if err != nil {
		return nil, err
	}

	m.AdmissionWaits, err = meter.Int64Counter("flowforge.admission.waits",
		metric.WithDescription("Number of denied admission attempts that entered a wait"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("flowforge.run.duration_seconds",
		metric.WithDescription("Run duration from submit to terminal state in seconds"))
	if err != nil {
		return nil, err
	}

	m.AdmissionWait, err = meter.Float64Histogram("flowforge.admission.wait_seconds",
		metric.WithDescription("Time spent waiting for admission in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
