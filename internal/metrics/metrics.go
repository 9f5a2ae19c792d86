// Package metrics exposes pipeline metrics through OpenTelemetry with a
// Prometheus exporter.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/programme-lv/probpipe/api"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter

	stageDuration metric.Float64Histogram
	stages        metric.Int64Counter

	verdicts     metric.Int64Counter
	caseDuration metric.Float64Histogram

	jobWrites metric.Int64Counter
}

// New registers every instrument on a private registry and returns the
// handler that serves it.
func New() (*Metrics, http.Handler, error) {
	reg := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	m := &Metrics{provider: provider, meter: provider.Meter("probpipe")}

	if m.httpDuration, err = m.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	); err != nil {
		return nil, nil, err
	}
	if m.httpRequests, err = m.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, nil, err
	}
	if m.stageDuration, err = m.meter.Float64Histogram(
		"stage_duration_seconds",
		metric.WithDescription("Stage execution time in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 300, 900),
	); err != nil {
		return nil, nil, err
	}
	if m.stages, err = m.meter.Int64Counter(
		"stages_total",
		metric.WithDescription("Finished stages by type and outcome"),
	); err != nil {
		return nil, nil, err
	}
	if m.verdicts, err = m.meter.Int64Counter(
		"verdicts_total",
		metric.WithDescription("Per test case verdicts"),
	); err != nil {
		return nil, nil, err
	}
	if m.caseDuration, err = m.meter.Float64Histogram(
		"case_duration_seconds",
		metric.WithDescription("Wall time of judged solution runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10),
	); err != nil {
		return nil, nil, err
	}
	if m.jobWrites, err = m.meter.Int64Counter(
		"job_writes_total",
		metric.WithDescription("Job record writes by type and status"),
	); err != nil {
		return nil, nil, err
	}
	return m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

// ObserveQueue reports the number of waiting orchestrations on every scrape.
func (m *Metrics) ObserveQueue(pending func() int) error {
	gauge, err := m.meter.Int64ObservableGauge(
		"queue_pending",
		metric.WithDescription("Orchestrations waiting for the worker"),
	)
	if err != nil {
		return err
	}
	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, int64(pending()))
		return nil
	}, gauge)
	return err
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method string, route string, status int, took time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", fmt.Sprintf("%dxx", status/100)),
	)
	m.httpDuration.Record(ctx, took.Seconds(), attrs)
	m.httpRequests.Add(ctx, 1, attrs)
}

// StageFinished implements stages.Recorder.
func (m *Metrics) StageFinished(typ api.JobType, status api.JobStatus, took time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("type", string(typ)),
		attribute.String("status", string(status)),
	)
	m.stageDuration.Record(context.Background(), took.Seconds(), attrs)
	m.stages.Add(context.Background(), 1, attrs)
}

// VerdictRecorded implements stages.Recorder.
func (m *Metrics) VerdictRecorded(v api.Verdict) {
	ctx := context.Background()
	m.verdicts.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", string(v.Verdict))))
	if v.TimeMs != nil {
		m.caseDuration.Record(ctx, float64(*v.TimeMs)/1000)
	}
}

// JobUpdated implements jobstore.Observer.
func (m *Metrics) JobUpdated(job api.Job) {
	m.jobWrites.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", string(job.Type)),
		attribute.String("status", string(job.Status)),
	))
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
