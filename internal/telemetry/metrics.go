// Package telemetry provides OpenTelemetry instrumentation for the SSH transport.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tasktally/tasktally-ssh/internal/errs"
)

// TransportMetricsMeterName is the name used for the transport metrics meter.
const TransportMetricsMeterName = "github.com/tasktally/tasktally-ssh/transport"

// Operation names recorded by TransportMetrics.
const (
	OperationClone = "clone"
	OperationPush  = "push"
	OperationScan  = "scan"
	OperationProbe = "probe"
)

// TransportMetrics holds the instruments for SSH and Git operations.
type TransportMetrics struct {
	duration        metric.Float64Histogram
	hostKeyMismatch metric.Int64Counter
	scannedHostKeys metric.Int64Histogram
}

// NewTransportMetrics creates TransportMetrics from provider.
// If provider is nil, it returns nil (no-op metrics).
func NewTransportMetrics(provider metric.MeterProvider) (*TransportMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(TransportMetricsMeterName)

	duration, err := meter.Float64Histogram(
		"tasktally_ssh_operation_duration_seconds",
		metric.WithDescription("Duration of SSH transport operations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, err
	}

	hostKeyMismatch, err := meter.Int64Counter(
		"tasktally_ssh_host_key_mismatch_total",
		metric.WithDescription("Connections rejected because the presented host key did not match"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	scannedHostKeys, err := meter.Int64Histogram(
		"tasktally_ssh_scanned_host_keys",
		metric.WithDescription("Number of host keys returned by a scan"),
		metric.WithUnit("{key}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	return &TransportMetrics{
		duration:        duration,
		hostKeyMismatch: hostKeyMismatch,
		scannedHostKeys: scannedHostKeys,
	}, nil
}

// RecordOperation records how long an operation against host took. A nil err counts as
// success; otherwise the error kind is attached and host key mismatches are counted.
func (m *TransportMetrics) RecordOperation(ctx context.Context, operation, host string, duration time.Duration, err error) {
	if m == nil || m.duration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("host", host),
		attribute.Bool("success", err == nil),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error_kind", errs.KindOf(err).String()))
	}
	m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if errs.IsHostKeyMismatch(err) {
		m.hostKeyMismatch.Add(ctx, 1, metric.WithAttributes(attribute.String("host", host)))
	}
}

// RecordScannedKeys records how many host keys a scan of host returned.
func (m *TransportMetrics) RecordScannedKeys(ctx context.Context, host string, count int) {
	if m == nil || m.scannedHostKeys == nil {
		return
	}
	m.scannedHostKeys.Record(ctx, int64(count), metric.WithAttributes(attribute.String("host", host)))
}
