// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/reportcard/pkg/errors"
)

// StoreMetrics tracks call counts, latency and failures of store operations.
// A nil *StoreMetrics is valid and records nothing.
type StoreMetrics struct {
	// operations counts calls by component, operation and outcome
	operations metric.Int64Counter

	// duration records call latency in milliseconds
	duration metric.Float64Histogram

	// errorCounter counts failures by error code
	errorCounter metric.Int64Counter
}

// NewStoreMetrics creates the instruments on the global meter provider.
func NewStoreMetrics() (*StoreMetrics, error) {
	return NewStoreMetricsWithMeter(otel.Meter("reportcard/store"))
}

// NewStoreMetricsWithMeter creates the instruments on meter.
func NewStoreMetricsWithMeter(meter metric.Meter) (*StoreMetrics, error) {
	operations, err := meter.Int64Counter(
		"reportcard.records.operations",
		metric.WithDescription("Store operations by component, operation and outcome"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"reportcard.records.duration",
		metric.WithDescription("Store operation latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"reportcard.errors.total",
		metric.WithDescription("Store errors by code and component"),
	)
	if err != nil {
		return nil, err
	}

	return &StoreMetrics{
		operations:   operations,
		duration:     duration,
		errorCounter: errorCounter,
	}, nil
}

// Record captures one finished operation that started at start.
func (m *StoreMetrics) Record(ctx context.Context, component, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrComponent, component),
		attribute.String(AttrOperation, op),
		attribute.String("outcome", outcome),
	)
	m.operations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	if err != nil {
		m.RecordError(ctx, err, component)
	}
}

// RecordError increments the error counter for err's code.
func (m *StoreMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	code := errors.CodeOf(err)
	recoverable := "unknown"
	if code != "UNKNOWN" {
		recoverable = errors.As(err).RecoverableString()
	}
	m.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(AttrErrorCode, code),
			attribute.String(AttrComponent, component),
			attribute.String("recoverable", recoverable),
		),
	)
}
