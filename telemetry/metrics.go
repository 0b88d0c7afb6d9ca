// Package telemetry records payment metrics with OpenTelemetry.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	x402 "github.com/Zyzgsfi/agentpay"
)

// MeterName is the instrumentation scope metrics are recorded under.
const MeterName = "github.com/Zyzgsfi/agentpay"

// Metrics turns payment events into OpenTelemetry measurements.
type Metrics struct {
	payments      metric.Int64Counter
	duration      metric.Float64Histogram
	verifications metric.Int64Counter
	polls         metric.Int64Histogram
}

// NewMetrics creates the instruments on meter, or on the global meter
// provider when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}

	payments, err := meter.Int64Counter(
		"x402.payments.total",
		metric.WithDescription("Client payment events by outcome"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"x402.payments.duration",
		metric.WithDescription("Time from challenge to paid response or failure"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	verifications, err := meter.Int64Counter(
		"x402.verifications.total",
		metric.WithDescription("Server-side proof verifications by outcome"),
	)
	if err != nil {
		return nil, err
	}

	polls, err := meter.Int64Histogram(
		"x402.confirmation.polls",
		metric.WithDescription("Receipt lookups per confirmation wait"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		payments:      payments,
		duration:      duration,
		verifications: verifications,
		polls:         polls,
	}, nil
}

// Record implements x402.PaymentCallback. A nil Metrics records nothing.
func (m *Metrics) Record(event x402.PaymentEvent) {
	if m == nil {
		return
	}
	ctx := context.Background()

	attrs := []attribute.KeyValue{
		attribute.String("event", string(event.Type)),
		attribute.String("network", event.Network),
		attribute.String("method", event.Method),
	}
	if event.Error != nil {
		attrs = append(attrs, attribute.String("error.code", string(x402.CodeOf(event.Error))))
	}
	set := metric.WithAttributes(attrs...)

	switch event.Type {
	case x402.PaymentEventVerified, x402.PaymentEventRejected:
		m.verifications.Add(ctx, 1, set)
	case x402.PaymentEventAttempt:
		m.payments.Add(ctx, 1, set)
	case x402.PaymentEventSuccess, x402.PaymentEventFailure:
		m.payments.Add(ctx, 1, set)
		m.duration.Record(ctx, event.Duration.Seconds(), set)
		if event.Polls > 0 {
			m.polls.Record(ctx, int64(event.Polls), set)
		}
	}
}

// Callback returns Record as a PaymentCallback.
func (m *Metrics) Callback() x402.PaymentCallback {
	return m.Record
}
