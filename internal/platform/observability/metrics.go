package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/sfykart/api/checkout"

// CheckoutMetrics records order placement outcomes.
type CheckoutMetrics struct {
	ordersPlaced   metric.Int64Counter
	submitFailures metric.Int64Counter
	submitLatency  metric.Float64Histogram
}

// NewCheckoutMetrics registers the checkout instruments on the supplied meter, or the global meter
// provider when nil. Instruments that fail to register become no-ops.
func NewCheckoutMetrics(meter metric.Meter, logger *zap.Logger) *CheckoutMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &CheckoutMetrics{}
	var err error
	if m.ordersPlaced, err = meter.Int64Counter("checkout.orders_placed",
		metric.WithDescription("Orders written by checkout, by payment method")); err != nil {
		logger.Warn("metrics: register orders_placed", zap.Error(err))
	}
	if m.submitFailures, err = meter.Int64Counter("checkout.submit_failures",
		metric.WithDescription("Failed checkout submissions, by reason")); err != nil {
		logger.Warn("metrics: register submit_failures", zap.Error(err))
	}
	if m.submitLatency, err = meter.Float64Histogram("checkout.submit_latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of checkout submissions")); err != nil {
		logger.Warn("metrics: register submit_latency", zap.Error(err))
	}
	return m
}

// OrderPlaced counts a written order.
func (m *CheckoutMetrics) OrderPlaced(ctx context.Context, method string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("payment_method", method))
	if m.ordersPlaced != nil {
		m.ordersPlaced.Add(ctx, 1, attrs)
	}
	if m.submitLatency != nil {
		m.submitLatency.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
	}
}

// SubmitFailed counts a failed submission.
func (m *CheckoutMetrics) SubmitFailed(ctx context.Context, method, reason string) {
	if m == nil || m.submitFailures == nil {
		return
	}
	m.submitFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payment_method", method),
		attribute.String("reason", reason),
	))
}
