package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records order and dashboard counters. It satisfies services.Metrics.
type Metrics struct {
	placed      metric.Int64Counter
	rejected    metric.Int64Counter
	transitions metric.Int64Counter
	dashboard   metric.Int64Counter
	checkout    metric.Float64Histogram
}

// NewMetrics registers instruments on meter, or on the global provider when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationLib)
	}
	placed, err := meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders committed by checkout"))
	if err != nil {
		return nil, fmt.Errorf("observability: register orders.placed: %w", err)
	}
	rejected, err := meter.Int64Counter("orders.rejected",
		metric.WithDescription("Checkout attempts rejected, by reason"))
	if err != nil {
		return nil, fmt.Errorf("observability: register orders.rejected: %w", err)
	}
	transitions, err := meter.Int64Counter("orders.status_transitions",
		metric.WithDescription("Order status changes, by target status"))
	if err != nil {
		return nil, fmt.Errorf("observability: register orders.status_transitions: %w", err)
	}
	dashboard, err := meter.Int64Counter("dashboard.cache",
		metric.WithDescription("Seller dashboard cache lookups, by result"))
	if err != nil {
		return nil, fmt.Errorf("observability: register dashboard.cache: %w", err)
	}
	checkout, err := meter.Float64Histogram("orders.checkout.duration",
		metric.WithDescription("Checkout latency"), metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("observability: register orders.checkout.duration: %w", err)
	}
	return &Metrics{
		placed:      placed,
		rejected:    rejected,
		transitions: transitions,
		dashboard:   dashboard,
		checkout:    checkout,
	}, nil
}

func (m *Metrics) OrderPlaced(ctx context.Context, elapsed time.Duration) {
	m.placed.Add(ctx, 1)
	m.checkout.Record(ctx, float64(elapsed)/float64(time.Millisecond), metric.WithAttributes(attribute.String("outcome", "placed")))
}

func (m *Metrics) OrderRejected(ctx context.Context, reason string, elapsed time.Duration) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.checkout.Record(ctx, float64(elapsed)/float64(time.Millisecond), metric.WithAttributes(attribute.String("outcome", "rejected")))
}

func (m *Metrics) StatusTransition(ctx context.Context, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}

func (m *Metrics) DashboardCache(ctx context.Context, result string) {
	m.dashboard.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
