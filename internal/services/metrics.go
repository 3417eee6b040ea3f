package services

import (
	"context"
	"time"
)

// Metrics records order and dashboard counters. observability.Metrics satisfies it.
type Metrics interface {
	OrderPlaced(ctx context.Context, elapsed time.Duration)
	OrderRejected(ctx context.Context, reason string, elapsed time.Duration)
	StatusTransition(ctx context.Context, to string)
	DashboardCache(ctx context.Context, result string)
}

type noopMetrics struct{}

func (noopMetrics) OrderPlaced(context.Context, time.Duration)           {}
func (noopMetrics) OrderRejected(context.Context, string, time.Duration) {}
func (noopMetrics) StatusTransition(context.Context, string)             {}
func (noopMetrics) DashboardCache(context.Context, string)               {}
