package order

import (
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	placed         metric.Int64Counter
	cancelled      metric.Int64Counter
	stockConflicts metric.Int64Counter
	payments       metric.Int64Counter
}

func newMetrics(meter metric.Meter) (metrics, error) {
	var (
		m   metrics
		err error
	)
	if m.placed, err = meter.Int64Counter("kart.orders.placed",
		metric.WithDescription("Orders successfully placed"),
	); err != nil {
		return m, err
	}
	if m.cancelled, err = meter.Int64Counter("kart.orders.cancelled",
		metric.WithDescription("Orders cancelled by their owner"),
	); err != nil {
		return m, err
	}
	if m.stockConflicts, err = meter.Int64Counter("kart.orders.stock_conflicts",
		metric.WithDescription("Placements rejected for insufficient stock"),
	); err != nil {
		return m, err
	}
	if m.payments, err = meter.Int64Counter("kart.orders.payment_transitions",
		metric.WithDescription("Payment webhook outcomes applied to orders"),
	); err != nil {
		return m, err
	}
	return m, nil
}
