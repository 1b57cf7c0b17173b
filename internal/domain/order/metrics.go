package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/quickbite/internal/apperr"
)

type metrics struct {
	placed        metric.Int64Counter
	failed        metric.Int64Counter
	transitions   metric.Int64Counter
	compensations metric.Int64Counter
}

func newMetrics(m metric.Meter) (*metrics, error) {
	var (
		out metrics
		err error
	)
	if out.placed, err = m.Int64Counter("quickbite.orders.placed",
		metric.WithDescription("Orders placed successfully"),
	); err != nil {
		return nil, errors.Wrap(err, "placed counter")
	}
	if out.failed, err = m.Int64Counter("quickbite.orders.placement_failed",
		metric.WithDescription("Order placements that failed, by error kind"),
	); err != nil {
		return nil, errors.Wrap(err, "failed counter")
	}
	if out.transitions, err = m.Int64Counter("quickbite.orders.transitions",
		metric.WithDescription("Order status transitions, by target status"),
	); err != nil {
		return nil, errors.Wrap(err, "transitions counter")
	}
	if out.compensations, err = m.Int64Counter("quickbite.orders.compensations",
		metric.WithDescription("Saga compensations, by kind and outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "compensations counter")
	}
	return &out, nil
}

func (m *metrics) placementFailed(ctx context.Context, err error) {
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", apperr.KindOf(err).String())))
}

func (m *metrics) transitioned(ctx context.Context, to Status) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(to))))
}

func (m *metrics) compensated(ctx context.Context, kind CompensationKind, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.compensations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcome),
	))
}
