package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// CompensationKind names an undo action of the placement saga.
type CompensationKind string

const (
	CompensateCancelOrder        CompensationKind = "cancel_order"
	CompensateReleasePartner     CompensationKind = "release_partner"
	CompensateReversePromo       CompensationKind = "reverse_promo"
	CompensateReleaseReservation CompensationKind = "release_reservation"
)

// Compensation is one undo action. Failed compensations are persisted and
// retried by the reconciliation job.
type Compensation struct {
	ID        int64
	Kind      CompensationKind
	OrderID   int64
	PartnerID int64
	PromoCode string
	Token     string
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// CompensationLog stores compensations that could not be applied inline.
type CompensationLog interface {
	Record(ctx context.Context, c Compensation) error
	Pending(ctx context.Context, limit, maxAttempts int) ([]Compensation, error)
	Resolve(ctx context.Context, id int64) error
	Fail(ctx context.Context, id int64, reason string) error
}

// saga collects the compensations of completed placement steps.
type saga struct {
	svc   *Service
	steps []Compensation
}

func (sg *saga) add(c Compensation) {
	sg.steps = append(sg.steps, c)
}

// rollback applies compensations newest first. Failures are recorded for
// reconciliation and never replace the placement error.
func (sg *saga) rollback(ctx context.Context, cause error) {
	lg := zctx.From(ctx)
	for i := len(sg.steps) - 1; i >= 0; i-- {
		c := sg.steps[i]
		err := sg.svc.Compensate(ctx, c)
		sg.svc.metrics.compensated(ctx, c.Kind, err)
		if err == nil {
			continue
		}

		lg.Warn("Compensation failed",
			zap.String("kind", string(c.Kind)),
			zap.Int64("order_id", c.OrderID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		// Unused reservations expire on their own.
		if c.Kind == CompensateReleaseReservation {
			continue
		}
		c.Attempts = 1
		c.LastError = err.Error()
		if err := sg.svc.compensations.Record(ctx, c); err != nil {
			lg.Error("Record compensation", zap.String("kind", string(c.Kind)), zap.Int64("order_id", c.OrderID), zap.Error(err))
		}
	}
}

// Compensate applies a single compensation. It is idempotent for every kind.
func (s *Service) Compensate(ctx context.Context, c Compensation) error {
	switch c.Kind {
	case CompensateCancelOrder:
		err := s.orders.UpdateStatus(ctx, c.OrderID, StatusPending, StatusCancelled)
		if errors.Is(err, ErrConcurrentUpdate) {
			o, gerr := s.orders.Get(ctx, c.OrderID)
			if gerr == nil && o.Status == StatusCancelled {
				return nil
			}
		}
		return err
	case CompensateReleasePartner:
		return s.partners.SetAvailability(ctx, c.PartnerID, true, true)
	case CompensateReversePromo:
		return s.promos.Reverse(ctx, c.PromoCode, c.OrderID)
	case CompensateReleaseReservation:
		return s.promos.Release(ctx, c.Token)
	default:
		return errors.Errorf("unknown compensation kind %q", c.Kind)
	}
}
