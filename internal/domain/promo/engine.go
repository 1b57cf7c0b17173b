package promo

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultReservationTTL bounds how long a validated quote can be redeemed.
const DefaultReservationTTL = 5 * time.Minute

// Engine checks promo eligibility, prices discounts and records
// redemptions.
type Engine struct {
	repo     Repository
	tokens   ReservationStore
	ttl      time.Duration
	now      func() time.Time
	newToken func() string
}

// NewEngine creates an Engine. A zero ttl selects DefaultReservationTTL.
func NewEngine(repo Repository, tokens ReservationStore, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &Engine{
		repo:     repo,
		tokens:   tokens,
		ttl:      ttl,
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

// Validate runs the eligibility checks and returns a priced quote with a
// reservation token. Nothing is written to the ledger.
func (e *Engine) Validate(ctx context.Context, req Request) (*Quote, error) {
	c, err := e.find(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	uses, err := e.repo.CountCustomerUsage(ctx, c.ID, req.CustomerID)
	if err != nil {
		return nil, errors.Wrap(err, "count customer usage")
	}
	if err := e.check(c, uses, req.OrderTotal); err != nil {
		return nil, err
	}

	q, err := quote(c, req.OrderTotal)
	if err != nil {
		return nil, err
	}

	r := Reservation{
		Token:          e.newToken(),
		PromoID:        c.ID,
		Code:           c.Code,
		CustomerID:     req.CustomerID,
		OrderTotal:     req.OrderTotal,
		DiscountAmount: q.DiscountAmount,
		ExpiresAt:      e.now().Add(e.ttl),
	}
	if err := e.tokens.Put(ctx, r, e.ttl); err != nil {
		return nil, errors.Wrap(err, "store reservation")
	}
	q.ReservationToken = r.Token
	q.ExpiresAt = r.ExpiresAt

	return q, nil
}

// Redeem checks the reservation, re-runs the eligibility checks under the
// promo row lock and appends one usage row. The reservation is dropped only
// after the usage row is committed, so a retry after a failed or timed out
// attempt still finds it. A repeated call for the same order returns the
// recorded redemption.
func (e *Engine) Redeem(ctx context.Context, req RedeemRequest) (*Quote, error) {
	c, err := e.find(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	if q, ok, err := e.redeemed(ctx, c, req.OrderID); err != nil || ok {
		return q, err
	}

	if req.ReservationToken != "" {
		if err := e.checkReservation(ctx, c, req); err != nil {
			return nil, err
		}
	}

	usage, err := e.repo.Redeem(ctx, c.Code, req.CustomerID, func(locked *Code, uses int) (*Usage, error) {
		if err := e.check(locked, uses, req.OrderTotal); err != nil {
			return nil, err
		}
		discount, _, err := Calculate(locked, req.OrderTotal)
		if err != nil {
			return nil, err
		}
		return &Usage{
			PromoID:         locked.ID,
			Code:            locked.Code,
			CustomerID:      req.CustomerID,
			CustomerEmail:   req.CustomerEmail,
			OrderID:         req.OrderID,
			UsedAt:          e.now(),
			OrderTotal:      req.OrderTotal,
			DiscountApplied: discount,
		}, nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateRedemption) {
			q, _, rerr := e.redeemed(ctx, c, req.OrderID)
			return q, rerr
		}
		return nil, err
	}

	if req.ReservationToken != "" {
		if err := e.tokens.Drop(ctx, req.ReservationToken); err != nil {
			// The token expires on its own and the order is already redeemed.
			zctx.From(ctx).Warn("Drop redeemed reservation",
				zap.Int64("order_id", req.OrderID),
				zap.Error(err),
			)
		}
	}
	return usageQuote(c, usage), nil
}

// Reverse undoes the redemption recorded for orderID. Reversing an order
// without a live redemption is a no-op.
func (e *Engine) Reverse(ctx context.Context, code string, orderID int64) error {
	c, err := e.find(ctx, code)
	if err != nil {
		return err
	}
	if _, err := e.repo.Reverse(ctx, c.ID, orderID, e.now()); err != nil {
		return errors.Wrap(err, "reverse usage")
	}
	return nil
}

// Release drops an unused reservation.
func (e *Engine) Release(ctx context.Context, token string) error {
	if err := e.tokens.Drop(ctx, token); err != nil {
		return errors.Wrap(err, "drop reservation")
	}
	return nil
}

func (e *Engine) find(ctx context.Context, code string) (*Code, error) {
	c, err := e.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup promo code")
	}
	return c, nil
}

func (e *Engine) redeemed(ctx context.Context, c *Code, orderID int64) (*Quote, bool, error) {
	u, err := e.repo.FindUsageByOrder(ctx, c.ID, orderID)
	switch {
	case errors.Is(err, ErrUsageNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, errors.Wrap(err, "find usage by order")
	default:
		return usageQuote(c, u), true, nil
	}
}

func (e *Engine) checkReservation(ctx context.Context, c *Code, req RedeemRequest) error {
	r, err := e.tokens.Get(ctx, req.ReservationToken)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return ErrReservationGone
		}
		return errors.Wrap(err, "get reservation")
	}
	if r.PromoID != c.ID || r.CustomerID != req.CustomerID || !r.OrderTotal.Equal(req.OrderTotal) {
		return ErrReservationDenied
	}
	return nil
}

// check runs the eligibility rules in order, stopping at the first failure.
func (e *Engine) check(c *Code, customerUses int, orderTotal decimal.Decimal) error {
	if !c.Active {
		return ErrInactive
	}

	now := e.now()
	if now.Before(c.ValidFrom) {
		return ErrNotYetActive
	}
	if now.After(c.ValidUntil) {
		return ErrExpired
	}

	if c.MinOrderAmount.Valid && orderTotal.LessThan(c.MinOrderAmount.Decimal) {
		return ErrMinOrderNotMet
	}
	if c.MaxRedemptions > 0 && c.TotalRedemptions >= c.MaxRedemptions {
		return ErrRedemptionLimit
	}
	if c.UsageLimitPerCustomer > 0 && customerUses >= c.UsageLimitPerCustomer {
		return ErrAlreadyUsed
	}
	return nil
}

func quote(c *Code, orderTotal decimal.Decimal) (*Quote, error) {
	discount, final, err := Calculate(c, orderTotal)
	if err != nil {
		return nil, fmt.Errorf("calculate discount for %s: %w", c.Code, err)
	}
	return &Quote{
		Code:           c.Code,
		Valid:          true,
		Message:        appliedMessage,
		DiscountType:   c.DiscountType,
		DiscountValue:  c.DiscountValue,
		DiscountAmount: discount,
		FinalAmount:    final,
	}, nil
}

func usageQuote(c *Code, u *Usage) *Quote {
	return &Quote{
		Code:           c.Code,
		Valid:          true,
		Message:        appliedMessage,
		DiscountType:   c.DiscountType,
		DiscountValue:  c.DiscountValue,
		DiscountAmount: u.DiscountApplied,
		FinalAmount:    u.OrderTotal.Sub(u.DiscountApplied),
	}
}
