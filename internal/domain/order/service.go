package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/quickbite/internal/apperr"
	"github.com/xenking/quickbite/internal/domain/auth"
	"github.com/xenking/quickbite/internal/domain/catalog"
	"github.com/xenking/quickbite/internal/domain/delivery"
	"github.com/xenking/quickbite/internal/domain/promo"
)

const (
	defaultPlacementTimeout  = 30 * time.Second
	defaultCompensateTimeout = 15 * time.Second
)

// PromoGateway is the pricing authority as seen by the orchestrator.
type PromoGateway interface {
	Validate(ctx context.Context, req promo.Request) (*promo.Quote, error)
	Redeem(ctx context.Context, req promo.RedeemRequest) (*promo.Quote, error)
	Reverse(ctx context.Context, code string, orderID int64) error
	Release(ctx context.Context, token string) error
}

// ItemRequest is one requested cart line.
type ItemRequest struct {
	FoodID   int64
	Quantity int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Address   Address
	Items     []ItemRequest
	PromoCode string
}

// Service is the order lifecycle orchestrator.
type Service struct {
	catalog       catalog.Gateway
	promos        PromoGateway
	partners      delivery.Gateway
	strategy      delivery.Strategy
	orders        Repository
	compensations CompensationLog

	newOTP            func() (string, error)
	placementTimeout  time.Duration
	compensateTimeout time.Duration
	tracer            trace.Tracer
	meter             metric.Meter
	metrics           *metrics
}

// Option configures a Service.
type Option func(*Service)

// WithStrategy replaces the partner selection policy.
func WithStrategy(s delivery.Strategy) Option {
	return func(svc *Service) { svc.strategy = s }
}

// WithPlacementTimeout bounds a whole placement, compensations excluded.
func WithPlacementTimeout(d time.Duration) Option {
	return func(svc *Service) {
		if d > 0 {
			svc.placementTimeout = d
		}
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(svc *Service) { svc.tracer = tp.Tracer("quickbite/order") }
}

// WithMeterProvider sets the meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(svc *Service) { svc.meter = mp.Meter("quickbite/order") }
}

// NewService creates the orchestrator with the required collaborators.
func NewService(
	foods catalog.Gateway,
	promos PromoGateway,
	partners delivery.Gateway,
	orders Repository,
	compensations CompensationLog,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		catalog:           foods,
		promos:            promos,
		partners:          partners,
		strategy:          delivery.FirstAvailable{},
		orders:            orders,
		compensations:     compensations,
		newOTP:            NewOTP,
		placementTimeout:  defaultPlacementTimeout,
		compensateTimeout: defaultCompensateTimeout,
		tracer:            tracenoop.NewTracerProvider().Tracer("quickbite/order"),
		meter:             metricnoop.NewMeterProvider().Meter("quickbite/order"),
	}
	for _, o := range opts {
		o(s)
	}

	m, err := newMetrics(s.meter)
	if err != nil {
		return nil, errors.Wrap(err, "order metrics")
	}
	s.metrics = m

	return s, nil
}

// PlaceOrder prices the cart, persists the order, applies the promo code,
// reserves a delivery partner and redeems the promo. Any failure after the
// order row exists rolls back the completed steps and leaves the order
// CANCELLED.
//
// Placement is not cancelled when the caller goes away.
func (s *Service) PlaceOrder(ctx context.Context, p auth.Principal, req PlaceOrderRequest) (*Order, error) {
	if err := p.Require(auth.CapPlaceOrder); err != nil {
		return nil, err
	}
	if err := validatePlacement(req); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.placementTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "order.Place",
		trace.WithAttributes(attribute.Int64("customer.id", p.SubjectID)),
	)
	defer span.End()

	o, err := s.placeOrder(ctx, p, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "placement failed")
		s.metrics.placementFailed(ctx, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int64("order.id", o.ID), attribute.Int64("partner.id", o.DeliveryPartnerID))
	s.metrics.placed.Add(ctx, 1)
	zctx.From(ctx).Info("Order placed",
		zap.Int64("order_id", o.ID),
		zap.Int64("customer_id", o.CustomerID),
		zap.Int64("partner_id", o.DeliveryPartnerID),
		zap.String("grand_total", o.GrandTotal().StringFixed(2)),
	)
	return o, nil
}

func (s *Service) placeOrder(ctx context.Context, p auth.Principal, req PlaceOrderRequest) (*Order, error) {
	items, err := s.priceItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	otp, err := s.newOTP()
	if err != nil {
		return nil, err
	}

	o := &Order{
		CustomerID:     p.SubjectID,
		Items:          items,
		Address:        req.Address,
		DiscountAmount: decimal.Zero,
		OTP:            otp,
		Status:         StatusPending,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	sg := &saga{svc: s}
	sg.add(Compensation{Kind: CompensateCancelOrder, OrderID: o.ID})

	if err := s.fulfil(ctx, p, o, req.PromoCode, sg); err != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensateTimeout)
		defer cancel()
		sg.rollback(rctx, err)
		return nil, err
	}
	return o, nil
}

// priceItems checks every requested food and freezes its unit price. Any
// missing or out-of-stock food rejects the whole cart.
func (s *Service) priceItems(ctx context.Context, reqs []ItemRequest) ([]Item, error) {
	items := make([]Item, 0, len(reqs))
	for _, r := range reqs {
		f, err := s.catalog.GetFood(ctx, r.FoodID)
		if err != nil {
			if errors.Is(err, catalog.ErrFoodNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("get food %d: %w", r.FoodID, err)
		}
		if !f.InStock {
			return nil, &OutOfStockError{FoodID: r.FoodID}
		}
		items = append(items, Item{
			FoodID:    f.ID,
			Name:      f.Name,
			Quantity:  r.Quantity,
			UnitPrice: f.UnitPrice,
		})
	}
	return items, nil
}

// fulfil runs the remote steps of placement, registering a compensation
// after each one succeeds.
func (s *Service) fulfil(ctx context.Context, p auth.Principal, o *Order, code string, sg *saga) error {
	var q *promo.Quote
	if code = strings.TrimSpace(code); code != "" {
		var err error
		q, err = s.promos.Validate(ctx, promo.Request{
			Code:          code,
			CustomerID:    p.SubjectID,
			CustomerEmail: p.Email,
			OrderTotal:    o.Subtotal(),
		})
		if err != nil {
			return err
		}
		if q.ReservationToken != "" {
			sg.add(Compensation{Kind: CompensateReleaseReservation, OrderID: o.ID, Token: q.ReservationToken})
		}

		o.ApplyDiscount(q.Code, q.DiscountAmount)
		if err := s.orders.SetDiscount(ctx, o.ID, o.PromoCode, o.DiscountAmount); err != nil {
			return fmt.Errorf("store discount: %w", err)
		}
	}

	candidates, err := s.partners.ListActivePartners(ctx)
	if err != nil {
		return err
	}
	partner, err := s.reservePartner(ctx, candidates)
	if err != nil {
		return err
	}
	sg.add(Compensation{Kind: CompensateReleasePartner, OrderID: o.ID, PartnerID: partner.ID})

	if q != nil {
		_, err := s.promos.Redeem(ctx, promo.RedeemRequest{
			Request: promo.Request{
				Code:          q.Code,
				CustomerID:    p.SubjectID,
				CustomerEmail: p.Email,
				OrderTotal:    o.Subtotal(),
			},
			OrderID:          o.ID,
			ReservationToken: q.ReservationToken,
		})
		if err != nil && !redemptionMayHaveCommitted(err) {
			return err
		}
		sg.add(Compensation{Kind: CompensateReversePromo, OrderID: o.ID, PromoCode: q.Code})
		if err != nil {
			return err
		}
	}

	if err := s.orders.AssignPartner(ctx, o.ID, partner.ID); err != nil {
		return fmt.Errorf("assign partner: %w", err)
	}
	o.DeliveryPartnerID = partner.ID

	return nil
}

// reservePartner reserves the partner the strategy picks. A partner taken by
// a concurrent placement is dropped from the candidates and the next pick is
// tried.
func (s *Service) reservePartner(ctx context.Context, candidates []delivery.Partner) (delivery.Partner, error) {
	for {
		partner, err := s.strategy.Pick(candidates)
		if err != nil {
			return delivery.Partner{}, err
		}
		ok, err := s.partners.Reserve(ctx, partner.ID)
		if err != nil {
			return delivery.Partner{}, err
		}
		if ok {
			return partner, nil
		}
		zctx.From(ctx).Debug("Partner taken concurrently", zap.Int64("partner_id", partner.ID))
		candidates = delivery.Without(candidates, partner.ID)
	}
}

// redemptionMayHaveCommitted reports whether a failed redeem could still
// have written the usage row, as when the last attempt timed out after the
// promo server committed. Reversing an order without a live row is a no-op.
func redemptionMayHaveCommitted(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindIntegration, apperr.KindInternal:
		return true
	default:
		return false
	}
}

// CancelOrder cancels a pending order on behalf of its owner and releases
// the assigned partner.
func (s *Service) CancelOrder(ctx context.Context, p auth.Principal, id int64) (*Order, error) {
	if err := p.Require(auth.CapCancelOwnOrder); err != nil {
		return nil, err
	}
	o, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.CustomerID != p.SubjectID {
		return nil, ErrNotOwner
	}
	if err := o.Cancel(); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, o, StatusPending); err != nil {
		return nil, err
	}

	s.releasePartner(ctx, o)
	return o, nil
}

// MarkOutForDelivery moves a pending order to OUT on behalf of its partner.
func (s *Service) MarkOutForDelivery(ctx context.Context, p auth.Principal, id int64) (*Order, error) {
	if err := p.Require(auth.CapMarkOut); err != nil {
		return nil, err
	}
	o, err := s.assigned(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if err := o.MarkOut(); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, o, StatusPending); err != nil {
		return nil, err
	}
	return o, nil
}

// MarkDelivered completes an OUT order when otp matches, releases the
// partner and bumps the order counters of partner and customer.
func (s *Service) MarkDelivered(ctx context.Context, p auth.Principal, id int64, otp string) (*Order, error) {
	if err := p.Require(auth.CapMarkDelivered); err != nil {
		return nil, err
	}
	o, err := s.assigned(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if err := o.Deliver(otp); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, o, StatusOut); err != nil {
		return nil, err
	}

	s.releasePartner(ctx, o)
	s.countDelivery(ctx, o)
	return o, nil
}

// GetMyOrder returns an order owned by the caller.
func (s *Service) GetMyOrder(ctx context.Context, p auth.Principal, id int64) (*Order, error) {
	if err := p.Require(auth.CapViewOwnOrders); err != nil {
		return nil, err
	}
	o, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.CustomerID != p.SubjectID {
		return nil, ErrNotOwner
	}
	return o, nil
}

// ListMyOrders returns the caller's orders, newest first.
func (s *Service) ListMyOrders(ctx context.Context, p auth.Principal) ([]Order, error) {
	if err := p.Require(auth.CapViewOwnOrders); err != nil {
		return nil, err
	}
	orders, err := s.orders.ListByCustomer(ctx, p.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("list customer orders: %w", err)
	}
	return orders, nil
}

// ListAssignedOrders returns the orders assigned to the calling partner.
func (s *Service) ListAssignedOrders(ctx context.Context, p auth.Principal) ([]Order, error) {
	if err := p.Require(auth.CapViewAssignedOrders); err != nil {
		return nil, err
	}
	orders, err := s.orders.ListByPartner(ctx, p.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("list partner orders: %w", err)
	}
	return orders, nil
}

// ListAllOrders returns every order, newest first.
func (s *Service) ListAllOrders(ctx context.Context, p auth.Principal) ([]Order, error) {
	if err := p.Require(auth.CapViewAllOrders); err != nil {
		return nil, err
	}
	orders, err := s.orders.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// GetAnyOrder returns any order regardless of owner.
func (s *Service) GetAnyOrder(ctx context.Context, p auth.Principal, id int64) (*Order, error) {
	if err := p.Require(auth.CapViewAllOrders); err != nil {
		return nil, err
	}
	return s.get(ctx, id)
}

// UpdateOrderStatus is the admin override. It follows the same transition
// table as the owner and partner flows and skips the OTP check.
func (s *Service) UpdateOrderStatus(ctx context.Context, p auth.Principal, id int64, to Status) (*Order, error) {
	if err := p.Require(auth.CapOverrideOrderStatus); err != nil {
		return nil, err
	}
	o, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := o.Status
	if err := o.transition(to); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, o, from); err != nil {
		return nil, err
	}
	if to.Terminal() {
		s.releasePartner(ctx, o)
	}

	zctx.From(ctx).Info("Order status overridden",
		zap.Int64("order_id", o.ID),
		zap.Int64("admin_id", p.SubjectID),
		zap.String("status", string(to)),
	)
	return o, nil
}

func (s *Service) get(ctx context.Context, id int64) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound.WithMessage(fmt.Sprintf("order %d not found", id))
		}
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	return o, nil
}

func (s *Service) assigned(ctx context.Context, p auth.Principal, id int64) (*Order, error) {
	o, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.DeliveryPartnerID == 0 || o.DeliveryPartnerID != p.SubjectID {
		return nil, ErrNotAssigned
	}
	return o, nil
}

// commit persists o.Status if the stored status still equals from.
func (s *Service) commit(ctx context.Context, o *Order, from Status) error {
	if err := s.orders.UpdateStatus(ctx, o.ID, from, o.Status); err != nil {
		if errors.Is(err, ErrConcurrentUpdate) {
			return err
		}
		return fmt.Errorf("update order %d status: %w", o.ID, err)
	}
	s.metrics.transitioned(ctx, o.Status)
	zctx.From(ctx).Info("Order status changed",
		zap.Int64("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(o.Status)),
	)
	return nil
}

// releasePartner makes the order's partner available again. A failure is
// recorded for reconciliation; the transition already happened.
func (s *Service) releasePartner(ctx context.Context, o *Order) {
	if o.DeliveryPartnerID == 0 {
		return
	}
	c := Compensation{Kind: CompensateReleasePartner, OrderID: o.ID, PartnerID: o.DeliveryPartnerID}
	err := s.Compensate(ctx, c)
	s.metrics.compensated(ctx, c.Kind, err)
	if err == nil {
		return
	}

	lg := zctx.From(ctx)
	lg.Warn("Release partner failed", zap.Int64("order_id", o.ID), zap.Int64("partner_id", o.DeliveryPartnerID), zap.Error(err))
	c.Attempts = 1
	c.LastError = err.Error()
	if err := s.compensations.Record(context.WithoutCancel(ctx), c); err != nil {
		lg.Error("Record compensation", zap.Int64("order_id", o.ID), zap.Error(err))
	}
}

// countDelivery bumps order counters. Failures are logged only.
func (s *Service) countDelivery(ctx context.Context, o *Order) {
	lg := zctx.From(ctx)
	for _, id := range []int64{o.DeliveryPartnerID, o.CustomerID} {
		if err := s.partners.IncrementOrderCount(ctx, id); err != nil {
			lg.Warn("Increment order count failed", zap.Int64("order_id", o.ID), zap.Int64("user_id", id), zap.Error(err))
		}
	}
}

func validatePlacement(req PlaceOrderRequest) error {
	var fields []apperr.FieldError
	if len(req.Items) == 0 {
		fields = append(fields, apperr.FieldError{Field: "items", Message: "order must contain at least one item"})
	}
	for i, it := range req.Items {
		if it.FoodID <= 0 {
			fields = append(fields, apperr.FieldError{Field: fmt.Sprintf("items[%d].foodId", i), Message: "must be positive"})
		}
		switch {
		case it.Quantity <= 0:
			fields = append(fields, apperr.FieldError{Field: fmt.Sprintf("items[%d].quantity", i), Message: "must be greater than 0"})
		case it.Quantity > MaxItemQuantity:
			fields = append(fields, apperr.FieldError{
				Field:   fmt.Sprintf("items[%d].quantity", i),
				Message: fmt.Sprintf("must be at most %d", MaxItemQuantity),
			})
		}
	}
	if len(req.PromoCode) > 50 {
		fields = append(fields, apperr.FieldError{Field: "promoCode", Message: "must be 50 characters or fewer"})
	}
	if len(fields) > 0 {
		return apperr.Validation(fields)
	}
	return nil
}
