package order

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/quickbite/internal/domain/catalog"
	"github.com/xenking/quickbite/internal/domain/delivery"
	"github.com/xenking/quickbite/internal/domain/promo"
)

type mockCatalog struct {
	foods map[int64]*catalog.Food
	err   error
}

func newCatalog(foods ...catalog.Food) *mockCatalog {
	m := &mockCatalog{foods: make(map[int64]*catalog.Food, len(foods))}
	for i := range foods {
		m.foods[foods[i].ID] = &foods[i]
	}
	return m
}

func (m *mockCatalog) GetFood(_ context.Context, id int64) (*catalog.Food, error) {
	if m.err != nil {
		return nil, m.err
	}
	f, ok := m.foods[id]
	if !ok {
		return nil, catalog.NotFound(id)
	}
	return f, nil
}

type mockPromos struct {
	quote       *promo.Quote
	validateErr error
	redeemErr   error
	reverseErr  error
	releaseErr  error
	onRedeem    func(req promo.RedeemRequest) error
	onReverse   func(orderID int64)

	validated []promo.Request
	redeemed  []promo.RedeemRequest
	reversed  []int64
	released  []string
}

func (m *mockPromos) Validate(_ context.Context, req promo.Request) (*promo.Quote, error) {
	m.validated = append(m.validated, req)
	if m.validateErr != nil {
		return nil, m.validateErr
	}
	return m.quote, nil
}

func (m *mockPromos) Redeem(_ context.Context, req promo.RedeemRequest) (*promo.Quote, error) {
	m.redeemed = append(m.redeemed, req)
	if m.onRedeem != nil {
		if err := m.onRedeem(req); err != nil {
			return nil, err
		}
	}
	if m.redeemErr != nil {
		return nil, m.redeemErr
	}
	return m.quote, nil
}

func (m *mockPromos) Reverse(_ context.Context, _ string, orderID int64) error {
	m.reversed = append(m.reversed, orderID)
	if m.onReverse != nil {
		m.onReverse(orderID)
	}
	return m.reverseErr
}

func (m *mockPromos) Release(_ context.Context, token string) error {
	m.released = append(m.released, token)
	return m.releaseErr
}

type availabilityCall struct {
	PartnerID int64
	Available bool
	Locked    bool
}

type mockPartners struct {
	partners []delivery.Partner
	listErr  error
	setErr   error
	// failRelease fails only SetAvailability(available=true).
	failRelease error
	incErr      error
	// taken partners lose the Reserve race.
	taken map[int64]bool

	calls      []availabilityCall
	increments []int64
}

func (m *mockPartners) ListActivePartners(_ context.Context) ([]delivery.Partner, error) {
	return m.partners, m.listErr
}

func (m *mockPartners) Reserve(_ context.Context, id int64) (bool, error) {
	m.calls = append(m.calls, availabilityCall{PartnerID: id, Available: false, Locked: true})
	if m.setErr != nil {
		return false, m.setErr
	}
	return !m.taken[id], nil
}

func (m *mockPartners) SetAvailability(_ context.Context, id int64, available, locked bool) error {
	m.calls = append(m.calls, availabilityCall{PartnerID: id, Available: available, Locked: locked})
	if available && m.failRelease != nil {
		return m.failRelease
	}
	return m.setErr
}

func (m *mockPartners) IncrementOrderCount(_ context.Context, userID int64) error {
	m.increments = append(m.increments, userID)
	return m.incErr
}

type mockOrders struct {
	mu        sync.Mutex
	orders    map[int64]*Order
	nextID    int64
	createErr error
	assignErr error
	statusErr error
}

func newOrders(existing ...Order) *mockOrders {
	m := &mockOrders{orders: make(map[int64]*Order)}
	for i := range existing {
		o := existing[i]
		m.orders[o.ID] = &o
		if o.ID > m.nextID {
			m.nextID = o.ID
		}
	}
	return m
}

func (m *mockOrders) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	o.ID = m.nextID
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *mockOrders) Get(_ context.Context, id int64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrders) SetDiscount(_ context.Context, id int64, code string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.PromoCode = code
	o.DiscountAmount = amount
	return nil
}

func (m *mockOrders) AssignPartner(_ context.Context, id, partnerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.assignErr != nil {
		return m.assignErr
	}
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.DeliveryPartnerID = partnerID
	return nil
}

func (m *mockOrders) UpdateStatus(_ context.Context, id int64, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statusErr != nil {
		return m.statusErr
	}
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != from {
		return ErrConcurrentUpdate
	}
	o.Status = to
	return nil
}

func (m *mockOrders) list(keep func(*Order) bool) []Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Order
	for i := m.nextID; i > 0; i-- {
		if o, ok := m.orders[i]; ok && keep(o) {
			out = append(out, *o)
		}
	}
	return out
}

func (m *mockOrders) ListByCustomer(_ context.Context, customerID int64) ([]Order, error) {
	return m.list(func(o *Order) bool { return o.CustomerID == customerID }), nil
}

func (m *mockOrders) ListByPartner(_ context.Context, partnerID int64) ([]Order, error) {
	return m.list(func(o *Order) bool { return o.DeliveryPartnerID == partnerID }), nil
}

func (m *mockOrders) ListAll(_ context.Context) ([]Order, error) {
	return m.list(func(*Order) bool { return true }), nil
}

func (m *mockOrders) status(id int64) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id].Status
}

type mockCompensations struct {
	recorded []Compensation
	err      error
}

func (m *mockCompensations) Record(_ context.Context, c Compensation) error {
	m.recorded = append(m.recorded, c)
	return m.err
}

func (m *mockCompensations) Pending(context.Context, int, int) ([]Compensation, error) {
	return m.recorded, nil
}

func (m *mockCompensations) Resolve(context.Context, int64) error { return nil }

func (m *mockCompensations) Fail(context.Context, int64, string) error { return nil }
