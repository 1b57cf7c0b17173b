package promo

import (
	"context"
	"sync"
	"time"
)

type mockRepo struct {
	mu     sync.Mutex
	codes  map[string]*Code
	usages []Usage
	err    error
	nextID int64

	// redeemErrs fail the next Redeem calls in order.
	redeemErrs []error
}

func newMockRepo(codes ...Code) *mockRepo {
	m := &mockRepo{codes: make(map[string]*Code)}
	for i := range codes {
		c := codes[i]
		m.codes[c.Code] = &c
	}
	return m
}

func (m *mockRepo) FindByCode(_ context.Context, code string) (*Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) CountCustomerUsage(_ context.Context, promoID, customerID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(promoID, customerID), nil
}

func (m *mockRepo) countLocked(promoID, customerID int64) int {
	n := 0
	for _, u := range m.usages {
		if u.PromoID == promoID && u.CustomerID == customerID && u.ReversedAt == nil {
			n++
		}
	}
	return n
}

func (m *mockRepo) FindUsageByOrder(_ context.Context, promoID, orderID int64) (*Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.usages {
		if u.PromoID == promoID && u.OrderID == orderID && u.ReversedAt == nil {
			cp := u
			return &cp, nil
		}
	}
	return nil, ErrUsageNotFound
}

func (m *mockRepo) Redeem(_ context.Context, code string, customerID int64, fn RedeemFunc) (*Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.redeemErrs) > 0 {
		err := m.redeemErrs[0]
		m.redeemErrs = m.redeemErrs[1:]
		return nil, err
	}
	c, ok := m.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	locked := *c
	u, err := fn(&locked, m.countLocked(c.ID, customerID))
	if err != nil {
		return nil, err
	}
	for _, existing := range m.usages {
		if existing.PromoID == u.PromoID && existing.OrderID == u.OrderID && existing.ReversedAt == nil {
			return nil, ErrDuplicateRedemption
		}
	}
	m.nextID++
	u.ID = m.nextID
	m.usages = append(m.usages, *u)
	c.TotalRedemptions++
	return u, nil
}

func (m *mockRepo) Reverse(_ context.Context, promoID, orderID int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, u := range m.usages {
		if u.PromoID == promoID && u.OrderID == orderID && u.ReversedAt == nil {
			m.usages[i].ReversedAt = &at
			for _, c := range m.codes {
				if c.ID == promoID {
					c.TotalRedemptions--
				}
			}
			return true, nil
		}
	}
	return false, nil
}

type mockTokens struct {
	mu      sync.Mutex
	byToken map[string]Reservation
	putErr  error
}

func newMockTokens() *mockTokens {
	return &mockTokens{byToken: make(map[string]Reservation)}
}

func (m *mockTokens) Put(_ context.Context, r Reservation, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.putErr != nil {
		return m.putErr
	}
	m.byToken[r.Token] = r
	return nil
}

func (m *mockTokens) Get(_ context.Context, token string) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byToken[token]
	if !ok {
		return nil, ErrReservationNotFound
	}
	return &r, nil
}

func (m *mockTokens) Drop(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.byToken, token)
	return nil
}

type mockAdminRepo struct {
	codes     map[int64]*Code
	usage     []Usage
	createErr error
	deleteErr error
	updated   *Code
}

func (m *mockAdminRepo) Create(_ context.Context, c *Code) error {
	if m.createErr != nil {
		return m.createErr
	}
	c.ID = int64(len(m.codes) + 1)
	m.codes[c.ID] = c
	return nil
}

func (m *mockAdminRepo) Get(_ context.Context, id int64) (*Code, error) {
	c, ok := m.codes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockAdminRepo) List(_ context.Context) ([]Code, error) {
	out := make([]Code, 0, len(m.codes))
	for _, c := range m.codes {
		out = append(out, *c)
	}
	return out, nil
}

func (m *mockAdminRepo) Update(_ context.Context, c *Code) error {
	m.updated = c
	m.codes[c.ID] = c
	return nil
}

func (m *mockAdminRepo) Delete(_ context.Context, id int64) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.codes[id]; !ok {
		return ErrNotFound
	}
	delete(m.codes, id)
	return nil
}

func (m *mockAdminRepo) ListUsage(_ context.Context, promoID int64) ([]Usage, error) {
	var out []Usage
	for _, u := range m.usage {
		if u.PromoID == promoID {
			out = append(out, u)
		}
	}
	return out, nil
}
