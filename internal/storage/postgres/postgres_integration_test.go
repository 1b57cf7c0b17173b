//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/quickbite/internal/domain/auth"
	"github.com/xenking/quickbite/internal/domain/catalog"
	"github.com/xenking/quickbite/internal/domain/order"
	"github.com/xenking/quickbite/internal/domain/promo"
	"github.com/xenking/quickbite/internal/storage/postgres"
)

type StorageSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	pool      *pgxpool.Pool
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("quickbite"),
		tcpostgres.WithUsername("quickbite"),
		tcpostgres.WithPassword("quickbite"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.pool, err = postgres.NewPool(ctx, dsn)
	s.Require().NoError(err)
	s.Require().NoError(postgres.RunMigrations(ctx, s.pool))
}

func (s *StorageSuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(), `TRUNCATE foods, orders, order_items, order_addresses,
		pending_compensations, api_keys, promo_code_usage, promo_codes RESTART IDENTITY CASCADE`)
	s.Require().NoError(err)
}

func (s *StorageSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(context.Background()))
	}
}

func (s *StorageSuite) TestFoods() {
	ctx := context.Background()
	_, err := s.pool.Exec(ctx, `INSERT INTO foods (name, unit_price, in_stock) VALUES ('Paneer Tikka', 150.50, TRUE)`)
	s.Require().NoError(err)

	repo := postgres.NewFoodRepository(s.pool)
	f, err := repo.GetFood(ctx, 1)
	s.Require().NoError(err)
	s.Equal("Paneer Tikka", f.Name)
	s.True(decimal.RequireFromString("150.50").Equal(f.UnitPrice))
	s.True(f.InStock)

	_, err = repo.GetFood(ctx, 99)
	s.ErrorIs(err, catalog.ErrFoodNotFound)
}

func (s *StorageSuite) TestAPIKeys() {
	ctx := context.Background()
	hash := auth.HashKey([]byte("pepper"), "secret")
	_, err := s.pool.Exec(ctx, `INSERT INTO api_keys (id, key_hash, name, role, subject_id, email)
		VALUES ('k1', $1, 'jane', 'CUSTOMER', 100, 'jane@example.com')`, hash)
	s.Require().NoError(err)

	repo := postgres.NewAPIKeyRepository(s.pool)
	info, err := repo.FindByHash(ctx, hash)
	s.Require().NoError(err)
	s.Equal(auth.RoleCustomer, info.Role)
	s.Equal(int64(100), info.SubjectID)

	_, err = repo.FindByHash(ctx, "nope")
	s.ErrorIs(err, auth.ErrKeyNotFound)
}

func (s *StorageSuite) newOrder() *order.Order {
	return &order.Order{
		CustomerID: 100,
		Items: []order.Item{
			{FoodID: 1, Name: "Paneer Tikka", Quantity: 2, UnitPrice: decimal.RequireFromString("150.00")},
			{FoodID: 2, Name: "Dal Makhani", Quantity: 1, UnitPrice: decimal.RequireFromString("200.00")},
		},
		Address:        order.Address{FullName: "Jane", Phone: "9999999999", Street: "1 Main St", City: "Pune", State: "MH", Pincode: "411001"},
		DiscountAmount: decimal.Zero,
		OTP:            "004217",
		Status:         order.StatusPending,
	}
}

func (s *StorageSuite) TestOrders() {
	ctx := context.Background()
	repo := postgres.NewOrderRepository(s.pool)

	o := s.newOrder()
	s.Require().NoError(repo.Create(ctx, o))
	s.NotZero(o.ID)
	s.False(o.CreatedAt.IsZero())

	s.Require().NoError(repo.SetDiscount(ctx, o.ID, "CAP40", decimal.NewFromInt(40)))
	s.Require().NoError(repo.AssignPartner(ctx, o.ID, 7))

	got, err := repo.Get(ctx, o.ID)
	s.Require().NoError(err)
	s.Equal("CAP40", got.PromoCode)
	s.Equal(int64(7), got.DeliveryPartnerID)
	s.Equal("004217", got.OTP)
	s.Equal("Pune", got.Address.City)
	s.Require().Len(got.Items, 2)
	s.Equal("Paneer Tikka", got.Items[0].Name)
	s.True(decimal.RequireFromString("490").Equal(got.GrandTotal()))

	s.Require().NoError(repo.UpdateStatus(ctx, o.ID, order.StatusPending, order.StatusOut))
	s.ErrorIs(repo.UpdateStatus(ctx, o.ID, order.StatusPending, order.StatusCancelled), order.ErrConcurrentUpdate)
	s.ErrorIs(repo.UpdateStatus(ctx, 999, order.StatusPending, order.StatusCancelled), order.ErrNotFound)
	s.ErrorIs(repo.AssignPartner(ctx, o.ID, 8), order.ErrConcurrentUpdate)

	_, err = repo.Get(ctx, 999)
	s.ErrorIs(err, order.ErrNotFound)

	second := s.newOrder()
	second.CustomerID = 101
	s.Require().NoError(repo.Create(ctx, second))

	mine, err := repo.ListByCustomer(ctx, 100)
	s.Require().NoError(err)
	s.Len(mine, 1)

	assigned, err := repo.ListByPartner(ctx, 7)
	s.Require().NoError(err)
	s.Len(assigned, 1)

	all, err := repo.ListAll(ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(second.ID, all[0].ID)
	s.Len(all[1].Items, 2)
}

func (s *StorageSuite) TestCompensations() {
	ctx := context.Background()
	repo := postgres.NewCompensationRepository(s.pool)

	s.Require().NoError(repo.Record(ctx, order.Compensation{
		Kind: order.CompensateReleasePartner, OrderID: 1, PartnerID: 7, Attempts: 1, LastError: "down",
	}))
	s.Require().NoError(repo.Record(ctx, order.Compensation{
		Kind: order.CompensateReversePromo, OrderID: 2, PromoCode: "CAP40", Attempts: 1,
	}))

	pending, err := repo.Pending(ctx, 10, 3)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(order.CompensateReleasePartner, pending[0].Kind)

	s.Require().NoError(repo.Resolve(ctx, pending[0].ID))
	s.Require().NoError(repo.Fail(ctx, pending[1].ID, "again"))
	s.Require().NoError(repo.Fail(ctx, pending[1].ID, "again"))

	pending, err = repo.Pending(ctx, 10, 3)
	s.Require().NoError(err)
	s.Empty(pending, "resolved and exhausted entries are skipped")
}

func (s *StorageSuite) createPromo(repo *postgres.PromoRepository, mutate ...func(*promo.Code)) *promo.Code {
	now := time.Now()
	c := &promo.Code{
		Code:                  "SAVE10",
		Title:                 "Save 10%",
		DiscountType:          promo.DiscountPercentage,
		DiscountValue:         decimal.NewFromInt(10),
		MaxDiscountAmount:     decimal.NewNullDecimal(decimal.NewFromInt(40)),
		UsageLimitPerCustomer: 1,
		Active:                true,
		ValidFrom:             now.Add(-time.Hour),
		ValidUntil:            now.Add(time.Hour),
	}
	for _, fn := range mutate {
		fn(c)
	}
	s.Require().NoError(repo.Create(context.Background(), c))
	return c
}

func (s *StorageSuite) TestPromoAdmin() {
	ctx := context.Background()
	repo := postgres.NewPromoRepository(s.pool)
	c := s.createPromo(repo)

	s.ErrorIs(repo.Create(ctx, &promo.Code{
		Code: "SAVE10", DiscountType: promo.DiscountFlat, DiscountValue: decimal.NewFromInt(5),
		ValidFrom: time.Now(), ValidUntil: time.Now().Add(time.Hour),
	}), promo.ErrDuplicateCode)

	got, err := repo.FindByCode(ctx, "SAVE10")
	s.Require().NoError(err)
	s.Equal(c.ID, got.ID)
	s.True(got.MaxDiscountAmount.Valid)
	s.False(got.MinOrderAmount.Valid)

	got.Title = "Renamed"
	got.MinOrderAmount = decimal.NewNullDecimal(decimal.NewFromInt(100))
	s.Require().NoError(repo.Update(ctx, got))

	reread, err := repo.Get(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal("Renamed", reread.Title)
	s.True(decimal.NewFromInt(100).Equal(reread.MinOrderAmount.Decimal))

	list, err := repo.List(ctx)
	s.Require().NoError(err)
	s.Len(list, 1)

	_, err = repo.Get(ctx, 999)
	s.ErrorIs(err, promo.ErrNotFound)
	s.ErrorIs(repo.Delete(ctx, 999), promo.ErrNotFound)
	s.Require().NoError(repo.Delete(ctx, c.ID))
}

func usageFor(orderID int64) promo.RedeemFunc {
	return func(c *promo.Code, uses int) (*promo.Usage, error) {
		if c.UsageLimitPerCustomer > 0 && uses >= c.UsageLimitPerCustomer {
			return nil, promo.ErrAlreadyUsed
		}
		return &promo.Usage{
			PromoID:         c.ID,
			CustomerID:      100,
			CustomerEmail:   "jane@example.com",
			OrderID:         orderID,
			UsedAt:          time.Now(),
			OrderTotal:      decimal.NewFromInt(500),
			DiscountApplied: decimal.NewFromInt(40),
		}, nil
	}
}

func (s *StorageSuite) TestPromoRedeemAndReverse() {
	ctx := context.Background()
	repo := postgres.NewPromoRepository(s.pool)
	c := s.createPromo(repo, func(c *promo.Code) { c.UsageLimitPerCustomer = 2 })

	u, err := repo.Redeem(ctx, "SAVE10", 100, usageFor(1))
	s.Require().NoError(err)
	s.NotZero(u.ID)

	_, err = repo.Redeem(ctx, "SAVE10", 100, usageFor(1))
	s.ErrorIs(err, promo.ErrDuplicateRedemption)

	found, err := repo.FindUsageByOrder(ctx, c.ID, 1)
	s.Require().NoError(err)
	s.Equal("SAVE10", found.Code)

	n, err := repo.CountCustomerUsage(ctx, c.ID, 100)
	s.Require().NoError(err)
	s.Equal(1, n)

	ok, err := repo.Reverse(ctx, c.ID, 1, time.Now())
	s.Require().NoError(err)
	s.True(ok)
	ok, err = repo.Reverse(ctx, c.ID, 1, time.Now())
	s.Require().NoError(err)
	s.False(ok)

	_, err = repo.FindUsageByOrder(ctx, c.ID, 1)
	s.ErrorIs(err, promo.ErrUsageNotFound)

	got, err := repo.Get(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(0, got.TotalRedemptions)

	usage, err := repo.ListUsage(ctx, c.ID)
	s.Require().NoError(err)
	s.Require().Len(usage, 1)
	s.NotNil(usage[0].ReversedAt)

	s.ErrorIs(repo.Delete(ctx, c.ID), promo.ErrHasRedemptions)
}

func (s *StorageSuite) TestPromoRedeemIsSerialized() {
	ctx := context.Background()
	repo := postgres.NewPromoRepository(s.pool)
	c := s.createPromo(repo)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok, bad int
	)
	for i := range 8 {
		wg.Add(1)
		go func(orderID int64) {
			defer wg.Done()
			_, err := repo.Redeem(ctx, "SAVE10", 100, usageFor(orderID))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, promo.ErrAlreadyUsed):
				bad++
			}
		}(int64(i + 1))
	}
	wg.Wait()

	s.Equal(1, ok)
	s.Equal(7, bad)

	n, err := repo.CountCustomerUsage(ctx, c.ID, 100)
	s.Require().NoError(err)
	s.Equal(1, n)
}
