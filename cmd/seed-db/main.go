package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/quickbite/internal/domain/auth"
	"github.com/xenking/quickbite/internal/storage/postgres"
)

type foodJSON struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	InStock   bool            `json:"inStock"`
}

var defaultFoods = []foodJSON{
	{ID: 1, Name: "Paneer Butter Masala", Category: "Curry", UnitPrice: decimal.RequireFromString("240.00"), InStock: true},
	{ID: 2, Name: "Garlic Naan", Category: "Bread", UnitPrice: decimal.RequireFromString("60.00"), InStock: true},
	{ID: 3, Name: "Veg Biryani", Category: "Rice", UnitPrice: decimal.RequireFromString("220.00"), InStock: true},
	{ID: 4, Name: "Masala Dosa", Category: "South Indian", UnitPrice: decimal.RequireFromString("150.00"), InStock: true},
	{ID: 5, Name: "Gulab Jamun", Category: "Dessert", UnitPrice: decimal.RequireFromString("90.00"), InStock: true},
	{ID: 6, Name: "Mango Lassi", Category: "Drinks", UnitPrice: decimal.RequireFromString("110.00"), InStock: false},
}

type user struct {
	ID    int64
	Name  string
	Email string
	Role  auth.Role
}

var defaultUsers = []user{
	{ID: 1, Name: "Admin", Email: "admin@quickbite.local", Role: auth.RoleAdmin},
	{ID: 100, Name: "Asha Customer", Email: "asha@quickbite.local", Role: auth.RoleCustomer},
	{ID: 7, Name: "Ravi Rider", Email: "ravi@quickbite.local", Role: auth.RolePartner},
	{ID: 8, Name: "Meena Rider", Email: "meena@quickbite.local", Role: auth.RolePartner},
}

const (
	upsertFoodSQL = `INSERT INTO foods (id, name, category, unit_price, in_stock)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category,
			unit_price = EXCLUDED.unit_price, in_stock = EXCLUDED.in_stock`

	upsertUserSQL = `INSERT INTO users (id, name, email, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, role = EXCLUDED.role`

	upsertPromoSQL = `INSERT INTO promo_codes (code, title, description, discount_type, discount_value,
			max_discount_amount, min_order_amount, usage_limit_per_customer, valid_from, valid_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (code) DO UPDATE SET title = EXCLUDED.title, description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type, discount_value = EXCLUDED.discount_value,
			max_discount_amount = EXCLUDED.max_discount_amount, min_order_amount = EXCLUDED.min_order_amount,
			usage_limit_per_customer = EXCLUDED.usage_limit_per_customer,
			valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until, updated_at = NOW()`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, role, subject_id, email)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET key_hash = EXCLUDED.key_hash, name = EXCLUDED.name,
			role = EXCLUDED.role, subject_id = EXCLUDED.subject_id, email = EXCLUDED.email, active = TRUE`

	resetFoodsSeqSQL = `SELECT setval('foods_id_seq', (SELECT MAX(id) FROM foods))`
	resetUsersSeqSQL = `SELECT setval('users_id_seq', (SELECT MAX(id) FROM users))`
)

// keyFlags holds one raw API key per seeded role.
type keyFlags struct {
	customer, partner, admin, service string
}

func main() {
	var (
		databaseURL  string
		foodsFile    string
		apiKeyPepper string
		keys         keyFlags
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&foodsFile, "foods-file", "", "path to a foods JSON file, defaults to the built-in menu")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or QB_API_KEY_PEPPER env)")
	flag.StringVar(&keys.customer, "customer-key", "customer-dev-key", "API key of the seeded customer")
	flag.StringVar(&keys.partner, "partner-key", "partner-dev-key", "API key of the first seeded partner")
	flag.StringVar(&keys.admin, "admin-key", "admin-dev-key", "API key of the seeded admin")
	flag.StringVar(&keys.service, "service-key", "", "API key the order server presents to promo-server (or QB_PROMO_API_KEY env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("QB_API_KEY_PEPPER")
	}
	if keys.service == "" {
		keys.service = os.Getenv("QB_PROMO_API_KEY")
	}
	if keys.service == "" {
		slog.Error("service API key is required: set --service-key or QB_PROMO_API_KEY")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, foodsFile, []byte(apiKeyPepper), keys); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, foodsFile string, pepper []byte, keys keyFlags) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	foods, err := loadFoods(foodsFile)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if err := seedFoods(ctx, tx, foods); err != nil {
			return errors.Wrap(err, "seed foods")
		}
		if err := seedUsers(ctx, tx); err != nil {
			return errors.Wrap(err, "seed users")
		}
		for _, q := range []string{resetFoodsSeqSQL, resetUsersSeqSQL} {
			if _, err := tx.Exec(ctx, q); err != nil {
				return errors.Wrap(err, "reset sequences")
			}
		}
		if err := seedPromos(ctx, tx); err != nil {
			return errors.Wrap(err, "seed promo codes")
		}
		if err := seedAPIKeys(ctx, tx, pepper, keys); err != nil {
			return errors.Wrap(err, "seed api keys")
		}
		return nil
	})
}

func loadFoods(path string) ([]foodJSON, error) {
	if path == "" {
		return defaultFoods, nil
	}
	slog.Info("reading foods file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read foods file")
	}
	var foods []foodJSON
	if err := json.Unmarshal(data, &foods); err != nil {
		return nil, errors.Wrap(err, "parse foods JSON")
	}
	return foods, nil
}

func seedFoods(ctx context.Context, tx pgx.Tx, foods []foodJSON) error {
	slog.Info("upserting foods", slog.Int("count", len(foods)))

	for _, f := range foods {
		if _, err := tx.Exec(ctx, upsertFoodSQL, f.ID, f.Name, f.Category, f.UnitPrice, f.InStock); err != nil {
			return errors.Wrapf(err, "upsert food %d", f.ID)
		}
		slog.Info("upserted food", slog.Int64("id", f.ID), slog.String("name", f.Name))
	}
	return nil
}

func seedUsers(ctx context.Context, tx pgx.Tx) error {
	for _, u := range defaultUsers {
		if _, err := tx.Exec(ctx, upsertUserSQL, u.ID, u.Name, u.Email, u.Role.String()); err != nil {
			return errors.Wrapf(err, "upsert user %d", u.ID)
		}
		slog.Info("upserted user", slog.Int64("id", u.ID), slog.String("role", u.Role.String()))
	}
	return nil
}

func seedPromos(ctx context.Context, tx pgx.Tx) error {
	slog.Info("seeding promo codes")

	now := time.Now().UTC().Truncate(24 * time.Hour)
	until := now.AddDate(1, 0, 0)
	promos := []struct {
		code, title, description, discountType string
		value                                  decimal.Decimal
		maxDiscount, minOrder                  *decimal.Decimal
		perCustomer                            int
	}{
		{
			code: "WELCOME50", title: "Welcome offer", description: "Flat 50 off your first order",
			discountType: "FLAT", value: decimal.NewFromInt(50),
			minOrder: ptr(decimal.NewFromInt(199)), perCustomer: 1,
		},
		{
			code: "CAP40", title: "Ten percent, capped", description: "10% off up to 40",
			discountType: "PERCENTAGE", value: decimal.NewFromInt(10),
			maxDiscount: ptr(decimal.NewFromInt(40)),
		},
	}

	for _, p := range promos {
		if _, err := tx.Exec(ctx, upsertPromoSQL,
			p.code, p.title, p.description, p.discountType, p.value,
			p.maxDiscount, p.minOrder, p.perCustomer, now, until,
		); err != nil {
			return errors.Wrapf(err, "upsert promo code %s", p.code)
		}
		slog.Info("upserted promo code", slog.String("code", p.code), slog.String("description", p.description))
	}
	return nil
}

func seedAPIKeys(ctx context.Context, tx pgx.Tx, pepper []byte, keys keyFlags) error {
	seeds := []struct {
		id, key, name string
		role          auth.Role
		subject       int64
		email         string
	}{
		{"customer", keys.customer, "Seeded customer", auth.RoleCustomer, 100, "asha@quickbite.local"},
		{"partner", keys.partner, "Seeded partner", auth.RolePartner, 7, "ravi@quickbite.local"},
		{"admin", keys.admin, "Seeded admin", auth.RoleAdmin, 1, "admin@quickbite.local"},
		{"order-server", keys.service, "Order server", auth.RoleService, 0, ""},
	}

	for _, s := range seeds {
		if s.key == "" {
			continue
		}
		if _, err := tx.Exec(ctx, upsertAPIKeySQL,
			s.id, auth.HashKey(pepper, s.key), s.name, s.role.String(), s.subject, s.email,
		); err != nil {
			return errors.Wrapf(err, "upsert api key %s", s.id)
		}
		slog.Info("upserted API key", slog.String("id", s.id), slog.String("role", s.role.String()))
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
