package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/quickbite/internal/domain/promo"
)

const (
	promoColumns = `id, code, title, description, discount_type, discount_value,
		max_discount_amount, min_order_amount, usage_limit_per_customer, max_redemptions,
		active, valid_from, valid_until, total_redemptions, created_at, updated_at`

	findPromoByCodeSQL   = `SELECT ` + promoColumns + ` FROM promo_codes WHERE code = $1`
	lockPromoByCodeSQL   = findPromoByCodeSQL + ` FOR UPDATE`
	getPromoSQL          = `SELECT ` + promoColumns + ` FROM promo_codes WHERE id = $1`
	listPromosSQL        = `SELECT ` + promoColumns + ` FROM promo_codes ORDER BY id`
	countCustomerUsesSQL = `SELECT COUNT(*) FROM promo_code_usage
		WHERE promo_id = $1 AND customer_id = $2 AND reversed_at IS NULL`

	usageColumns = `u.id, u.promo_id, p.code, u.customer_id, u.customer_email, u.order_id,
		u.used_at, u.order_total, u.discount_applied, u.reversed_at`

	findUsageByOrderSQL = `SELECT ` + usageColumns + `
		FROM promo_code_usage u JOIN promo_codes p ON p.id = u.promo_id
		WHERE u.promo_id = $1 AND u.order_id = $2 AND u.reversed_at IS NULL`

	listUsageSQL = `SELECT ` + usageColumns + `
		FROM promo_code_usage u JOIN promo_codes p ON p.id = u.promo_id
		WHERE u.promo_id = $1 ORDER BY u.used_at DESC, u.id DESC`

	insertUsageSQL = `INSERT INTO promo_code_usage
		(promo_id, customer_id, customer_email, order_id, used_at, order_total, discount_applied)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	incrementRedemptionsSQL = `UPDATE promo_codes
		SET total_redemptions = total_redemptions + 1, updated_at = NOW() WHERE id = $1`

	reverseUsageSQL = `UPDATE promo_code_usage SET reversed_at = $3
		WHERE promo_id = $1 AND order_id = $2 AND reversed_at IS NULL`

	decrementRedemptionsSQL = `UPDATE promo_codes
		SET total_redemptions = GREATEST(total_redemptions - 1, 0), updated_at = NOW() WHERE id = $1`

	insertPromoSQL = `INSERT INTO promo_codes
		(code, title, description, discount_type, discount_value, max_discount_amount,
		 min_order_amount, usage_limit_per_customer, max_redemptions, active, valid_from, valid_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, total_redemptions, created_at, updated_at`

	updatePromoSQL = `UPDATE promo_codes SET
		title = $2, description = $3, discount_type = $4, discount_value = $5,
		max_discount_amount = $6, min_order_amount = $7, usage_limit_per_customer = $8,
		max_redemptions = $9, active = $10, valid_from = $11, valid_until = $12, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	promoHasUsageSQL = `SELECT EXISTS (SELECT 1 FROM promo_code_usage WHERE promo_id = $1)`
	deletePromoSQL   = `DELETE FROM promo_codes WHERE id = $1`
)

var (
	_ promo.Repository      = (*PromoRepository)(nil)
	_ promo.AdminRepository = (*PromoRepository)(nil)
)

// PromoRepository stores promo codes and the redemption ledger.
type PromoRepository struct {
	pool *pgxpool.Pool
}

// NewPromoRepository returns a PromoRepository that uses the given pool.
func NewPromoRepository(pool *pgxpool.Pool) *PromoRepository {
	return &PromoRepository{pool: pool}
}

// FindByCode looks up a promo code by its normalized code.
func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*promo.Code, error) {
	return r.one(ctx, r.pool, findPromoByCodeSQL, code)
}

// CountCustomerUsage counts the live redemptions of a customer.
func (r *PromoRepository) CountCustomerUsage(ctx context.Context, promoID, customerID int64) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countCustomerUsesSQL, promoID, customerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting usage of promo %d by customer %d: %w", promoID, customerID, err)
	}
	return n, nil
}

// FindUsageByOrder returns the live usage row of an order.
func (r *PromoRepository) FindUsageByOrder(ctx context.Context, promoID, orderID int64) (*promo.Usage, error) {
	rows, err := r.pool.Query(ctx, findUsageByOrderSQL, promoID, orderID)
	if err != nil {
		return nil, fmt.Errorf("finding usage of promo %d by order %d: %w", promoID, orderID, err)
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUsage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrUsageNotFound
		}
		return nil, fmt.Errorf("finding usage of promo %d by order %d: %w", promoID, orderID, err)
	}
	return &u, nil
}

// Redeem locks the promo row, runs fn and appends the usage it returns.
func (r *PromoRepository) Redeem(ctx context.Context, code string, customerID int64, fn promo.RedeemFunc) (*promo.Usage, error) {
	var usage *promo.Usage
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		c, err := r.one(ctx, tx, lockPromoByCodeSQL, code)
		if err != nil {
			return err
		}

		var uses int
		if err := tx.QueryRow(ctx, countCustomerUsesSQL, c.ID, customerID).Scan(&uses); err != nil {
			return fmt.Errorf("counting customer usage: %w", err)
		}

		u, err := fn(c, uses)
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx, insertUsageSQL,
			u.PromoID, u.CustomerID, u.CustomerEmail, u.OrderID, u.UsedAt, u.OrderTotal, u.DiscountApplied,
		).Scan(&u.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return promo.ErrDuplicateRedemption
			}
			return fmt.Errorf("inserting usage: %w", err)
		}

		if _, err := tx.Exec(ctx, incrementRedemptionsSQL, c.ID); err != nil {
			return fmt.Errorf("incrementing redemptions: %w", err)
		}
		usage = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return usage, nil
}

// Reverse marks the live usage of an order reversed.
func (r *PromoRepository) Reverse(ctx context.Context, promoID, orderID int64, at time.Time) (bool, error) {
	var reversed bool
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, reverseUsageSQL, promoID, orderID, at)
		if err != nil {
			return fmt.Errorf("reversing usage: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, decrementRedemptionsSQL, promoID); err != nil {
			return fmt.Errorf("decrementing redemptions: %w", err)
		}
		reversed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("reversing promo %d for order %d: %w", promoID, orderID, err)
	}
	return reversed, nil
}

// Create inserts a promo code. It returns promo.ErrDuplicateCode when the
// code exists.
func (r *PromoRepository) Create(ctx context.Context, c *promo.Code) error {
	err := r.pool.QueryRow(ctx, insertPromoSQL,
		c.Code, c.Title, c.Description, string(c.DiscountType), c.DiscountValue,
		c.MaxDiscountAmount, c.MinOrderAmount, c.UsageLimitPerCustomer, c.MaxRedemptions,
		c.Active, c.ValidFrom, c.ValidUntil,
	).Scan(&c.ID, &c.TotalRedemptions, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return promo.ErrDuplicateCode
		}
		return fmt.Errorf("creating promo %q: %w", c.Code, err)
	}
	return nil
}

// Get returns a promo code by id.
func (r *PromoRepository) Get(ctx context.Context, id int64) (*promo.Code, error) {
	return r.one(ctx, r.pool, getPromoSQL, id)
}

// List returns every promo code ordered by id.
func (r *PromoRepository) List(ctx context.Context) ([]promo.Code, error) {
	rows, err := r.pool.Query(ctx, listPromosSQL)
	if err != nil {
		return nil, fmt.Errorf("listing promos: %w", err)
	}
	codes, err := pgx.CollectRows(rows, scanPromo)
	if err != nil {
		return nil, fmt.Errorf("listing promos: %w", err)
	}
	return codes, nil
}

// Update stores the mutable fields of a promo code.
func (r *PromoRepository) Update(ctx context.Context, c *promo.Code) error {
	err := r.pool.QueryRow(ctx, updatePromoSQL,
		c.ID, c.Title, c.Description, string(c.DiscountType), c.DiscountValue,
		c.MaxDiscountAmount, c.MinOrderAmount, c.UsageLimitPerCustomer, c.MaxRedemptions,
		c.Active, c.ValidFrom, c.ValidUntil,
	).Scan(&c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return promo.ErrNotFound
		}
		return fmt.Errorf("updating promo %d: %w", c.ID, err)
	}
	return nil
}

// Delete removes a promo code without ledger rows.
func (r *PromoRepository) Delete(ctx context.Context, id int64) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var used bool
		if err := tx.QueryRow(ctx, promoHasUsageSQL, id).Scan(&used); err != nil {
			return fmt.Errorf("checking usage of promo %d: %w", id, err)
		}
		if used {
			return promo.ErrHasRedemptions
		}
		tag, err := tx.Exec(ctx, deletePromoSQL, id)
		if err != nil {
			return fmt.Errorf("deleting promo %d: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return promo.ErrNotFound
		}
		return nil
	})
}

// ListUsage returns the ledger of a promo code, newest first.
func (r *PromoRepository) ListUsage(ctx context.Context, promoID int64) ([]promo.Usage, error) {
	rows, err := r.pool.Query(ctx, listUsageSQL, promoID)
	if err != nil {
		return nil, fmt.Errorf("listing usage of promo %d: %w", promoID, err)
	}
	usage, err := pgx.CollectRows(rows, scanUsage)
	if err != nil {
		return nil, fmt.Errorf("listing usage of promo %d: %w", promoID, err)
	}
	return usage, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PromoRepository) one(ctx context.Context, q querier, sql string, arg any) (*promo.Code, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("finding promo %v: %w", arg, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanPromo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrNotFound
		}
		return nil, fmt.Errorf("finding promo %v: %w", arg, err)
	}
	return &c, nil
}

func scanPromo(row pgx.CollectableRow) (promo.Code, error) {
	var (
		c            promo.Code
		discountType string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Title, &c.Description, &discountType, &c.DiscountValue,
		&c.MaxDiscountAmount, &c.MinOrderAmount, &c.UsageLimitPerCustomer, &c.MaxRedemptions,
		&c.Active, &c.ValidFrom, &c.ValidUntil, &c.TotalRedemptions, &c.CreatedAt, &c.UpdatedAt,
	)
	c.DiscountType = promo.DiscountType(discountType)
	return c, err
}

func scanUsage(row pgx.CollectableRow) (promo.Usage, error) {
	var u promo.Usage
	err := row.Scan(
		&u.ID, &u.PromoID, &u.Code, &u.CustomerID, &u.CustomerEmail, &u.OrderID,
		&u.UsedAt, &u.OrderTotal, &u.DiscountApplied, &u.ReversedAt,
	)
	return u, err
}
