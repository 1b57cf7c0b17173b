package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/quickbite/internal/domain/order"
)

const (
	insertCompensationSQL = `INSERT INTO pending_compensations
		(kind, order_id, partner_id, promo_code, token, attempts, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	pendingCompensationsSQL = `SELECT id, kind, order_id, partner_id, promo_code, token,
		attempts, last_error, created_at
		FROM pending_compensations
		WHERE resolved_at IS NULL AND attempts < $2
		ORDER BY id LIMIT $1`

	resolveCompensationSQL = `UPDATE pending_compensations
		SET resolved_at = NOW(), updated_at = NOW() WHERE id = $1`

	failCompensationSQL = `UPDATE pending_compensations
		SET attempts = attempts + 1, last_error = $2, updated_at = NOW() WHERE id = $1`
)

var _ order.CompensationLog = (*CompensationRepository)(nil)

// CompensationRepository persists saga compensations awaiting
// reconciliation.
type CompensationRepository struct {
	pool *pgxpool.Pool
}

// NewCompensationRepository returns a CompensationRepository that uses the
// given pool.
func NewCompensationRepository(pool *pgxpool.Pool) *CompensationRepository {
	return &CompensationRepository{pool: pool}
}

func (r *CompensationRepository) Record(ctx context.Context, c order.Compensation) error {
	_, err := r.pool.Exec(ctx, insertCompensationSQL,
		string(c.Kind), c.OrderID, c.PartnerID, c.PromoCode, c.Token, c.Attempts, c.LastError,
	)
	if err != nil {
		return fmt.Errorf("recording %s compensation for order %d: %w", c.Kind, c.OrderID, err)
	}
	return nil
}

func (r *CompensationRepository) Pending(ctx context.Context, limit, maxAttempts int) ([]order.Compensation, error) {
	rows, err := r.pool.Query(ctx, pendingCompensationsSQL, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("listing pending compensations: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Compensation, error) {
		var (
			c    order.Compensation
			kind string
		)
		err := row.Scan(&c.ID, &kind, &c.OrderID, &c.PartnerID, &c.PromoCode, &c.Token,
			&c.Attempts, &c.LastError, &c.CreatedAt)
		c.Kind = order.CompensationKind(kind)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing pending compensations: %w", err)
	}
	return out, nil
}

func (r *CompensationRepository) Resolve(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, resolveCompensationSQL, id); err != nil {
		return fmt.Errorf("resolving compensation %d: %w", id, err)
	}
	return nil
}

func (r *CompensationRepository) Fail(ctx context.Context, id int64, reason string) error {
	if _, err := r.pool.Exec(ctx, failCompensationSQL, id, reason); err != nil {
		return fmt.Errorf("failing compensation %d: %w", id, err)
	}
	return nil
}
