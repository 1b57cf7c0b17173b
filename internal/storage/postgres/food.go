package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/quickbite/internal/domain/catalog"
)

const getFoodSQL = `SELECT id, name, unit_price, in_stock FROM foods WHERE id = $1`

var _ catalog.Gateway = (*FoodRepository)(nil)

// FoodRepository reads the food catalog.
type FoodRepository struct {
	pool *pgxpool.Pool
}

// NewFoodRepository returns a FoodRepository that uses the given pool.
func NewFoodRepository(pool *pgxpool.Pool) *FoodRepository {
	return &FoodRepository{pool: pool}
}

// GetFood returns the food with the given id, or catalog.ErrFoodNotFound.
func (r *FoodRepository) GetFood(ctx context.Context, id int64) (*catalog.Food, error) {
	var f catalog.Food
	err := r.pool.QueryRow(ctx, getFoodSQL, id).Scan(&f.ID, &f.Name, &f.UnitPrice, &f.InStock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.NotFound(id)
		}
		return nil, fmt.Errorf("getting food %d: %w", id, err)
	}
	return &f, nil
}
