package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/quickbite/internal/apperr"
)

// ErrFoodNotFound is returned when a requested food does not exist.
var ErrFoodNotFound = apperr.New(apperr.KindNotFound, "FOOD_NOT_FOUND", "food not found")

// Food is a catalog entry as seen by order placement.
type Food struct {
	ID        int64
	Name      string
	UnitPrice decimal.Decimal
	InStock   bool
}

// Gateway reads foods from the catalog.
type Gateway interface {
	GetFood(ctx context.Context, id int64) (*Food, error)
}

// NotFound returns ErrFoodNotFound naming the missing id.
func NotFound(id int64) error {
	return ErrFoodNotFound.WithMessage(fmt.Sprintf("food %d not found", id))
}
