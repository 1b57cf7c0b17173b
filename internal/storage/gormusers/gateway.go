package gormusers

import (
	"context"

	"github.com/go-faster/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xenking/quickbite/internal/apperr"
	"github.com/xenking/quickbite/internal/domain/delivery"
	"github.com/xenking/quickbite/internal/remote"
)

// ErrUserNotFound is returned when an update matches no user.
var ErrUserNotFound = errors.New("user not found")

var _ delivery.Gateway = (*Gateway)(nil)

// Open connects to the users database.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open users database")
	}
	return db, nil
}

// Gateway reads and updates partner availability. Every call runs under the
// remote policy; failures surface as integration failures.
type Gateway struct {
	db     *gorm.DB
	policy remote.Policy
}

// NewGateway creates a Gateway over db.
func NewGateway(db *gorm.DB, policy remote.Policy) *Gateway {
	return &Gateway{db: db, policy: policy}
}

// ListActivePartners returns active partners ordered by id.
func (g *Gateway) ListActivePartners(ctx context.Context) ([]delivery.Partner, error) {
	var dtos []UserDTO
	err := remote.Do(ctx, "list partners", g.policy, func(ctx context.Context) error {
		dtos = dtos[:0]
		return g.db.WithContext(ctx).
			Where("role = ? AND active = ?", RolePartner, true).
			Order("id").
			Find(&dtos).Error
	})
	if err != nil {
		return nil, apperr.Integration("partner availability", err)
	}

	partners := make([]delivery.Partner, 0, len(dtos))
	for _, u := range dtos {
		partners = append(partners, toPartner(u))
	}
	return partners, nil
}

// Reserve takes an available partner with a conditional update, so two
// placements never lock the same partner.
func (g *Gateway) Reserve(ctx context.Context, partnerID int64) (bool, error) {
	var reserved bool
	err := remote.Do(ctx, "reserve partner", g.policy, func(ctx context.Context) error {
		res := g.db.WithContext(ctx).Model(&UserDTO{}).
			Where("id = ? AND role = ? AND active = ? AND availability_status = ?", partnerID, RolePartner, true, true).
			Updates(map[string]any{
				"availability_status": false,
				"availability_locked": true,
			})
		if res.Error != nil {
			return res.Error
		}
		reserved = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, apperr.Integration("partner availability", errors.Wrapf(err, "reserve partner %d", partnerID))
	}
	return reserved, nil
}

// SetAvailability stores the availability and lock flags of a partner.
func (g *Gateway) SetAvailability(ctx context.Context, partnerID int64, available, locked bool) error {
	return g.update(ctx, "set availability", partnerID, map[string]any{
		"availability_status": available,
		"availability_locked": locked,
	})
}

// IncrementOrderCount bumps the completed order counter of a user.
func (g *Gateway) IncrementOrderCount(ctx context.Context, userID int64) error {
	return g.update(ctx, "increment order count", userID, map[string]any{
		"total_orders": gorm.Expr("total_orders + 1"),
	})
}

func (g *Gateway) update(ctx context.Context, op string, id int64, values map[string]any) error {
	err := remote.Do(ctx, op, g.policy, func(ctx context.Context) error {
		res := g.db.WithContext(ctx).Model(&UserDTO{}).Where("id = ?", id).Updates(values)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return remote.Permanent(ErrUserNotFound)
		}
		return nil
	})
	if err != nil {
		return apperr.Integration("partner availability", errors.Wrapf(err, "%s for user %d", op, id))
	}
	return nil
}
