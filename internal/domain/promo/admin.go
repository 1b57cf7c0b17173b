package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/quickbite/internal/apperr"
)

// CreateInput describes a new promo code.
type CreateInput struct {
	Code                  string
	Title                 string
	Description           string
	DiscountType          DiscountType
	DiscountValue         decimal.Decimal
	MaxDiscountAmount     decimal.NullDecimal
	MinOrderAmount        decimal.NullDecimal
	UsageLimitPerCustomer *int
	MaxRedemptions        int
	Active                *bool
	ValidFrom             time.Time
	ValidUntil            time.Time
}

// UpdateInput is a partial update; nil fields are left unchanged.
type UpdateInput struct {
	Title                 *string
	Description           *string
	DiscountType          *DiscountType
	DiscountValue         *decimal.Decimal
	MaxDiscountAmount     *decimal.Decimal
	MinOrderAmount        *decimal.Decimal
	UsageLimitPerCustomer *int
	MaxRedemptions        *int
	Active                *bool
	ValidFrom             *time.Time
	ValidUntil            *time.Time
}

// Admin manages promo codes.
type Admin struct {
	repo AdminRepository
	now  func() time.Time
}

// NewAdmin creates an Admin backed by repo.
func NewAdmin(repo AdminRepository) *Admin {
	return &Admin{repo: repo, now: time.Now}
}

// Create stores a new promo code. Codes are stored upper-case; the
// per-customer limit defaults to one use.
func (a *Admin) Create(ctx context.Context, in CreateInput) (*Code, error) {
	if err := a.checkWindow(in.ValidFrom, in.ValidUntil); err != nil {
		return nil, err
	}

	now := a.now()
	c := &Code{
		Code:                  NormalizeCode(in.Code),
		Title:                 in.Title,
		Description:           in.Description,
		DiscountType:          in.DiscountType,
		DiscountValue:         in.DiscountValue,
		MaxDiscountAmount:     in.MaxDiscountAmount,
		MinOrderAmount:        in.MinOrderAmount,
		UsageLimitPerCustomer: 1,
		MaxRedemptions:        in.MaxRedemptions,
		Active:                true,
		ValidFrom:             in.ValidFrom,
		ValidUntil:            in.ValidUntil,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if in.UsageLimitPerCustomer != nil {
		c.UsageLimitPerCustomer = *in.UsageLimitPerCustomer
	}
	if in.Active != nil {
		c.Active = *in.Active
	}

	if err := a.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return nil, ErrDuplicateCode
		}
		return nil, errors.Wrap(err, "create promo code")
	}
	return c, nil
}

// Update applies a partial update.
func (a *Admin) Update(ctx context.Context, id int64, in UpdateInput) (*Code, error) {
	c, err := a.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		c.Title = *in.Title
	}
	if in.Description != nil {
		c.Description = *in.Description
	}
	if in.DiscountType != nil {
		c.DiscountType = *in.DiscountType
	}
	if in.DiscountValue != nil {
		c.DiscountValue = *in.DiscountValue
	}
	if in.MaxDiscountAmount != nil {
		c.MaxDiscountAmount = decimal.NewNullDecimal(*in.MaxDiscountAmount)
	}
	if in.MinOrderAmount != nil {
		c.MinOrderAmount = decimal.NewNullDecimal(*in.MinOrderAmount)
	}
	if in.UsageLimitPerCustomer != nil {
		c.UsageLimitPerCustomer = *in.UsageLimitPerCustomer
	}
	if in.MaxRedemptions != nil {
		c.MaxRedemptions = *in.MaxRedemptions
	}
	if in.Active != nil {
		c.Active = *in.Active
	}
	if in.ValidFrom != nil {
		c.ValidFrom = *in.ValidFrom
	}
	if in.ValidUntil != nil {
		if err := a.checkWindow(c.ValidFrom, *in.ValidUntil); err != nil {
			return nil, err
		}
		c.ValidUntil = *in.ValidUntil
	}

	return a.save(ctx, c)
}

// UpdateExpiry moves the end of the validity window.
func (a *Admin) UpdateExpiry(ctx context.Context, id int64, until time.Time) (*Code, error) {
	return a.Update(ctx, id, UpdateInput{ValidUntil: &until})
}

// Delete removes a promo code that was never redeemed.
func (a *Admin) Delete(ctx context.Context, id int64) error {
	if err := a.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrHasRedemptions) {
			return err
		}
		return errors.Wrap(err, "delete promo code")
	}
	return nil
}

// Get returns a promo code by id.
func (a *Admin) Get(ctx context.Context, id int64) (*Code, error) {
	c, err := a.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get promo code")
	}
	return c, nil
}

// List returns every promo code.
func (a *Admin) List(ctx context.Context) ([]Code, error) {
	codes, err := a.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list promo codes")
	}
	return codes, nil
}

// Usage returns the ledger rows of a promo code.
func (a *Admin) Usage(ctx context.Context, id int64) ([]Usage, error) {
	if _, err := a.Get(ctx, id); err != nil {
		return nil, err
	}
	usage, err := a.repo.ListUsage(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "list promo usage")
	}
	return usage, nil
}

func (a *Admin) save(ctx context.Context, c *Code) (*Code, error) {
	c.UpdatedAt = a.now()
	if err := a.repo.Update(ctx, c); err != nil {
		return nil, errors.Wrap(err, "update promo code")
	}
	return c, nil
}

func (a *Admin) checkWindow(from, until time.Time) error {
	var fields []apperr.FieldError
	if !until.After(a.now()) {
		fields = append(fields, apperr.FieldError{Field: "validUntil", Message: "must be in the future"})
	}
	if !from.IsZero() && !until.After(from) {
		fields = append(fields, apperr.FieldError{Field: "validUntil", Message: "must be after validFrom"})
	}
	if len(fields) > 0 {
		return apperr.Validation(fields)
	}
	return nil
}
