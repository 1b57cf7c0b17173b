// Package promo implements the pricing authority: promo code eligibility,
// discount calculation, redemption ledger and administration.
package promo

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/quickbite/internal/apperr"
)

// DiscountType enumerates the supported discount strategies.
type DiscountType string

const (
	// DiscountFlat subtracts a fixed amount.
	DiscountFlat DiscountType = "FLAT"
	// DiscountPercentage subtracts a percentage of the order total.
	DiscountPercentage DiscountType = "PERCENTAGE"
)

// ParseDiscountType parses a case-insensitive discount type name.
func ParseDiscountType(s string) (DiscountType, bool) {
	switch t := DiscountType(strings.ToUpper(strings.TrimSpace(s))); t {
	case DiscountFlat, DiscountPercentage:
		return t, true
	default:
		return "", false
	}
}

const appliedMessage = "Promo code applied successfully"

var (
	ErrNotFound          = apperr.New(apperr.KindNotFound, "PROMO_NOT_FOUND", "Promo code not found")
	ErrInactive          = apperr.New(apperr.KindConflict, "PROMO_INACTIVE", "Promo code is inactive")
	ErrNotYetActive      = apperr.New(apperr.KindConflict, "PROMO_NOT_YET_ACTIVE", "Promo code is not yet active")
	ErrExpired           = apperr.New(apperr.KindConflict, "PROMO_EXPIRED", "Promo code has expired")
	ErrMinOrderNotMet    = apperr.New(apperr.KindConflict, "PROMO_MIN_ORDER_NOT_MET", "Order total does not meet minimum requirement")
	ErrRedemptionLimit   = apperr.New(apperr.KindConflict, "PROMO_REDEMPTION_LIMIT", "Promo code redemption limit reached")
	ErrAlreadyUsed       = apperr.New(apperr.KindConflict, "PROMO_ALREADY_USED", "Promo code usage limit reached for this customer")
	ErrDuplicateCode     = apperr.New(apperr.KindConflict, "PROMO_DUPLICATE", "Promo code already exists")
	ErrHasRedemptions    = apperr.New(apperr.KindConflict, "PROMO_HAS_REDEMPTIONS", "Promo code has redemptions and cannot be deleted")
	ErrReservationGone   = apperr.New(apperr.KindConflict, "PROMO_RESERVATION_EXPIRED", "Promo reservation expired or already used")
	ErrReservationDenied = apperr.New(apperr.KindConflict, "PROMO_RESERVATION_MISMATCH", "Promo reservation does not match this redemption")
)

// Storage-level sentinels, never surfaced to clients as-is.
var (
	ErrUsageNotFound       = errors.New("promo usage not found")
	ErrReservationNotFound = errors.New("promo reservation not found")
	ErrDuplicateRedemption = errors.New("promo already redeemed for order")
)

// Code is a promo code owned by the pricing authority. Zero limits mean
// "not set".
type Code struct {
	ID                    int64
	Code                  string
	Title                 string
	Description           string
	DiscountType          DiscountType
	DiscountValue         decimal.Decimal
	MaxDiscountAmount     decimal.NullDecimal
	MinOrderAmount        decimal.NullDecimal
	UsageLimitPerCustomer int
	MaxRedemptions        int
	Active                bool
	ValidFrom             time.Time
	ValidUntil            time.Time
	TotalRedemptions      int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Usage is one row of the redemption ledger.
type Usage struct {
	ID              int64
	PromoID         int64
	Code            string
	CustomerID      int64
	CustomerEmail   string
	OrderID         int64
	UsedAt          time.Time
	OrderTotal      decimal.Decimal
	DiscountApplied decimal.Decimal
	ReversedAt      *time.Time
}

// Request identifies a pricing request.
type Request struct {
	Code          string
	CustomerID    int64
	CustomerEmail string
	OrderTotal    decimal.Decimal
}

// RedeemRequest finalizes a previously validated request for an order.
type RedeemRequest struct {
	Request
	OrderID          int64
	ReservationToken string
}

// Quote is the priced breakdown returned by validate and redeem.
type Quote struct {
	Code             string
	Valid            bool
	Message          string
	DiscountType     DiscountType
	DiscountValue    decimal.Decimal
	DiscountAmount   decimal.Decimal
	FinalAmount      decimal.Decimal
	ReservationToken string
	ExpiresAt        time.Time
}

// Reservation is the short-lived token issued by Validate.
type Reservation struct {
	Token          string
	PromoID        int64
	Code           string
	CustomerID     int64
	OrderTotal     decimal.Decimal
	DiscountAmount decimal.Decimal
	ExpiresAt      time.Time
}

// RedeemFunc runs inside the repository's redemption transaction with the
// locked promo row and the customer's live usage count. It returns the usage
// row to append.
type RedeemFunc func(c *Code, customerUses int) (*Usage, error)

// Repository is the engine's view of promo storage.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Code, error)
	CountCustomerUsage(ctx context.Context, promoID, customerID int64) (int, error)
	FindUsageByOrder(ctx context.Context, promoID, orderID int64) (*Usage, error)
	// Redeem serializes redemptions of one code: it locks the promo row,
	// calls fn, then appends the returned usage and increments
	// totalRedemptions in the same transaction.
	Redeem(ctx context.Context, code string, customerID int64, fn RedeemFunc) (*Usage, error)
	// Reverse marks the live usage of an order reversed and decrements the
	// counter. It reports whether a live row existed.
	Reverse(ctx context.Context, promoID, orderID int64, at time.Time) (bool, error)
}

// AdminRepository manages promo codes.
type AdminRepository interface {
	Create(ctx context.Context, c *Code) error
	Get(ctx context.Context, id int64) (*Code, error)
	List(ctx context.Context) ([]Code, error)
	Update(ctx context.Context, c *Code) error
	Delete(ctx context.Context, id int64) error
	ListUsage(ctx context.Context, promoID int64) ([]Usage, error)
}

// ReservationStore keeps reservation tokens until they expire.
type ReservationStore interface {
	Put(ctx context.Context, r Reservation, ttl time.Duration) error
	// Get returns the reservation without consuming it.
	Get(ctx context.Context, token string) (*Reservation, error)
	Drop(ctx context.Context, token string) error
}

// NormalizeCode trims and upper-cases a code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
