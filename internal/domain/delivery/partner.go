package delivery

import (
	"context"

	"github.com/xenking/quickbite/internal/apperr"
)

// ErrNoPartnerAvailable is returned when no candidate partner is available.
var ErrNoPartnerAvailable = apperr.New(apperr.KindConflict, "NO_PARTNER_AVAILABLE", "no delivery partner available")

// Partner is a delivery partner as reported by the availability gateway.
type Partner struct {
	ID        int64
	Name      string
	Available bool
}

// Gateway is the partner-availability authority.
type Gateway interface {
	// ListActivePartners returns active partners in the authority's order.
	ListActivePartners(ctx context.Context) ([]Partner, error)
	// Reserve marks an available partner unavailable and locked. It reports
	// false when the partner was no longer available.
	Reserve(ctx context.Context, partnerID int64) (bool, error)
	// SetAvailability flips a partner's availability and lock flags.
	SetAvailability(ctx context.Context, partnerID int64, available, locked bool) error
	// IncrementOrderCount bumps the completed order counter of any user.
	IncrementOrderCount(ctx context.Context, userID int64) error
}
