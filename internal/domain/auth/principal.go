package auth

import (
	"context"
	"strings"

	"github.com/xenking/quickbite/internal/apperr"
)

// Role is the kind of caller behind a request.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleCustomer
	RolePartner
	RoleAdmin
	// RoleService is used by services calling each other.
	RoleService
)

// Capability is a single permission checked by an operation.
type Capability uint16

const (
	CapPlaceOrder Capability = 1 << iota
	CapViewOwnOrders
	CapCancelOwnOrder
	CapViewAssignedOrders
	CapMarkOut
	CapMarkDelivered
	CapViewAllOrders
	CapOverrideOrderStatus
	CapPricePromo
	CapManagePromos
)

var roleCapabilities = map[Role]Capability{
	RoleCustomer: CapPlaceOrder | CapViewOwnOrders | CapCancelOwnOrder,
	RolePartner:  CapViewAssignedOrders | CapMarkOut | CapMarkDelivered,
	RoleAdmin:    CapViewAllOrders | CapOverrideOrderStatus | CapManagePromos,
	RoleService:  CapPricePromo,
}

var roleNames = map[Role]string{
	RoleCustomer: "CUSTOMER",
	RolePartner:  "PARTNER",
	RoleAdmin:    "ADMIN",
	RoleService:  "SERVICE",
}

func (r Role) String() string {
	if s, ok := roleNames[r]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseRole parses a role name as stored with API keys.
func ParseRole(s string) Role {
	s = strings.ToUpper(strings.TrimSpace(s))
	for r, name := range roleNames {
		if name == s {
			return r
		}
	}
	return RoleUnknown
}

// Capabilities returns the fixed capability set of the role.
func (r Role) Capabilities() Capability {
	return roleCapabilities[r]
}

var (
	ErrUnauthenticated = apperr.New(apperr.KindUnauthorized, "UNAUTHENTICATED", "missing or invalid API key")
	ErrForbidden       = apperr.New(apperr.KindUnauthorized, "FORBIDDEN", "operation not permitted for this role")
)

// Principal is the authenticated caller.
type Principal struct {
	SubjectID int64
	Email     string
	Name      string
	Role      Role
}

// Can reports whether the principal's role grants c.
func (p Principal) Can(c Capability) bool {
	return p.Role.Capabilities()&c == c
}

// Require returns ErrForbidden unless the principal holds c.
func (p Principal) Require(c Capability) error {
	if !p.Can(c) {
		return ErrForbidden
	}
	return nil
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
