package order

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// DeliveryCharge is added to every order.
var DeliveryCharge = decimal.NewFromInt(30)

// MaxItemQuantity bounds the quantity of one order line.
const MaxItemQuantity = 100

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusOut       Status = "OUT"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusOut, StatusCancelled},
	StatusOut:     {StatusDelivered},
}

// ParseStatus parses a status name.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusOut, StatusDelivered, StatusCancelled:
		return st, true
	default:
		return "", false
	}
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo reports whether s → next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Item is an order line with the unit price frozen at placement.
type Item struct {
	FoodID    int64
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

// LineTotal returns unit price times quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Address is the delivery address snapshot owned by the order.
type Address struct {
	FullName string
	Phone    string
	Street   string
	City     string
	State    string
	Pincode  string
}

// Order is the order aggregate: the order, its items and its address.
type Order struct {
	ID                int64
	CustomerID        int64
	Items             []Item
	Address           Address
	DiscountAmount    decimal.Decimal
	PromoCode         string
	OTP               string
	Status            Status
	DeliveryPartnerID int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TotalQuantity returns the number of units over all items.
func (o *Order) TotalQuantity() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// Subtotal returns the sum of line totals.
func (o *Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

// GrandTotal returns subtotal − discount + delivery charge. It is always
// derived from its inputs.
func (o *Order) GrandTotal() decimal.Decimal {
	return o.Subtotal().Sub(o.DiscountAmount).Add(DeliveryCharge)
}

// ApplyDiscount records a discount priced for code. The amount is clamped to
// [0, subtotal].
func (o *Order) ApplyDiscount(code string, amount decimal.Decimal) {
	sub := o.Subtotal()
	switch {
	case amount.IsNegative():
		amount = decimal.Zero
	case amount.GreaterThan(sub):
		amount = sub
	}
	o.DiscountAmount = amount
	o.PromoCode = code
}

// transition moves the order to next if the state machine allows it.
func (o *Order) transition(next Status) error {
	if !o.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: next}
	}
	o.Status = next
	return nil
}

// Cancel moves a pending order to CANCELLED.
func (o *Order) Cancel() error {
	if o.Status != StatusPending {
		return &CannotCancelError{OrderID: o.ID, Status: o.Status}
	}
	return o.transition(StatusCancelled)
}

// MarkOut moves a pending order to OUT.
func (o *Order) MarkOut() error {
	return o.transition(StatusOut)
}

// Deliver moves an OUT order to DELIVERED when otp matches exactly. The otp
// is checked before the status, so a wrong otp is always ErrInvalidOTP and
// leaves the order unchanged.
func (o *Order) Deliver(otp string) error {
	if otp != o.OTP {
		return ErrInvalidOTP
	}
	if o.Status != StatusOut {
		return &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: StatusDelivered}
	}
	return o.transition(StatusDelivered)
}

// NewOTP returns a uniformly random six digit code, zero padded.
func NewOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Repository persists order aggregates.
type Repository interface {
	// Create inserts the order, its items and its address in one
	// transaction and fills ID and timestamps.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (*Order, error)
	// SetDiscount stores the applied promo code and discount.
	SetDiscount(ctx context.Context, id int64, code string, amount decimal.Decimal) error
	// AssignPartner stores the delivery partner of a pending order.
	AssignPartner(ctx context.Context, id, partnerID int64) error
	// UpdateStatus changes the status only if it still equals from.
	// It returns ErrConcurrentUpdate otherwise.
	UpdateStatus(ctx context.Context, id int64, from, to Status) error
	ListByCustomer(ctx context.Context, customerID int64) ([]Order, error)
	ListByPartner(ctx context.Context, partnerID int64) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)
}
