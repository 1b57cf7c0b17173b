package order

import (
	"fmt"

	"github.com/xenking/quickbite/internal/apperr"
)

var (
	ErrNotFound         = apperr.New(apperr.KindNotFound, "ORDER_NOT_FOUND", "order not found")
	ErrNotOwner         = apperr.New(apperr.KindUnauthorized, "ORDER_NOT_OWNER", "order belongs to another customer")
	ErrNotAssigned      = apperr.New(apperr.KindUnauthorized, "ORDER_NOT_ASSIGNED", "order is not assigned to this delivery partner")
	ErrInvalidOTP       = apperr.New(apperr.KindInvalidState, "INVALID_OTP", "invalid OTP")
	ErrCannotCancel     = apperr.New(apperr.KindInvalidState, "ORDER_CANNOT_BE_CANCELLED", "order cannot be cancelled")
	ErrInvalidState     = apperr.New(apperr.KindInvalidState, "ORDER_INVALID_STATE", "illegal order status transition")
	ErrConcurrentUpdate = apperr.New(apperr.KindConflict, "ORDER_CONCURRENT_UPDATE", "order was changed concurrently")
	ErrOutOfStock       = apperr.New(apperr.KindConflict, "FOOD_OUT_OF_STOCK", "food is out of stock")
)

// InvalidTransitionError reports an illegal status change.
type InvalidTransitionError struct {
	OrderID int64
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %d cannot move from %s to %s", e.OrderID, e.From, e.To)
}

// Unwrap classifies the error as ErrInvalidState, carrying the detailed text.
func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidState.WithMessage(e.Error()) }

// CannotCancelError reports a cancellation outside PENDING.
type CannotCancelError struct {
	OrderID int64
	Status  Status
}

func (e *CannotCancelError) Error() string {
	return fmt.Sprintf("order %d cannot be cancelled in status %s", e.OrderID, e.Status)
}

// Unwrap classifies the error as ErrCannotCancel.
func (e *CannotCancelError) Unwrap() error { return ErrCannotCancel.WithMessage(e.Error()) }

// OutOfStockError names the unavailable food.
type OutOfStockError struct {
	FoodID int64
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("food %d is out of stock", e.FoodID)
}

// Unwrap classifies the error as ErrOutOfStock.
func (e *OutOfStockError) Unwrap() error { return ErrOutOfStock.WithMessage(e.Error()) }
