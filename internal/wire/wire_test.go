package wire

import (
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/quickbite/internal/apperr"
	"github.com/xenking/quickbite/internal/domain/promo"
)

func TestQuoteEncoding(t *testing.T) {
	q := &promo.Quote{
		Code:             "CAP40",
		Valid:            true,
		Message:          "Promo code applied successfully",
		DiscountType:     promo.DiscountPercentage,
		DiscountValue:    decimal.RequireFromString("10"),
		DiscountAmount:   decimal.RequireFromString("40"),
		FinalAmount:      decimal.RequireFromString("460"),
		ReservationToken: "tok",
		ExpiresAt:        time.Date(2025, 6, 15, 12, 5, 0, 0, time.UTC),
	}

	e := &jx.Encoder{}
	EncodeQuote(e, q)
	assert.JSONEq(t, `{
		"code": "CAP40",
		"valid": true,
		"message": "Promo code applied successfully",
		"discountType": "PERCENTAGE",
		"discountValue": 10,
		"discountAmount": 40.00,
		"finalAmount": 460.00,
		"reservationToken": "tok",
		"expiresAt": "2025-06-15T12:05:00Z"
	}`, e.String())

	got, err := DecodeQuote(jx.DecodeBytes(e.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, q.Code, got.Code)
	assert.True(t, q.DiscountAmount.Equal(got.DiscountAmount))
	assert.True(t, q.ExpiresAt.Equal(got.ExpiresAt))
}

func TestDecodeRedeemRequest(t *testing.T) {
	r, err := DecodeRedeemRequest(jx.DecodeStr(`{
		"code": "save10",
		"customerId": 12,
		"customerEmail": "a@b.c",
		"orderTotal": "199.90",
		"orderId": 7,
		"unknown": {"nested": [1, 2]}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "save10", r.Code)
	assert.Equal(t, int64(12), r.CustomerID)
	assert.Equal(t, int64(7), r.OrderID)
	assert.Equal(t, "199.9", r.OrderTotal.String())
	assert.Empty(t, r.ReservationToken)

	_, err = DecodeRedeemRequest(jx.DecodeStr(`{"orderTotal": "abc"}`))
	require.Error(t, err)
}

func TestErrorBody(t *testing.T) {
	b := ErrorBody{
		Code:    "VALIDATION_FAILED",
		Message: "request validation failed",
		Fields:  []apperr.FieldError{{Field: "items", Message: "required"}},
	}
	e := &jx.Encoder{}
	b.Encode(e)

	var got ErrorBody
	require.NoError(t, got.Decode(jx.DecodeBytes(e.Bytes())))
	assert.Equal(t, b, got)
}
