package wire

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/quickbite/internal/domain/promo"
)

// EncodeRedeemRequest writes a validate or redeem request. OrderID and
// ReservationToken are omitted when zero.
func EncodeRedeemRequest(e *jx.Encoder, r promo.RedeemRequest) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(r.Code)
	e.FieldStart("customerId")
	e.Int64(r.CustomerID)
	e.FieldStart("customerEmail")
	e.Str(r.CustomerEmail)
	e.FieldStart("orderTotal")
	Money(e, r.OrderTotal)
	if r.OrderID != 0 {
		e.FieldStart("orderId")
		e.Int64(r.OrderID)
	}
	if r.ReservationToken != "" {
		e.FieldStart("reservationToken")
		e.Str(r.ReservationToken)
	}
	e.ObjEnd()
}

// DecodeRedeemRequest reads a validate or redeem request.
func DecodeRedeemRequest(d *jx.Decoder) (promo.RedeemRequest, error) {
	var r promo.RedeemRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			r.Code, err = d.Str()
		case "customerId":
			r.CustomerID, err = d.Int64()
		case "customerEmail":
			r.CustomerEmail, err = d.Str()
		case "orderTotal":
			r.OrderTotal, err = DecodeDecimal(d)
		case "orderId":
			r.OrderID, err = d.Int64()
		case "reservationToken":
			r.ReservationToken, err = d.Str()
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "decode %q", key)
	})
	return r, err
}

// ReverseRequest identifies the redemption of one order.
type ReverseRequest struct {
	Code    string
	OrderID int64
}

// Encode writes the request.
func (r ReverseRequest) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(r.Code)
	e.FieldStart("orderId")
	e.Int64(r.OrderID)
	e.ObjEnd()
}

// Decode reads the request.
func (r *ReverseRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			r.Code, err = d.Str()
		case "orderId":
			r.OrderID, err = d.Int64()
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "decode %q", key)
	})
}

// EncodeQuote writes a priced breakdown.
func EncodeQuote(e *jx.Encoder, q *promo.Quote) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(q.Code)
	e.FieldStart("valid")
	e.Bool(q.Valid)
	e.FieldStart("message")
	e.Str(q.Message)
	e.FieldStart("discountType")
	e.Str(string(q.DiscountType))
	e.FieldStart("discountValue")
	Number(e, q.DiscountValue)
	e.FieldStart("discountAmount")
	Money(e, q.DiscountAmount)
	e.FieldStart("finalAmount")
	Money(e, q.FinalAmount)
	if q.ReservationToken != "" {
		e.FieldStart("reservationToken")
		e.Str(q.ReservationToken)
		e.FieldStart("expiresAt")
		Time(e, q.ExpiresAt)
	}
	e.ObjEnd()
}

// DecodeQuote reads a priced breakdown.
func DecodeQuote(d *jx.Decoder) (*promo.Quote, error) {
	var q promo.Quote
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			q.Code, err = d.Str()
		case "valid":
			q.Valid, err = d.Bool()
		case "message":
			q.Message, err = d.Str()
		case "discountType":
			var s string
			s, err = d.Str()
			q.DiscountType = promo.DiscountType(s)
		case "discountValue":
			q.DiscountValue, err = DecodeDecimal(d)
		case "discountAmount":
			q.DiscountAmount, err = DecodeDecimal(d)
		case "finalAmount":
			q.FinalAmount, err = DecodeDecimal(d)
		case "reservationToken":
			q.ReservationToken, err = d.Str()
		case "expiresAt":
			q.ExpiresAt, err = DecodeTime(d)
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "decode %q", key)
	})
	if err != nil {
		return nil, err
	}
	return &q, nil
}
