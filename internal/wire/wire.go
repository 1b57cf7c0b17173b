// Package wire holds the JSON codecs shared by the HTTP servers and the
// promo-server client.
package wire

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/quickbite/internal/apperr"
)

// Money writes an amount with two decimal places.
func Money(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

// Number writes a decimal without changing its precision.
func Number(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.String()))
}

// Time writes t as RFC 3339 in UTC.
func Time(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

// DecodeDecimal reads a JSON number or numeric string.
func DecodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	}
}

// DecodeNullDecimal reads a decimal that may be null.
func DecodeNullDecimal(d *jx.Decoder) (decimal.NullDecimal, error) {
	if d.Next() == jx.Null {
		return decimal.NullDecimal{}, d.Null()
	}
	v, err := DecodeDecimal(d)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

// DecodeTime reads an RFC 3339 string.
func DecodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, s)
}

// ErrorBody is the body of every non-2xx response.
type ErrorBody struct {
	Code    string
	Message string
	Fields  []apperr.FieldError
}

// Encode writes the error body.
func (b ErrorBody) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(b.Code)
	e.FieldStart("message")
	e.Str(b.Message)
	if len(b.Fields) > 0 {
		e.FieldStart("fields")
		e.ArrStart()
		for _, f := range b.Fields {
			e.ObjStart()
			e.FieldStart("field")
			e.Str(f.Field)
			e.FieldStart("message")
			e.Str(f.Message)
			e.ObjEnd()
		}
		e.ArrEnd()
	}
	e.ObjEnd()
}

// Decode reads the error body.
func (b *ErrorBody) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			b.Code, err = d.Str()
		case "message":
			b.Message, err = d.Str()
		case "fields":
			err = d.Arr(func(d *jx.Decoder) error {
				var f apperr.FieldError
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "field":
						f.Field, err = d.Str()
					case "message":
						f.Message, err = d.Str()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				b.Fields = append(b.Fields, f)
				return nil
			})
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "decode %q", key)
	})
}
