// Package redisstore keeps promo reservation tokens in Redis.
package redisstore

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/quickbite/internal/domain/promo"
	"github.com/xenking/quickbite/internal/wire"
)

const reservationKeyPrefix = "promo:reservation:"

var _ promo.ReservationStore = (*Reservations)(nil)

// Reservations stores reservation tokens with a TTL. The promo engine drops
// a token once its redemption is committed.
type Reservations struct {
	client *redis.Client
}

// NewReservations creates a store over client.
func NewReservations(client *redis.Client) *Reservations {
	return &Reservations{client: client}
}

// Put stores r until ttl elapses. Tokens are never overwritten.
func (s *Reservations) Put(ctx context.Context, r promo.Reservation, ttl time.Duration) error {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeReservation(e, r)

	ok, err := s.client.SetNX(ctx, reservationKeyPrefix+r.Token, e.Bytes(), ttl).Result()
	if err != nil {
		return errors.Wrap(err, "set reservation")
	}
	if !ok {
		return errors.Errorf("reservation token %q already exists", r.Token)
	}
	return nil
}

// Get reads a live reservation.
func (s *Reservations) Get(ctx context.Context, token string) (*promo.Reservation, error) {
	data, err := s.client.Get(ctx, reservationKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, promo.ErrReservationNotFound
		}
		return nil, errors.Wrap(err, "get reservation")
	}

	r, err := decodeReservation(jx.DecodeBytes(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode reservation")
	}
	r.Token = token
	return r, nil
}

// Drop deletes a reservation. Dropping an unknown token is not an error.
func (s *Reservations) Drop(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, reservationKeyPrefix+token).Err(); err != nil {
		return errors.Wrap(err, "del reservation")
	}
	return nil
}

// Ping checks the connection.
func (s *Reservations) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func encodeReservation(e *jx.Encoder, r promo.Reservation) {
	e.ObjStart()
	e.FieldStart("promoId")
	e.Int64(r.PromoID)
	e.FieldStart("code")
	e.Str(r.Code)
	e.FieldStart("customerId")
	e.Int64(r.CustomerID)
	e.FieldStart("orderTotal")
	wire.Number(e, r.OrderTotal)
	e.FieldStart("discountAmount")
	wire.Number(e, r.DiscountAmount)
	e.FieldStart("expiresAt")
	wire.Time(e, r.ExpiresAt)
	e.ObjEnd()
}

func decodeReservation(d *jx.Decoder) (*promo.Reservation, error) {
	var r promo.Reservation
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "promoId":
			r.PromoID, err = d.Int64()
		case "code":
			r.Code, err = d.Str()
		case "customerId":
			r.CustomerID, err = d.Int64()
		case "orderTotal":
			r.OrderTotal, err = wire.DecodeDecimal(d)
		case "discountAmount":
			r.DiscountAmount, err = wire.DecodeDecimal(d)
		case "expiresAt":
			r.ExpiresAt, err = wire.DecodeTime(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}
