package promoclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/quickbite/internal/apperr"
	"github.com/xenking/quickbite/internal/domain/promo"
	"github.com/xenking/quickbite/internal/remote"
)

const quoteJSON = `{
	"code": "SAVE10",
	"valid": true,
	"message": "Promo code applied successfully",
	"discountType": "PERCENTAGE",
	"discountValue": 10,
	"discountAmount": 20.00,
	"finalAmount": 180.00,
	"reservationToken": "tok-1",
	"expiresAt": "2025-06-15T12:05:00Z"
}`

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "svc-key", remote.Policy{
		Timeout:         time.Second,
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func request() promo.Request {
	return promo.Request{
		Code:          "save10",
		CustomerID:    42,
		CustomerEmail: "jane@example.com",
		OrderTotal:    decimal.NewFromInt(200),
	}
}

func TestClient_Validate(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/promocodes/validate", r.URL.Path)
		assert.Equal(t, "svc-key", r.Header.Get("X-API-Key"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{"code":"save10","customerId":42,"customerEmail":"jane@example.com","orderTotal":200.00}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, quoteJSON)
	})

	q, err := c.Validate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", q.Code)
	assert.True(t, decimal.NewFromInt(20).Equal(q.DiscountAmount))
	assert.Equal(t, "tok-1", q.ReservationToken)
}

func TestClient_DomainErrorIsRebuilt(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"code":"PROMO_EXPIRED","message":"Promo code has expired"}`)
	})

	_, err := c.Validate(context.Background(), request())
	require.ErrorIs(t, err, promo.ErrExpired)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, int32(1), calls.Load(), "domain errors are not retried")
}

func TestClient_UnknownCodeKeepsStatusKind(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code":"SOMETHING_NEW","message":"nope","fields":[{"field":"code","message":"required"}]}`)
	})

	_, err := c.Validate(context.Background(), request())
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, e.Kind)
	assert.Equal(t, "SOMETHING_NEW", e.Code)
	assert.Len(t, e.Fields, 1)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "/api/v1/promocodes/redeem", r.URL.Path)
		_, _ = io.WriteString(w, quoteJSON)
	})

	q, err := c.Redeem(context.Background(), promo.RedeemRequest{Request: request(), OrderID: 9, ReservationToken: "tok-1"})
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", q.Code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_IntegrationFailure(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := c.Reverse(context.Background(), "SAVE10", 9)
	require.Error(t, err)
	assert.Equal(t, apperr.KindIntegration, apperr.KindOf(err))
	assert.NotContains(t, err.(*apperr.Error).Message, "503")
}

func TestClient_MalformedResponse(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"code": 12}`)
	})

	_, err := c.Validate(context.Background(), request())
	assert.Equal(t, apperr.KindIntegration, apperr.KindOf(err))
}

func TestClient_Release(t *testing.T) {
	var path string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		path = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.Release(context.Background(), "tok-1"))
	assert.Equal(t, "/api/v1/promocodes/reservations/tok-1", path)

	path = ""
	require.NoError(t, c.Release(context.Background(), ""))
	assert.Empty(t, path)
}
