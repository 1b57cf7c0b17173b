package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/stretchr/testify/require"

	"github.com/xenking/quickbite/internal/domain/auth"
	"github.com/xenking/quickbite/internal/domain/order"
	"github.com/xenking/quickbite/internal/domain/promo"
	"github.com/xenking/quickbite/internal/wire"
)

var (
	customer = auth.Principal{SubjectID: 100, Email: "c@example.com", Role: auth.RoleCustomer}
	rider    = auth.Principal{SubjectID: 7, Role: auth.RolePartner}
	admin    = auth.Principal{SubjectID: 1, Role: auth.RoleAdmin}
	service  = auth.Principal{SubjectID: 0, Role: auth.RoleService}
)

// keyAuth resolves fixed keys.
type keyAuth map[string]auth.Principal

func (a keyAuth) Authenticate(_ context.Context, key string) (auth.Principal, error) {
	p, ok := a[key]
	if !ok {
		return auth.Principal{}, auth.ErrUnauthenticated
	}
	return p, nil
}

var testKeys = keyAuth{
	"customer-key": customer,
	"rider-key":    rider,
	"admin-key":    admin,
	"service-key":  service,
}

func do(t *testing.T, h http.Handler, method, target, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) wire.ErrorBody {
	t.Helper()
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body wire.ErrorBody
	require.NoError(t, body.Decode(jx.DecodeBytes(w.Body.Bytes())), w.Body.String())
	return body
}

type orderCall struct {
	Method    string
	Principal auth.Principal
	ID        int64
	OTP       string
	Status    order.Status
	Req       order.PlaceOrderRequest
}

// fakeOrders records calls and answers with result or err.
type fakeOrders struct {
	calls  []orderCall
	result *order.Order
	list   []order.Order
	err    error
}

func (f *fakeOrders) record(c orderCall) (*order.Order, error) {
	f.calls = append(f.calls, c)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeOrders) PlaceOrder(_ context.Context, p auth.Principal, req order.PlaceOrderRequest) (*order.Order, error) {
	return f.record(orderCall{Method: "PlaceOrder", Principal: p, Req: req})
}

func (f *fakeOrders) CancelOrder(_ context.Context, p auth.Principal, id int64) (*order.Order, error) {
	return f.record(orderCall{Method: "CancelOrder", Principal: p, ID: id})
}

func (f *fakeOrders) MarkOutForDelivery(_ context.Context, p auth.Principal, id int64) (*order.Order, error) {
	return f.record(orderCall{Method: "MarkOutForDelivery", Principal: p, ID: id})
}

func (f *fakeOrders) MarkDelivered(_ context.Context, p auth.Principal, id int64, otp string) (*order.Order, error) {
	return f.record(orderCall{Method: "MarkDelivered", Principal: p, ID: id, OTP: otp})
}

func (f *fakeOrders) GetMyOrder(_ context.Context, p auth.Principal, id int64) (*order.Order, error) {
	return f.record(orderCall{Method: "GetMyOrder", Principal: p, ID: id})
}

func (f *fakeOrders) GetAnyOrder(_ context.Context, p auth.Principal, id int64) (*order.Order, error) {
	return f.record(orderCall{Method: "GetAnyOrder", Principal: p, ID: id})
}

func (f *fakeOrders) UpdateOrderStatus(_ context.Context, p auth.Principal, id int64, to order.Status) (*order.Order, error) {
	return f.record(orderCall{Method: "UpdateOrderStatus", Principal: p, ID: id, Status: to})
}

func (f *fakeOrders) lists(method string, p auth.Principal) ([]order.Order, error) {
	f.calls = append(f.calls, orderCall{Method: method, Principal: p})
	return f.list, f.err
}

func (f *fakeOrders) ListMyOrders(_ context.Context, p auth.Principal) ([]order.Order, error) {
	return f.lists("ListMyOrders", p)
}

func (f *fakeOrders) ListAssignedOrders(_ context.Context, p auth.Principal) ([]order.Order, error) {
	return f.lists("ListAssignedOrders", p)
}

func (f *fakeOrders) ListAllOrders(_ context.Context, p auth.Principal) ([]order.Order, error) {
	return f.lists("ListAllOrders", p)
}

// fakeEngine records priced requests.
type fakeEngine struct {
	validated []promo.Request
	redeemed  []promo.RedeemRequest
	reversed  []string
	released  []string
	quote     *promo.Quote
	err       error
}

func (f *fakeEngine) Validate(_ context.Context, req promo.Request) (*promo.Quote, error) {
	f.validated = append(f.validated, req)
	return f.quote, f.err
}

func (f *fakeEngine) Redeem(_ context.Context, req promo.RedeemRequest) (*promo.Quote, error) {
	f.redeemed = append(f.redeemed, req)
	return f.quote, f.err
}

func (f *fakeEngine) Reverse(_ context.Context, code string, _ int64) error {
	f.reversed = append(f.reversed, code)
	return f.err
}

func (f *fakeEngine) Release(_ context.Context, token string) error {
	f.released = append(f.released, token)
	return f.err
}

// fakeAdmin keeps the last inputs.
type fakeAdmin struct {
	created *promo.CreateInput
	updated *promo.UpdateInput
	expiry  time.Time
	deleted int64
	code    *promo.Code
	usage   []promo.Usage
	err     error
}

func (f *fakeAdmin) Create(_ context.Context, in promo.CreateInput) (*promo.Code, error) {
	f.created = &in
	return f.code, f.err
}

func (f *fakeAdmin) Update(_ context.Context, _ int64, in promo.UpdateInput) (*promo.Code, error) {
	f.updated = &in
	return f.code, f.err
}

func (f *fakeAdmin) UpdateExpiry(_ context.Context, _ int64, until time.Time) (*promo.Code, error) {
	f.expiry = until
	return f.code, f.err
}

func (f *fakeAdmin) Delete(_ context.Context, id int64) error {
	f.deleted = id
	return f.err
}

func (f *fakeAdmin) Get(context.Context, int64) (*promo.Code, error) { return f.code, f.err }

func (f *fakeAdmin) List(context.Context) ([]promo.Code, error) {
	if f.code == nil {
		return nil, f.err
	}
	return []promo.Code{*f.code}, f.err
}

func (f *fakeAdmin) Usage(context.Context, int64) ([]promo.Usage, error) { return f.usage, f.err }
