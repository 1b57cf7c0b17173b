package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/quickbite/internal/apperr"
	"github.com/xenking/quickbite/internal/domain/auth"
	"github.com/xenking/quickbite/internal/domain/order"
	"github.com/xenking/quickbite/internal/wire"
	"github.com/xenking/quickbite/pkg/httpmiddleware"
)

// OrderService is the order lifecycle as used by the HTTP API.
type OrderService interface {
	PlaceOrder(ctx context.Context, p auth.Principal, req order.PlaceOrderRequest) (*order.Order, error)
	CancelOrder(ctx context.Context, p auth.Principal, id int64) (*order.Order, error)
	MarkOutForDelivery(ctx context.Context, p auth.Principal, id int64) (*order.Order, error)
	MarkDelivered(ctx context.Context, p auth.Principal, id int64, otp string) (*order.Order, error)
	GetMyOrder(ctx context.Context, p auth.Principal, id int64) (*order.Order, error)
	ListMyOrders(ctx context.Context, p auth.Principal) ([]order.Order, error)
	ListAssignedOrders(ctx context.Context, p auth.Principal) ([]order.Order, error)
	ListAllOrders(ctx context.Context, p auth.Principal) ([]order.Order, error)
	GetAnyOrder(ctx context.Context, p auth.Principal, id int64) (*order.Order, error)
	UpdateOrderStatus(ctx context.Context, p auth.Principal, id int64, to order.Status) (*order.Order, error)
}

// Orders serves the order API.
type Orders struct {
	svc   OrderService
	check *checker
}

// NewOrders creates the order API handler.
func NewOrders(svc OrderService) *Orders {
	return &Orders{svc: svc, check: newChecker()}
}

// Register adds the order routes to mux behind authn.
func (h *Orders) Register(mux *http.ServeMux, authn httpmiddleware.Middleware) {
	routes := map[string]http.HandlerFunc{
		"POST /api/orders":                    h.placeOrder,
		"GET /api/orders":                     h.listMyOrders,
		"GET /api/orders/{id}":                h.getMyOrder,
		"PATCH /api/orders/{id}/cancel":       h.cancelOrder,
		"PATCH /api/orders/{id}/out":          h.markOut,
		"PATCH /api/orders/{id}/deliver":      h.markDelivered,
		"GET /api/partner/orders":             h.listAssignedOrders,
		"GET /api/admin/orders":               h.listAllOrders,
		"GET /api/admin/orders/{id}":          h.getAnyOrder,
		"PATCH /api/admin/orders/{id}/status": h.updateStatus,
	}
	for pattern, fn := range routes {
		mux.Handle(pattern, authn(fn))
	}
}

type addressRequest struct {
	FullName string `json:"fullName" validate:"required,max=100"`
	Phone    string `json:"phone" validate:"required,min=7,max=20"`
	Street   string `json:"street" validate:"required,max=200"`
	City     string `json:"city" validate:"required,max=100"`
	State    string `json:"state" validate:"required,max=100"`
	Pincode  string `json:"pincode" validate:"required,numeric,len=6"`
}

type itemRequest struct {
	FoodID   int64 `json:"foodId" validate:"gt=0"`
	Quantity int   `json:"quantity" validate:"gt=0,lte=100"`
}

type placeOrderRequest struct {
	Address   *addressRequest `json:"address" validate:"required"`
	Items     []itemRequest   `json:"items" validate:"required,min=1,dive"`
	PromoCode string          `json:"promoCode" validate:"max=50"`
}

func (req *placeOrderRequest) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "address":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.Address = &addressRequest{}
			return req.Address.decode(d)
		case "items":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.Items = []itemRequest{}
			return d.Arr(func(d *jx.Decoder) error {
				var it itemRequest
				if err := it.decode(d); err != nil {
					return err
				}
				req.Items = append(req.Items, it)
				return nil
			})
		case "promoCode":
			if d.Next() == jx.Null {
				return d.Null()
			}
			s, err := d.Str()
			req.PromoCode = s
			return err
		default:
			return d.Skip()
		}
	})
}

func (a *addressRequest) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var target *string
		switch key {
		case "fullName":
			target = &a.FullName
		case "phone":
			target = &a.Phone
		case "street":
			target = &a.Street
		case "city":
			target = &a.City
		case "state":
			target = &a.State
		case "pincode":
			target = &a.Pincode
		default:
			return d.Skip()
		}
		s, err := d.Str()
		*target = s
		return err
	})
}

func (it *itemRequest) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "foodId":
			it.FoodID, err = d.Int64()
		case "quantity":
			it.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
}

func (req *placeOrderRequest) domain() order.PlaceOrderRequest {
	out := order.PlaceOrderRequest{
		Address: order.Address{
			FullName: req.Address.FullName,
			Phone:    req.Address.Phone,
			Street:   req.Address.Street,
			City:     req.Address.City,
			State:    req.Address.State,
			Pincode:  req.Address.Pincode,
		},
		Items:     make([]order.ItemRequest, len(req.Items)),
		PromoCode: req.PromoCode,
	}
	for i, it := range req.Items {
		out.Items[i] = order.ItemRequest{FoodID: it.FoodID, Quantity: it.Quantity}
	}
	return out
}

func (h *Orders) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := principal(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	var req placeOrderRequest
	if err := readJSON(r, req.decode); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.check.check(&req); err != nil {
		writeError(ctx, w, err)
		return
	}

	o, err := h.svc.PlaceOrder(ctx, p, req.domain())
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o, true) })
}

func (h *Orders) listMyOrders(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.svc.ListMyOrders, true)
}

func (h *Orders) listAssignedOrders(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.svc.ListAssignedOrders, false)
}

func (h *Orders) listAllOrders(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.svc.ListAllOrders, true)
}

func (h *Orders) getMyOrder(w http.ResponseWriter, r *http.Request) {
	h.one(w, r, h.svc.GetMyOrder)
}

func (h *Orders) getAnyOrder(w http.ResponseWriter, r *http.Request) {
	h.one(w, r, h.svc.GetAnyOrder)
}

func (h *Orders) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.CancelOrder)
}

func (h *Orders) markOut(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.MarkOutForDelivery)
}

func (h *Orders) markDelivered(w http.ResponseWriter, r *http.Request) {
	otp := r.URL.Query().Get("otp")
	if otp == "" {
		writeError(r.Context(), w, apperr.Validation([]apperr.FieldError{{Field: "otp", Message: "is required"}}))
		return
	}
	h.transition(w, r, func(ctx context.Context, p auth.Principal, id int64) (*order.Order, error) {
		return h.svc.MarkDelivered(ctx, p, id, otp)
	})
}

func (h *Orders) updateStatus(w http.ResponseWriter, r *http.Request) {
	var raw string
	if err := readJSON(r, func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != "status" {
				return d.Skip()
			}
			s, err := d.Str()
			raw = s
			return err
		})
	}); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	to, ok := order.ParseStatus(raw)
	if !ok {
		writeError(r.Context(), w, apperr.Validation([]apperr.FieldError{{
			Field:   "status",
			Message: "must be one of PENDING, OUT, DELIVERED, CANCELLED",
		}}))
		return
	}

	h.transition(w, r, func(ctx context.Context, p auth.Principal, id int64) (*order.Order, error) {
		return h.svc.UpdateOrderStatus(ctx, p, id, to)
	})
}

type (
	listFunc func(ctx context.Context, p auth.Principal) ([]order.Order, error)
	oneFunc  func(ctx context.Context, p auth.Principal, id int64) (*order.Order, error)
)

func (h *Orders) list(w http.ResponseWriter, r *http.Request, fn listFunc, withOTP bool) {
	ctx := r.Context()
	p, err := principal(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	orders, err := fn(ctx, p)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range orders {
			encodeOrder(e, &orders[i], withOTP)
		}
		e.ArrEnd()
	})
}

func (h *Orders) one(w http.ResponseWriter, r *http.Request, fn oneFunc) {
	o, ok := h.call(w, r, fn)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o, true) })
}

// transition answers with the new status only.
func (h *Orders) transition(w http.ResponseWriter, r *http.Request, fn oneFunc) {
	o, ok := h.call(w, r, fn)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("orderId")
		e.Int64(o.ID)
		e.FieldStart("status")
		e.Str(string(o.Status))
		e.ObjEnd()
	})
}

func (h *Orders) call(w http.ResponseWriter, r *http.Request, fn oneFunc) (*order.Order, bool) {
	ctx := r.Context()
	p, err := principal(r)
	if err != nil {
		writeError(ctx, w, err)
		return nil, false
	}
	id, err := pathID(r)
	if err != nil {
		writeError(ctx, w, err)
		return nil, false
	}
	o, err := fn(ctx, p, id)
	if err != nil {
		writeError(ctx, w, err)
		return nil, false
	}
	return o, true
}

// encodeOrder writes the order view. The OTP is left out of views served
// to delivery partners, who must obtain it from the customer.
func encodeOrder(e *jx.Encoder, o *order.Order, withOTP bool) {
	e.ObjStart()
	e.FieldStart("orderId")
	e.Int64(o.ID)
	e.FieldStart("customerId")
	e.Int64(o.CustomerID)

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("foodId")
		e.Int64(it.FoodID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unitPrice")
		wire.Money(e, it.UnitPrice)
		e.FieldStart("lineTotal")
		wire.Money(e, it.LineTotal())
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("totalQuantity")
	e.Int(o.TotalQuantity())
	e.FieldStart("subtotal")
	wire.Money(e, o.Subtotal())
	e.FieldStart("discountAmount")
	wire.Money(e, o.DiscountAmount)
	e.FieldStart("deliveryCharge")
	wire.Money(e, order.DeliveryCharge)
	e.FieldStart("grandTotal")
	wire.Money(e, o.GrandTotal())

	e.FieldStart("promoCode")
	if o.PromoCode != "" {
		e.Str(o.PromoCode)
	} else {
		e.Null()
	}
	if withOTP {
		e.FieldStart("otp")
		e.Str(o.OTP)
	}
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("deliveryPartnerId")
	if o.DeliveryPartnerID != 0 {
		e.Int64(o.DeliveryPartnerID)
	} else {
		e.Null()
	}

	a := o.Address
	e.FieldStart("address")
	e.ObjStart()
	e.FieldStart("fullName")
	e.Str(a.FullName)
	e.FieldStart("phone")
	e.Str(a.Phone)
	e.FieldStart("street")
	e.Str(a.Street)
	e.FieldStart("city")
	e.Str(a.City)
	e.FieldStart("state")
	e.Str(a.State)
	e.FieldStart("pincode")
	e.Str(a.Pincode)
	e.ObjEnd()

	e.FieldStart("createdAt")
	wire.Time(e, o.CreatedAt)
	e.FieldStart("updatedAt")
	wire.Time(e, o.UpdatedAt)
	e.ObjEnd()
}
