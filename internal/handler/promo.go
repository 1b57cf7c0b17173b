package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/quickbite/internal/apperr"
	"github.com/xenking/quickbite/internal/domain/auth"
	"github.com/xenking/quickbite/internal/domain/promo"
	"github.com/xenking/quickbite/internal/wire"
	"github.com/xenking/quickbite/pkg/httpmiddleware"
)

const promoPrefix = "/api/v1/promocodes"

var maxPercentage = decimal.NewFromInt(100)

// PromoEngine prices and redeems promo codes.
type PromoEngine interface {
	Validate(ctx context.Context, req promo.Request) (*promo.Quote, error)
	Redeem(ctx context.Context, req promo.RedeemRequest) (*promo.Quote, error)
	Reverse(ctx context.Context, code string, orderID int64) error
	Release(ctx context.Context, token string) error
}

// PromoAdmin manages promo codes.
type PromoAdmin interface {
	Create(ctx context.Context, in promo.CreateInput) (*promo.Code, error)
	Update(ctx context.Context, id int64, in promo.UpdateInput) (*promo.Code, error)
	UpdateExpiry(ctx context.Context, id int64, until time.Time) (*promo.Code, error)
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*promo.Code, error)
	List(ctx context.Context) ([]promo.Code, error)
	Usage(ctx context.Context, id int64) ([]promo.Usage, error)
}

// Promos serves the promo-server API.
type Promos struct {
	engine PromoEngine
	admin  PromoAdmin
	check  *checker
}

// NewPromos creates the promo API handler.
func NewPromos(engine PromoEngine, admin PromoAdmin) *Promos {
	return &Promos{engine: engine, admin: admin, check: newChecker()}
}

// Register adds the promo routes to mux behind authn.
func (h *Promos) Register(mux *http.ServeMux, authn httpmiddleware.Middleware) {
	service := func(fn http.HandlerFunc) http.Handler { return authn(requireCap(auth.CapPricePromo, fn)) }
	admin := func(fn http.HandlerFunc) http.Handler { return authn(requireCap(auth.CapManagePromos, fn)) }

	mux.Handle("POST "+promoPrefix+"/validate", service(h.validate))
	mux.Handle("POST "+promoPrefix+"/redeem", service(h.redeem))
	mux.Handle("POST "+promoPrefix+"/reverse", service(h.reverse))
	mux.Handle("DELETE "+promoPrefix+"/reservations/{token}", service(h.release))

	mux.Handle("POST "+promoPrefix, admin(h.create))
	mux.Handle("GET "+promoPrefix, admin(h.list))
	mux.Handle("GET "+promoPrefix+"/{id}", admin(h.get))
	mux.Handle("PUT "+promoPrefix+"/{id}", admin(h.update))
	mux.Handle("PATCH "+promoPrefix+"/{id}/expiry", admin(h.updateExpiry))
	mux.Handle("DELETE "+promoPrefix+"/{id}", admin(h.delete))
	mux.Handle("GET "+promoPrefix+"/{id}/usage", admin(h.usage))
}

// requireCap rejects principals without capability c.
func requireCap(c auth.Capability, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err == nil {
			err = p.Require(c)
		}
		if err != nil {
			writeError(r.Context(), w, err)
			return
		}
		next(w, r)
	}
}

type priceRequest struct {
	Code          string          `json:"code" validate:"required,max=50"`
	CustomerID    int64           `json:"customerId" validate:"gt=0"`
	CustomerEmail string          `json:"customerEmail" validate:"omitempty,email"`
	OrderTotal    decimal.Decimal `json:"orderTotal" validate:"gt=0"`
}

// readPrice decodes and validates a validate or redeem body. Redeem bodies
// must name the order.
func (h *Promos) readPrice(r *http.Request, redeem bool) (promo.RedeemRequest, error) {
	var req promo.RedeemRequest
	if err := readJSON(r, func(d *jx.Decoder) (err error) {
		req, err = wire.DecodeRedeemRequest(d)
		return err
	}); err != nil {
		return req, err
	}

	var extra []apperr.FieldError
	if redeem && req.OrderID <= 0 {
		extra = append(extra, apperr.FieldError{Field: "orderId", Message: "must be greater than 0"})
	}
	err := h.check.check(&priceRequest{
		Code:          req.Code,
		CustomerID:    req.CustomerID,
		CustomerEmail: req.CustomerEmail,
		OrderTotal:    req.OrderTotal,
	}, extra...)
	return req, err
}

func (h *Promos) validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := h.readPrice(r, false)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	q, err := h.engine.Validate(ctx, req.Request)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.EncodeQuote(e, q) })
}

func (h *Promos) redeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := h.readPrice(r, true)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	q, err := h.engine.Redeem(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.EncodeQuote(e, q) })
}

type reverseRequest struct {
	Code    string `json:"code" validate:"required,max=50"`
	OrderID int64  `json:"orderId" validate:"gt=0"`
}

func (h *Promos) reverse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req wire.ReverseRequest
	if err := readJSON(r, req.Decode); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.check.check(&reverseRequest{Code: req.Code, OrderID: req.OrderID}); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.engine.Reverse(ctx, req.Code, req.OrderID); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Promos) release(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Release(r.Context(), r.PathValue("token")); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createRequest struct {
	Code                  string           `json:"code" validate:"required,max=50"`
	Title                 string           `json:"title" validate:"required,max=100"`
	Description           string           `json:"description" validate:"max=500"`
	DiscountType          string           `json:"discountType" validate:"required,discounttype"`
	DiscountValue         decimal.Decimal  `json:"discountValue" validate:"gt=0"`
	MaxDiscountAmount     *decimal.Decimal `json:"maxDiscountAmount" validate:"omitempty,gte=0"`
	MinOrderAmount        *decimal.Decimal `json:"minOrderAmount" validate:"omitempty,gte=0"`
	UsageLimitPerCustomer *int             `json:"usageLimitPerCustomer" validate:"omitempty,gt=0"`
	MaxRedemptions        *int             `json:"maxRedemptions" validate:"omitempty,gt=0"`
	Active                *bool            `json:"active"`
	ValidFrom             time.Time        `json:"validFrom" validate:"required"`
	ValidUntil            time.Time        `json:"validUntil" validate:"required"`
}

type updateRequest struct {
	Title                 *string          `json:"title" validate:"omitempty,min=1,max=100"`
	Description           *string          `json:"description" validate:"omitempty,max=500"`
	DiscountType          *string          `json:"discountType" validate:"omitempty,discounttype"`
	DiscountValue         *decimal.Decimal `json:"discountValue" validate:"omitempty,gt=0"`
	MaxDiscountAmount     *decimal.Decimal `json:"maxDiscountAmount" validate:"omitempty,gte=0"`
	MinOrderAmount        *decimal.Decimal `json:"minOrderAmount" validate:"omitempty,gte=0"`
	UsageLimitPerCustomer *int             `json:"usageLimitPerCustomer" validate:"omitempty,gt=0"`
	MaxRedemptions        *int             `json:"maxRedemptions" validate:"omitempty,gt=0"`
	Active                *bool            `json:"active"`
	ValidFrom             *time.Time       `json:"validFrom"`
	ValidUntil            *time.Time       `json:"validUntil"`
}

// codeFields points at the optional fields of create and update bodies. A
// target is set only when its key is present and not null.
type codeFields struct {
	code, title, description, discountType **string
	discountValue, maxDiscount, minOrder   **decimal.Decimal
	usageLimit, maxRedemptions             **int
	active                                 **bool
	validFrom, validUntil                  **time.Time
}

func (f codeFields) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		switch key {
		case "code":
			return decodeInto(d, f.code, (*jx.Decoder).Str)
		case "title":
			return decodeInto(d, f.title, (*jx.Decoder).Str)
		case "description":
			return decodeInto(d, f.description, (*jx.Decoder).Str)
		case "discountType":
			return decodeInto(d, f.discountType, (*jx.Decoder).Str)
		case "discountValue":
			return decodeInto(d, f.discountValue, wire.DecodeDecimal)
		case "maxDiscountAmount":
			return decodeInto(d, f.maxDiscount, wire.DecodeDecimal)
		case "minOrderAmount":
			return decodeInto(d, f.minOrder, wire.DecodeDecimal)
		case "usageLimitPerCustomer":
			return decodeInto(d, f.usageLimit, (*jx.Decoder).Int)
		case "maxRedemptions":
			return decodeInto(d, f.maxRedemptions, (*jx.Decoder).Int)
		case "active":
			return decodeInto(d, f.active, (*jx.Decoder).Bool)
		case "validFrom":
			return decodeInto(d, f.validFrom, wire.DecodeTime)
		case "validUntil":
			return decodeInto(d, f.validUntil, wire.DecodeTime)
		default:
			return d.Skip()
		}
	})
}

func decodeInto[T any](d *jx.Decoder, target **T, read func(*jx.Decoder) (T, error)) error {
	v, err := read(d)
	if err != nil {
		return err
	}
	if target != nil {
		*target = &v
	}
	return nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func nullDecimal(p *decimal.Decimal) decimal.NullDecimal {
	if p == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*p)
}

// percentageCap reports a percentage discount above 100.
func percentageCap(discountType *string, value *decimal.Decimal) []apperr.FieldError {
	if discountType == nil || value == nil {
		return nil
	}
	if t, _ := promo.ParseDiscountType(*discountType); t == promo.DiscountPercentage && value.GreaterThan(maxPercentage) {
		return []apperr.FieldError{{Field: "discountValue", Message: "must be at most 100 for PERCENTAGE"}}
	}
	return nil
}

func (h *Promos) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		code, title, description, discountType *string
		discountValue, maxDiscount, minOrder   *decimal.Decimal
		usageLimit, maxRedemptions             *int
		active                                 *bool
		validFrom, validUntil                  *time.Time
	)
	fields := codeFields{
		code: &code, title: &title, description: &description, discountType: &discountType,
		discountValue: &discountValue, maxDiscount: &maxDiscount, minOrder: &minOrder,
		usageLimit: &usageLimit, maxRedemptions: &maxRedemptions, active: &active,
		validFrom: &validFrom, validUntil: &validUntil,
	}
	if err := readJSON(r, fields.decode); err != nil {
		writeError(ctx, w, err)
		return
	}

	req := createRequest{
		Code:                  deref(code),
		Title:                 deref(title),
		Description:           deref(description),
		DiscountType:          deref(discountType),
		DiscountValue:         deref(discountValue),
		MaxDiscountAmount:     maxDiscount,
		MinOrderAmount:        minOrder,
		UsageLimitPerCustomer: usageLimit,
		MaxRedemptions:        maxRedemptions,
		Active:                active,
		ValidFrom:             deref(validFrom),
		ValidUntil:            deref(validUntil),
	}
	if err := h.check.check(&req, percentageCap(discountType, discountValue)...); err != nil {
		writeError(ctx, w, err)
		return
	}

	dt, _ := promo.ParseDiscountType(req.DiscountType)
	c, err := h.admin.Create(ctx, promo.CreateInput{
		Code:                  req.Code,
		Title:                 req.Title,
		Description:           req.Description,
		DiscountType:          dt,
		DiscountValue:         req.DiscountValue,
		MaxDiscountAmount:     nullDecimal(req.MaxDiscountAmount),
		MinOrderAmount:        nullDecimal(req.MinOrderAmount),
		UsageLimitPerCustomer: req.UsageLimitPerCustomer,
		MaxRedemptions:        deref(req.MaxRedemptions),
		Active:                req.Active,
		ValidFrom:             req.ValidFrom,
		ValidUntil:            req.ValidUntil,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCode(e, c) })
}

func (h *Promos) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	var req updateRequest
	fields := codeFields{
		title: &req.Title, description: &req.Description, discountType: &req.DiscountType,
		discountValue: &req.DiscountValue, maxDiscount: &req.MaxDiscountAmount, minOrder: &req.MinOrderAmount,
		usageLimit: &req.UsageLimitPerCustomer, maxRedemptions: &req.MaxRedemptions, active: &req.Active,
		validFrom: &req.ValidFrom, validUntil: &req.ValidUntil,
	}
	if err := readJSON(r, fields.decode); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.check.check(&req, percentageCap(req.DiscountType, req.DiscountValue)...); err != nil {
		writeError(ctx, w, err)
		return
	}

	in := promo.UpdateInput{
		Title:                 req.Title,
		Description:           req.Description,
		DiscountValue:         req.DiscountValue,
		MaxDiscountAmount:     req.MaxDiscountAmount,
		MinOrderAmount:        req.MinOrderAmount,
		UsageLimitPerCustomer: req.UsageLimitPerCustomer,
		MaxRedemptions:        req.MaxRedemptions,
		Active:                req.Active,
		ValidFrom:             req.ValidFrom,
		ValidUntil:            req.ValidUntil,
	}
	if req.DiscountType != nil {
		dt, _ := promo.ParseDiscountType(*req.DiscountType)
		in.DiscountType = &dt
	}

	c, err := h.admin.Update(ctx, id, in)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCode(e, c) })
}

type expiryRequest struct {
	ValidUntil time.Time `json:"validUntil" validate:"required"`
}

func (h *Promos) updateExpiry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	var until *time.Time
	if err := readJSON(r, codeFields{validUntil: &until}.decode); err != nil {
		writeError(ctx, w, err)
		return
	}
	req := expiryRequest{ValidUntil: deref(until)}
	if err := h.check.check(&req); err != nil {
		writeError(ctx, w, err)
		return
	}

	c, err := h.admin.UpdateExpiry(ctx, id, req.ValidUntil)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCode(e, c) })
}

func (h *Promos) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.admin.Delete(ctx, id); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Promos) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	c, err := h.admin.Get(ctx, id)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCode(e, c) })
}

func (h *Promos) list(w http.ResponseWriter, r *http.Request) {
	codes, err := h.admin.List(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range codes {
			encodeCode(e, &codes[i])
		}
		e.ArrEnd()
	})
}

func (h *Promos) usage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	rows, err := h.admin.Usage(ctx, id)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range rows {
			encodeUsage(e, &rows[i])
		}
		e.ArrEnd()
	})
}

func encodeCode(e *jx.Encoder, c *promo.Code) {
	optional := func(name string, d decimal.NullDecimal) {
		e.FieldStart(name)
		if d.Valid {
			wire.Money(e, d.Decimal)
		} else {
			e.Null()
		}
	}

	e.ObjStart()
	e.FieldStart("id")
	e.Int64(c.ID)
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("title")
	e.Str(c.Title)
	e.FieldStart("description")
	e.Str(c.Description)
	e.FieldStart("discountType")
	e.Str(string(c.DiscountType))
	e.FieldStart("discountValue")
	wire.Number(e, c.DiscountValue)
	optional("maxDiscountAmount", c.MaxDiscountAmount)
	optional("minOrderAmount", c.MinOrderAmount)
	e.FieldStart("usageLimitPerCustomer")
	e.Int(c.UsageLimitPerCustomer)
	e.FieldStart("maxRedemptions")
	if c.MaxRedemptions > 0 {
		e.Int(c.MaxRedemptions)
	} else {
		e.Null()
	}
	e.FieldStart("totalRedemptions")
	e.Int(c.TotalRedemptions)
	e.FieldStart("active")
	e.Bool(c.Active)
	e.FieldStart("validFrom")
	wire.Time(e, c.ValidFrom)
	e.FieldStart("validUntil")
	wire.Time(e, c.ValidUntil)
	e.FieldStart("createdAt")
	wire.Time(e, c.CreatedAt)
	e.FieldStart("updatedAt")
	wire.Time(e, c.UpdatedAt)
	e.ObjEnd()
}

func encodeUsage(e *jx.Encoder, u *promo.Usage) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(u.ID)
	e.FieldStart("promoCodeId")
	e.Int64(u.PromoID)
	e.FieldStart("code")
	e.Str(u.Code)
	e.FieldStart("customerId")
	e.Int64(u.CustomerID)
	e.FieldStart("customerEmail")
	e.Str(u.CustomerEmail)
	e.FieldStart("orderId")
	e.Int64(u.OrderID)
	e.FieldStart("orderTotal")
	wire.Money(e, u.OrderTotal)
	e.FieldStart("discountApplied")
	wire.Money(e, u.DiscountApplied)
	e.FieldStart("usedAt")
	wire.Time(e, u.UsedAt)
	e.FieldStart("reversedAt")
	if u.ReversedAt != nil {
		wire.Time(e, *u.ReversedAt)
	} else {
		e.Null()
	}
	e.ObjEnd()
}
