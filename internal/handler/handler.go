// Package handler implements the HTTP APIs of the order and promo servers.
package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/quickbite/internal/apperr"
	"github.com/xenking/quickbite/internal/domain/auth"
	"github.com/xenking/quickbite/internal/domain/order"
	"github.com/xenking/quickbite/internal/wire"
)

const maxBodySize = 1 << 20

// ErrMalformedBody is returned for bodies that are not the expected JSON.
var ErrMalformedBody = apperr.New(apperr.KindValidation, "MALFORMED_BODY", "malformed request body")

// statusOf maps an error kind to the HTTP status code.
func statusOf(e *apperr.Error) int {
	switch e.Kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnauthorized:
		if e.Is(auth.ErrUnauthenticated) {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case apperr.KindInvalidState:
		if e.Is(order.ErrInvalidOTP) {
			return http.StatusBadRequest
		}
		return http.StatusConflict
	case apperr.KindIntegration:
		return http.StatusServiceUnavailable
	case apperr.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	body(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError renders err as {code, message, fields?}. Unclassified errors
// and causes of integration failures are logged, never rendered.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	lg := zctx.From(ctx)

	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		lg.Error("Request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, wire.ErrorBody{
			Code:    "INTERNAL",
			Message: "internal server error",
		}.Encode)
		return
	}

	status := statusOf(e)
	if status >= http.StatusInternalServerError {
		lg.Warn("Request failed", zap.String("code", e.Code), zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.String("code", e.Code), zap.String("message", e.Message))
	}
	writeJSON(w, status, wire.ErrorBody{
		Code:    e.Code,
		Message: e.Message,
		Fields:  e.Fields,
	}.Encode)
}

// readJSON decodes the request body with decode.
func readJSON(r *http.Request, decode func(d *jx.Decoder) error) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return ErrMalformedBody.WithMessage("cannot read request body")
	}
	if len(data) > maxBodySize {
		return ErrMalformedBody.WithMessage("request body too large")
	}
	if len(data) == 0 {
		return ErrMalformedBody.WithMessage("request body is empty")
	}
	if err := decode(jx.DecodeBytes(data)); err != nil {
		return ErrMalformedBody.WithMessage(err.Error())
	}
	return nil
}

// pathID parses the {id} path parameter.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation([]apperr.FieldError{{Field: "id", Message: "must be a positive integer"}})
	}
	return id, nil
}

// principal returns the caller stored by Authenticate.
func principal(r *http.Request) (auth.Principal, error) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		return auth.Principal{}, auth.ErrUnauthenticated
	}
	return p, nil
}
