package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/quickbite/internal/domain/auth"
	"github.com/xenking/quickbite/pkg/httpmiddleware"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "X-API-Key"

// Authenticator resolves an API key to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (auth.Principal, error)
}

// Authenticate rejects requests without a valid API key and stores the
// principal in the request context.
func Authenticate(a Authenticator) httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			p, err := a.Authenticate(ctx, r.Header.Get(APIKeyHeader))
			if err != nil {
				writeError(ctx, w, err)
				return
			}

			ctx = auth.WithPrincipal(ctx, p)
			ctx = zctx.With(ctx,
				zap.Stringer("role", p.Role),
				zap.Int64("subject_id", p.SubjectID),
			)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
