package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrap_Order(t *testing.T) {
	var calls []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Wrap(okHandler(), mark("outer"), mark("inner"))
	serve(h, nil)

	assert.Equal(t, []string{"outer", "inner"}, calls)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	w := serve(h, func(r *http.Request) { r.Header.Set(RequestIDHeader, "abc-123") })
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	for _, bad := range []string{"", strings.Repeat("x", 129), "line\nbreak"} {
		w = serve(h, func(r *http.Request) { r.Header.Set(RequestIDHeader, bad) })
		assert.Len(t, seen, 36, "invalid id %q must be replaced", bad)
		assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
	}
}

func TestInjectLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := Wrap(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		zctx.From(r.Context()).Info("handled")
	}), RequestID(), InjectLogger(zap.New(core)))

	serve(h, func(r *http.Request) { r.Header.Set(RequestIDHeader, "req-1") })

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "req-1", logs.All()[0].ContextMap()["request_id"])
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), InjectLogger(zap.New(core)), Recovery())

	w := serve(h, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"code":"INTERNAL","message":"internal server error"}`, w.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
}

func TestRouteFinderAndLogRequests(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/orders/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	find := MakeRouteFinder(mux)

	route, ok := find(httptest.NewRequest(http.MethodGet, "/api/orders/42", nil))
	require.True(t, ok)
	assert.Equal(t, "GET /api/orders/{id}", route)

	_, ok = find(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.False(t, ok)

	core, logs := observer.New(zap.DebugLevel)
	h := Wrap(mux, InjectLogger(zap.New(core)), LogRequests(find))
	req := httptest.NewRequest(http.MethodGet, "/api/orders/42", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("Request failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "GET /api/orders/{id}", entries[0].ContextMap()["route"])
	assert.Equal(t, int64(http.StatusServiceUnavailable), entries[0].ContextMap()["status"])
}

func TestCORS(t *testing.T) {
	t.Run("Wildcard", func(t *testing.T) {
		h := CORS(CORSConfig{AllowOrigins: []string{"*"}})(okHandler())
		w := serve(h, func(r *http.Request) { r.Header.Set("Origin", "https://app.example.com") })
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
	t.Run("Preflight", func(t *testing.T) {
		h := CORS(CORSConfig{
			AllowOrigins: []string{"https://App.example.com"},
			AllowHeaders: []string{"Content-Type", "X-API-Key"},
			MaxAge:       600,
		})(okHandler())
		w := serve(h, func(r *http.Request) {
			r.Method = http.MethodOptions
			r.Header.Set("Origin", "https://app.example.com")
			r.Header.Set("Access-Control-Request-Method", http.MethodPatch)
		})
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://App.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
		assert.Equal(t, "Content-Type, X-API-Key", w.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
	})
	t.Run("Denied", func(t *testing.T) {
		h := CORS(CORSConfig{AllowOrigins: []string{"https://app.example.com"}})(okHandler())
		w := serve(h, func(r *http.Request) { r.Header.Set("Origin", "https://evil.example.com") })
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin", w.Header().Get("Vary"))
	})
	t.Run("CredentialsEchoOrigin", func(t *testing.T) {
		h := CORS(CORSConfig{AllowOrigins: []string{"*"}, AllowCredentials: true})(okHandler())
		w := serve(h, func(r *http.Request) { r.Header.Set("Origin", "https://app.example.com") })
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})
}
