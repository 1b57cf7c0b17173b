// Package httpmiddleware contains net/http middlewares shared by the servers.
package httpmiddleware

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Wrap applies middlewares so that the first one is the outermost.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RouteFinder returns the route pattern serving r, or false if none does.
type RouteFinder func(r *http.Request) (string, bool)

// MakeRouteFinder resolves routes through the mux's own pattern matching.
func MakeRouteFinder(mux *http.ServeMux) RouteFinder {
	return func(r *http.Request) (string, bool) {
		_, pattern := mux.Handler(r)
		if pattern == "" {
			return "", false
		}
		return pattern, true
	}
}

// InjectLogger stores lg in the request context, tagged with the request id
// when RequestID runs earlier in the chain.
func InjectLogger(lg *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLg := lg
			if id := RequestIDFromContext(r.Context()); id != "" {
				reqLg = lg.With(zap.String("request_id", id))
			}
			ctx := zctx.Base(r.Context(), reqLg)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Instrument traces and measures requests with otelhttp. Spans are named
// after the matched route.
func Instrument(serviceName string, find RouteFinder, m *app.Telemetry) Middleware {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				if route, ok := find(r); ok {
					return route
				}
				return operation
			}),
		)
	}
}

// Labeler adds the route to otelhttp metrics. It must run inside Instrument.
func Labeler(find RouteFinder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if route, ok := find(r); ok {
				if l, ok := otelhttp.LabelerFromContext(r.Context()); ok {
					l.Add(attribute.String("http.route", route))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LogRequests logs every completed request.
func LogRequests(find RouteFinder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route, ok := find(r)
			if !ok {
				route = "unknown"
			}
			lg := zctx.From(r.Context())
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", sw.status),
				zap.Duration("duration", time.Since(start)),
			}
			if sw.status >= http.StatusInternalServerError {
				lg.Warn("Request failed", fields...)
				return
			}
			lg.Debug("Request", fields...)
		})
	}
}

// writeError writes a {code, message} JSON body.
func writeError(w http.ResponseWriter, status int, code, message string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	e.FieldStart("code")
	e.Str(code)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
