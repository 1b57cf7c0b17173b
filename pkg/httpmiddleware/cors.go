package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures CORS.
type CORSConfig struct {
	// AllowOrigins lists allowed origins. Empty or "*" allows any origin.
	AllowOrigins []string
	// AllowMethods defaults to the methods used by the APIs.
	AllowMethods []string
	// AllowHeaders defaults to echoing Access-Control-Request-Headers.
	AllowHeaders  []string
	ExposeHeaders []string
	// AllowCredentials disables the "*" origin: the request origin is echoed.
	AllowCredentials bool
	// MaxAge of preflight results in seconds. Zero omits the header.
	MaxAge int
}

var defaultCORSMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

type corsPolicy struct {
	allowAll      bool
	origins       map[string]string // lower-case -> configured
	methods       string
	headers       string
	exposeHeaders string
	credentials   bool
	maxAge        string
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{
		allowAll:      len(cfg.AllowOrigins) == 0,
		origins:       make(map[string]string, len(cfg.AllowOrigins)),
		methods:       strings.Join(cfg.AllowMethods, ", "),
		headers:       strings.Join(cfg.AllowHeaders, ", "),
		exposeHeaders: strings.Join(cfg.ExposeHeaders, ", "),
		credentials:   cfg.AllowCredentials,
	}
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			p.allowAll = true
			continue
		}
		p.origins[strings.ToLower(o)] = o
	}
	if p.credentials {
		p.allowAll = false
	}
	if p.methods == "" {
		p.methods = strings.Join(defaultCORSMethods, ", ")
	}
	switch {
	case cfg.MaxAge > 0:
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	case cfg.MaxAge < 0:
		p.maxAge = "0"
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value, or "" when
// origin is not allowed.
func (p *corsPolicy) allowOrigin(origin string) string {
	if p.allowAll {
		return "*"
	}
	if len(p.origins) == 0 && p.credentials {
		return origin
	}
	return p.origins[strings.ToLower(origin)]
}

func (p *corsPolicy) preflight(w http.ResponseWriter, r *http.Request, origin string) {
	h := w.Header()
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")

	if origin != "" {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", p.methods)
		switch {
		case p.headers != "":
			h.Set("Access-Control-Allow-Headers", p.headers)
		case r.Header.Get("Access-Control-Request-Headers") != "":
			h.Set("Access-Control-Allow-Headers", r.Header.Get("Access-Control-Request-Headers"))
		}
		if p.credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if p.maxAge != "" {
			h.Set("Access-Control-Max-Age", p.maxAge)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// CORS handles preflight requests and sets CORS headers on actual requests.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				if !p.allowAll {
					w.Header().Add("Vary", "Origin")
				}
				next.ServeHTTP(w, r)
				return
			}

			allowed := p.allowOrigin(origin)
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				p.preflight(w, r, allowed)
				return
			}

			if !p.allowAll {
				w.Header().Add("Vary", "Origin")
			}
			if allowed != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				if p.credentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				if p.exposeHeaders != "" {
					w.Header().Set("Access-Control-Expose-Headers", p.exposeHeaders)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
