// Package health serves liveness and readiness probes.
//
// Every check runs in its own goroutine. A check turns unhealthy after
// failureThreshold consecutive failures and healthy again after
// successThreshold consecutive successes.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

const (
	defaultFailureThreshold = 3
	defaultSuccessThreshold = 1
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// CheckOption tunes a single check.
type CheckOption func(*check)

// WithFailureThreshold sets how many consecutive failures flip a check to
// unhealthy.
func WithFailureThreshold(n int) CheckOption {
	return func(c *check) {
		if n > 0 {
			c.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many consecutive successes flip a check back
// to healthy.
func WithSuccessThreshold(n int) CheckOption {
	return func(c *check) {
		if n > 0 {
			c.successThreshold = n
		}
	}
}

// check is one registered probe. run is only called from the check's own
// goroutine, so the counters need no locking; healthy and lastErr are read
// by HTTP handlers.
type check struct {
	name             string
	timeout          time.Duration
	fn               CheckFunc
	failureThreshold int
	successThreshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails int
	oks   int
}

func newCheck(name string, timeout time.Duration, fn CheckFunc, opts []CheckOption) *check {
	c := &check{
		name:             name,
		timeout:          timeout,
		fn:               fn,
		failureThreshold: defaultFailureThreshold,
		successThreshold: defaultSuccessThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	c.healthy.Store(true)
	return c
}

func (c *check) isHealthy() bool { return c.healthy.Load() }

func (c *check) lastError() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *check) run(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(checkCtx)
	c.lastErr.Store(&err)

	if err != nil {
		c.oks = 0
		c.fails++
		if c.fails >= c.failureThreshold && c.healthy.Swap(false) {
			zctx.From(ctx).Warn("Health check failing", zap.String("check", c.name), zap.Error(err))
		}
		return
	}

	c.fails = 0
	c.oks++
	if c.oks >= c.successThreshold && !c.healthy.Swap(true) {
		zctx.From(ctx).Info("Health check recovered", zap.String("check", c.name))
	}
}

// Health manages the probes of one service.
type Health struct {
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*check
	readiness []*check
	cancel    context.CancelFunc
}

// New creates a Health that reports not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check that decides whether the process should
// be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newCheck(name, timeout, fn, opts))
}

// AddReadinessCheck registers a check that decides whether the service
// receives traffic.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newCheck(name, timeout, fn, opts))
}

// Start runs every registered check each interval until Stop or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := append(append([]*check(nil), h.liveness...), h.readiness...)
	h.mu.Unlock()

	for _, c := range checks {
		go loop(ctx, c, interval)
	}
}

func loop(ctx context.Context, c *check, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.run(ctx)
		}
	}
}

// Stop cancels the check goroutines. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady sets the manual readiness flag.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(failures(h.snapshot(&h.readiness))) == 0
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, failures(h.snapshot(&h.liveness)))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := failures(h.snapshot(&h.readiness))
	if !h.ready.Load() {
		failed["_readiness"] = "service is not ready"
	}
	writeStatus(w, failed)
}

func (h *Health) snapshot(checks *[]*check) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*check(nil), (*checks)...)
}

// failures maps unhealthy checks to their last error.
func failures(checks []*check) map[string]string {
	failed := make(map[string]string)
	for _, c := range checks {
		if c.isHealthy() {
			continue
		}
		if err := c.lastError(); err != nil {
			failed[c.name] = err.Error()
		} else {
			failed[c.name] = "check is unhealthy"
		}
	}
	return failed
}

// writeStatus writes {"status":"ok"} or 503 with the failing checks.
func writeStatus(w http.ResponseWriter, failed map[string]string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	status := http.StatusOK
	e.ObjStart()
	e.FieldStart("status")
	if len(failed) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")
		names := make([]string, 0, len(failed))
		for name := range failed {
			names = append(names, name)
		}
		sort.Strings(names)

		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failed[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
