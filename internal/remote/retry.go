// Package remote applies the timeout and retry policy shared by calls to
// collaborating services.
package remote

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Policy bounds a remote call.
type Policy struct {
	// Timeout applies to every attempt separately.
	Timeout time.Duration `default:"3s" yaml:"timeout"`
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64 `default:"2" yaml:"max_retries"`
	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration `default:"100ms" yaml:"initial_interval"`
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:         3 * time.Second,
		MaxRetries:      2,
		InitialInterval: 100 * time.Millisecond,
	}
}

// Permanent marks err as not worth retrying. Do returns err itself.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a Permanent error, the retries are
// exhausted or ctx is done. Each attempt gets its own timeout.
func Do(ctx context.Context, name string, p Policy, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	b.MaxElapsedTime = 0

	attempt := func() error {
		actx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		return op(actx)
	}
	notify := func(err error, next time.Duration) {
		zctx.From(ctx).Debug("Retrying remote call",
			zap.String("call", name),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}

	return backoff.RetryNotify(attempt, backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx), notify)
}
