package remote

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{Timeout: time.Second, MaxRetries: 2, InitialInterval: time.Millisecond}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "test", fastPolicy(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_GivesUp(t *testing.T) {
	calls := 0
	boom := errors.New("down")
	err := Do(context.Background(), "test", fastPolicy(), func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStops(t *testing.T) {
	calls := 0
	rejected := errors.New("rejected")
	err := Do(context.Background(), "test", fastPolicy(), func(context.Context) error {
		calls++
		return Permanent(rejected)
	})
	require.ErrorIs(t, err, rejected)
	assert.Equal(t, 1, calls)
}

func TestDo_AttemptTimeout(t *testing.T) {
	p := fastPolicy()
	p.Timeout = 10 * time.Millisecond
	p.MaxRetries = 0

	err := Do(context.Background(), "test", p, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, "test", fastPolicy(), func(context.Context) error {
		calls++
		return errors.New("down")
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}
