//go:build integration

package redisstore_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/quickbite/internal/domain/promo"
	"github.com/xenking/quickbite/internal/storage/redisstore"
)

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func reservation(token string) promo.Reservation {
	return promo.Reservation{
		Token:          token,
		PromoID:        1,
		Code:           "SAVE10",
		CustomerID:     100,
		OrderTotal:     decimal.NewFromInt(500),
		DiscountAmount: decimal.NewFromInt(40),
		ExpiresAt:      time.Now().Add(time.Minute),
	}
}

func TestReservations(t *testing.T) {
	ctx := context.Background()
	store := redisstore.NewReservations(newClient(t))

	require.NoError(t, store.Put(ctx, reservation("tok-1"), time.Minute))
	require.Error(t, store.Put(ctx, reservation("tok-1"), time.Minute), "tokens are never overwritten")

	r, err := store.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", r.Token)
	assert.Equal(t, int64(100), r.CustomerID)

	// Reading does not consume the token.
	_, err = store.Get(ctx, "tok-1")
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, reservation("tok-2"), time.Minute))
	require.NoError(t, store.Drop(ctx, "tok-2"))
	require.NoError(t, store.Drop(ctx, "tok-2"))
	_, err = store.Get(ctx, "tok-2")
	require.ErrorIs(t, err, promo.ErrReservationNotFound)
}

func TestReservations_Expire(t *testing.T) {
	ctx := context.Background()
	store := redisstore.NewReservations(newClient(t))

	require.NoError(t, store.Put(ctx, reservation("short"), 100*time.Millisecond))
	time.Sleep(300 * time.Millisecond)

	_, err := store.Get(ctx, "short")
	require.ErrorIs(t, err, promo.ErrReservationNotFound)
}

func TestReservations_PutOnce(t *testing.T) {
	ctx := context.Background()
	store := redisstore.NewReservations(newClient(t))

	var (
		wg     sync.WaitGroup
		stored atomic.Int32
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Put(ctx, reservation("race"), time.Minute); err == nil {
				stored.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), stored.Load())
}
