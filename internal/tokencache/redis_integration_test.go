//go:build integration

package tokencache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedis(t *testing.T) {
	ctx := context.Background()
	client := startRedis(t)
	store := NewRedis(client, "test:token:")

	_, err := store.Load(ctx, "shiprocket")
	require.ErrorIs(t, err, ErrMiss)

	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, store.Save(ctx, "shiprocket", Token{Value: "abc:def", ValidUntil: until}))

	got, err := store.Load(ctx, "shiprocket")
	require.NoError(t, err)
	assert.Equal(t, "abc:def", got.Value)
	assert.True(t, got.ValidUntil.Equal(until))

	ttl, err := client.TTL(ctx, "test:token:shiprocket").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	// Expired tokens are not written.
	require.NoError(t, store.Save(ctx, "stale", Token{Value: "x", ValidUntil: time.Now().Add(-time.Second)}))
	_, err = store.Load(ctx, "stale")
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, store.Delete(ctx, "shiprocket"))
	_, err = store.Load(ctx, "shiprocket")
	require.ErrorIs(t, err, ErrMiss)
}

func TestRedis_SharedSource(t *testing.T) {
	ctx := context.Background()
	store := NewRedis(startRedis(t), "test:token:")

	logins := 0
	login := func(context.Context) (Token, error) {
		logins++
		return Token{Value: fmt.Sprintf("tok-%d", logins), ValidUntil: time.Now().Add(time.Hour)}, nil
	}

	// Two replicas share one login through the store.
	a := NewSource(store, "carrier", login)
	b := NewSource(store, "carrier", login)

	ta, err := a.Token(ctx)
	require.NoError(t, err)
	tb, err := b.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, ta, tb)
	assert.Equal(t, 1, logins)
}
