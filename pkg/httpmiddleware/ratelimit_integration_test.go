//go:build integration

package httpmiddleware

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

func TestRedisWindow(t *testing.T) {
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

	// Two replicas share the counter.
	a := NewRedisWindow(client, "test:rl:", 3, time.Minute)
	b := NewRedisWindow(client, "test:rl:", 3, time.Minute)
	now := time.Now().Truncate(time.Minute).Add(time.Second)

	for i, l := range []*RedisWindow{a, b, a} {
		d, err := l.Allow(ctx, "10.0.0.1", now)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 2-i, d.Remaining)
		assert.Equal(t, now.Truncate(time.Minute).Add(time.Minute), d.ResetAt)
	}

	d, err := b.Allow(ctx, "10.0.0.1", now)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)

	// Other clients have their own counter.
	d, err = a.Allow(ctx, "10.0.0.2", now)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// A new window starts fresh.
	d, err = a.Allow(ctx, "10.0.0.1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)

	ttl, err := client.PTTL(ctx, "test:rl:10.0.0.1:"+fmt.Sprint(now.Truncate(time.Minute).Unix())).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}
