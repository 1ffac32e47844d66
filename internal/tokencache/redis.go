package tokencache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// Redis stores tokens in Redis with a TTL matching their validity.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*Redis)(nil)

// NewRedis creates a Redis store. Keys are namespaced with prefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Load returns the token stored under key, or ErrMiss when it is absent or
// unreadable.
func (r *Redis) Load(ctx context.Context, key string) (Token, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Token{}, ErrMiss
		}
		return Token{}, errors.Wrap(err, "redis get")
	}

	// Value is "<unix millis>:<token>".
	ms, value, ok := strings.Cut(raw, ":")
	if !ok {
		return Token{}, ErrMiss
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return Token{}, ErrMiss
	}
	return Token{Value: value, ValidUntil: time.UnixMilli(n)}, nil
}

// Save stores t under key with a TTL matching its expiry. Already expired
// tokens are not stored.
func (r *Redis) Save(ctx context.Context, key string, t Token) error {
	ttl := time.Until(t.ValidUntil)
	if ttl <= 0 {
		return nil
	}
	raw := strconv.FormatInt(t.ValidUntil.UnixMilli(), 10) + ":" + t.Value
	if err := r.client.Set(ctx, r.prefix+key, raw, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// Delete removes the token stored under key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}
