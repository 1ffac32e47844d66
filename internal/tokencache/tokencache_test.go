package tokencache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	_, err := m.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, m.Save(ctx, "k", Token{Value: "abc", ValidUntil: now.Add(time.Hour)}))
	got, err := m.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Value)

	now = now.Add(time.Hour)
	_, err = m.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss, "expired token is a miss")

	require.NoError(t, m.Save(ctx, "k", Token{Value: "def", ValidUntil: now.Add(time.Hour)}))
	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
	assert.NoError(t, m.Delete(ctx, "missing"))
	assert.Empty(t, m.tokens, "expired and deleted entries are evicted")
}

func TestSource_LogsInOnceAndCaches(t *testing.T) {
	var logins atomic.Int32
	src := NewSource(NewMemory(), "carrier", func(context.Context) (Token, error) {
		n := logins.Add(1)
		return Token{Value: "tok" + string(rune('0'+n)), ValidUntil: time.Now().Add(time.Hour)}, nil
	})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := src.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok1", tok)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), logins.Load())
}

func TestSource_Invalidate(t *testing.T) {
	ctx := context.Background()
	var logins atomic.Int32
	src := NewSource(NewMemory(), "carrier", func(context.Context) (Token, error) {
		n := logins.Add(1)
		return Token{Value: "tok" + string(rune('0'+n)), ValidUntil: time.Now().Add(time.Hour)}, nil
	})

	tok, err := src.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "tok1", tok)

	// A stale value does not drop the fresh token.
	require.NoError(t, src.Invalidate(ctx, "tok0"))
	tok, err = src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok1", tok)

	require.NoError(t, src.Invalidate(ctx, "tok1"))
	tok, err = src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok2", tok)
}

func TestSource_LoginErrors(t *testing.T) {
	ctx := context.Background()

	src := NewSource(NewMemory(), "carrier", func(context.Context) (Token, error) {
		return Token{}, errors.New("bad credentials")
	})
	_, err := src.Token(ctx)
	require.ErrorContains(t, err, "bad credentials")

	src = NewSource(NewMemory(), "carrier", func(context.Context) (Token, error) {
		return Token{Value: "old", ValidUntil: time.Now().Add(-time.Minute)}, nil
	})
	_, err = src.Token(ctx)
	require.Error(t, err)
}
