package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAndConsume_WithinLimit(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		res, err := l.CheckAndConsume(ctx, "email:user@example.com", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 3-i, res.Remaining)
	}

	res, err := l.CheckAndConsume(ctx, "email:user@example.com", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
}

func TestCheckAndConsume_IndependentKeys(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.CheckAndConsume(ctx, "ip:10.0.0.1", 1, time.Minute)
		require.NoError(t, err)
	}

	res, err := l.CheckAndConsume(ctx, "ip:10.0.0.2", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryStore_WindowRestartsLazily(t *testing.T) {
	store := NewMemoryStore()
	current := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	store.now = func() time.Time { return current }

	l := New(store)
	ctx := context.Background()

	res, err := l.CheckAndConsume(ctx, "fp:abc", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC), res.ResetAt)

	res, err = l.CheckAndConsume(ctx, "fp:abc", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// Next fixed window: the key is treated as unseen again.
	current = current.Add(time.Minute)
	res, err = l.CheckAndConsume(ctx, "fp:abc", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
