package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_ClaimOnce(t *testing.T) {
	g := NewMemory(time.Minute)
	ctx := context.Background()

	ok, err := g.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.Claim(ctx, "evt-2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_Release(t *testing.T) {
	g := NewMemory(time.Minute)
	ctx := context.Background()

	_, err := g.Claim(ctx, "evt-1")
	require.NoError(t, err)
	require.NoError(t, g.Release(ctx, "evt-1"))

	ok, err := g.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_Expiry(t *testing.T) {
	g := NewMemory(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := g.Claim(ctx, "evt-1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	ok, err := g.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedis_KeyFormat(t *testing.T) {
	g := NewRedis(nil, "payments", 0)
	assert.Equal(t, "dedup:payments:evt-9", g.key("evt-9"))
	assert.Equal(t, DefaultTTL, g.ttl)
}
