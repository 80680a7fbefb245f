package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutupkas/backend/internal/domain"
	"tutupkas/backend/internal/wizard"
)

var operator = domain.Actor{Username: "kasir", Role: domain.RoleCashier, BranchID: "branch-1"}

func TestMemoryDraftCacheExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 20, 0, 0, 0, time.UTC)
	c := NewMemoryDraftCache()
	c.now = func() time.Time { return now }

	state := wizard.New(operator, now)
	require.NoError(t, c.Set(ctx, "w1", state, time.Minute))

	got, ok, err := c.Get(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state, *got)

	now = now.Add(time.Minute)
	_, ok, err = c.Get(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryDraftCacheDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryDraftCache()

	require.NoError(t, c.Set(ctx, "w1", wizard.New(operator, time.Now()), 0))
	require.NoError(t, c.Delete(ctx, "w1"))

	_, ok, err := c.Get(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisDraftCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("TUTUPKAS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TUTUPKAS_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	c := NewRedisDraftCache(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	state := wizard.New(operator, time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, c.Set(ctx, "it-w1", state, time.Minute))
	t.Cleanup(func() { _ = c.Delete(ctx, "it-w1") })

	got, ok, err := c.Get(ctx, "it-w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state, *got)
}
