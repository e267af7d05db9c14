package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/OneClickTag/jobrunner/internal/tenant"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c := New(DefaultTTL, 0, zap.NewNop())
	t.Cleanup(c.Stop)
	return c
}

func tctx(id string) context.Context {
	return tenant.With(context.Background(), tenant.Scope{TenantID: id})
}

func TestSetGetWithinTenant(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	ctx := tctx("tenant-a")

	require.NoError(t, c.Set(ctx, "customers:1", "alice", Options{}))
	v, ok, err := c.Get(ctx, "customers:1", Options{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", v)
}

func TestTenantIsolation(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)

	require.NoError(t, c.Set(tctx("tenant-a"), "customers:1", "alice", Options{}))

	// same raw key, different tenant: never visible
	v, ok, err := c.Get(tctx("tenant-b"), "customers:1", Options{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestGlobalEntriesVisibleCrossTenant(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)

	require.NoError(t, c.Set(context.Background(), "feature-flags", "on", Options{Global: true}))

	for _, ctx := range []context.Context{tctx("tenant-a"), tctx("tenant-b"), context.Background()} {
		v, ok, err := c.Get(ctx, "feature-flags", Options{Global: true})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "on", v)
	}
}

func TestMissingTenantIsHardError(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	ctx := context.Background()

	err := c.Set(ctx, "customers:1", "alice", Options{})
	require.ErrorIs(t, err, ErrNoTenant)

	_, _, err = c.Get(ctx, "customers:1", Options{})
	require.ErrorIs(t, err, ErrNoTenant)

	_, err = c.DelPattern(ctx, "customers:*", Options{})
	require.ErrorIs(t, err, ErrNoTenant)
}

func TestExpiryOnGet(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	ctx := tctx("tenant-a")

	require.NoError(t, c.Set(ctx, "short", "v", Options{TTL: 20 * time.Millisecond}))
	_, ok, err := c.Get(ctx, "short", Options{})
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok, err = c.Get(ctx, "short", Options{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScheduledDeletionDropsUnreadKeys(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	ctx := tctx("tenant-a")

	require.NoError(t, c.Set(ctx, "unread", "v", Options{TTL: 20 * time.Millisecond}))
	require.Equal(t, 1, c.Len())

	// never read again: the AfterFunc sweep must still drop it
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestOverwriteSurvivesOldScheduledDeletion(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	ctx := tctx("tenant-a")

	require.NoError(t, c.Set(ctx, "k", "v1", Options{TTL: 20 * time.Millisecond}))
	require.NoError(t, c.Set(ctx, "k", "v2", Options{TTL: time.Minute}))

	time.Sleep(50 * time.Millisecond)
	v, ok, err := c.Get(ctx, "k", Options{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestDelPattern(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	ctxA, ctxB := tctx("tenant-a"), tctx("tenant-b")

	require.NoError(t, c.Set(ctxA, "customers:1", "a1", Options{}))
	require.NoError(t, c.Set(ctxA, "customers:2", "a2", Options{}))
	require.NoError(t, c.Set(ctxA, "orders:1", "o1", Options{}))
	require.NoError(t, c.Set(ctxB, "customers:1", "b1", Options{}))

	removed, err := c.DelPattern(ctxA, "customers:*", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// tenant A's non-matching key survives
	_, ok, _ := c.Get(ctxA, "orders:1", Options{})
	assert.True(t, ok)

	// tenant B's same-named key is untouched
	v, ok, _ := c.Get(ctxB, "customers:1", Options{})
	require.True(t, ok)
	assert.Equal(t, "b1", v)
}

func TestDelPatternAnchored(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	ctx := tctx("tenant-a")

	require.NoError(t, c.Set(ctx, "customers:1", "v", Options{}))
	require.NoError(t, c.Set(ctx, "all-customers:1", "v", Options{}))

	removed, err := c.DelPattern(ctx, "customers:*", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok, _ := c.Get(ctx, "all-customers:1", Options{})
	assert.True(t, ok)
}

func TestGetOrSet(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	ctx := tctx("tenant-a")

	calls := 0
	factory := func(context.Context) (any, error) {
		calls++
		return "computed", nil
	}

	v, err := c.GetOrSet(ctx, "expensive", factory, Options{})
	require.NoError(t, err)
	assert.Equal(t, "computed", v)

	v, err = c.GetOrSet(ctx, "expensive", factory, Options{})
	require.NoError(t, err)
	assert.Equal(t, "computed", v)
	assert.Equal(t, 1, calls)
}

func TestGetOrSetSingleFlight(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	ctx := tctx("tenant-a")

	var calls atomic.Int32
	start := make(chan struct{})
	factory := func(context.Context) (any, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "computed", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			v, err := c.GetOrSet(ctx, "stampede", factory, Options{})
			assert.NoError(t, err)
			assert.Equal(t, "computed", v)
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestClearTenant(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)

	require.NoError(t, c.Set(tctx("tenant-a"), "k1", "v", Options{}))
	require.NoError(t, c.Set(tctx("tenant-a"), "k2", "v", Options{}))
	require.NoError(t, c.Set(tctx("tenant-b"), "k1", "v", Options{}))

	assert.Equal(t, 2, c.ClearTenant("tenant-a"))

	_, ok, _ := c.Get(tctx("tenant-b"), "k1", Options{})
	assert.True(t, ok)
}

func TestCleanupSweepsExpired(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	ctx := tctx("tenant-a")

	require.NoError(t, c.Set(ctx, "stale", "v", Options{TTL: time.Nanosecond}))
	require.NoError(t, c.Set(ctx, "fresh", "v", Options{TTL: time.Minute}))

	time.Sleep(5 * time.Millisecond)
	c.Cleanup()

	// the scheduled deletion may beat Cleanup to the stale entry; either
	// way only the fresh one remains
	assert.Equal(t, 1, c.Len())
	_, ok, _ := c.Get(ctx, "fresh", Options{})
	assert.True(t, ok)
}
