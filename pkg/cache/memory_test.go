package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_TryLock(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	lease, err := mc.TryLock(ctx, "cycle", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease)

	again, err := mc.TryLock(ctx, "cycle", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, again, "second lock on a held key must fail")

	require.NoError(t, mc.Unlock(ctx, lease))

	lease, err = mc.TryLock(ctx, "cycle", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, lease)
}

func TestMemoryCache_LockExpires(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	lease, _ := mc.TryLock(ctx, "update:42", 10*time.Millisecond)
	require.NotNil(t, lease)

	time.Sleep(20 * time.Millisecond)

	next, err := mc.TryLock(ctx, "update:42", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, next, "expired lease should be reusable")
}

func TestMemoryCache_StaleHolderCannotRelease(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	a, _ := mc.TryLock(ctx, "cycle", 20*time.Millisecond)
	require.NotNil(t, a)
	time.Sleep(30 * time.Millisecond)

	b, _ := mc.TryLock(ctx, "cycle", time.Minute)
	require.NotNil(t, b)
	assert.NotEqual(t, a.Token, b.Token)

	assert.ErrorIs(t, mc.Unlock(ctx, a), ErrLockNotHeld)
	assert.ErrorIs(t, mc.Extend(ctx, a, time.Minute), ErrLockNotHeld)

	c, err := mc.TryLock(ctx, "cycle", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, c, "b still holds the lease")

	require.NoError(t, mc.Unlock(ctx, b))
}

func TestMemoryCache_ExtendKeepsLease(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	lease, _ := mc.TryLock(ctx, "cycle", 30*time.Millisecond)
	require.NotNil(t, lease)
	require.NoError(t, mc.Extend(ctx, lease, time.Minute))

	time.Sleep(40 * time.Millisecond)

	other, err := mc.TryLock(ctx, "cycle", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestMemoryCache_UnlockMissing(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()

	assert.ErrorIs(t, mc.Unlock(context.Background(), &Lease{Key: "nope", Token: "x"}), ErrLockNotHeld)
}
