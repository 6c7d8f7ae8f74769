package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GiraffeSchool/student-signin-system/internal/ledger"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r := NewRedis(mr.Addr())
	t.Cleanup(func() { _ = r.Close() })
	return mr, r
}

func TestPing(t *testing.T) {
	_, r := newTestRedis(t)
	assert.NoError(t, r.Ping(context.Background()))

	var missing *Redis
	assert.Error(t, missing.Ping(context.Background()))
}

func TestLockerExcludesSecondHolder(t *testing.T) {
	mr, r := newTestRedis(t)
	locker := r.NewLocker("signin:", time.Minute, 200*time.Millisecond)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "2025-01-15:S1001")
	require.NoError(t, err)
	assert.True(t, mr.Exists("signin:2025-01-15:S1001"))

	_, err = locker.Lock(ctx, "2025-01-15:S1001")
	assert.ErrorIs(t, err, ledger.ErrLockBusy)

	other, err := locker.Lock(ctx, "2025-01-15:S1002")
	require.NoError(t, err)
	other()

	unlock()
	assert.False(t, mr.Exists("signin:2025-01-15:S1001"))

	again, err := locker.Lock(ctx, "2025-01-15:S1001")
	require.NoError(t, err)
	again()
}

func TestLockerReleaseKeepsForeignOwner(t *testing.T) {
	mr, r := newTestRedis(t)
	locker := r.NewLocker("signin:", time.Second, 100*time.Millisecond)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "k")
	require.NoError(t, err)

	// Simulate expiry followed by another instance taking the key.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("signin:k", "someone-else"))

	unlock()
	got, err := mr.Get("signin:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestLockerWaitsForRelease(t *testing.T) {
	_, r := newTestRedis(t)
	locker := r.NewLocker("signin:", time.Minute, 2*time.Second)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "k")
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		unlock()
	}()

	second, err := locker.Lock(ctx, "k")
	require.NoError(t, err)
	second()
}
