package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	var l *Limiter
	require.False(t, l.Enabled())

	allowed, err := l.AllowInvite(context.Background(), "1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = l.AllowLogin(context.Background(), "someone@example.com")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestDisabledLimiterGrantsBootstrapLock(t *testing.T) {
	// Without redis there is nothing to coordinate with, so seeding must
	// proceed as if the lock were held.
	var l *Limiter
	token, ok, err := l.TryBootstrapLock(context.Background(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, token)

	require.NoError(t, l.ReleaseBootstrapLock(context.Background(), token))
}

func TestLockerWithoutClient(t *testing.T) {
	require.Nil(t, NewLocker(nil))

	var locker *Locker
	_, _, err := locker.TryLock(context.Background(), "bootstrap:lock", time.Minute)
	require.ErrorIs(t, err, ErrLockUnavailable)
	require.NoError(t, locker.Release(context.Background(), "bootstrap:lock", "token"))
}
