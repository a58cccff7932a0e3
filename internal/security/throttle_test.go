// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoginThrottle_BurstThenRefill(t *testing.T) {
	th := NewLoginThrottle(60, 3) // one token per second
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.True(t, th.Allow("alice", now))
	}
	require.False(t, th.Allow("alice", now))
	require.False(t, th.Allow("ALICE", now), "keys are case-folded")
	require.True(t, th.Allow("bob", now), "buckets are per user")

	require.True(t, th.Allow("alice", now.Add(time.Second)))
}

func TestLoginThrottle_Disabled(t *testing.T) {
	var th *LoginThrottle = NewLoginThrottle(30, 0)
	require.Nil(t, th)
	for i := 0; i < 100; i++ {
		require.True(t, th.Allow("alice", time.Now()))
	}
	require.Zero(t, th.Prune(time.Now()))
}

func TestLoginThrottle_Prune(t *testing.T) {
	th := NewLoginThrottle(60, 1)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	th.Allow("a", now)
	th.Allow("b", now.Add(10*time.Minute))

	require.Equal(t, 1, th.Prune(now.Add(16*time.Minute)))
	require.Len(t, th.limiters, 1)
}
