// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// throttleIdle is how long an unused limiter is kept before pruning.
const throttleIdle = 15 * time.Minute

// throttlePruneAt triggers pruning once this many usernames are tracked.
const throttlePruneAt = 1024

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LoginThrottle rate-limits login attempts per username with a token bucket.
// It sits in front of the lockout counter: throttled attempts never reach
// password verification. A nil *LoginThrottle allows everything.
type LoginThrottle struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*throttleEntry
}

// NewLoginThrottle allows perMinute attempts per username with the given
// burst. It returns nil (throttling off) when burst or perMinute is zero.
func NewLoginThrottle(perMinute, burst int) *LoginThrottle {
	if perMinute <= 0 || burst <= 0 {
		return nil
	}
	return &LoginThrottle{
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		limiters: make(map[string]*throttleEntry),
	}
}

// Allow consumes one token for username at now.
func (t *LoginThrottle) Allow(username string, now time.Time) bool {
	if t == nil {
		return true
	}
	key := foldKey(username)

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.limiters) >= throttlePruneAt {
		t.pruneLocked(now)
	}

	e, ok := t.limiters[key]
	if !ok {
		e = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Prune drops limiters idle for longer than 15 minutes.
func (t *LoginThrottle) Prune(now time.Time) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pruneLocked(now)
}

func (t *LoginThrottle) pruneLocked(now time.Time) int {
	removed := 0
	for k, e := range t.limiters {
		if now.Sub(e.lastSeen) > throttleIdle {
			delete(t.limiters, k)
			removed++
		}
	}
	return removed
}
