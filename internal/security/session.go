// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/morganforge/kontor/internal/util"
)

// DefaultSessionTimeout applies when neither the user nor the registry
// configures one.
const DefaultSessionTimeout = 30 * time.Minute

// SessionIDPrefix marks session tokens in logs and support output.
const SessionIDPrefix = "sess_"

// =============================================================================
// SESSION
// =============================================================================

// Session is an in-memory proof of a successful login. The registry hands out
// copies; the only live record is the one inside the registry.
type Session struct {
	ID           string        `json:"session_id"`
	UserID       string        `json:"user_id"`
	Username     string        `json:"username"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
	ExpiresAt    time.Time     `json:"expires_at"`
	Timeout      time.Duration `json:"timeout"`
	IPAddress    string        `json:"ip_address,omitempty"`
	UserAgent    string        `json:"user_agent,omitempty"`
	Active       bool          `json:"is_active"`
}

// IsExpired reports whether now is past ExpiresAt.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Live reports whether the session is active and not expired.
func (s *Session) Live(now time.Time) bool {
	return s.Active && !s.IsExpired(now)
}

// TimeRemaining is the time until expiry, zero once expired.
func (s *Session) TimeRemaining(now time.Time) time.Duration {
	return max(s.ExpiresAt.Sub(now), 0)
}

// newSessionID returns "sess_" followed by 256 bits of randomness in hex.
func newSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("cryptographic random generation failed: %w", err)
	}
	return SessionIDPrefix + hex.EncodeToString(b), nil
}

// =============================================================================
// SESSION REGISTRY
// =============================================================================

// SessionRegistry holds live sessions keyed by id. One mutex guards the map
// and every field of every session in it, including the expiry refresh done
// by Validate.
type SessionRegistry struct {
	mu             sync.Mutex
	sessions       map[string]*Session
	defaultTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// SessionRegistryOption configures a SessionRegistry.
type SessionRegistryOption func(*SessionRegistry)

// WithSessionClock replaces time.Now.
func WithSessionClock(now func() time.Time) SessionRegistryOption {
	return func(r *SessionRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(l *slog.Logger) SessionRegistryOption {
	return func(r *SessionRegistry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewSessionRegistry returns an empty registry. A non-positive timeout falls
// back to DefaultSessionTimeout.
func NewSessionRegistry(timeout time.Duration, opts ...SessionRegistryOption) *SessionRegistry {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	r := &SessionRegistry{
		sessions:       make(map[string]*Session),
		defaultTimeout: timeout,
		now:            time.Now,
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create issues a new active session for user. The timeout is the user's
// override if set, otherwise the registry default.
func (r *SessionRegistry) Create(user *User, ip, agent string) (Session, error) {
	id, err := newSessionID()
	if err != nil {
		r.logger.Error("session id generation failed", "error", err)
		return Session{}, err
	}

	timeout := user.SessionTimeout(r.defaultTimeout)

	r.mu.Lock()
	now := r.now()
	s := &Session{
		ID:           id,
		UserID:       user.ID,
		Username:     user.Username,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(timeout),
		Timeout:      timeout,
		IPAddress:    ip,
		UserAgent:    agent,
		Active:       true,
	}
	r.sessions[id] = s
	out := *s
	r.mu.Unlock()

	r.logger.Debug("session created", "session", util.MaskID(id), "user_id", user.ID, "timeout", timeout)
	return out, nil
}

// Validate looks a session up and refreshes its expiry. An unknown id
// returns false. An inactive or expired session is removed and returns
// false, so repeating the call also returns false.
func (r *SessionRegistry) Validate(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}

	now := r.now()
	if !s.Live(now) {
		delete(r.sessions, id)
		r.logger.Debug("session expired", "session", util.MaskID(id), "user_id", s.UserID)
		return Session{}, false
	}

	s.LastActivity = now
	s.ExpiresAt = now.Add(s.Timeout)
	return *s, true
}

// Get returns a session without refreshing it.
func (r *SessionRegistry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Logout deactivates and removes a session. It returns the removed session
// and whether it existed.
func (r *SessionRegistry) Logout(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	s.Active = false
	delete(r.sessions, id)
	return *s, true
}

// LogoutUser removes every session owned by userID and returns them.
func (r *SessionRegistry) LogoutUser(userID string) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Session
	for id, s := range r.sessions {
		if s.UserID == userID {
			s.Active = false
			delete(r.sessions, id)
			removed = append(removed, *s)
		}
	}
	return removed
}

// Sweep removes inactive and expired sessions and returns how many it
// removed. Safe to run concurrently with Validate.
func (r *SessionRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, s := range r.sessions {
		if !s.Live(now) {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("expired sessions removed", "count", removed, "remaining", len(r.sessions))
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled. The returned
// channel is closed when the sweeper goroutine exits.
func (r *SessionRegistry) StartSweeper(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
	return done
}

// List returns copies of every live session ordered by creation time.
func (r *SessionRegistry) List() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Live(now) {
			out = append(out, *s)
		}
	}
	slices.SortFunc(out, func(a, b Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// ActiveCount returns the number of live sessions.
func (r *SessionRegistry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	n := 0
	for _, s := range r.sessions {
		if s.Live(now) {
			n++
		}
	}
	return n
}

// Len returns the number of sessions held, live or not yet swept.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
