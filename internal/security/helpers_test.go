// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// fakeClock is a manually advanced clock shared by every component in a test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fastHasher keeps bcrypt at its minimum cost so tests stay quick.
func fastHasher() PasswordHasher {
	return NewBcryptHasher(bcrypt.MinCost)
}

type testEnv struct {
	svc      *AuthService
	users    *UserStore
	sessions *SessionRegistry
	audit    *AuditLog
	clock    *fakeClock
	dir      string
}

// newTestEnv wires an AuthService over a temp dir, an encrypted user store,
// and an in-memory audit database.
func newTestEnv(t *testing.T, opts ...AuthServiceOption) *testEnv {
	t.Helper()

	dir := t.TempDir()
	clock := newFakeClock()

	enc, _, err := OpenEncryptionService(NewKeyStore(filepath.Join(dir, "keys", "encryption.key")))
	require.NoError(t, err)

	users := NewUserStore(filepath.Join(dir, "users.dat"), enc)
	sessions := NewSessionRegistry(30*time.Minute, WithSessionClock(clock.Now))
	audit, err := OpenAuditLog(context.Background(), ":memory:", WithAuditClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })

	base := []AuthServiceOption{WithHasher(fastHasher()), WithClock(clock.Now)}
	svc := NewAuthService(users, sessions, audit, append(base, opts...)...)

	return &testEnv{svc: svc, users: users, sessions: sessions, audit: audit, clock: clock, dir: dir}
}

// mustCreateUser creates a user through the service.
func (e *testEnv) mustCreateUser(t *testing.T, username, password string, role Role) *User {
	t.Helper()
	u, err := e.svc.CreateUser(context.Background(), "", username, username+"@example.com", password, role)
	require.NoError(t, err)
	return u
}

// eventsOfType returns stored events of typ, newest first.
func (e *testEnv) eventsOfType(t *testing.T, typ EventType) []AuditEvent {
	t.Helper()
	events, err := e.audit.Query(context.Background(), AuditQuery{Type: typ, Limit: 1000})
	require.NoError(t, err)
	return events
}

// gateHasher blocks Verify for one password until release is closed, so a
// test can change the account while a login is between its checks and its
// update.
type gateHasher struct {
	PasswordHasher
	password string
	entered  chan struct{}
	release  chan struct{}
}

func newGateHasher(password string) *gateHasher {
	return &gateHasher{
		PasswordHasher: fastHasher(),
		password:       password,
		entered:        make(chan struct{}, 1),
		release:        make(chan struct{}),
	}
}

func (g *gateHasher) Verify(password, digest string) bool {
	if password == g.password {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.PasswordHasher.Verify(password, digest)
}

// authResult is the outcome of an Authenticate call run in a goroutine.
type authResult struct {
	session *Session
	err     error
}

// authenticateAsync starts Authenticate and waits until it blocks in Verify.
func (e *testEnv) authenticateAsync(gate *gateHasher, username, password string) <-chan authResult {
	out := make(chan authResult, 1)
	go func() {
		s, err := e.svc.Authenticate(context.Background(), username, password, "", "")
		out <- authResult{session: s, err: err}
	}()
	<-gate.entered
	return out
}
