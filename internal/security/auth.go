// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/morganforge/kontor/internal/util"
)

// DefaultMaxFailedAttempts locks an account on the fifth consecutive failure.
const DefaultMaxFailedAttempts = 5

// DefaultPasswordMaxAgeDays is the password rotation period.
const DefaultPasswordMaxAgeDays = 90

// DefaultAdminUsername is the account created on an empty store.
const DefaultAdminUsername = "admin"

// =============================================================================
// AUTH SERVICE
// =============================================================================

// AuthService orchestrates login, lockout bookkeeping, session issuance, and
// account administration. Every state change is written to the user store
// and the audit trail.
//
// Errors that wrap ErrPersist mean the in-memory change happened but could
// not be saved; the returned values are still valid.
type AuthService struct {
	users    *UserStore
	sessions *SessionRegistry
	audit    *AuditLog

	hasher         PasswordHasher
	policy         PasswordPolicy
	maxFailed      int
	passwordMaxAge int
	throttle       *LoginThrottle
	now            func() time.Time
	logger         *slog.Logger
}

// AuthServiceOption configures an AuthService.
type AuthServiceOption func(*AuthService)

// WithPasswordPolicy sets the policy applied to new and changed passwords.
func WithPasswordPolicy(p PasswordPolicy) AuthServiceOption {
	return func(s *AuthService) { s.policy = p }
}

// WithHasher sets the password hasher.
func WithHasher(h PasswordHasher) AuthServiceOption {
	return func(s *AuthService) {
		if h != nil {
			s.hasher = h
		}
	}
}

// WithMaxFailedAttempts sets the lockout threshold.
func WithMaxFailedAttempts(n int) AuthServiceOption {
	return func(s *AuthService) {
		if n > 0 {
			s.maxFailed = n
		}
	}
}

// WithPasswordMaxAge sets the password age, in days, used by statistics.
func WithPasswordMaxAge(days int) AuthServiceOption {
	return func(s *AuthService) {
		if days > 0 {
			s.passwordMaxAge = days
		}
	}
}

// WithLoginThrottle installs a per-username rate limit. nil disables it.
func WithLoginThrottle(t *LoginThrottle) AuthServiceOption {
	return func(s *AuthService) { s.throttle = t }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) AuthServiceOption {
	return func(s *AuthService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) AuthServiceOption {
	return func(s *AuthService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewAuthService wires the service to its collaborators.
func NewAuthService(users *UserStore, sessions *SessionRegistry, audit *AuditLog, opts ...AuthServiceOption) *AuthService {
	s := &AuthService{
		users:          users,
		sessions:       sessions,
		audit:          audit,
		hasher:         NewBcryptHasher(0),
		policy:         DefaultPasswordPolicy(),
		maxFailed:      DefaultMaxFailedAttempts,
		passwordMaxAge: DefaultPasswordMaxAgeDays,
		now:            time.Now,
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the active password policy.
func (s *AuthService) Policy() PasswordPolicy { return s.policy }

// record appends ev and returns a non-nil error only if the write failed.
func (s *AuthService) record(ctx context.Context, ev AuditEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	if _, err := s.audit.Append(ctx, ev); err != nil {
		s.logger.Error("audit append failed", "event_type", ev.Type, "error", err)
		return err
	}
	return nil
}

// save persists the user store, logging on failure.
func (s *AuthService) save() error {
	if err := s.users.Save(); err != nil {
		s.logger.Error("user store save failed", "path", s.users.Path(), "error", err)
		return err
	}
	return nil
}

// =============================================================================
// LOGIN / LOGOUT
// =============================================================================

// Authenticate verifies credentials and issues a session.
//
// Every rejection wraps ErrAuthFailed and tells the caller only the broad
// class (invalid credentials, locked, inactive, throttled). The precise
// reason is written to the audit trail.
func (s *AuthService) Authenticate(ctx context.Context, username, password, ip, agent string) (*Session, error) {
	now := s.now()
	origin := map[string]any{"username": username}

	if !s.throttle.Allow(username, now) {
		err := s.record(ctx, AuditEvent{
			Type:        EventSecurityViolation,
			Description: "login attempts throttled",
			Details:     map[string]any{"username": username, "reason": "throttled"},
			IPAddress:   ip,
			UserAgent:   agent,
			Severity:    SeverityMedium,
		})
		return nil, errors.Join(ErrLoginThrottled, err)
	}

	user, ok := s.users.GetByUsername(username)
	if !ok {
		return nil, s.loginFailed(ctx, "", "user_not_found", origin, ip, agent, ErrInvalidCredentials)
	}
	if r := checkLoginState(user, now); r != nil {
		return nil, s.loginFailed(ctx, user.ID, r.reason, origin, ip, agent, r.outcome)
	}

	if !user.VerifyPassword(s.hasher, password) {
		return nil, s.badPassword(ctx, user.ID, origin, ip, agent)
	}

	// The account may have changed while the password was being verified.
	updated, err := s.users.Update(user.ID, func(u *User) error {
		if r := checkLoginState(u, now); r != nil {
			return r
		}
		u.FailedLoginAttempts = 0
		u.LastLogin = &now
		return nil
	})
	if r := (*loginRejection)(nil); errors.As(err, &r) {
		return nil, s.loginFailed(ctx, user.ID, r.reason, origin, ip, agent, r.outcome)
	}
	if err != nil {
		// The user vanished between lookup and update.
		return nil, s.loginFailed(ctx, user.ID, "user_not_found", origin, ip, agent, ErrInvalidCredentials)
	}
	saveErr := s.save()

	session, err := s.sessions.Create(updated, ip, agent)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create session: %w", err), saveErr)
	}

	// SetActive and lockout end sessions after changing the user, so a
	// session created after that point is caught here.
	if r := s.ownerRejection(updated.ID, now); r != nil {
		s.sessions.Logout(session.ID)
		return nil, errors.Join(s.loginFailed(ctx, updated.ID, r.reason, origin, ip, agent, r.outcome), saveErr)
	}

	auditErr := s.record(ctx, AuditEvent{
		Type:        EventLogin,
		UserID:      updated.ID,
		Description: "user logged in",
		Details:     map[string]any{"username": updated.Username},
		IPAddress:   ip,
		UserAgent:   agent,
		SessionID:   session.ID,
		Severity:    SeverityLow,
	})

	s.logger.Info("login succeeded", "user_id", updated.ID, "session", util.MaskID(session.ID))
	return &session, errors.Join(saveErr, auditErr)
}

// loginRejection is the reason an account may not log in right now.
type loginRejection struct {
	reason  string
	outcome error
}

func (r *loginRejection) Error() string { return "login rejected: " + r.reason }

// checkLoginState returns nil if u may log in at now.
func checkLoginState(u *User, now time.Time) *loginRejection {
	switch {
	case !u.Active:
		return &loginRejection{"account_inactive", ErrAccountInactive}
	case u.IsAccountExpired(now):
		return &loginRejection{"account_expired", ErrAccountInactive}
	case u.Locked:
		return &loginRejection{"account_locked", ErrAccountLocked}
	}
	return nil
}

// ownerRejection re-reads the stored user and checks it may still log in.
func (s *AuthService) ownerRejection(userID string, now time.Time) *loginRejection {
	u, ok := s.users.Get(userID)
	if !ok {
		return &loginRejection{"user_not_found", ErrInvalidCredentials}
	}
	return checkLoginState(u, now)
}

func (s *AuthService) loginFailed(ctx context.Context, userID, reason string, details map[string]any, ip, agent string, outcome error) error {
	d := cloneDetails(details)
	d["reason"] = reason
	err := s.record(ctx, AuditEvent{
		Type:        EventLoginFailed,
		UserID:      userID,
		Description: "login failed: " + strings.ReplaceAll(reason, "_", " "),
		Details:     d,
		IPAddress:   ip,
		UserAgent:   agent,
		Severity:    SeverityMedium,
	})
	s.logger.Info("login rejected", "user_id", userID, "reason", reason)
	return errors.Join(outcome, err)
}

// badPassword increments the failed counter and locks the account once the
// threshold is reached. The attempt that crosses the threshold reports
// ErrAccountLocked and ends the user's sessions. An account that became
// ineligible while the password was checked is rejected for that reason and
// its counter is left alone.
func (s *AuthService) badPassword(ctx context.Context, userID string, origin map[string]any, ip, agent string) error {
	now := s.now()
	var lockedNow bool
	updated, err := s.users.Update(userID, func(u *User) error {
		if r := checkLoginState(u, now); r != nil {
			return r
		}
		u.FailedLoginAttempts++
		if u.FailedLoginAttempts >= s.maxFailed {
			u.Locked = true
			lockedNow = true
		}
		return nil
	})
	if r := (*loginRejection)(nil); errors.As(err, &r) {
		return s.loginFailed(ctx, userID, r.reason, origin, ip, agent, r.outcome)
	}
	if err != nil {
		return errors.Join(ErrInvalidCredentials, err)
	}
	saveErr := s.save()

	if lockedNow {
		if ended := s.sessions.LogoutUser(userID); len(ended) > 0 {
			s.logger.Info("sessions ended for locked user", "user_id", userID, "count", len(ended))
		}
		auditErr := s.record(ctx, AuditEvent{
			Type:        EventSecurityViolation,
			UserID:      userID,
			Description: "account locked after too many failed login attempts",
			Details: map[string]any{
				"username": updated.Username,
				"reason":   "max_failed_attempts",
				"attempts": updated.FailedLoginAttempts,
			},
			IPAddress: ip,
			UserAgent: agent,
			Severity:  SeverityHigh,
		})
		s.logger.Warn("account locked", "user_id", userID, "attempts", updated.FailedLoginAttempts)
		return errors.Join(ErrAccountLocked, saveErr, auditErr)
	}

	auditErr := s.record(ctx, AuditEvent{
		Type:        EventLoginFailed,
		UserID:      userID,
		Description: "login failed: bad password",
		Details: map[string]any{
			"username": updated.Username,
			"reason":   "bad_password",
			"attempt":  updated.FailedLoginAttempts,
		},
		IPAddress: ip,
		UserAgent: agent,
		Severity:  SeverityMedium,
	})
	return errors.Join(ErrInvalidCredentials, saveErr, auditErr)
}

// Logout ends a session. It reports whether the session existed; unknown ids
// are not an error.
func (s *AuthService) Logout(ctx context.Context, sessionID string) (bool, error) {
	session, ok := s.sessions.Logout(sessionID)
	if !ok {
		return false, nil
	}
	err := s.record(ctx, AuditEvent{
		Type:        EventLogout,
		UserID:      session.UserID,
		Description: "user logged out",
		Details:     map[string]any{"username": session.Username},
		IPAddress:   session.IPAddress,
		UserAgent:   session.UserAgent,
		SessionID:   session.ID,
		Severity:    SeverityLow,
	})
	return true, err
}

// ValidateSession refreshes and returns a live session. It does not audit.
func (s *AuthService) ValidateSession(sessionID string) (Session, bool) {
	return s.sessions.Validate(sessionID)
}

// CurrentUser validates sessionID and returns its owner.
func (s *AuthService) CurrentUser(sessionID string) (*User, bool) {
	session, ok := s.sessions.Validate(sessionID)
	if !ok {
		return nil, false
	}
	return s.users.Get(session.UserID)
}
