// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// =============================================================================
// ACCOUNT ADMINISTRATION
// =============================================================================

// mutate applies fn to a user, saves the store, and records the event built
// by describe. Save and audit failures wrap ErrPersist and come back joined
// with the updated user.
func (s *AuthService) mutate(ctx context.Context, userID string, fn func(u *User) error, describe func(u *User) AuditEvent) (*User, error) {
	updated, err := s.users.Update(userID, func(u *User) error {
		if err := fn(u); err != nil {
			return err
		}
		u.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	saveErr := s.save()
	auditErr := s.record(ctx, describe(updated))
	return updated, errors.Join(saveErr, auditErr)
}

// CreateUser adds a new active account. Username, email, and password are
// required; the password must satisfy the policy.
func (s *AuthService) CreateUser(ctx context.Context, actorID, username, email, password string, role Role) (*User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return nil, fmt.Errorf("%w: username, email, and password are required", ErrMissingField)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if err := s.policy.Validate(password); err != nil {
		return nil, err
	}
	if _, taken := s.users.GetByUsername(username); taken {
		return nil, fmt.Errorf("%w: %s", ErrUsernameTaken, username)
	}
	if _, taken := s.users.GetByEmail(email); taken {
		return nil, fmt.Errorf("%w: %s", ErrEmailTaken, email)
	}

	now := s.now()
	u := NewUser(username, email, role, now)
	u.CreatedBy = actorID
	if err := u.SetPassword(s.hasher, password, now); err != nil {
		return nil, err
	}
	if err := s.users.Insert(u); err != nil {
		return nil, err
	}

	saveErr := s.save()
	auditErr := s.record(ctx, AuditEvent{
		Type:        EventUserCreated,
		UserID:      actorID,
		Description: "user created: " + username,
		Details:     map[string]any{"new_user_id": u.ID, "username": username, "role": string(role)},
		Severity:    SeverityMedium,
	})
	s.logger.Info("user created", "user_id", u.ID, "role", role)
	return u.Clone(), errors.Join(saveErr, auditErr)
}

// EnsureDefaultAdmin creates the "admin" account when the store is empty.
// The random temporary password is returned once and must be changed.
func (s *AuthService) EnsureDefaultAdmin(ctx context.Context) (password string, created bool, err error) {
	if s.users.Len() > 0 {
		return "", false, nil
	}

	password, err = GenerateTemporaryPassword()
	if err != nil {
		return "", false, err
	}

	now := s.now()
	u := NewUser(DefaultAdminUsername, "admin@localhost", RoleAdmin, now)
	u.CreatedBy = "system"
	u.Notes = "default administrator"
	if err := u.SetPassword(s.hasher, password, now); err != nil {
		return "", false, err
	}
	u.MustChangePassword = true
	if err := s.users.Insert(u); err != nil {
		return "", false, err
	}

	saveErr := s.save()
	auditErr := s.record(ctx, AuditEvent{
		Type:        EventUserCreated,
		Description: "default administrator created",
		Details:     map[string]any{"new_user_id": u.ID, "username": u.Username, "role": string(RoleAdmin)},
		Severity:    SeverityHigh,
	})
	s.logger.Warn("default administrator created", "user_id", u.ID)
	return password, true, errors.Join(saveErr, auditErr)
}

// UnlockUser clears the lock and the failed-attempt counter. It is the only
// way out of the locked state.
func (s *AuthService) UnlockUser(ctx context.Context, actorID, userID string) (*User, error) {
	return s.mutate(ctx, userID,
		func(u *User) error {
			u.Locked = false
			u.FailedLoginAttempts = 0
			return nil
		},
		func(u *User) AuditEvent {
			return AuditEvent{
				Type:        EventUserModified,
				UserID:      actorID,
				Description: "user unlocked: " + u.Username,
				Details:     map[string]any{"target_user_id": u.ID, "action": "unlock"},
				Severity:    SeverityMedium,
			}
		})
}

// ResetPassword sets a temporary password without policy checks and forces a
// change. An empty temporary password generates one. The password in effect
// is returned.
func (s *AuthService) ResetPassword(ctx context.Context, actorID, userID, temporary string) (string, *User, error) {
	if temporary == "" {
		var err error
		if temporary, err = GenerateTemporaryPassword(); err != nil {
			return "", nil, err
		}
	}

	// Hash outside the store lock.
	probe := &User{}
	if err := probe.SetPassword(s.hasher, temporary, s.now()); err != nil {
		return "", nil, err
	}

	u, err := s.mutate(ctx, userID,
		func(u *User) error {
			u.PasswordHash = probe.PasswordHash
			u.Salt = probe.Salt
			u.LastPasswordChange = probe.LastPasswordChange
			u.MustChangePassword = true
			return nil
		},
		func(u *User) AuditEvent {
			return AuditEvent{
				Type:        EventPasswordChanged,
				UserID:      actorID,
				Description: "password reset by administrator: " + u.Username,
				Details:     map[string]any{"target_user_id": u.ID, "reset_by_admin": true},
				Severity:    SeverityMedium,
			}
		})
	if u == nil {
		return "", nil, err
	}
	return temporary, u, err
}

// ChangePassword replaces the password after verifying the current one. The
// new password must satisfy the policy. MustChangePassword is cleared.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string) (*User, error) {
	u, ok := s.users.Get(userID)
	if !ok {
		return nil, ErrUserNotFound
	}
	if !u.VerifyPassword(s.hasher, current) {
		err := s.record(ctx, AuditEvent{
			Type:        EventSecurityViolation,
			UserID:      userID,
			Description: "password change rejected: wrong current password",
			Details:     map[string]any{"reason": "wrong_current_password"},
			Severity:    SeverityMedium,
		})
		return nil, errors.Join(ErrWrongPassword, err)
	}
	if err := s.policy.Validate(next); err != nil {
		return nil, err
	}

	probe := &User{}
	if err := probe.SetPassword(s.hasher, next, s.now()); err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID,
		func(u *User) error {
			u.PasswordHash = probe.PasswordHash
			u.Salt = probe.Salt
			u.LastPasswordChange = probe.LastPasswordChange
			u.MustChangePassword = false
			return nil
		},
		func(u *User) AuditEvent {
			return AuditEvent{
				Type:        EventPasswordChanged,
				UserID:      u.ID,
				Description: "password changed",
				Details:     map[string]any{"reset_by_admin": false},
				Severity:    SeverityLow,
			}
		})
}

// SetActive activates or deactivates an account. Deactivation ends all of the
// user's sessions. Accounts are never hard-deleted.
func (s *AuthService) SetActive(ctx context.Context, actorID, userID string, active bool) (*User, error) {
	action := "activate"
	if !active {
		action = "deactivate"
	}
	u, err := s.mutate(ctx, userID,
		func(u *User) error {
			u.Active = active
			return nil
		},
		func(u *User) AuditEvent {
			return AuditEvent{
				Type:        EventUserModified,
				UserID:      actorID,
				Description: "user " + action + "d: " + u.Username,
				Details:     map[string]any{"target_user_id": u.ID, "action": action},
				Severity:    SeverityMedium,
			}
		})
	if u != nil && !active {
		if ended := s.sessions.LogoutUser(userID); len(ended) > 0 {
			s.logger.Info("sessions ended for deactivated user", "user_id", userID, "count", len(ended))
		}
	}
	return u, err
}

// GrantPermission adds perm to the user's additional set. An existing denial
// still takes precedence.
func (s *AuthService) GrantPermission(ctx context.Context, actorID, userID string, perm Permission) (*User, error) {
	return s.changePermission(ctx, actorID, userID, perm, "grant", (*User).Grant)
}

// DenyPermission adds perm to the user's denied set.
func (s *AuthService) DenyPermission(ctx context.Context, actorID, userID string, perm Permission) (*User, error) {
	return s.changePermission(ctx, actorID, userID, perm, "deny", (*User).Deny)
}

// ClearPermissionOverride removes perm from both override sets.
func (s *AuthService) ClearPermissionOverride(ctx context.Context, actorID, userID string, perm Permission) (*User, error) {
	return s.changePermission(ctx, actorID, userID, perm, "clear", (*User).ClearOverride)
}

func (s *AuthService) changePermission(ctx context.Context, actorID, userID string, perm Permission, action string, apply func(*User, Permission)) (*User, error) {
	if _, err := ParsePermission(string(perm)); err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID,
		func(u *User) error {
			apply(u, perm)
			return nil
		},
		func(u *User) AuditEvent {
			return AuditEvent{
				Type:        EventPermissionChanged,
				UserID:      actorID,
				Description: fmt.Sprintf("permission %s %s: %s", perm, action, u.Username),
				Details:     map[string]any{"target_user_id": u.ID, "permission": string(perm), "action": action},
				Severity:    SeverityMedium,
			}
		})
}

// ProfileUpdate lists optional profile changes. Nil fields are left alone.
type ProfileUpdate struct {
	Email                 *string
	Notes                 *string
	SessionTimeoutMinutes *int
	AccountExpires        *time.Time
	ClearAccountExpiry    bool
	Consent               *bool
}

// UpdateProfile applies the non-nil fields of upd.
func (s *AuthService) UpdateProfile(ctx context.Context, actorID, userID string, upd ProfileUpdate) (*User, error) {
	var changed []string
	return s.mutate(ctx, userID,
		func(u *User) error {
			if upd.Email != nil {
				email := strings.TrimSpace(*upd.Email)
				if email == "" {
					return fmt.Errorf("%w: email", ErrMissingField)
				}
				u.Email = email
				changed = append(changed, "email")
			}
			if upd.Notes != nil {
				u.Notes = *upd.Notes
				changed = append(changed, "notes")
			}
			if upd.SessionTimeoutMinutes != nil {
				if *upd.SessionTimeoutMinutes < 0 {
					return fmt.Errorf("session timeout must not be negative")
				}
				u.SessionTimeoutMinutes = *upd.SessionTimeoutMinutes
				changed = append(changed, "session_timeout_minutes")
			}
			if upd.ClearAccountExpiry {
				u.AccountExpires = nil
				changed = append(changed, "account_expires")
			} else if upd.AccountExpires != nil {
				t := *upd.AccountExpires
				u.AccountExpires = &t
				changed = append(changed, "account_expires")
			}
			if upd.Consent != nil {
				u.DataProcessingConsent = *upd.Consent
				if *upd.Consent {
					now := s.now()
					u.DataProcessingConsentDate = &now
				} else {
					u.DataProcessingConsentDate = nil
				}
				changed = append(changed, "data_processing_consent")
			}
			return nil
		},
		func(u *User) AuditEvent {
			return AuditEvent{
				Type:        EventUserModified,
				UserID:      actorID,
				Description: "user profile updated: " + u.Username,
				Details:     map[string]any{"target_user_id": u.ID, "action": "update_profile", "fields": strings.Join(changed, ",")},
				Severity:    SeverityLow,
			}
		})
}

// =============================================================================
// LOOKUPS
// =============================================================================

// GetUser returns a copy of the user with id.
func (s *AuthService) GetUser(id string) (*User, bool) {
	return s.users.Get(id)
}

// FindUser accepts either a user id or a username.
func (s *AuthService) FindUser(ref string) (*User, bool) {
	if u, ok := s.users.Get(ref); ok {
		return u, true
	}
	return s.users.GetByUsername(ref)
}

// ListUsers returns every user ordered by username.
func (s *AuthService) ListUsers() []*User {
	return s.users.List()
}

// HasPermission resolves perm for userID. Unknown and inactive users have
// no permissions.
func (s *AuthService) HasPermission(userID string, perm Permission) bool {
	u, ok := s.users.Get(userID)
	if !ok || !u.Active {
		return false
	}
	return u.HasPermission(perm)
}

// =============================================================================
// TWO-FACTOR ENROLLMENT
// =============================================================================

// EnrollTOTP stores a fresh TOTP secret on the user and returns it with its
// provisioning URL. Login does not consult it.
func (s *AuthService) EnrollTOTP(ctx context.Context, actorID, userID string) (TOTPEnrollment, error) {
	u, ok := s.users.Get(userID)
	if !ok {
		return TOTPEnrollment{}, ErrUserNotFound
	}
	key, err := generateTOTP(u.Username)
	if err != nil {
		return TOTPEnrollment{}, err
	}

	_, err = s.mutate(ctx, userID,
		func(u *User) error {
			u.TwoFactorSecret = key.Secret()
			u.TwoFactorEnabled = true
			return nil
		},
		func(u *User) AuditEvent {
			return AuditEvent{
				Type:        EventUserModified,
				UserID:      actorID,
				Description: "two-factor authentication enrolled: " + u.Username,
				Details:     map[string]any{"target_user_id": u.ID, "action": "enroll_totp"},
				Severity:    SeverityMedium,
			}
		})
	return TOTPEnrollment{Secret: key.Secret(), URL: key.URL()}, err
}

// VerifyTOTP checks a code against the user's enrolled secret.
func (s *AuthService) VerifyTOTP(userID, code string) (bool, error) {
	u, ok := s.users.Get(userID)
	if !ok {
		return false, ErrUserNotFound
	}
	if !u.TwoFactorEnabled || u.TwoFactorSecret == "" {
		return false, ErrTOTPNotEnrolled
	}
	return validateTOTP(code, u.TwoFactorSecret, s.now()), nil
}

// =============================================================================
// HELPERS
// =============================================================================

const (
	tempUpper   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	tempLower   = "abcdefghijkmnpqrstuvwxyz"
	tempDigits  = "23456789"
	tempSpecial = "!@#$%&*?"
)

// GenerateTemporaryPassword returns a 16-character password that satisfies
// the default policy.
func GenerateTemporaryPassword() (string, error) {
	classes := []string{tempUpper, tempLower, tempDigits, tempSpecial}
	all := strings.Join(classes, "")

	out := make([]byte, 0, 16)
	for _, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < 16 {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates so the class characters are not always first.
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("shuffle: %w", err)
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("generate password: %w", err)
	}
	return set[n.Int64()], nil
}
