// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// User is an account record. Values returned by UserStore and AuthService
// are copies; mutate through AuthService so changes are audited and saved.
type User struct {
	ID       string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`

	PasswordHash string `json:"password_hash"`
	Salt         string `json:"salt"`

	Active              bool       `json:"is_active"`
	Locked              bool       `json:"is_locked"`
	MustChangePassword  bool       `json:"must_change_password"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
	LastPasswordChange  *time.Time `json:"last_password_change,omitempty"`
	AccountExpires      *time.Time `json:"account_expires,omitempty"`

	TwoFactorEnabled bool   `json:"two_factor_enabled"`
	TwoFactorSecret  string `json:"two_factor_secret,omitempty"`

	// SessionTimeoutMinutes overrides the configured session timeout when > 0.
	SessionTimeoutMinutes int `json:"session_timeout_minutes,omitempty"`

	AdditionalPermissions []Permission `json:"additional_permissions,omitempty"`
	DeniedPermissions     []Permission `json:"denied_permissions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	Notes     string    `json:"notes,omitempty"`

	DataProcessingConsent     bool       `json:"data_processing_consent"`
	DataProcessingConsentDate *time.Time `json:"data_processing_consent_date,omitempty"`
}

// NewUser returns an active user with a fresh id and no password.
func NewUser(username, email string, role Role, now time.Time) *User {
	return &User{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     email,
		Role:      role,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetPassword hashes password with a fresh salt, records the change time, and
// clears MustChangePassword. Policy validation is the caller's job.
func (u *User) SetPassword(h PasswordHasher, password string, now time.Time) error {
	digest, salt, err := h.Hash(password)
	if err != nil {
		var pv *PolicyViolation
		if errors.As(err, &pv) {
			return err
		}
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = digest
	u.Salt = salt
	u.LastPasswordChange = &now
	u.MustChangePassword = false
	u.UpdatedAt = now
	return nil
}

// VerifyPassword reports whether password matches. It is false when no hash
// is set.
func (u *User) VerifyPassword(h PasswordHasher, password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return h.Verify(password, u.PasswordHash)
}

// HasPermission resolves a permission: explicit denial wins, then explicit
// grant, then the role matrix.
func (u *User) HasPermission(perm Permission) bool {
	if slices.Contains(u.DeniedPermissions, perm) {
		return false
	}
	if slices.Contains(u.AdditionalPermissions, perm) {
		return true
	}
	return RoleHasPermission(u.Role, perm)
}

// EffectivePermissions lists every permission HasPermission grants.
func (u *User) EffectivePermissions() []Permission {
	var out []Permission
	for _, p := range AllPermissions {
		if u.HasPermission(p) {
			out = append(out, p)
		}
	}
	return out
}

// IsPasswordExpired is true when no change time is recorded or the last
// change is older than maxAgeDays.
func (u *User) IsPasswordExpired(maxAgeDays int, now time.Time) bool {
	if u.LastPasswordChange == nil {
		return true
	}
	return now.After(u.LastPasswordChange.AddDate(0, 0, maxAgeDays))
}

// IsAccountExpired reports whether AccountExpires is set and in the past.
func (u *User) IsAccountExpired(now time.Time) bool {
	return u.AccountExpires != nil && now.After(*u.AccountExpires)
}

// SessionTimeout returns the user's override or def.
func (u *User) SessionTimeout(def time.Duration) time.Duration {
	if u.SessionTimeoutMinutes > 0 {
		return time.Duration(u.SessionTimeoutMinutes) * time.Minute
	}
	return def
}

// Grant adds perm to the additional set. The denied set is left alone, so a
// denial still wins.
func (u *User) Grant(perm Permission) {
	if !slices.Contains(u.AdditionalPermissions, perm) {
		u.AdditionalPermissions = append(u.AdditionalPermissions, perm)
	}
}

// Deny adds perm to the denied set.
func (u *User) Deny(perm Permission) {
	if !slices.Contains(u.DeniedPermissions, perm) {
		u.DeniedPermissions = append(u.DeniedPermissions, perm)
	}
}

// ClearOverride removes perm from both override sets.
func (u *User) ClearOverride(perm Permission) {
	u.AdditionalPermissions = slices.DeleteFunc(u.AdditionalPermissions, func(p Permission) bool { return p == perm })
	u.DeniedPermissions = slices.DeleteFunc(u.DeniedPermissions, func(p Permission) bool { return p == perm })
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	c := *u
	c.LastLogin = cloneTime(u.LastLogin)
	c.LastPasswordChange = cloneTime(u.LastPasswordChange)
	c.AccountExpires = cloneTime(u.AccountExpires)
	c.DataProcessingConsentDate = cloneTime(u.DataProcessingConsentDate)
	c.AdditionalPermissions = slices.Clone(u.AdditionalPermissions)
	c.DeniedPermissions = slices.Clone(u.DeniedPermissions)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
