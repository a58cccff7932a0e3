// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import "errors"

// =============================================================================
// AUTHENTICATION ERRORS
// =============================================================================

// ErrAuthFailed is the umbrella for every rejected login. Callers that only
// need to know "did it work" should test errors.Is(err, ErrAuthFailed).
var ErrAuthFailed = errors.New("authentication failed")

var (
	// ErrInvalidCredentials covers unknown usernames and wrong passwords alike.
	ErrInvalidCredentials = authError("invalid credentials")

	// ErrAccountLocked is returned once the failed-attempt threshold is reached.
	ErrAccountLocked = authError("account locked")

	// ErrAccountInactive covers deactivated and expired accounts.
	ErrAccountInactive = authError("account inactive")

	// ErrLoginThrottled is returned when a username exceeds the attempt rate.
	ErrLoginThrottled = authError("too many login attempts")
)

type authErr struct{ msg string }

func authError(msg string) error { return &authErr{msg: msg} }

func (e *authErr) Error() string        { return e.msg }
func (e *authErr) Is(target error) bool { return target == ErrAuthFailed }

// =============================================================================
// ACCOUNT MANAGEMENT ERRORS
// =============================================================================

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUsernameTaken     = errors.New("username already exists")
	ErrEmailTaken        = errors.New("email already exists")
	ErrMissingField      = errors.New("required field is empty")
	ErrInvalidRole       = errors.New("invalid role")
	ErrInvalidPermission = errors.New("invalid permission")
	ErrPasswordPolicy    = errors.New("password does not satisfy policy")
	ErrWrongPassword     = errors.New("current password is incorrect")
	ErrTOTPNotEnrolled   = errors.New("two-factor authentication is not enrolled")
)

// =============================================================================
// STORAGE ERRORS
// =============================================================================

var (
	// ErrPersist wraps failures to write the user store or the audit trail.
	// In-memory state is kept when it occurs.
	ErrPersist = errors.New("persistence failed")

	// ErrStoreUnreadable means the user store exists but could not be
	// decrypted. It is never treated as an empty store.
	ErrStoreUnreadable = errors.New("user store is unreadable")

	// ErrStoreCorrupt means the user store decrypted but its payload is invalid.
	ErrStoreCorrupt = errors.New("user store is corrupt")

	// ErrDecryptionFailed is returned for tampered, truncated, or foreign tokens.
	ErrDecryptionFailed = errors.New("decryption failed: data may be corrupted or tampered")

	// ErrInvalidKey is returned when the key file does not hold a 256-bit key.
	ErrInvalidKey = errors.New("invalid encryption key")

	ErrAuditClosed = errors.New("audit log is closed")
)
