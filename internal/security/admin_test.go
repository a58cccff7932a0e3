// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func TestCreateUser_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustCreateUser(t, "alice", "Secret123!", RoleUser)

	tests := []struct {
		name                      string
		username, email, password string
		role                      Role
		want                      error
	}{
		{"missing username", "", "x@example.com", "Secret123!", RoleUser, ErrMissingField},
		{"missing email", "x", " ", "Secret123!", RoleUser, ErrMissingField},
		{"missing password", "x", "x@example.com", "", RoleUser, ErrMissingField},
		{"bad role", "x", "x@example.com", "Secret123!", "root", ErrInvalidRole},
		{"weak password", "x", "x@example.com", "secret", RoleUser, ErrPasswordPolicy},
		{"password over 72 bytes", "x", "x@example.com", "Secret123!" + strings.Repeat("x", 63), RoleUser, ErrPasswordPolicy},
		{"duplicate username", "ALICE", "x@example.com", "Secret123!", RoleUser, ErrUsernameTaken},
		{"duplicate email", "x", "Alice@Example.com", "Secret123!", RoleUser, ErrEmailTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CreateUser(ctx, "", tt.username, tt.email, tt.password, tt.role)
			require.ErrorIs(t, err, tt.want)
		})
	}
	require.Equal(t, 1, env.users.Len())
}

func TestCreateUser_Audited(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.svc.CreateUser(context.Background(), "actor-1", "alice", "alice@example.com", "Secret123!", RoleManager)
	require.NoError(t, err)
	require.True(t, u.Active)
	require.Equal(t, "actor-1", u.CreatedBy)
	require.NotEmpty(t, u.PasswordHash)

	created := env.eventsOfType(t, EventUserCreated)
	require.Len(t, created, 1)
	require.Equal(t, "actor-1", created[0].UserID)
	require.Equal(t, u.ID, created[0].Details["new_user_id"])
	require.Equal(t, "manager", created[0].Details["role"])
}

func TestEnsureDefaultAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pw, created, err := env.svc.EnsureDefaultAdmin(ctx)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, DefaultPasswordPolicy().Validate(pw))

	admin, ok := env.users.GetByUsername(DefaultAdminUsername)
	require.True(t, ok)
	require.Equal(t, RoleAdmin, admin.Role)
	require.True(t, admin.MustChangePassword)

	_, err = env.svc.Authenticate(ctx, "admin", pw, "", "")
	require.NoError(t, err)

	_, created, err = env.svc.EnsureDefaultAdmin(ctx)
	require.NoError(t, err)
	require.False(t, created)
}

func TestResetAndChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.mustCreateUser(t, "alice", "Secret123!", RoleUser)

	// Reset skips the policy.
	temp, u, err := env.svc.ResetPassword(ctx, "admin-id", alice.ID, "temp")
	require.NoError(t, err)
	require.Equal(t, "temp", temp)
	require.True(t, u.MustChangePassword)

	reset := env.eventsOfType(t, EventPasswordChanged)
	require.Len(t, reset, 1)
	require.Equal(t, true, reset[0].Details["reset_by_admin"])

	_, err = env.svc.Authenticate(ctx, "alice", "temp", "", "")
	require.NoError(t, err, "must-change is recorded, not enforced")

	_, err = env.svc.ChangePassword(ctx, alice.ID, "wrong", "NewSecret1!")
	require.ErrorIs(t, err, ErrWrongPassword)
	_, err = env.svc.ChangePassword(ctx, alice.ID, "temp", "weak")
	require.ErrorIs(t, err, ErrPasswordPolicy)

	env.clock.Advance(time.Hour)
	u, err = env.svc.ChangePassword(ctx, alice.ID, "temp", "NewSecret1!")
	require.NoError(t, err)
	require.False(t, u.MustChangePassword)
	require.Equal(t, env.clock.Now(), *u.LastPasswordChange)

	_, err = env.svc.Authenticate(ctx, "alice", "NewSecret1!", "", "")
	require.NoError(t, err)

	generated, _, err := env.svc.ResetPassword(ctx, "admin-id", alice.ID, "")
	require.NoError(t, err)
	require.Len(t, generated, 16)

	_, _, err = env.svc.ResetPassword(ctx, "admin-id", "missing", "x")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestPermissionOverrides(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.mustCreateUser(t, "alice", "Secret123!", RoleUser)

	require.False(t, env.svc.HasPermission(alice.ID, PermArticlesDelete))

	_, err := env.svc.GrantPermission(ctx, "admin-id", alice.ID, PermArticlesDelete)
	require.NoError(t, err)
	require.True(t, env.svc.HasPermission(alice.ID, PermArticlesDelete))

	_, err = env.svc.DenyPermission(ctx, "admin-id", alice.ID, PermArticlesDelete)
	require.NoError(t, err)
	require.False(t, env.svc.HasPermission(alice.ID, PermArticlesDelete))

	_, err = env.svc.ClearPermissionOverride(ctx, "admin-id", alice.ID, PermArticlesDelete)
	require.NoError(t, err)
	u, _ := env.users.Get(alice.ID)
	require.Empty(t, u.AdditionalPermissions)
	require.Empty(t, u.DeniedPermissions)

	_, err = env.svc.GrantPermission(ctx, "admin-id", alice.ID, "articles.burn")
	require.ErrorIs(t, err, ErrInvalidPermission)

	require.Len(t, env.eventsOfType(t, EventPermissionChanged), 3)

	_, err = env.svc.SetActive(ctx, "", alice.ID, false)
	require.NoError(t, err)
	require.False(t, env.svc.HasPermission(alice.ID, PermCustomersRead), "inactive users have nothing")
	require.False(t, env.svc.HasPermission("missing", PermCustomersRead))
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.mustCreateUser(t, "alice", "Secret123!", RoleUser)
	env.mustCreateUser(t, "bob", "Secret123!", RoleUser)

	email := "bob@example.com"
	_, err := env.svc.UpdateProfile(ctx, "", alice.ID, ProfileUpdate{Email: &email})
	require.ErrorIs(t, err, ErrEmailTaken)

	newEmail := "alice@corp.example"
	notes := "finance team"
	timeout := 5
	consent := true
	u, err := env.svc.UpdateProfile(ctx, "", alice.ID, ProfileUpdate{
		Email: &newEmail, Notes: &notes, SessionTimeoutMinutes: &timeout, Consent: &consent,
	})
	require.NoError(t, err)
	require.Equal(t, newEmail, u.Email)
	require.Equal(t, notes, u.Notes)
	require.True(t, u.DataProcessingConsent)
	require.Equal(t, env.clock.Now(), *u.DataProcessingConsentDate)

	session, err := env.svc.Authenticate(ctx, "alice", "Secret123!", "", "")
	require.NoError(t, err)
	require.Equal(t, env.clock.Now().Add(5*time.Minute), session.ExpiresAt)

	expires := env.clock.Now().Add(48 * time.Hour)
	u, err = env.svc.UpdateProfile(ctx, "", alice.ID, ProfileUpdate{AccountExpires: &expires})
	require.NoError(t, err)
	require.NotNil(t, u.AccountExpires)
	u, err = env.svc.UpdateProfile(ctx, "", alice.ID, ProfileUpdate{ClearAccountExpiry: true})
	require.NoError(t, err)
	require.Nil(t, u.AccountExpires)

	modified := env.eventsOfType(t, EventUserModified)
	require.Equal(t, "account_expires", modified[0].Details["fields"])
}

func TestFindUser(t *testing.T) {
	env := newTestEnv(t)
	alice := env.mustCreateUser(t, "alice", "Secret123!", RoleUser)

	byID, ok := env.svc.FindUser(alice.ID)
	require.True(t, ok)
	byName, ok := env.svc.FindUser("ALICE")
	require.True(t, ok)
	require.Equal(t, byID.ID, byName.ID)

	_, ok = env.svc.FindUser("nobody")
	require.False(t, ok)
}

func TestTOTPEnrollment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.mustCreateUser(t, "alice", "Secret123!", RoleUser)

	_, err := env.svc.VerifyTOTP(alice.ID, "000000")
	require.ErrorIs(t, err, ErrTOTPNotEnrolled)

	enr, err := env.svc.EnrollTOTP(ctx, alice.ID, alice.ID)
	require.NoError(t, err)
	require.Contains(t, enr.URL, "otpauth://totp/")

	code, err := totp.GenerateCode(enr.Secret, env.clock.Now())
	require.NoError(t, err)
	ok, err := env.svc.VerifyTOTP(alice.ID, code)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = env.svc.VerifyTOTP(alice.ID, "not-a-code")
	require.NoError(t, err)
	require.False(t, ok)

	// Enrollment does not change how login works.
	_, err = env.svc.Authenticate(ctx, "alice", "Secret123!", "", "")
	require.NoError(t, err)
}

func TestGenerateTemporaryPassword(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		pw, err := GenerateTemporaryPassword()
		require.NoError(t, err)
		require.Len(t, pw, 16)
		require.NoError(t, DefaultPasswordPolicy().Validate(pw))
		require.False(t, seen[pw])
		seen[pw] = true
	}
}
