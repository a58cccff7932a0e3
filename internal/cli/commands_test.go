// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morganforge/kontor/internal/app"
	"github.com/morganforge/kontor/internal/config"
	"github.com/morganforge/kontor/internal/logging"
	"github.com/morganforge/kontor/internal/security"
)

// cliHarness runs commands against one config file in a temp directory.
type cliHarness struct {
	t          *testing.T
	configPath string
	dataDir    string
}

func newHarness(t *testing.T) *cliHarness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Security.BcryptCost = 4
	cfg.Security.MaxFailedLoginAttempts = 3
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, config.SaveTOML(cfg, path))
	return &cliHarness{t: t, configPath: path, dataDir: cfg.Storage.DataDir}
}

// run executes argv with stdin lines as input and returns stdout.
func (h *cliHarness) run(input string, argv ...string) (string, error) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	env := &Env{
		Out: &out,
		Err: &errOut,
		In:  bufio.NewReader(strings.NewReader(input)),
	}
	cmd, args := ParseArgs(append([]string{"--config", h.configPath}, argv...))
	err := Run(context.Background(), env, cmd, args, app.WithLogger(logging.Discard()))
	return out.String(), err
}

func (h *cliHarness) mustRun(input string, argv ...string) string {
	h.t.Helper()
	out, err := h.run(input, argv...)
	require.NoError(h.t, err, out)
	return out
}

// jsonData decodes a JSONResponse envelope into data.
func jsonData(t *testing.T, out string, data any) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.True(t, resp.Success, out)
	require.NoError(t, json.Unmarshal(resp.Data, data))
}

func (h *cliHarness) initAdmin() string {
	h.t.Helper()
	var data InitData
	jsonData(h.t, h.mustRun("", "init", "--json"), &data)
	require.True(h.t, data.AdminCreated)
	return data.TemporaryPassword
}

// =============================================================================
// INIT
// =============================================================================

func TestRun_InitCreatesAdminOnce(t *testing.T) {
	h := newHarness(t)

	var first InitData
	jsonData(t, h.mustRun("", "init", "--json"), &first)
	assert.True(t, first.KeyCreated)
	assert.True(t, first.AdminCreated)
	assert.Equal(t, security.DefaultAdminUsername, first.AdminUsername)
	assert.Len(t, first.TemporaryPassword, 16)

	var second InitData
	jsonData(t, h.mustRun("", "init", "--json"), &second)
	assert.False(t, second.KeyCreated)
	assert.False(t, second.AdminCreated)
	assert.Empty(t, second.TemporaryPassword)

	_, err := os.Stat(filepath.Join(h.dataDir, "users.dat"))
	require.NoError(t, err)
}

func TestRun_InitText(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("", "init")
	assert.Contains(t, out, "Default administrator created")
	assert.Contains(t, out, "shown once")
}

// =============================================================================
// USERS AND LOGIN
// =============================================================================

func TestRun_UserLifecycle(t *testing.T) {
	h := newHarness(t)
	adminPassword := h.initAdmin()

	h.mustRun("Secret123!\nSecret123!\n", "--as", "admin", "user", "add", "bob", "bob@example.com", "--role", "manager")

	var users []UserData
	jsonData(t, h.mustRun("", "user", "list", "--json"), &users)
	require.Len(t, users, 2)
	assert.Equal(t, "admin", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)
	assert.Equal(t, "manager", users[1].Role)

	var login LoginData
	jsonData(t, h.mustRun("Secret123!\n", "login", "bob", "--json"), &login)
	assert.True(t, strings.HasPrefix(login.SessionID, security.SessionIDPrefix))
	assert.Equal(t, "manager", login.Role)

	var adminLogin LoginData
	jsonData(t, h.mustRun(adminPassword+"\n", "login", "admin", "--json"), &adminLogin)
	assert.True(t, adminLogin.MustChangePassword)

	_, err := h.run("nope\n", "login", "bob")
	require.ErrorIs(t, err, security.ErrInvalidCredentials)
	assert.Equal(t, ExitAuthError, GetExitCode(err))

	h.mustRun("", "user", "grant", "bob", "finance.edit")
	h.mustRun("", "user", "deny", "bob", "customers.delete")
	var shown UserData
	jsonData(t, h.mustRun("", "user", "show", "bob", "--json"), &shown)
	assert.Contains(t, shown.Permissions, string(security.PermFinanceEdit))
	assert.NotContains(t, shown.Permissions, string(security.PermCustomersDelete))
	assert.Equal(t, 1, shown.FailedLoginAttempts)

	h.mustRun("", "user", "clear", "bob", "customers.delete")
	jsonData(t, h.mustRun("", "user", "show", "bob", "--json"), &shown)
	assert.Contains(t, shown.Permissions, string(security.PermCustomersDelete))

	h.mustRun("", "user", "deactivate", "bob")
	_, err = h.run("Secret123!\n", "login", "bob")
	require.ErrorIs(t, err, security.ErrAccountInactive)

	h.mustRun("", "user", "activate", "bob")
	h.mustRun("Secret123!\n", "login", "bob")
}

func TestRun_LockoutAndUnlock(t *testing.T) {
	h := newHarness(t)
	h.initAdmin()
	h.mustRun("Secret123!\nSecret123!\n", "user", "add", "carol", "carol@example.com")

	for i := 0; i < 2; i++ {
		_, err := h.run("wrong\n", "login", "carol")
		require.ErrorIs(t, err, security.ErrInvalidCredentials)
	}
	_, err := h.run("wrong\n", "login", "carol")
	require.ErrorIs(t, err, security.ErrAccountLocked)

	_, err = h.run("Secret123!\n", "login", "carol")
	require.ErrorIs(t, err, security.ErrAccountLocked)

	h.mustRun("", "--as", "admin", "user", "unlock", "carol")
	h.mustRun("Secret123!\n", "login", "carol")
}

func TestRun_UserAddRejectsWeakAndMismatchedPasswords(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("Secret123!\nSecret124!\n", "user", "add", "dave", "dave@example.com")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = h.run("weak\nweak\n", "user", "add", "dave", "dave@example.com")
	require.ErrorIs(t, err, security.ErrPasswordPolicy)
	assert.Equal(t, ExitUsageError, GetExitCode(err))

	_, err = h.run("Secret123!\nSecret123!\n", "user", "add", "dave", "dave@example.com", "--role", "owner")
	require.ErrorIs(t, err, security.ErrInvalidRole)

	_, err = h.run("", "user", "add", "dave")
	require.ErrorAs(t, err, &ve)
}

func TestRun_ResetAndChangePassword(t *testing.T) {
	h := newHarness(t)
	h.initAdmin()
	h.mustRun("Secret123!\nSecret123!\n", "user", "add", "erin", "erin@example.com")

	var reset PasswordData
	jsonData(t, h.mustRun("", "user", "reset-password", "erin", "--json"), &reset)
	require.NotEmpty(t, reset.TemporaryPassword)

	_, err := h.run("Secret123!\n", "login", "erin")
	require.ErrorIs(t, err, security.ErrInvalidCredentials)

	h.mustRun(reset.TemporaryPassword+"\nBetter456?\nBetter456?\n", "user", "passwd", "erin")

	var login LoginData
	jsonData(t, h.mustRun("Better456?\n", "login", "erin", "--json"), &login)
	assert.False(t, login.MustChangePassword)

	_, err = h.run("wrong\nOther789!\nOther789!\n", "user", "passwd", "erin")
	require.ErrorIs(t, err, security.ErrWrongPassword)
}

func TestRun_UserUpdateAndTOTP(t *testing.T) {
	h := newHarness(t)
	h.initAdmin()
	h.mustRun("Secret123!\nSecret123!\n", "user", "add", "frank", "frank@example.com")

	h.mustRun("", "user", "update", "frank", "--email", "f@example.com", "--timeout", "15", "--expires", "2099-01-01")
	var shown UserData
	jsonData(t, h.mustRun("", "user", "show", "frank", "--json"), &shown)
	assert.Equal(t, "f@example.com", shown.Email)
	require.NotNil(t, shown.AccountExpires)

	var enrollment security.TOTPEnrollment
	jsonData(t, h.mustRun("", "user", "totp", "frank", "--json"), &enrollment)
	assert.NotEmpty(t, enrollment.Secret)
	assert.Contains(t, enrollment.URL, "otpauth://totp/")

	_, err := h.run("", "user", "show", "ghost")
	assert.Equal(t, ExitNotFoundError, GetExitCode(err))
}

func TestHandleLogin_ReportsLogoutAuditFailure(t *testing.T) {
	h := newHarness(t)
	h.initAdmin()
	h.mustRun("Secret123!\nSecret123!\n", "user", "add", "hank", "hank@example.com")

	ctx := context.Background()
	_, args := ParseArgs([]string{"--config", h.configPath, "login", "hank"})
	a, err := OpenCore(ctx, args, app.WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Audit.Close())

	var out, errOut bytes.Buffer
	env := &Env{Out: &out, Err: &errOut, In: bufio.NewReader(strings.NewReader("Secret123!\n"))}
	err = HandleLogin(ctx, env, a, args)
	require.ErrorIs(t, err, security.ErrAuditClosed)
	assert.Contains(t, err.Error(), "logout")
	assert.Contains(t, errOut.String(), "[WARN]")
	assert.Zero(t, a.Sessions.Len())
}

// =============================================================================
// AUDIT, STATS, SESSIONS
// =============================================================================

func TestRun_AuditListAndExport(t *testing.T) {
	h := newHarness(t)
	h.initAdmin()
	h.mustRun("Secret123!\nSecret123!\n", "user", "add", "gina", "gina@example.com")
	_, err := h.run("wrong\n", "login", "gina")
	require.Error(t, err)

	var failed []security.AuditEvent
	jsonData(t, h.mustRun("", "audit", "--type", "LOGIN_FAILED", "--json"), &failed)
	require.Len(t, failed, 1)
	assert.Equal(t, security.EventLoginFailed, failed[0].Type)

	var mine []security.AuditEvent
	jsonData(t, h.mustRun("", "audit", "list", "--user", "gina", "--limit", "10", "--json"), &mine)
	require.NotEmpty(t, mine)
	for _, ev := range mine {
		assert.Equal(t, failed[0].UserID, ev.UserID)
	}

	out := filepath.Join(t.TempDir(), "audit.csv")
	h.mustRun("", "audit", "export", "--format", "csv", "--out", out)
	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Greater(t, len(rows), 1)
	assert.Equal(t, "timestamp", rows[0][0])

	stdout := h.mustRun("", "audit", "export", "--format", "json")
	var events []security.AuditEvent
	require.NoError(t, json.Unmarshal([]byte(stdout), &events))
	assert.Equal(t, len(rows)-1, len(events))

	_, err = h.run("", "audit", "export", "--format", "xml")
	assert.Equal(t, ExitUsageError, GetExitCode(err))
	_, err = h.run("", "audit", "--type", "NOT_AN_EVENT")
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestRun_Stats(t *testing.T) {
	h := newHarness(t)
	h.initAdmin()
	h.mustRun("Secret123!\nSecret123!\n", "user", "add", "hank", "hank@example.com")
	h.mustRun("Secret123!\n", "login", "hank")
	_, _ = h.run("wrong\n", "login", "hank")

	var st security.SecurityStatistics
	jsonData(t, h.mustRun("", "stats", "--json"), &st)
	assert.Equal(t, 2, st.TotalUsers)
	assert.Equal(t, 2, st.ActiveUsers)
	assert.Equal(t, 1, st.SuccessfulLogins24h)
	assert.Equal(t, 1, st.FailedLogins24h)
	assert.True(t, st.EncryptionEnabled)
	assert.Zero(t, st.ActiveSessions)

	assert.Contains(t, h.mustRun("", "stats"), "Security statistics")
}

func TestRun_SessionSweep(t *testing.T) {
	h := newHarness(t)
	var data SweepData
	jsonData(t, h.mustRun("", "session", "sweep", "--json"), &data)
	assert.Zero(t, data.Removed)
	assert.Zero(t, data.Active)

	assert.Contains(t, h.mustRun("", "session", "list"), "No active sessions")
}

// =============================================================================
// CONFIG, VERSION, HELP
// =============================================================================

func TestRun_ConfigInitShowPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kontor.toml")
	run := func(argv ...string) (string, error) {
		var out bytes.Buffer
		env := &Env{Out: &out, Err: &out, In: bufio.NewReader(strings.NewReader(""))}
		cmd, args := ParseArgs(append([]string{"--config", path, "--data-dir", filepath.Join(dir, "d")}, argv...))
		err := Run(context.Background(), env, cmd, args)
		return out.String(), err
	}

	_, err := run("config", "init")
	require.NoError(t, err)
	_, err = run("config", "init")
	assert.Equal(t, ExitConfigError, GetExitCode(err))
	_, err = run("config", "init", "--force")
	require.NoError(t, err)

	out, err := run("config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[security]")
	assert.Contains(t, out, "password_min_length = 8")

	out, err = run("config", "path", "--json")
	require.NoError(t, err)
	var paths PathData
	jsonData(t, out, &paths)
	assert.Equal(t, path, paths.ConfigPath)
	assert.Equal(t, filepath.Join(dir, "d", "audit.db"), paths.AuditDB)
}

func TestRun_InvalidConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[security]\nbcrypt_cost = 99\n"), 0o600))

	var out bytes.Buffer
	env := &Env{Out: &out, Err: &out, In: bufio.NewReader(strings.NewReader(""))}
	cmd, args := ParseArgs([]string{"--config", path, "stats"})
	err := Run(context.Background(), env, cmd, args)
	assert.Equal(t, ExitConfigError, GetExitCode(err))
}

func TestRun_VersionHelpUnknown(t *testing.T) {
	var out bytes.Buffer
	env := &Env{Out: &out, Err: &out}

	require.NoError(t, Run(context.Background(), env, CmdVersion, Args{JSON: true}))
	var v VersionData
	jsonData(t, out.String(), &v)
	assert.Equal(t, Version, v.Version)

	out.Reset()
	require.NoError(t, Run(context.Background(), env, CmdHelp, Args{}))
	assert.Contains(t, out.String(), "USAGE:")

	err := Run(context.Background(), env, CmdUnknown, Args{Name: "bogus"})
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}
