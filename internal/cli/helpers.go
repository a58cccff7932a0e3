// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// helpers.go - Config loading, core wiring, and formatting shared by commands.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/morganforge/kontor/internal/app"
	"github.com/morganforge/kontor/internal/config"
	"github.com/morganforge/kontor/internal/security"
)

// CLIActor is recorded as the actor when --as is not given.
const CLIActor = "cli"

// =============================================================================
// CONFIG AND CORE
// =============================================================================

// LoadConfig resolves the config file from --config or the default location.
// A missing file yields defaults. --data-dir and -v are applied on top.
func LoadConfig(args Args) (*config.Config, string, error) {
	path := args.ConfigPath
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return nil, "", &ConfigError{Err: err}
		}
		path = p
	}

	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		loaded, err := config.LoadFromPath(path)
		if err != nil {
			return nil, path, &ConfigError{Path: path, Err: err}
		}
		cfg = loaded
	} else if errors.Is(err, os.ErrNotExist) {
		cfg.ApplyEnvOverrides()
	} else {
		return nil, path, &ConfigError{Path: path, Err: err}
	}

	if args.DataDir != "" {
		cfg.Storage.DataDir = args.DataDir
	}
	if args.Verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, &ConfigError{Path: path, Err: err}
	}
	return cfg, path, nil
}

// OpenCore loads the config and wires the security core.
func OpenCore(ctx context.Context, args Args, opts ...app.Option) (*app.App, error) {
	cfg, _, err := LoadConfig(args)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, opts...)
}

// =============================================================================
// LOOKUPS
// =============================================================================

// lookupUser resolves an id or username.
func lookupUser(a *app.App, ref string) (*security.User, error) {
	if ref == "" {
		return nil, ErrMissingArgument("user", "kontor user show alice")
	}
	u, ok := a.Auth.FindUser(ref)
	if !ok {
		return nil, &NotFoundError{Resource: "user", ID: ref}
	}
	return u, nil
}

// actorID resolves --as to a user id. Unknown names are recorded verbatim.
func actorID(a *app.App, args Args) string {
	if args.Actor == "" {
		return CLIActor
	}
	if u, ok := a.Auth.FindUser(args.Actor); ok {
		return u.ID
	}
	return args.Actor
}

// =============================================================================
// FORMATTING
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return formatTime(*t)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func permissionStrings(perms []security.Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

// toUserData builds the public view of u.
func toUserData(u *security.User, maxAgeDays int, now time.Time) UserData {
	return UserData{
		ID:                    u.ID,
		Username:              u.Username,
		Email:                 u.Email,
		Role:                  string(u.Role),
		Active:                u.Active,
		Locked:                u.Locked,
		MustChangePassword:    u.MustChangePassword,
		PasswordExpired:       u.IsPasswordExpired(maxAgeDays, now),
		FailedLoginAttempts:   u.FailedLoginAttempts,
		LastLogin:             u.LastLogin,
		LastPasswordChange:    u.LastPasswordChange,
		AccountExpires:        u.AccountExpires,
		TwoFactorEnabled:      u.TwoFactorEnabled,
		Permissions:           permissionStrings(u.EffectivePermissions()),
		AdditionalPermissions: permissionStrings(u.AdditionalPermissions),
		DeniedPermissions:     permissionStrings(u.DeniedPermissions),
		CreatedAt:             u.CreatedAt,
		CreatedBy:             u.CreatedBy,
	}
}

// padRight pads s to width display cells, ignoring ANSI styling.
func padRight(s string, width int) string {
	n := lipgloss.Width(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}
