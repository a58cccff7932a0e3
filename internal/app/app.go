// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app assembles one instance of every security component from a
// configuration. The returned *App is the only owner of that state and is
// passed by reference to whatever drives it (the CLI, a desktop shell, tests).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/morganforge/kontor/internal/config"
	"github.com/morganforge/kontor/internal/logging"
	"github.com/morganforge/kontor/internal/security"
	"github.com/morganforge/kontor/internal/util"
)

// App holds the wired security core.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Encryption *security.EncryptionService
	Users      *security.UserStore
	Sessions   *security.SessionRegistry
	Audit      *security.AuditLog
	Auth       *security.AuthService

	// KeyCreated is true when this run generated the encryption key.
	KeyCreated bool

	sweepCancel context.CancelFunc
	sweepDone   <-chan struct{}
}

type options struct {
	logger *slog.Logger
	now    func() time.Time
	hasher security.PasswordHasher
}

// Option adjusts how New wires components.
type Option func(*options)

// WithLogger overrides the logger built from the config.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock injects a clock into every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithHasher overrides the configured password hasher.
func WithHasher(h security.PasswordHasher) Option {
	return func(o *options) { o.hasher = h }
}

// PasswordPolicy converts the [security] section into a policy.
func PasswordPolicy(s config.SecurityConfig) security.PasswordPolicy {
	return security.PasswordPolicy{
		MinLength:        s.PasswordMinLength,
		RequireUppercase: s.PasswordRequireUppercase,
		RequireLowercase: s.PasswordRequireLowercase,
		RequireNumbers:   s.PasswordRequireNumbers,
		RequireSpecial:   s.PasswordRequireSpecial,
	}
}

// New validates cfg, opens the key, user store, and audit database, and
// wires the AuthService. A user store that exists but cannot be read is an
// error; only a missing file means first run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		// stderr keeps --json output on stdout parseable.
		l, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, os.Stderr)
		if err != nil {
			return nil, err
		}
		o.logger = l
	}
	log := o.logger
	for _, w := range cfg.Warnings {
		log.Warn("config", "warning", w)
	}

	sec := cfg.Security
	if err := util.EnsurePrivateDir(cfg.Storage.DataDir); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: log}

	if sec.DataEncryptionEnabled {
		enc, created, err := security.OpenEncryptionService(security.NewKeyStore(cfg.Storage.KeyPath()))
		if err != nil {
			return nil, fmt.Errorf("open encryption key: %w", err)
		}
		a.Encryption, a.KeyCreated = enc, created
		if created {
			log.Info("encryption key generated", "path", cfg.Storage.KeyPath())
		}
	} else {
		a.Encryption = security.NewPassthroughService()
		log.Warn("user store encryption is disabled")
	}

	a.Users = security.NewUserStore(cfg.Storage.UsersPath(), a.Encryption,
		security.WithUserStoreLogger(log.With("component", "users")))
	if err := a.Users.Load(); err != nil {
		return nil, err
	}

	a.Sessions = security.NewSessionRegistry(sec.SessionTimeout(),
		security.WithSessionClock(o.now),
		security.WithSessionLogger(log.With("component", "sessions")))

	audit, err := security.OpenAuditLog(ctx, cfg.Storage.AuditPath(),
		security.WithAuditCacheSize(sec.AuditCacheSize),
		security.WithAuditClock(o.now),
		security.WithAuditLogger(log.With("component", "audit")))
	if err != nil {
		return nil, err
	}
	a.Audit = audit

	hasher := o.hasher
	if hasher == nil {
		if hasher, err = security.NewHasher(sec.HashAlgorithm, sec.BcryptCost); err != nil {
			audit.Close()
			return nil, err
		}
	}

	a.Auth = security.NewAuthService(a.Users, a.Sessions, a.Audit,
		security.WithPasswordPolicy(PasswordPolicy(sec)),
		security.WithHasher(hasher),
		security.WithMaxFailedAttempts(sec.MaxFailedLoginAttempts),
		security.WithPasswordMaxAge(sec.PasswordMaxAgeDays),
		security.WithLoginThrottle(security.NewLoginThrottle(sec.LoginRatePerMinute, sec.LoginBurst)),
		security.WithClock(o.now),
		security.WithLogger(log.With("component", "auth")))

	log.Debug("security core ready",
		"users", a.Users.Len(),
		"encrypted", a.Encryption.Enabled(),
		"hash", sec.HashAlgorithm,
		"session_timeout", sec.SessionTimeout())
	return a, nil
}

// StartSweeper runs the session sweep in the background until Close.
// It does nothing when the configured interval is zero or it already runs.
func (a *App) StartSweeper(ctx context.Context) {
	interval := a.Config.Security.SweepInterval()
	if interval <= 0 || a.sweepCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	a.sweepCancel = cancel
	a.sweepDone = a.Sessions.StartSweeper(ctx, interval)
}

// Close stops the sweeper and closes the audit log. Every mutation has
// already saved the user store.
func (a *App) Close() error {
	if a.sweepCancel != nil {
		a.sweepCancel()
		<-a.sweepDone
		a.sweepCancel = nil
	}
	if a.Audit != nil {
		return a.Audit.Close()
	}
	return nil
}
