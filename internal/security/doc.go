// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security implements the identity, session, and audit core of kontor.
//
// # Components
//
//   - PasswordPolicy: stateless rule evaluation for candidate passwords
//   - PasswordHasher: adaptive hashing (bcrypt or argon2id)
//   - User / Role / Permission: account records and permission resolution
//   - EncryptionService: AES-256-GCM wrapping of the persisted user store
//   - UserStore: the in-memory account map, loaded and saved wholesale
//   - SessionRegistry: live sessions with create/validate/logout/sweep
//   - AuditLog: append-only SQLite trail plus a bounded in-memory ring
//   - AuthService: login, lockout bookkeeping, and administrative operations
//
// Every component is constructed explicitly and passed by reference. There is
// no package-level mutable state.
//
// # Usage
//
//	audit, err := security.OpenAuditLog(ctx, cfg.Storage.AuditPath())
//	if err != nil {
//	    return err
//	}
//	defer audit.Close()
//
//	svc := security.NewAuthService(store, sessions, audit, security.WithMaxFailedAttempts(5))
//	session, err := svc.Authenticate(ctx, "alice", "Secret123!", "127.0.0.1", "desktop")
//	if errors.Is(err, security.ErrAuthFailed) {
//	    // uniform failure; the precise cause is in the audit trail
//	}
package security
