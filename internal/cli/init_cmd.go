// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	"github.com/morganforge/kontor/internal/app"
	"github.com/morganforge/kontor/internal/security"
)

// HandleInit prepares a fresh installation. Opening the core has already
// created the data directory and key; this adds the default administrator
// when the store is empty and prints its temporary password once.
func HandleInit(ctx context.Context, env *Env, a *app.App, args Args) error {
	password, created, err := a.Auth.EnsureDefaultAdmin(ctx)
	if err != nil {
		return err
	}

	data := InitData{
		DataDir:      a.Config.Storage.DataDir,
		KeyCreated:   a.KeyCreated,
		AdminCreated: created,
	}
	if created {
		data.AdminUsername = security.DefaultAdminUsername
		data.TemporaryPassword = password
	}

	if args.JSON {
		return NewJSONResponse("init", data).Print(env.Out)
	}

	fmt.Fprintln(env.Out, TitleStyle.Render("kontor init"))
	fmt.Fprintln(env.Out, field("Data directory", data.DataDir))
	fmt.Fprintln(env.Out, field("Encryption", StatusIndicator(a.Encryption.Enabled(), "enabled", "disabled")))
	if data.KeyCreated {
		fmt.Fprintln(env.Out, field("Encryption key", "generated at "+a.Config.Storage.KeyPath()))
	}
	if !created {
		fmt.Fprintln(env.Out, DimStyle.Render("Users already exist; no default administrator created."))
		return nil
	}

	fmt.Fprintln(env.Out)
	fmt.Fprintln(env.Out, SuccessStyle.Render("Default administrator created"))
	fmt.Fprintln(env.Out, field("Username", data.AdminUsername))
	fmt.Fprintln(env.Out, SecretStyle.Render(password))
	fmt.Fprintln(env.Out, WarningStyle.Render("This password is shown once and must be changed at first login."))
	return nil
}
