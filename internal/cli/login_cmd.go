// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/morganforge/kontor/internal/app"
)

// HandleLogin checks a username and password through the full login path
// (throttle, lockout, audit) and closes the session again before exiting.
func HandleLogin(ctx context.Context, env *Env, a *app.App, args Args) (err error) {
	username := rawArg(args, 0)
	if username == "" {
		return ErrMissingArgument("username", "kontor login alice")
	}
	password, err := env.Password("Password: ")
	if err != nil {
		return err
	}

	ip := args.Options["ip"]
	if ip == "" {
		ip = "127.0.0.1"
	}
	sess, err := a.Auth.Authenticate(ctx, username, password, ip, "kontor-cli/"+Version)
	if sess == nil {
		return err
	}
	// A session with a save error means the login itself succeeded.
	if err != nil {
		fmt.Fprintf(env.Err, "%s %v\n", WarningStyle.Render("[WARN]"), err)
	}
	defer func() {
		if _, lerr := a.Auth.Logout(ctx, sess.ID); lerr != nil {
			err = errors.Join(err, fmt.Errorf("logout: %w", lerr))
		}
	}()

	u, _ := a.Auth.CurrentUser(sess.ID)
	data := LoginData{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Username:  sess.Username,
		ExpiresAt: sess.ExpiresAt,
	}
	if u != nil {
		data.Role = string(u.Role)
		data.MustChangePassword = u.MustChangePassword
		data.PasswordExpired = u.IsPasswordExpired(a.Config.Security.PasswordMaxAgeDays, time.Now())
	}

	if args.JSON {
		return NewJSONResponse("login", data).Print(env.Out)
	}
	fmt.Fprintf(env.Out, "%s authenticated as %s (%s)\n", SuccessStyle.Render("OK"), data.Username, data.Role)
	fmt.Fprintln(env.Out, field("Session", data.SessionID))
	fmt.Fprintln(env.Out, field("Idle timeout", formatDuration(sess.Timeout)))
	if data.MustChangePassword {
		fmt.Fprintln(env.Out, WarningStyle.Render("Password must be changed: kontor user passwd "+data.Username))
	} else if data.PasswordExpired {
		fmt.Fprintln(env.Out, WarningStyle.Render("Password has expired: kontor user passwd "+data.Username))
	}
	return nil
}
