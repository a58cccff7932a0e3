// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// user_cmd.go - Account administration commands.

package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/morganforge/kontor/internal/app"
	"github.com/morganforge/kontor/internal/security"
)

// HandleUser dispatches "kontor user <subcommand>".
func HandleUser(ctx context.Context, env *Env, a *app.App, args Args) error {
	switch args.Subcommand {
	case "list", "ls":
		return handleUserList(env, a, args)
	case "show", "info":
		return handleUserShow(env, a, args)
	case "add", "create":
		return handleUserAdd(ctx, env, a, args)
	case "unlock":
		return handleUserUnlock(ctx, env, a, args)
	case "reset-password":
		return handleUserResetPassword(ctx, env, a, args)
	case "passwd", "change-password":
		return handleUserPasswd(ctx, env, a, args)
	case "activate", "deactivate":
		return handleUserSetActive(ctx, env, a, args, args.Subcommand == "activate")
	case "grant", "deny", "clear":
		return handleUserPermission(ctx, env, a, args)
	case "update":
		return handleUserUpdate(ctx, env, a, args)
	case "totp":
		return handleUserTOTP(ctx, env, a, args)
	default:
		return ErrUnknownSubcommand("user", args.Subcommand)
	}
}

func rawArg(args Args, i int) string {
	if i < len(args.Raw) {
		return args.Raw[i]
	}
	return ""
}

// printUser prints one account, or its JSON view.
func printUser(env *Env, a *app.App, args Args, command string, u *security.User) error {
	now := time.Now()
	data := toUserData(u, a.Config.Security.PasswordMaxAgeDays, now)
	if args.JSON {
		return NewJSONResponse(command, data).Print(env.Out)
	}

	fmt.Fprintln(env.Out, TitleStyle.Render("User "+u.Username))
	fmt.Fprintln(env.Out, field("ID", u.ID))
	fmt.Fprintln(env.Out, field("Email", u.Email))
	fmt.Fprintln(env.Out, field("Role", string(u.Role)))
	fmt.Fprintln(env.Out, field("State", UserState(u)))
	fmt.Fprintln(env.Out, field("Failed attempts", strconv.Itoa(u.FailedLoginAttempts)))
	fmt.Fprintln(env.Out, field("Last login", formatTimePtr(u.LastLogin)))
	fmt.Fprintln(env.Out, field("Password changed", formatTimePtr(u.LastPasswordChange)))
	if data.PasswordExpired {
		fmt.Fprintln(env.Out, field("Password", WarningStyle.Render("expired")))
	}
	if u.MustChangePassword {
		fmt.Fprintln(env.Out, field("Password", WarningStyle.Render("must change at next login")))
	}
	if u.AccountExpires != nil {
		fmt.Fprintln(env.Out, field("Account expires", formatTime(*u.AccountExpires)))
	}
	fmt.Fprintln(env.Out, field("Two-factor", StatusIndicator(u.TwoFactorEnabled, "enrolled", "off")))
	if u.SessionTimeoutMinutes > 0 {
		fmt.Fprintln(env.Out, field("Session timeout", fmt.Sprintf("%d min", u.SessionTimeoutMinutes)))
	}
	fmt.Fprintln(env.Out, field("Created", formatTime(u.CreatedAt)+" by "+orDash(u.CreatedBy)))
	if u.Notes != "" {
		fmt.Fprintln(env.Out, field("Notes", u.Notes))
	}

	fmt.Fprintln(env.Out, SectionStyle.Render("Permissions"))
	fmt.Fprintln(env.Out, "  "+strings.Join(data.Permissions, ", "))
	if len(data.AdditionalPermissions) > 0 {
		fmt.Fprintln(env.Out, field("  Granted", strings.Join(data.AdditionalPermissions, ", ")))
	}
	if len(data.DeniedPermissions) > 0 {
		fmt.Fprintln(env.Out, field("  Denied", strings.Join(data.DeniedPermissions, ", ")))
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func handleUserList(env *Env, a *app.App, args Args) error {
	users := a.Auth.ListUsers()
	if args.JSON {
		now := time.Now()
		out := make([]UserData, 0, len(users))
		for _, u := range users {
			out = append(out, toUserData(u, a.Config.Security.PasswordMaxAgeDays, now))
		}
		return NewJSONResponse("user list", out).Print(env.Out)
	}

	if len(users) == 0 {
		fmt.Fprintln(env.Out, DimStyle.Render("No users. Run 'kontor init' to create the default administrator."))
		return nil
	}
	fmt.Fprintln(env.Out, HeaderStyle.Render(
		padRight("USERNAME", 20)+padRight("ROLE", 10)+padRight("STATE", 10)+padRight("LAST LOGIN", 21)+"EMAIL"))
	for _, u := range users {
		fmt.Fprintln(env.Out,
			padRight(u.Username, 20)+padRight(string(u.Role), 10)+padRight(UserState(u), 10)+
				padRight(formatTimePtr(u.LastLogin), 21)+u.Email)
	}
	fmt.Fprintln(env.Out, DimStyle.Render(fmt.Sprintf("%d user(s)", len(users))))
	return nil
}

func handleUserShow(env *Env, a *app.App, args Args) error {
	u, err := lookupUser(a, rawArg(args, 0))
	if err != nil {
		return err
	}
	return printUser(env, a, args, "user show", u)
}

func handleUserAdd(ctx context.Context, env *Env, a *app.App, args Args) error {
	username, email := rawArg(args, 0), rawArg(args, 1)
	if username == "" || email == "" {
		return ErrMissingArgument("username and email", "kontor user add alice alice@example.com --role user")
	}

	role := security.RoleUser
	if r := args.Options["role"]; r != "" {
		parsed, err := security.ParseRole(strings.ToLower(r))
		if err != nil {
			return err
		}
		role = parsed
	}

	var password string
	generated := args.Options["generate"] == "true"
	if generated {
		p, err := security.GenerateTemporaryPassword()
		if err != nil {
			return err
		}
		password = p
	} else {
		p, err := env.NewPassword("Password for " + username + ": ")
		if err != nil {
			return err
		}
		password = p
	}

	u, err := a.Auth.CreateUser(ctx, actorID(a, args), username, email, password, role)
	if err != nil {
		return err
	}

	if args.JSON {
		data := map[string]any{"user": toUserData(u, a.Config.Security.PasswordMaxAgeDays, time.Now())}
		if generated {
			data["password"] = password
		}
		return NewJSONResponse("user add", data).Print(env.Out)
	}
	fmt.Fprintf(env.Out, "%s created user %s (%s, %s)\n", SuccessStyle.Render("OK"), u.Username, u.Role, u.ID)
	if generated {
		fmt.Fprintln(env.Out, SecretStyle.Render(password))
		fmt.Fprintln(env.Out, WarningStyle.Render("This password is shown once."))
	}
	return nil
}

func handleUserUnlock(ctx context.Context, env *Env, a *app.App, args Args) error {
	target, err := lookupUser(a, rawArg(args, 0))
	if err != nil {
		return err
	}
	u, err := a.Auth.UnlockUser(ctx, actorID(a, args), target.ID)
	if err != nil {
		return err
	}
	return done(env, a, args, "user unlock", u, "unlocked "+u.Username)
}

func handleUserResetPassword(ctx context.Context, env *Env, a *app.App, args Args) error {
	target, err := lookupUser(a, rawArg(args, 0))
	if err != nil {
		return err
	}
	temp, u, err := a.Auth.ResetPassword(ctx, actorID(a, args), target.ID, "")
	if err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("user reset-password", PasswordData{
			UserID: u.ID, Username: u.Username, TemporaryPassword: temp,
		}).Print(env.Out)
	}
	fmt.Fprintf(env.Out, "%s password reset for %s\n", SuccessStyle.Render("OK"), u.Username)
	fmt.Fprintln(env.Out, SecretStyle.Render(temp))
	fmt.Fprintln(env.Out, WarningStyle.Render("Temporary password; the user must change it at next login."))
	return nil
}

func handleUserPasswd(ctx context.Context, env *Env, a *app.App, args Args) error {
	target, err := lookupUser(a, rawArg(args, 0))
	if err != nil {
		return err
	}
	current, err := env.Password("Current password: ")
	if err != nil {
		return err
	}
	next, err := env.NewPassword("New password: ")
	if err != nil {
		return err
	}
	u, err := a.Auth.ChangePassword(ctx, target.ID, current, next)
	if err != nil {
		return err
	}
	return done(env, a, args, "user passwd", u, "password changed for "+u.Username)
}

func handleUserSetActive(ctx context.Context, env *Env, a *app.App, args Args, active bool) error {
	target, err := lookupUser(a, rawArg(args, 0))
	if err != nil {
		return err
	}
	u, err := a.Auth.SetActive(ctx, actorID(a, args), target.ID, active)
	if err != nil {
		return err
	}
	verb := "deactivated "
	if active {
		verb = "activated "
	}
	return done(env, a, args, "user "+args.Subcommand, u, verb+u.Username)
}

func handleUserPermission(ctx context.Context, env *Env, a *app.App, args Args) error {
	usage := "kontor user " + args.Subcommand + " alice invoices.send"
	target, err := lookupUser(a, rawArg(args, 0))
	if err != nil {
		return err
	}
	if rawArg(args, 1) == "" {
		return ErrMissingArgument("permission", usage)
	}
	perm, err := security.ParsePermission(strings.ToLower(rawArg(args, 1)))
	if err != nil {
		return err
	}

	actor := actorID(a, args)
	var u *security.User
	switch args.Subcommand {
	case "grant":
		u, err = a.Auth.GrantPermission(ctx, actor, target.ID, perm)
	case "deny":
		u, err = a.Auth.DenyPermission(ctx, actor, target.ID, perm)
	default:
		u, err = a.Auth.ClearPermissionOverride(ctx, actor, target.ID, perm)
	}
	if err != nil {
		return err
	}
	return done(env, a, args, "user "+args.Subcommand, u,
		fmt.Sprintf("%s %s for %s", args.Subcommand, perm, u.Username))
}

func handleUserUpdate(ctx context.Context, env *Env, a *app.App, args Args) error {
	target, err := lookupUser(a, rawArg(args, 0))
	if err != nil {
		return err
	}

	var upd security.ProfileUpdate
	if v, ok := args.Options["email"]; ok {
		upd.Email = &v
	}
	if v, ok := args.Options["notes"]; ok {
		upd.Notes = &v
	}
	if v, ok := args.Options["timeout"]; ok {
		n, err := ParseIntWithValidation(v, "timeout")
		if err != nil {
			return err
		}
		upd.SessionTimeoutMinutes = &n
	}
	if v, ok := args.Options["expires"]; ok {
		if v == "never" {
			upd.ClearAccountExpiry = true
		} else {
			t, err := time.ParseInLocation("2006-01-02", v, time.Local)
			if err != nil {
				return NewValidationErrorWithExample("expires", v, "expected a date or 'never'", "--expires 2026-12-31")
			}
			upd.AccountExpires = &t
		}
	}
	if v, ok := args.Options["consent"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return NewValidationError("consent", v, "expected true or false")
		}
		upd.Consent = &b
	}

	u, err := a.Auth.UpdateProfile(ctx, actorID(a, args), target.ID, upd)
	if err != nil {
		return err
	}
	return done(env, a, args, "user update", u, "updated "+u.Username)
}

func handleUserTOTP(ctx context.Context, env *Env, a *app.App, args Args) error {
	target, err := lookupUser(a, rawArg(args, 0))
	if err != nil {
		return err
	}
	enrollment, err := a.Auth.EnrollTOTP(ctx, actorID(a, args), target.ID)
	if err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("user totp", enrollment).Print(env.Out)
	}
	fmt.Fprintf(env.Out, "%s TOTP secret issued for %s\n", SuccessStyle.Render("OK"), target.Username)
	fmt.Fprintln(env.Out, field("Secret", enrollment.Secret))
	fmt.Fprintln(env.Out, field("URL", enrollment.URL))
	return nil
}

// done reports a successful mutation.
func done(env *Env, a *app.App, args Args, command string, u *security.User, msg string) error {
	if args.JSON {
		return NewJSONResponse(command, toUserData(u, a.Config.Security.PasswordMaxAgeDays, time.Now())).Print(env.Out)
	}
	if !args.Quiet {
		fmt.Fprintf(env.Out, "%s %s\n", SuccessStyle.Render("OK"), msg)
	}
	return nil
}
