// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/morganforge/kontor/internal/app"
)

// HandleStats prints the security statistics.
func HandleStats(ctx context.Context, env *Env, a *app.App, args Args) error {
	st, err := a.Auth.GetSecurityStatistics(ctx)
	if err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("stats", st).Print(env.Out)
	}

	count := func(n int, warnAbove int) string {
		s := strconv.Itoa(n)
		if n > warnAbove {
			return WarningStyle.Render(s)
		}
		return s
	}

	fmt.Fprintln(env.Out, TitleStyle.Render("Security statistics"))
	fmt.Fprintln(env.Out, SectionStyle.Render("Accounts"))
	fmt.Fprintln(env.Out, field("Total users", strconv.Itoa(st.TotalUsers)))
	fmt.Fprintln(env.Out, field("Active users", strconv.Itoa(st.ActiveUsers)))
	fmt.Fprintln(env.Out, field("Locked users", count(st.LockedUsers, 0)))
	fmt.Fprintln(env.Out, field("Two-factor enrolled", strconv.Itoa(st.TwoFactorEnabledUsers)))
	fmt.Fprintln(env.Out, field("Passwords expiring", count(st.PasswordExpiresSoon, 0)))
	fmt.Fprintln(env.Out, field("Active sessions", strconv.Itoa(st.ActiveSessions)))

	fmt.Fprintln(env.Out, SectionStyle.Render("Last 24 hours"))
	fmt.Fprintln(env.Out, field("Successful logins", strconv.Itoa(st.SuccessfulLogins24h)))
	fmt.Fprintln(env.Out, field("Failed logins", count(st.FailedLogins24h, 0)))
	fmt.Fprintln(env.Out, field("Security violations", count(st.SecurityViolations24h, 0)))
	fmt.Fprintln(env.Out, field("Audit events", strconv.Itoa(st.AuditEvents24h)))

	fmt.Fprintln(env.Out)
	fmt.Fprintln(env.Out, field("Encryption", StatusIndicator(st.EncryptionEnabled, "enabled", "disabled")))
	return nil
}
