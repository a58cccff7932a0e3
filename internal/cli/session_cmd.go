// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/morganforge/kontor/internal/app"
	"github.com/morganforge/kontor/internal/security"
	"github.com/morganforge/kontor/internal/util"
)

// HandleSession dispatches "kontor session [sweep|list]". Sessions live in
// process memory, so from the CLI these mostly report an empty registry;
// the same calls back the desktop shell.
func HandleSession(_ context.Context, env *Env, a *app.App, args Args) error {
	switch args.Subcommand {
	case "sweep":
		removed := a.Sessions.Sweep()
		data := SweepData{Removed: removed, Active: a.Sessions.ActiveCount()}
		if args.JSON {
			return NewJSONResponse("session sweep", data).Print(env.Out)
		}
		fmt.Fprintf(env.Out, "%s removed %d expired session(s), %d active\n",
			SuccessStyle.Render("OK"), data.Removed, data.Active)
		return nil

	case "list", "ls":
		sessions := a.Sessions.List()
		if args.JSON {
			if sessions == nil {
				sessions = []security.Session{}
			}
			return NewJSONResponse("session list", sessions).Print(env.Out)
		}
		if len(sessions) == 0 {
			fmt.Fprintln(env.Out, DimStyle.Render("No active sessions."))
			return nil
		}
		now := time.Now()
		fmt.Fprintln(env.Out, HeaderStyle.Render(padRight("SESSION", 14)+padRight("USER", 20)+padRight("REMAINING", 12)+"IP"))
		for _, s := range sessions {
			fmt.Fprintln(env.Out, padRight(util.MaskID(s.ID), 14)+padRight(s.Username, 20)+
				padRight(formatDuration(s.TimeRemaining(now)), 12)+s.IPAddress)
		}
		return nil

	default:
		return ErrUnknownSubcommand("session", args.Subcommand)
	}
}
