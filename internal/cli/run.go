// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/morganforge/kontor/internal/app"
)

// Run executes cmd. Core commands open the app, run, and close it again.
func Run(ctx context.Context, env *Env, cmd Command, args Args, opts ...app.Option) (err error) {
	switch cmd {
	case CmdHelp:
		return HandleHelp(env)
	case CmdVersion:
		return HandleVersion(env, args)
	case CmdConfig:
		return HandleConfig(env, args)
	case CmdUnknown:
		return NewValidationErrorWithExample("command", args.Name, "unknown", "kontor help")
	}

	if !cmd.NeedsCore() {
		return fmt.Errorf("command %s has no handler", cmd)
	}

	a, err := OpenCore(ctx, args, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	switch cmd {
	case CmdInit:
		return HandleInit(ctx, env, a, args)
	case CmdUser:
		return HandleUser(ctx, env, a, args)
	case CmdLogin:
		return HandleLogin(ctx, env, a, args)
	case CmdAudit:
		return HandleAudit(ctx, env, a, args)
	case CmdStats:
		return HandleStats(ctx, env, a, args)
	default:
		return HandleSession(ctx, env, a, args)
	}
}
