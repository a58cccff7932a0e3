// kontor - identity, session and audit core administration.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/morganforge/kontor/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	env := cli.NewEnv()

	err := cli.Run(ctx, env, cmd, args)
	stop()
	if err != nil {
		// JSON errors go to stdout so scripts read one document.
		out := env.Err
		if args.JSON {
			out = env.Out
		}
		cli.DisplayError(out, cmd.String(), err, args.JSON)
		os.Exit(cli.GetExitCode(err))
	}
}
