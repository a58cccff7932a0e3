// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/morganforge/kontor/internal/config"
)

// HandleConfig dispatches "kontor config [show|path|init]". It never opens
// the security core, so it works before "kontor init".
func HandleConfig(env *Env, args Args) error {
	switch args.Subcommand {
	case "show":
		cfg, _, err := LoadConfig(args)
		if err != nil {
			return err
		}
		if args.JSON {
			return NewJSONResponse("config show", cfg).Print(env.Out)
		}
		fmt.Fprint(env.Out, cfg.String())
		return nil

	case "path":
		cfg, path, err := LoadConfig(args)
		if err != nil {
			return err
		}
		data := PathData{
			ConfigPath: path,
			DataDir:    cfg.Storage.DataDir,
			UsersFile:  cfg.Storage.UsersPath(),
			KeyFile:    cfg.Storage.KeyPath(),
			AuditDB:    cfg.Storage.AuditPath(),
		}
		if args.JSON {
			return NewJSONResponse("config path", data).Print(env.Out)
		}
		fmt.Fprintln(env.Out, field("Config file", data.ConfigPath))
		fmt.Fprintln(env.Out, field("Data directory", data.DataDir))
		fmt.Fprintln(env.Out, field("User store", data.UsersFile))
		fmt.Fprintln(env.Out, field("Encryption key", data.KeyFile))
		fmt.Fprintln(env.Out, field("Audit database", data.AuditDB))
		return nil

	case "init":
		return handleConfigInit(env, args)

	default:
		return ErrUnknownSubcommand("config", args.Subcommand)
	}
}

// handleConfigInit writes the default configuration. An existing file is
// kept unless --force is given.
func handleConfigInit(env *Env, args Args) error {
	path := args.ConfigPath
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return &ConfigError{Err: err}
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil && args.Options["force"] != "true" {
		return &ConfigError{Path: path, Err: errors.New("already exists (use --force to overwrite)")}
	}

	cfg := config.Default()
	if args.DataDir != "" {
		cfg.Storage.DataDir = args.DataDir
	}
	if err := config.SaveTOML(cfg, path); err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	if args.JSON {
		return NewJSONResponse("config init", map[string]string{"path": path}).Print(env.Out)
	}
	fmt.Fprintf(env.Out, "%s wrote %s\n", SuccessStyle.Render("OK"), path)
	return nil
}
