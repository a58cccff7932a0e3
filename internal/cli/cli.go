// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and top-level handlers for kontor.
package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdHelp Command = iota
	CmdInit
	CmdUser
	CmdLogin
	CmdAudit
	CmdStats
	CmdSession
	CmdConfig
	CmdVersion
	CmdUnknown
)

// String returns the command name as typed on the command line.
func (c Command) String() string {
	switch c {
	case CmdInit:
		return "init"
	case CmdUser:
		return "user"
	case CmdLogin:
		return "login"
	case CmdAudit:
		return "audit"
	case CmdStats:
		return "stats"
	case CmdSession:
		return "session"
	case CmdConfig:
		return "config"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	default:
		return "unknown"
	}
}

// NeedsCore reports whether the command opens the security core.
func (c Command) NeedsCore() bool {
	switch c {
	case CmdInit, CmdUser, CmdLogin, CmdAudit, CmdStats, CmdSession:
		return true
	}
	return false
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet      bool
	Verbose    bool
	JSON       bool   // Output in JSON format
	ConfigPath string // --config
	DataDir    string // --data-dir
	Actor      string // --as: username or id recorded as the acting administrator

	// Command-specific
	Name       string // the unknown command, for error reporting
	Subcommand string

	// Raw args (remaining after the command and subcommand)
	Raw []string

	// Options holds command-specific named options (e.g., --format, --out)
	Options map[string]string
}

const usageText = `kontor - identity, session and audit core
Version: %s

USAGE:
    kontor [global flags] <command> [subcommand] [flags]

COMMANDS:
    init                              Create the data directory, key, and default admin
    user add <name> <email> [--role R]
    user list
    user show <user>
    user unlock <user>
    user reset-password <user>        Issue a temporary password
    user passwd <user>                Change a password (prompts for current and new)
    user activate|deactivate <user>
    user grant|deny|clear <user> <permission>
    login <username>                  Verify credentials and open a session
    audit [list] [--user U] [--type T] [--since D] [--until D] [--limit N]
    audit export --format csv|json [--out FILE]
    stats                             Security statistics for the last 24 hours
    session sweep                     Remove expired sessions
    config show|path|init
    version
    help

GLOBAL FLAGS:
    --json               Machine-readable output
    --config <path>      Config file (default: ~/.kontor/config.toml)
    --data-dir <dir>     Override storage.data_dir
    --as <user>          Acting administrator recorded in the audit trail
    -q, --quiet          Less output
    -v, --verbose        Debug logging

ROLES:
    admin, manager, user, readonly, auditor

ENVIRONMENT:
    KONTOR_DATA_DIR, KONTOR_LOG_LEVEL, KONTOR_LOG_FORMAT, KONTOR_ENCRYPTION
`

// PrintUsage writes the usage text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// PrintVersion writes version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "kontor version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
}

// Parse parses os.Args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses an argument list and returns the command and args.
func ParseArgs(argv []string) (Command, Args) {
	remaining, parsedArgs := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdHelp, parsedArgs
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	parsedArgs.Raw = remaining

	switch cmd {
	case "init":
		return CmdInit, parsedArgs
	case "user", "users":
		parseSubcommandArgs(&parsedArgs, remaining, "list")
		return CmdUser, parsedArgs
	case "login":
		parsedArgs.Options, parsedArgs.Raw = splitOptions(remaining)
		return CmdLogin, parsedArgs
	case "audit":
		parseSubcommandArgs(&parsedArgs, remaining, "list")
		return CmdAudit, parsedArgs
	case "stats", "status":
		return CmdStats, parsedArgs
	case "session", "sessions":
		parseSubcommandArgs(&parsedArgs, remaining, "sweep")
		return CmdSession, parsedArgs
	case "config":
		parseSubcommandArgs(&parsedArgs, remaining, "show")
		return CmdConfig, parsedArgs
	case "version", "--version", "-V":
		return CmdVersion, parsedArgs
	case "help", "--help", "-h":
		return CmdHelp, parsedArgs
	default:
		parsedArgs.Name = cmd
		return CmdUnknown, parsedArgs
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	parsedArgs := Args{
		Options: make(map[string]string),
	}

	valueFlags := map[string]*string{
		"--config":   &parsedArgs.ConfigPath,
		"--data-dir": &parsedArgs.DataDir,
		"--as":       &parsedArgs.Actor,
	}

	i := 0
	for i < len(args) {
		arg := args[i]

		switch arg {
		case "-q", "--quiet":
			parsedArgs.Quiet = true
		case "-v", "--verbose":
			parsedArgs.Verbose = true
		case "--json":
			parsedArgs.JSON = true
		default:
			if dst, ok := valueFlags[arg]; ok {
				if i+1 < len(args) {
					i++
					*dst = args[i]
				}
				break
			}
			if name, value, ok := strings.Cut(arg, "="); ok {
				if dst, ok := valueFlags[name]; ok {
					*dst = value
					break
				}
			}
			remaining = append(remaining, arg)
		}
		i++
	}

	return remaining, parsedArgs
}

// parseSubcommandArgs takes the first positional as the subcommand and
// moves named flags into Options.
func parseSubcommandArgs(args *Args, remaining []string, def string) {
	opts, positional := splitOptions(remaining)
	args.Options = opts
	args.Subcommand = def
	if len(positional) > 0 {
		args.Subcommand = strings.ToLower(positional[0])
		positional = positional[1:]
	}
	args.Raw = positional
}

// splitOptions separates --name value pairs from positional arguments.
func splitOptions(raw []string) (map[string]string, []string) {
	p := NewArgParser(raw)
	opts := make(map[string]string, len(p.flags)+len(p.boolFlags))
	for k, v := range p.flags {
		opts[k] = v
	}
	for k, v := range p.boolFlags {
		if v {
			opts[k] = "true"
		}
	}
	return opts, p.positional
}

// HandleVersion handles the "version" command with JSON output support.
func HandleVersion(env *Env, args Args) error {
	if args.JSON {
		return NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}).Print(env.Out)
	}
	PrintVersion(env.Out)
	return nil
}

// HandleHelp handles the "help" command.
func HandleHelp(env *Env) error {
	PrintUsage(env.Out)
	return nil
}
