// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the kontor administration command line.
//
// Parse turns os.Args into a Command and Args. Commands that need the
// security core receive an *app.App opened by OpenCore; "config",
// "version" and "help" run without it. Every handler writes through an
// *Env so output and prompts can be captured in tests, and --json switches
// output to the JSONResponse envelope.
package cli
