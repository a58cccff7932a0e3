// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - TTY detection, color profile, and password prompts.

package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// =============================================================================
// TTY DETECTION
// =============================================================================

// IsTTY returns true if stdin is a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsStdoutTTY returns true if stdout is a terminal.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

var (
	colorsEnabled     bool
	colorsEnabledOnce sync.Once
)

// ColorsEnabled returns true if colored output should be used.
// NO_COLOR wins over FORCE_COLOR, which wins over TTY detection.
func ColorsEnabled() bool {
	colorsEnabledOnce.Do(func() {
		if os.Getenv("NO_COLOR") != "" {
			colorsEnabled = false
			return
		}
		if os.Getenv("FORCE_COLOR") != "" {
			colorsEnabled = true
			return
		}
		colorsEnabled = IsStdoutTTY()
	})
	return colorsEnabled
}

// GetColorProfile returns Ascii when colors are off, else the detected profile.
func GetColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

// Env carries the streams a command reads and writes. Tests swap them out.
type Env struct {
	Out io.Writer
	Err io.Writer
	In  *bufio.Reader

	// ReadPassword prompts for a secret. Nil falls back to reading a line from In.
	ReadPassword func(prompt string) (string, error)
}

// NewEnv returns an Env bound to the process streams. Passwords are read
// without echo when stdin is a terminal.
func NewEnv() *Env {
	env := &Env{
		Out: os.Stdout,
		Err: os.Stderr,
		In:  bufio.NewReader(os.Stdin),
	}
	if IsTTY() {
		env.ReadPassword = func(prompt string) (string, error) {
			fmt.Fprint(env.Err, prompt)
			b, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(env.Err)
			return string(b), err
		}
	}
	return env
}

// Password prompts for a secret.
func (e *Env) Password(prompt string) (string, error) {
	if e.ReadPassword != nil {
		return e.ReadPassword(prompt)
	}
	return e.Line(prompt)
}

// Line prompts on Err and reads one line from In.
func (e *Env) Line(prompt string) (string, error) {
	fmt.Fprint(e.Err, prompt)
	line, err := e.In.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// NewPassword prompts twice and requires both entries to match.
func (e *Env) NewPassword(prompt string) (string, error) {
	first, err := e.Password(prompt)
	if err != nil {
		return "", err
	}
	second, err := e.Password("Confirm: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", NewValidationError("password", "", "entries do not match")
	}
	return first, nil
}
