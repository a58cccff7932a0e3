// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// args.go - Flag and positional argument parsing shared by all commands.

package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// ARG PARSER
// =============================================================================

// booleanFlags never consume the following argument.
var booleanFlags = map[string]bool{
	"json":     true,
	"generate": true,
	"force":    true,
}

// ArgParser splits raw arguments into flags and positionals.
// Supported forms:
//
//	--flag value     Long flag with space-separated value
//	--flag=value     Long flag with equals sign
//	--flag           Boolean flag (no value)
type ArgParser struct {
	flags      map[string]string
	boolFlags  map[string]bool
	positional []string
}

// NewArgParser parses raw.
//
//	p := NewArgParser([]string{"export", "--format", "csv", "--out=a.csv"})
//	p.Positional(0)    // "export"
//	p.Flag("format")   // "csv"
func NewArgParser(raw []string) *ArgParser {
	parser := &ArgParser{
		flags:     make(map[string]string),
		boolFlags: make(map[string]bool),
	}

	i := 0
	for i < len(raw) {
		arg := raw[i]

		if !strings.HasPrefix(arg, "-") || arg == "-" {
			parser.positional = append(parser.positional, arg)
			i++
			continue
		}

		if name, value, ok := strings.Cut(arg, "="); ok {
			name = strings.TrimLeft(name, "-")
			if value == "true" || value == "false" {
				parser.boolFlags[name] = value == "true"
			} else {
				parser.flags[name] = value
			}
			i++
			continue
		}

		name := strings.TrimLeft(arg, "-")
		if !booleanFlags[name] && i+1 < len(raw) && !strings.HasPrefix(raw[i+1], "-") {
			parser.flags[name] = raw[i+1]
			i += 2
			continue
		}
		parser.boolFlags[name] = true
		i++
	}

	return parser
}

// Flag returns the value of a string flag, or "".
func (p *ArgParser) Flag(name string) string {
	return p.flags[name]
}

// BoolFlag reports whether a boolean flag was set.
func (p *ArgParser) BoolFlag(name string) bool {
	return p.boolFlags[name]
}

// Positional returns the positional at index, or "".
func (p *ArgParser) Positional(index int) string {
	if index < 0 || index >= len(p.positional) {
		return ""
	}
	return p.positional[index]
}

// =============================================================================
// VALUE HELPERS
// =============================================================================

// ParseIntWithValidation parses a non-negative integer option.
func ParseIntWithValidation(s string, fieldName string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, NewValidationErrorWithExample(fieldName, s, "must be a number", "--"+fieldName+" 50")
	}
	if v < 0 {
		return 0, NewValidationError(fieldName, s, "must not be negative")
	}
	return v, nil
}

// timeLayouts are tried in order by ParseTimeOption.
var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

// ParseTimeOption parses an absolute time or a relative duration such as
// "24h" or "7d", which is taken as now minus the duration.
func ParseTimeOption(s, fieldName string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil && n >= 0 {
			return now.AddDate(0, 0, -n), nil
		}
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return now.Add(-d), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, NewValidationErrorWithExample(fieldName, s,
		fmt.Sprintf("expected a date (%s) or a duration", "2006-01-02"), "--"+fieldName+" 7d")
}
