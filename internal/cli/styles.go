// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared lipgloss styles for all CLI output.
//
// Colors are disabled for non-TTY output and when NO_COLOR is set.

package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/morganforge/kontor/internal/security"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")). // Cyan
			MarginBottom(1)

	// SectionStyle is used for section headers within a command.
	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			MarginTop(1)

	// LabelStyle is used for left-aligned field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(24)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// HeaderStyle is used for table column headers.
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("245"))

	// SecretStyle frames a value that is shown exactly once.
	SecretStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("226")).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 2)
)

// =============================================================================
// STYLE HELPERS
// =============================================================================

// StatusIndicator renders a colored tag.
func StatusIndicator(ok bool, okText, badText string) string {
	if ok {
		return SuccessStyle.Render(okText)
	}
	return ErrorStyle.Render(badText)
}

// SeverityStyle picks a color for an audit severity.
func SeverityStyle(s security.Severity) lipgloss.Style {
	switch s {
	case security.SeverityCritical, security.SeverityHigh:
		return ErrorStyle
	case security.SeverityMedium:
		return WarningStyle
	default:
		return DimStyle
	}
}

// UserState renders the account state of u.
func UserState(u *security.User) string {
	switch {
	case u.Locked:
		return ErrorStyle.Render("locked")
	case !u.Active:
		return WarningStyle.Render("inactive")
	default:
		return SuccessStyle.Render("active")
	}
}

// field renders one "label: value" row.
func field(label, value string) string {
	return LabelStyle.Render(label+":") + " " + ValueStyle.Render(value)
}
