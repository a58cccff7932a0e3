// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Structured CLI errors, display, and exit codes.
//
// Handlers always return errors; main decides how to display them.

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/morganforge/kontor/internal/config"
	"github.com/morganforge/kontor/internal/security"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitStorageError  = 5
	ExitSecurityError = 6
	ExitNotFoundError = 7
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ValidationError reports a bad argument.
type ValidationError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s", e.Field)
	if e.Value != "" {
		msg += fmt.Sprintf(" %q", e.Value)
	}
	msg += ": " + e.Reason
	if e.Example != "" {
		msg += " (example: " + e.Example + ")"
	}
	return msg
}

// NotFoundError reports a missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// Unwrap lets callers match security.ErrUserNotFound.
func (e *NotFoundError) Unwrap() error {
	if e.Resource == "user" {
		return security.ErrUserNotFound
	}
	return nil
}

// ConfigError reports a configuration file that could not be used.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "config: " + e.Err.Error()
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// NewValidationErrorWithExample creates a ValidationError with a usage example.
func NewValidationErrorWithExample(field, value, reason, example string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason, Example: example}
}

// ErrMissingArgument reports a required positional argument.
func ErrMissingArgument(argName, usage string) error {
	return &ValidationError{Field: argName, Reason: "required", Example: usage}
}

// ErrUnknownSubcommand reports a subcommand that the command does not have.
func ErrUnknownSubcommand(command, sub string) error {
	return &ValidationError{Field: command + " subcommand", Value: sub, Reason: "unknown", Example: "kontor help"}
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError prints err for a human, or as a JSON envelope.
func DisplayError(w io.Writer, command string, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		resp := NewJSONErrorResponse(command, err)
		payload := map[string]any{"error_type": errorType(err), "exit_code": GetExitCode(err)}
		var ve *ValidationError
		if errors.As(err, &ve) {
			payload["field"] = ve.Field
		}
		var pv *security.PolicyViolation
		if errors.As(err, &pv) {
			payload["rule"] = string(pv.Rule)
		}
		resp.Data = payload
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(resp)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}

func errorType(err error) string {
	switch GetExitCode(err) {
	case ExitUsageError:
		return "validation_error"
	case ExitConfigError:
		return "config_error"
	case ExitAuthError:
		return "auth_error"
	case ExitStorageError:
		return "storage_error"
	case ExitSecurityError:
		return "security_error"
	case ExitNotFoundError:
		return "not_found_error"
	default:
		return "generic_error"
	}
}

// GetExitCode maps an error to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var validationErr *ValidationError
	var cfgErr config.ValidationErrors
	var cfgFileErr *ConfigError
	switch {
	case errors.As(err, &validationErr),
		errors.Is(err, security.ErrPasswordPolicy),
		errors.Is(err, security.ErrMissingField),
		errors.Is(err, security.ErrInvalidRole),
		errors.Is(err, security.ErrInvalidPermission),
		errors.Is(err, security.ErrUsernameTaken),
		errors.Is(err, security.ErrEmailTaken):
		return ExitUsageError
	case errors.As(err, &cfgErr), errors.As(err, &cfgFileErr):
		return ExitConfigError
	case errors.Is(err, security.ErrAuthFailed),
		errors.Is(err, security.ErrWrongPassword):
		return ExitAuthError
	case errors.Is(err, security.ErrUserNotFound):
		return ExitNotFoundError
	case errors.Is(err, security.ErrStoreUnreadable),
		errors.Is(err, security.ErrInvalidKey),
		errors.Is(err, security.ErrDecryptionFailed):
		return ExitSecurityError
	case errors.Is(err, security.ErrPersist),
		errors.Is(err, security.ErrStoreCorrupt),
		errors.Is(err, security.ErrAuditClosed):
		return ExitStorageError
	}
	return ExitGeneralError
}
