// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// json_output.go - Standard JSON envelope for --json output.
package cli

import (
	"encoding/json"
	"io"
	"time"
)

// JSONResponse is the envelope every --json command prints.
type JSONResponse struct {
	Success   bool    `json:"success"`
	Data      any     `json:"data"`
	Error     *string `json:"error"`
	Timestamp string  `json:"timestamp"`
	Command   string  `json:"command,omitempty"`
}

// NewJSONResponse creates a successful response.
func NewJSONResponse(command string, data any) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates an error response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	msg := err.Error()
	return &JSONResponse{
		Success:   false,
		Error:     &msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Print writes the response as indented JSON.
func (r *JSONResponse) Print(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// =============================================================================
// RESPONSE PAYLOADS
// =============================================================================

// VersionData is the payload of "version --json".
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// UserData is the public view of an account. Hashes and TOTP secrets never
// leave the process.
type UserData struct {
	ID                    string     `json:"user_id"`
	Username              string     `json:"username"`
	Email                 string     `json:"email"`
	Role                  string     `json:"role"`
	Active                bool       `json:"is_active"`
	Locked                bool       `json:"is_locked"`
	MustChangePassword    bool       `json:"must_change_password"`
	PasswordExpired       bool       `json:"password_expired"`
	FailedLoginAttempts   int        `json:"failed_login_attempts"`
	LastLogin             *time.Time `json:"last_login,omitempty"`
	LastPasswordChange    *time.Time `json:"last_password_change,omitempty"`
	AccountExpires        *time.Time `json:"account_expires,omitempty"`
	TwoFactorEnabled      bool       `json:"two_factor_enabled"`
	Permissions           []string   `json:"permissions"`
	AdditionalPermissions []string   `json:"additional_permissions,omitempty"`
	DeniedPermissions     []string   `json:"denied_permissions,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	CreatedBy             string     `json:"created_by,omitempty"`
}

// InitData is the payload of "init --json".
type InitData struct {
	DataDir           string `json:"data_dir"`
	KeyCreated        bool   `json:"key_created"`
	AdminCreated      bool   `json:"admin_created"`
	AdminUsername     string `json:"admin_username,omitempty"`
	TemporaryPassword string `json:"temporary_password,omitempty"`
}

// LoginData is the payload of "login --json".
type LoginData struct {
	SessionID          string    `json:"session_id"`
	UserID             string    `json:"user_id"`
	Username           string    `json:"username"`
	Role               string    `json:"role"`
	ExpiresAt          time.Time `json:"expires_at"`
	MustChangePassword bool      `json:"must_change_password"`
	PasswordExpired    bool      `json:"password_expired"`
}

// PasswordData is the payload of "user reset-password --json".
type PasswordData struct {
	UserID            string `json:"user_id"`
	Username          string `json:"username"`
	TemporaryPassword string `json:"temporary_password"`
}

// SweepData is the payload of "session sweep --json".
type SweepData struct {
	Removed int `json:"removed"`
	Active  int `json:"active"`
}

// PathData is the payload of "config path --json".
type PathData struct {
	ConfigPath string `json:"config_path"`
	DataDir    string `json:"data_dir"`
	UsersFile  string `json:"users_file"`
	KeyFile    string `json:"key_file"`
	AuditDB    string `json:"audit_db"`
}
