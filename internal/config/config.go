// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for kontor.
//
// Configuration is read from TOML, starting from built-in defaults, with
// environment variable overrides applied last.
//
// Configuration file location (in order of precedence):
//   - $KONTOR_HOME/config.toml
//   - ~/.kontor/config.toml
//   - Built-in defaults
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/crypto/bcrypt"

	"github.com/morganforge/kontor/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete kontor configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Security holds password policy, lockout, session, and encryption settings.
	Security SecurityConfig `toml:"security" json:"security"`

	// Storage holds the on-disk locations of the credential store, key, and audit DB.
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Logging configures the process logger.
	Logging LoggingConfig `toml:"logging" json:"logging"`

	// Warnings collects non-fatal problems found while loading, for the
	// caller to log once a logger exists.
	Warnings []string `toml:"-" json:"-"`
}

// SecurityConfig contains the settings consumed by the security core.
type SecurityConfig struct {
	// Password policy
	PasswordMinLength        int  `toml:"password_min_length" json:"password_min_length"`
	PasswordRequireUppercase bool `toml:"password_require_uppercase" json:"password_require_uppercase"`
	PasswordRequireLowercase bool `toml:"password_require_lowercase" json:"password_require_lowercase"`
	PasswordRequireNumbers   bool `toml:"password_require_numbers" json:"password_require_numbers"`
	PasswordRequireSpecial   bool `toml:"password_require_special" json:"password_require_special"`
	PasswordMaxAgeDays       int  `toml:"password_max_age_days" json:"password_max_age_days"`

	// MaxFailedLoginAttempts locks an account once this many consecutive
	// failures have been recorded.
	MaxFailedLoginAttempts int `toml:"max_failed_login_attempts" json:"max_failed_login_attempts"`
	// AccountLockoutDurationMinutes is recorded for compatibility only.
	// Locked accounts stay locked until an administrator unlocks them.
	AccountLockoutDurationMinutes int `toml:"account_lockout_duration_minutes" json:"account_lockout_duration_minutes"`

	// SessionTimeoutMinutes is the idle timeout for users without an override.
	SessionTimeoutMinutes int `toml:"session_timeout_minutes" json:"session_timeout_minutes"`
	// SessionSweepIntervalSeconds controls the background expiry sweep (0 = off).
	SessionSweepIntervalSeconds int `toml:"session_sweep_interval_seconds" json:"session_sweep_interval_seconds"`

	// RequireTwoFactor is recorded but not enforced by any login flow.
	RequireTwoFactor bool `toml:"require_two_factor" json:"require_two_factor"`

	// AuditRetentionDays is exposed for the external retention job.
	AuditRetentionDays int `toml:"audit_retention_days" json:"audit_retention_days"`
	// AuditCacheSize caps the in-memory ring of recent audit events.
	AuditCacheSize int `toml:"audit_cache_size" json:"audit_cache_size"`

	// DataEncryptionEnabled wraps the user store with AES-256-GCM.
	// When false the store is written as plain JSON.
	DataEncryptionEnabled bool `toml:"data_encryption_enabled" json:"data_encryption_enabled"`

	// HashAlgorithm is "bcrypt" or "argon2id".
	HashAlgorithm string `toml:"hash_algorithm" json:"hash_algorithm"`
	// BcryptCost is the bcrypt work factor.
	BcryptCost int `toml:"bcrypt_cost" json:"bcrypt_cost"`

	// LoginRatePerMinute and LoginBurst shape the per-username login throttle.
	// A burst of 0 disables throttling.
	LoginRatePerMinute int `toml:"login_rate_per_minute" json:"login_rate_per_minute"`
	LoginBurst         int `toml:"login_burst" json:"login_burst"`
}

// StorageConfig contains file locations. Relative file names resolve against DataDir.
type StorageConfig struct {
	DataDir   string `toml:"data_dir" json:"data_dir"`
	UsersFile string `toml:"users_file" json:"users_file"`
	KeyFile   string `toml:"key_file" json:"key_file"`
	AuditDB   string `toml:"audit_db" json:"audit_db"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with the stock security settings.
func Default() *Config {
	dataDir := filepath.Join(".", ".kontor", "data")
	if dir, err := ConfigDir(); err == nil {
		dataDir = filepath.Join(dir, "data")
	}

	return &Config{
		Version: "1",
		Security: SecurityConfig{
			PasswordMinLength:             8,
			PasswordRequireUppercase:      true,
			PasswordRequireLowercase:      true,
			PasswordRequireNumbers:        true,
			PasswordRequireSpecial:        true,
			PasswordMaxAgeDays:            90,
			MaxFailedLoginAttempts:        5,
			AccountLockoutDurationMinutes: 30,
			SessionTimeoutMinutes:         30,
			SessionSweepIntervalSeconds:   60,
			RequireTwoFactor:              false,
			AuditRetentionDays:            365,
			AuditCacheSize:                1000,
			DataEncryptionEnabled:         true,
			HashAlgorithm:                 "bcrypt",
			BcryptCost:                    12,
			LoginRatePerMinute:            30,
			LoginBurst:                    10,
		},
		Storage: StorageConfig{
			DataDir:   dataDir,
			UsersFile: "users.dat",
			KeyFile:   "encryption.key",
			AuditDB:   "audit.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SessionTimeout returns the default session timeout as a duration.
func (s SecurityConfig) SessionTimeout() time.Duration {
	return time.Duration(s.SessionTimeoutMinutes) * time.Minute
}

// SweepInterval returns the session sweep interval (0 = disabled).
func (s SecurityConfig) SweepInterval() time.Duration {
	return time.Duration(s.SessionSweepIntervalSeconds) * time.Second
}

// UsersPath returns the absolute-or-relative path of the encrypted user store.
func (s StorageConfig) UsersPath() string { return s.resolve(s.UsersFile) }

// KeyPath returns the path of the encryption key file.
func (s StorageConfig) KeyPath() string { return s.resolve(s.KeyFile) }

// AuditPath returns the path of the SQLite audit database.
func (s StorageConfig) AuditPath() string { return s.resolve(s.AuditDB) }

func (s StorageConfig) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.DataDir, name)
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the kontor configuration directory ($KONTOR_HOME or ~/.kontor).
func ConfigDir() (string, error) {
	if dir := os.Getenv("KONTOR_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".kontor"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads the configuration from the default location, falling back to
// defaults when no file exists. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file.
// Keys absent from the file keep their default values.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if err := util.CheckPrivateMode(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		cfg.Warnings = append(cfg.Warnings, err.Error())
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode TOML config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes the configuration to path atomically with mode 0600.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# kontor configuration file\n")
	buf.WriteString("# Generated by kontor - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), util.PrivateFileMode); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every setting and returns all violations at once.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	s := c.Security
	if s.PasswordMinLength < 4 {
		add("security.password_min_length", "must be at least 4, got %d", s.PasswordMinLength)
	}
	if s.PasswordMaxAgeDays < 1 {
		add("security.password_max_age_days", "must be at least 1, got %d", s.PasswordMaxAgeDays)
	}
	if s.MaxFailedLoginAttempts < 1 {
		add("security.max_failed_login_attempts", "must be at least 1, got %d", s.MaxFailedLoginAttempts)
	}
	if s.AccountLockoutDurationMinutes < 0 {
		add("security.account_lockout_duration_minutes", "must not be negative")
	}
	if s.SessionTimeoutMinutes < 1 {
		add("security.session_timeout_minutes", "must be at least 1, got %d", s.SessionTimeoutMinutes)
	}
	if s.SessionSweepIntervalSeconds < 0 {
		add("security.session_sweep_interval_seconds", "must not be negative")
	}
	if s.AuditRetentionDays < 0 {
		add("security.audit_retention_days", "must not be negative")
	}
	if s.AuditCacheSize < 1 {
		add("security.audit_cache_size", "must be at least 1, got %d", s.AuditCacheSize)
	}
	switch s.HashAlgorithm {
	case "bcrypt":
		if s.BcryptCost < bcrypt.MinCost || s.BcryptCost > bcrypt.MaxCost {
			add("security.bcrypt_cost", "must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, s.BcryptCost)
		}
	case "argon2id":
	default:
		add("security.hash_algorithm", "invalid algorithm '%s', must be one of: bcrypt, argon2id", s.HashAlgorithm)
	}
	if s.LoginBurst < 0 || s.LoginRatePerMinute < 0 {
		add("security.login_burst", "throttle settings must not be negative")
	}
	if s.LoginBurst > 0 && s.LoginRatePerMinute == 0 {
		add("security.login_rate_per_minute", "must be positive when login_burst is set")
	}

	if strings.TrimSpace(c.Storage.DataDir) == "" {
		add("storage.data_dir", "must not be empty")
	}
	for field, name := range map[string]string{
		"storage.users_file": c.Storage.UsersFile,
		"storage.key_file":   c.Storage.KeyFile,
		"storage.audit_db":   c.Storage.AuditDB,
	} {
		if strings.TrimSpace(name) == "" {
			add(field, "must not be empty")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		add("logging.format", "invalid format '%s', must be one of: text, json", c.Logging.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - KONTOR_DATA_DIR: overrides storage.data_dir
//   - KONTOR_LOG_LEVEL: overrides logging.level
//   - KONTOR_LOG_FORMAT: overrides logging.format
//   - KONTOR_ENCRYPTION: overrides security.data_encryption_enabled
func (c *Config) ApplyEnvOverrides() {
	if dir := os.Getenv("KONTOR_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}
	if level := os.Getenv("KONTOR_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("KONTOR_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
	if enc := os.Getenv("KONTOR_ENCRYPTION"); enc != "" {
		if v, err := strconv.ParseBool(enc); err == nil {
			c.Security.DataEncryptionEnabled = v
		}
	}
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}
