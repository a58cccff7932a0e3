// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"time"
)

// passwordExpiryWarning is how far ahead PasswordExpiresSoon looks.
const passwordExpiryWarning = 7 * 24 * time.Hour

// SecurityStatistics summarizes the current security posture.
type SecurityStatistics struct {
	ActiveSessions        int       `json:"active_sessions"`
	TotalUsers            int       `json:"total_users"`
	ActiveUsers           int       `json:"active_users"`
	LockedUsers           int       `json:"locked_users"`
	FailedLogins24h       int       `json:"failed_logins_24h"`
	SuccessfulLogins24h   int       `json:"successful_logins_24h"`
	SecurityViolations24h int       `json:"security_violations_24h"`
	AuditEvents24h        int       `json:"audit_events_24h"`
	EncryptionEnabled     bool      `json:"encryption_enabled"`
	TwoFactorEnabledUsers int       `json:"two_factor_enabled_users"`
	PasswordExpiresSoon   int       `json:"password_expires_soon"`
	GeneratedAt           time.Time `json:"generated_at"`
}

// GetSecurityStatistics counts users, live sessions, and the last 24 hours
// of audit events.
func (s *AuthService) GetSecurityStatistics(ctx context.Context) (SecurityStatistics, error) {
	now := s.now()
	stats := SecurityStatistics{
		ActiveSessions:    s.sessions.ActiveCount(),
		EncryptionEnabled: s.users.Encrypted(),
		GeneratedAt:       now,
	}

	soon := now.Add(passwordExpiryWarning)
	for _, u := range s.users.List() {
		stats.TotalUsers++
		if u.Active {
			stats.ActiveUsers++
		}
		if u.Locked {
			stats.LockedUsers++
		}
		if u.TwoFactorEnabled {
			stats.TwoFactorEnabledUsers++
		}
		if !u.IsPasswordExpired(s.passwordMaxAge, now) && u.IsPasswordExpired(s.passwordMaxAge, soon) {
			stats.PasswordExpiresSoon++
		}
	}

	since := now.Add(-24 * time.Hour)
	counts := []struct {
		typ EventType
		dst *int
	}{
		{EventLoginFailed, &stats.FailedLogins24h},
		{EventLogin, &stats.SuccessfulLogins24h},
		{EventSecurityViolation, &stats.SecurityViolations24h},
		{"", &stats.AuditEvents24h},
	}
	for _, c := range counts {
		n, err := s.audit.Count(ctx, AuditQuery{Type: c.typ, Since: since, Until: now})
		if err != nil {
			return stats, err
		}
		*c.dst = n
	}
	return stats, nil
}
