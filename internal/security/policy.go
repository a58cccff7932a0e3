// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SpecialCharacters is the set accepted by the RequireSpecial rule.
const SpecialCharacters = "!@#$%^&*()_+-=[]{}|;:,.<>?"

// PasswordPolicy describes the rules a candidate password must satisfy.
type PasswordPolicy struct {
	MinLength        int  `json:"min_length"`
	RequireUppercase bool `json:"require_uppercase"`
	RequireLowercase bool `json:"require_lowercase"`
	RequireNumbers   bool `json:"require_numbers"`
	RequireSpecial   bool `json:"require_special"`
}

// DefaultPasswordPolicy returns the stock policy: 8 characters with upper,
// lower, digit, and special character.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        8,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireNumbers:   true,
		RequireSpecial:   true,
	}
}

// PolicyRule identifies which rule a password violated.
type PolicyRule string

const (
	RuleMinLength PolicyRule = "min_length"
	RuleUppercase PolicyRule = "uppercase"
	RuleLowercase PolicyRule = "lowercase"
	RuleNumber    PolicyRule = "number"
	RuleSpecial   PolicyRule = "special"

	// RuleMaxLength is reported by hashers with an input limit.
	RuleMaxLength PolicyRule = "max_length"
)

// PolicyViolation is returned by Validate for the first failing rule.
type PolicyViolation struct {
	Rule    PolicyRule
	Message string
}

func (v *PolicyViolation) Error() string {
	return v.Message
}

// Is lets errors.Is(err, ErrPasswordPolicy) match any violation.
func (v *PolicyViolation) Is(target error) bool {
	return target == ErrPasswordPolicy
}

// Validate checks password against the policy. Rules are evaluated in a fixed
// order (length, uppercase, lowercase, digit, special) and the first failure
// is returned as a *PolicyViolation. A nil result means the password is
// acceptable.
func (p PasswordPolicy) Validate(password string) error {
	if utf8.RuneCountInString(password) < p.MinLength {
		return &PolicyViolation{
			Rule:    RuleMinLength,
			Message: fmt.Sprintf("password must be at least %d characters long", p.MinLength),
		}
	}
	if p.RequireUppercase && !strings.ContainsFunc(password, unicode.IsUpper) {
		return &PolicyViolation{Rule: RuleUppercase, Message: "password must contain at least one uppercase letter"}
	}
	if p.RequireLowercase && !strings.ContainsFunc(password, unicode.IsLower) {
		return &PolicyViolation{Rule: RuleLowercase, Message: "password must contain at least one lowercase letter"}
	}
	if p.RequireNumbers && !strings.ContainsFunc(password, unicode.IsDigit) {
		return &PolicyViolation{Rule: RuleNumber, Message: "password must contain at least one digit"}
	}
	if p.RequireSpecial && !strings.ContainsAny(password, SpecialCharacters) {
		return &PolicyViolation{
			Rule:    RuleSpecial,
			Message: "password must contain at least one special character (" + SpecialCharacters + ")",
		}
	}
	return nil
}
