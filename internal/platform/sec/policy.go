// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package sec

import "unicode"

// PasswordPolicy describes the runtime-tunable password complexity rules.
//
// The active values come from the SystemConfig singleton, so administrators
// can tighten the policy without a redeploy.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireDigits    bool
	RequireSpecial   bool
}

// Validate reports whether the candidate password satisfies the policy.
func (policy PasswordPolicy) Validate(password string) bool {
	if len(password) < policy.MinLength {
		return false
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	if policy.RequireUppercase && !hasUpper {
		return false
	}
	if policy.RequireLowercase && !hasLower {
		return false
	}
	if policy.RequireDigits && !hasDigit {
		return false
	}
	if policy.RequireSpecial && !hasSpecial {
		return false
	}
	return true
}
