package password

import (
	"errors"
	"strings"
	"unicode"
)

// Policy violations. Check returns the first one found.
var (
	ErrPolicyLength    = errors.New("password must be at least 8 characters long")
	ErrPolicyUppercase = errors.New("password must contain at least one uppercase letter")
	ErrPolicyLowercase = errors.New("password must contain at least one lowercase letter")
	ErrPolicyDigit     = errors.New("password must contain at least one number")
	ErrPolicySpecial   = errors.New("password must contain at least one special character")
)

// DefaultSpecials is the special character set accepted by DefaultPolicy.
const DefaultSpecials = `!@#$%^&*(),.?":{}|<>`

// Policy is the complexity rule set for user-chosen passwords.
type Policy struct {
	MinLength         int
	RequireUpper      bool
	RequireLower      bool
	RequireDigit      bool
	RequireSpecial    bool
	SpecialCharacters string
}

// DefaultPolicy requires 8 characters with upper, lower, digit and special.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:         8,
		RequireUpper:      true,
		RequireLower:      true,
		RequireDigit:      true,
		RequireSpecial:    true,
		SpecialCharacters: DefaultSpecials,
	}
}

// Check returns nil when pw satisfies p.
func (p Policy) Check(pw string) error {
	if len([]rune(pw)) < p.MinLength {
		return ErrPolicyLength
	}
	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
		if strings.ContainsRune(p.SpecialCharacters, r) {
			special = true
		}
	}
	switch {
	case p.RequireUpper && !upper:
		return ErrPolicyUppercase
	case p.RequireLower && !lower:
		return ErrPolicyLowercase
	case p.RequireDigit && !digit:
		return ErrPolicyDigit
	case p.RequireSpecial && !special:
		return ErrPolicySpecial
	}
	return nil
}
