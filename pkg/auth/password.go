package auth

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 64
)

// ErrWeakPassword is returned by ValidatePassword.
var ErrWeakPassword = errors.New("password does not meet requirements")

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(password, stored string) bool {
	if stored == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// ValidatePassword enforces length and character class rules.
func ValidatePassword(password string) error {
	n := len([]rune(password))
	if n < minPasswordLength || n > maxPasswordLength {
		return fmt.Errorf("%w: length must be between %d and %d", ErrWeakPassword, minPasswordLength, maxPasswordLength)
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	switch {
	case !upper:
		return fmt.Errorf("%w: missing uppercase letter", ErrWeakPassword)
	case !lower:
		return fmt.Errorf("%w: missing lowercase letter", ErrWeakPassword)
	case !digit:
		return fmt.Errorf("%w: missing digit", ErrWeakPassword)
	case !special:
		return fmt.Errorf("%w: missing special character", ErrWeakPassword)
	}
	return nil
}
