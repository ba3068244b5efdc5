package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate checks passphrase policy. It does not mutate input.
func (c Config) Validate(password string) error {
	// Count runes, not bytes.
	n := utf8.RuneCountInString(password)

	if n == 0 || n < c.Policy.MinLength {
		return ErrPasswordEmpty
	}
	if c.Policy.MaxLength > 0 && n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}
	if c.Policy.RejectVeryWeak && looksVeryWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

// looksVeryWeak rejects a handful of trivially guessable passphrases.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	if strings.Count(s, string([]rune(s)[0])) == utf8.RuneCountInString(s) {
		return true
	}

	digits := true
	for _, r := range s {
		if !unicode.IsDigit(r) {
			digits = false
			break
		}
	}
	if digits && utf8.RuneCountInString(s) < 8 {
		return true
	}

	switch strings.ToLower(s) {
	case "password", "password123", "123456", "qwerty", "letmein", "secret":
		return true
	}
	return false
}
