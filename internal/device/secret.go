package device

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadSecret rejects an empty or non-numeric standing secret.
var ErrBadSecret = errors.New("secret must be digits")

// DefaultSecret is the factory keypad code.
const DefaultSecret = "123"

// Secret is the keypad's standing shared code. Only its bcrypt hash is
// kept in memory.
type Secret struct {
	hash []byte
}

func NewSecret(code string) (*Secret, error) {
	s := &Secret{}
	if err := s.Change(code); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Secret) Matches(code string) bool {
	if code == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(s.hash, []byte(code)) == nil
}

// Change replaces the secret. The old one stays in force on error.
func (s *Secret) Change(code string) error {
	if !digitsOnly(code) {
		return ErrBadSecret
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s.hash = hash
	return nil
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
