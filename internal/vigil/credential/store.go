// Package credential holds one-time door codes issued on request and
// destroyed on first successful use.
package credential

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"
)

// CodeLength is the number of digits in an issued code.
const CodeLength = 6

var (
	ErrInvalidCode = errors.New("code must be 6 digits")
	errExhausted   = errors.New("credential code space exhausted")
)

var codeSpace = big.NewInt(1_000_000)

type Credential struct {
	Code     string
	IssuedAt time.Time
}

// ExpiresAt returns the zero time when ttl is 0.
func (c Credential) ExpiresAt(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.IssuedAt.Add(ttl)
}

// Store is safe for concurrent use. A TTL of 0 keeps codes until they
// are used.
type Store struct {
	mu    sync.Mutex
	codes map[string]time.Time
	ttl   time.Duration
}

func NewStore(ttl time.Duration) *Store {
	if ttl < 0 {
		ttl = 0
	}
	return &Store{
		codes: make(map[string]time.Time),
		ttl:   ttl,
	}
}

func (s *Store) TTL() time.Duration { return s.ttl }

// Issue draws a fresh code that does not collide with any outstanding one.
func (s *Store) Issue(now time.Time) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A full code space would loop forever; bail out well before that.
	if len(s.codes) >= int(codeSpace.Int64())/2 {
		return Credential{}, errExhausted
	}

	for {
		code, err := randomCode()
		if err != nil {
			return Credential{}, fmt.Errorf("generate code: %w", err)
		}
		if _, taken := s.codes[code]; taken {
			continue
		}
		s.codes[code] = now
		return Credential{Code: code, IssuedAt: now}, nil
	}
}

// Verify consumes code if it is outstanding and unexpired. A malformed
// code returns ErrInvalidCode and leaves the store untouched.
func (s *Store) Verify(code string, now time.Time) (bool, error) {
	code = strings.TrimSpace(code)
	if !wellFormed(code) {
		return false, ErrInvalidCode
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	issuedAt, ok := s.codes[code]
	if !ok {
		return false, nil
	}
	delete(s.codes, code)

	if s.ttl > 0 && now.Sub(issuedAt) > s.ttl {
		return false, nil
	}
	return true, nil
}

// PruneOlderThan drops codes issued before cutoff and reports how many
// were removed.
func (s *Store) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for code, issuedAt := range s.codes {
		if issuedAt.Before(cutoff) {
			delete(s.codes, code)
			n++
		}
	}
	return n, nil
}

// Outstanding returns the live codes ordered by issue time.
func (s *Store) Outstanding() []Credential {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Credential, 0, len(s.codes))
	for code, issuedAt := range s.codes {
		out = append(out, Credential{Code: code, IssuedAt: issuedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

func wellFormed(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
