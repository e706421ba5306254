package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"log"
	"time"

	"github.com/BrandonDHaskell/Vigil/server/internal/clock"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/credential"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/store"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/types"
)

const methodTempCode = "temp_code"

type CredentialService struct {
	codes    *credential.Store
	events   store.AccessEventStore
	recorder Recorder
	clock    clock.Clock
	logger   *log.Logger
}

func NewCredentialService(codes *credential.Store, events store.AccessEventStore, rec Recorder, clk clock.Clock, logger *log.Logger) *CredentialService {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &CredentialService{codes: codes, events: events, recorder: orNop(rec), clock: clk, logger: logger}
}

func (s *CredentialService) Issue(_ context.Context) (types.IssueCredentialResponse, error) {
	c, err := s.codes.Issue(s.clock.Now())
	if err != nil {
		return types.IssueCredentialResponse{}, err
	}
	s.recorder.Issued()
	s.logger.Printf("temp code issued (outstanding=%d)", s.codes.Len())

	resp := types.IssueCredentialResponse{
		Code:     c.Code,
		IssuedAt: c.IssuedAt.Format(time.RFC3339Nano),
	}
	if exp := c.ExpiresAt(s.codes.TTL()); !exp.IsZero() {
		resp.ExpiresAt = exp.Format(time.RFC3339Nano)
	}
	return resp, nil
}

// Verify consumes a one-time code. A malformed code is returned as
// credential.ErrInvalidCode for the caller to report as bad input.
func (s *CredentialService) Verify(ctx context.Context, req types.VerifyCredentialRequest) (types.VerifyCredentialResponse, error) {
	code := req.Value()
	now := s.clock.Now()

	valid, err := s.codes.Verify(code, now)
	if errors.Is(err, credential.ErrInvalidCode) {
		s.recorder.Verification("malformed")
		return types.VerifyCredentialResponse{}, err
	}
	if err != nil {
		return types.VerifyCredentialResponse{}, err
	}

	reason := "code_invalid"
	msg := "code incorrect or already used"
	if valid {
		reason = "code_valid"
		msg = "code accepted and destroyed"
	}
	s.recorder.Verification(reason)
	s.logger.Printf("temp code verification: %s (outstanding=%d)", reason, s.codes.Len())
	s.recordEvent(ctx, code, valid, reason, now)

	return types.VerifyCredentialResponse{Valid: valid, Message: msg}, nil
}

// Outstanding lists live codes. Only exposed in dev.
func (s *CredentialService) Outstanding() types.OutstandingCredentialsResponse {
	live := s.codes.Outstanding()
	codes := make([]string, 0, len(live))
	for _, c := range live {
		codes = append(codes, c.Code)
	}
	return types.OutstandingCredentialsResponse{Codes: codes, Count: len(codes)}
}

// recordEvent appends the verification to the audit log. A failed write
// never changes the verification result.
func (s *CredentialService) recordEvent(ctx context.Context, code string, granted bool, reason string, at time.Time) {
	if s.events == nil {
		return
	}
	sum := sha256.Sum256([]byte(code))
	rec := store.AccessEventRecord{
		Method:    methodTempCode,
		CodeHash:  sum[:],
		Granted:   granted,
		Reason:    reason,
		DecidedAt: at,
	}
	if err := s.events.RecordEvent(ctx, rec); err != nil {
		s.logger.Printf("record access event error: %v", err)
	}
}
