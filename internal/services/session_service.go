package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-identity-backend/internal/domain"
	"github.com/tbourn/go-identity-backend/internal/store"
)

const (
	// tokenBytes of randomness per token, rendered as 86 URL-safe characters.
	tokenBytes = 64

	maxRotateAttempts = 5
)

// ErrRotationContended is returned when every rotation attempt lost against
// a concurrent rotation for the same identity.
var ErrRotationContended = errors.New("session rotation contended")

// SessionService maps opaque bearer tokens to identities. Each identity has
// at most one live token; issuing a new one retires the previous one in the
// same atomic batch.
type SessionService struct {
	Store store.Store

	// NewToken is overridable in tests.
	NewToken func() (string, error)
}

// NewSessionService returns a SessionService backed by the Primary store.
func NewSessionService(primary store.Store) *SessionService {
	return &SessionService{Store: primary, NewToken: generateToken}
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// IssueOrRotate creates a new token for id, retiring the current one. The
// swap is guarded by the precondition that the identity's current token has
// not changed since it was read; on conflict the swap is recomputed.
func (s *SessionService) IssueOrRotate(ctx context.Context, id string) (string, error) {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "IssueOrRotate",
		trace.WithAttributes(attribute.String("identity.id", id)))
	defer span.End()

	for attempt := 1; attempt <= maxRotateAttempts; attempt++ {
		current, err := s.Store.HGet(ctx, domain.UserToTokenKey, id)
		hasCurrent := true
		if errors.Is(err, store.ErrNil) {
			hasCurrent = false
		} else if err != nil {
			return "", err
		}

		token, err := s.NewToken()
		if err != nil {
			return "", err
		}

		b := store.NewBatch()
		if hasCurrent {
			b.ExpectValue(domain.UserToTokenKey, id, current).Del(domain.TokenToUserKey, current)
		} else {
			b.ExpectAbsent(domain.UserToTokenKey, id)
		}
		b.Set(domain.TokenToUserKey, token, id).
			Set(domain.UserToTokenKey, id, token)

		err = s.Store.Exec(ctx, b)
		if err == nil {
			span.SetAttributes(attribute.Int("session.attempts", attempt))
			return token, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return "", err
		}
		sessionRotationConflicts.Inc()
	}
	return "", ErrRotationContended
}

// Resolve returns the identity owning token, or ErrNotFound.
func (s *SessionService) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrNotFound
	}
	id, err := s.Store.HGet(ctx, domain.TokenToUserKey, token)
	if errors.Is(err, store.ErrNil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// Current returns the live token of id, if any.
func (s *SessionService) Current(ctx context.Context, id string) (string, bool, error) {
	tok, err := s.Store.HGet(ctx, domain.UserToTokenKey, id)
	if errors.Is(err, store.ErrNil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return tok, true, nil
}
