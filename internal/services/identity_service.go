// Package services – IdentityService
//
// IdentityService validates and persists identity records, hashes and
// verifies credentials, and orchestrates index maintenance. Writes follow the
// order index reservation → primary write → index update, so a failure leaves
// at worst a dangling reservation that is released or rebuilt away, never a
// record that uniqueness checks cannot see.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-identity-backend/internal/domain"
	"github.com/tbourn/go-identity-backend/internal/store"
)

// IdentityService owns the identity lifecycle.
type IdentityService struct {
	Primary  store.Store
	Index    *IndexBuilder
	Sessions *SessionService
	Hasher   *PasswordHasher

	// Now and NewID are overridable in tests.
	Now   func() time.Time
	NewID func() (string, error)

	locks idLocks
}

// NewIdentityService wires an IdentityService from its collaborators.
func NewIdentityService(primary store.Store, index *IndexBuilder, sessions *SessionService, hasher *PasswordHasher) *IdentityService {
	return &IdentityService{
		Primary:  primary,
		Index:    index,
		Sessions: sessions,
		Hasher:   hasher,
		Now:      time.Now,
		NewID:    domain.NewIdentityID,
	}
}

func tracer() trace.Tracer { return otel.Tracer("services/IdentityService") }

// indexed fields in the order they are reserved
var indexedFields = []domain.Field{domain.FieldUsername, domain.FieldEmail}

func takenErr(f domain.Field) error {
	if f == domain.FieldEmail {
		return ErrEmailTaken
	}
	return ErrUsernameTaken
}

// Register creates a new identity and returns its first session token.
func (s *IdentityService) Register(ctx context.Context, username, fullname, email, password string) (token string, err error) {
	ctx, span := tracer().Start(ctx, "Register")
	defer span.End()
	defer func() { identityOps.WithLabelValues("register", opResult(err)).Inc() }()

	username = normalizeText(username)
	fullname = normalizeText(fullname)
	email = normalizeEmail(email)

	if err := validateEmail(email); err != nil {
		return "", err
	}
	if err := validateUsername(username); err != nil {
		return "", err
	}
	if err := validateFullname(fullname); err != nil {
		return "", err
	}
	if err := validatePassword(password); err != nil {
		return "", err
	}

	id, err := s.NewID()
	if err != nil {
		return "", fmt.Errorf("identity id: %w", err)
	}
	span.SetAttributes(attribute.String("identity.id", id))

	done := s.Index.holdShared()
	defer done()

	values := map[domain.Field]string{domain.FieldUsername: username, domain.FieldEmail: email}
	reserved, err := s.reserve(ctx, id, values)
	if err != nil {
		return "", err
	}

	hash, err := s.Hasher.Hash(password)
	if err != nil {
		s.release(ctx, id, reserved)
		return "", err
	}
	ident := &domain.Identity{
		ID:           id,
		Username:     username,
		Fullname:     fullname,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		RegisteredAt: s.Now().UTC().Truncate(time.Second),
	}
	if err := s.Primary.HSet(ctx, domain.UserKey(id), ident.Encode()); err != nil {
		s.release(ctx, id, reserved)
		return "", err
	}
	if err := s.Index.IndexOne(ctx, id); err != nil {
		s.rollbackRecord(ctx, id)
		s.release(ctx, id, reserved)
		return "", err
	}

	token, err = s.Sessions.IssueOrRotate(ctx, id)
	if err != nil {
		return "", err
	}
	zerolog.Ctx(ctx).Info().Str("identity_id", id).Msg("identity registered")
	return token, nil
}

// reserve claims every value for id. On a collision or a store failure the
// reservations made so far are released.
func (s *IdentityService) reserve(ctx context.Context, id string, values map[domain.Field]string) (map[domain.Field]string, error) {
	reserved := make(map[domain.Field]string, len(values))
	for _, f := range indexedFields {
		v, ok := values[f]
		if !ok {
			continue
		}
		won, err := s.Index.Reserve(ctx, f, v, id)
		if err != nil {
			s.release(ctx, id, reserved)
			return nil, err
		}
		if !won {
			s.release(ctx, id, reserved)
			return nil, takenErr(f)
		}
		reserved[f] = v
	}
	return reserved, nil
}

func (s *IdentityService) release(ctx context.Context, id string, reserved map[domain.Field]string) {
	ctx = context.WithoutCancel(ctx)
	for f, v := range reserved {
		if err := s.Index.Release(ctx, f, v, id); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("identity_id", id).Str("field", string(f)).
				Msg("release reservation failed")
		}
	}
}

func (s *IdentityService) rollbackRecord(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	fields := []string{
		string(domain.FieldUsername), string(domain.FieldFullname), string(domain.FieldAbout),
		string(domain.FieldEmail), string(domain.FieldPasswordHash), string(domain.FieldRole),
		string(domain.FieldRegisteredAt),
	}
	if err := s.Primary.HDel(ctx, domain.UserKey(id), fields...); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("identity_id", id).Msg("rollback of identity record failed")
	}
}

// Login authenticates by email or username and returns a fresh token. An
// unknown identifier and a wrong password both yield ErrLoginFailed and cost
// one full hash verification.
func (s *IdentityService) Login(ctx context.Context, primary, password string) (token string, err error) {
	ctx, span := tracer().Start(ctx, "Login")
	defer span.End()
	defer func() { identityOps.WithLabelValues("login", opResult(err)).Inc() }()

	primary = strings.TrimSpace(primary)
	if err := checkLen("login", primary, 1, domain.LoginMaxLen); err != nil {
		return "", err
	}
	if err := checkLen("password", password, 1, domain.PasswordMaxLen); err != nil {
		return "", err
	}

	id, found, err := s.Index.Lookup(ctx, domain.FieldEmail, normalizeEmail(primary))
	if err != nil {
		return "", err
	}
	if !found {
		id, found, err = s.Index.Lookup(ctx, domain.FieldUsername, normalizeText(primary))
		if err != nil {
			return "", err
		}
	}
	if !found {
		s.Hasher.VerifyDummy(password)
		return "", ErrLoginFailed
	}

	if err := s.verify(ctx, id, password); err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("identity.id", id))
	return s.Sessions.IssueOrRotate(ctx, id)
}

// verify checks password against the stored hash of id. A missing record
// (stale index entry) is reported as ErrLoginFailed.
func (s *IdentityService) verify(ctx context.Context, id, password string) error {
	hash, err := s.Primary.HGet(ctx, domain.UserKey(id), string(domain.FieldPasswordHash))
	if errors.Is(err, store.ErrNil) {
		s.Hasher.VerifyDummy(password)
		return ErrLoginFailed
	}
	if err != nil {
		return err
	}
	ok, err := s.Hasher.Verify(password, hash)
	if err != nil {
		return fmt.Errorf("identity %s: %w", id, err)
	}
	if !ok {
		return ErrLoginFailed
	}
	return nil
}

// load reads and decodes the record of id.
func (s *IdentityService) load(ctx context.Context, id string) (*domain.Identity, error) {
	h, err := s.Primary.HGetAll(ctx, domain.UserKey(id))
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	return domain.DecodeIdentity(id, h)
}

// GetProfile returns every field of id except the password hash.
func (s *IdentityService) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	id, err := domain.ParseIdentityID(id)
	if err != nil {
		return domain.Profile{}, invalid("%v", err)
	}
	ident, err := s.load(ctx, id)
	if err != nil {
		return domain.Profile{}, err
	}
	return ident.Profile(), nil
}

// Update applies changes to the mutable profile fields of id. Every value is
// validated before anything is written. Username and email changes reserve
// the new value first and move the index entry after the record write.
func (s *IdentityService) Update(ctx context.Context, id string, changes map[domain.Field]string) (err error) {
	ctx, span := tracer().Start(ctx, "Update",
		trace.WithAttributes(attribute.String("identity.id", id), attribute.Int("fields", len(changes))))
	defer span.End()
	defer func() { identityOps.WithLabelValues("update", opResult(err)).Inc() }()

	id, err = domain.ParseIdentityID(id)
	if err != nil {
		return invalid("%v", err)
	}

	next := make(map[domain.Field]string, len(changes))
	for f, v := range changes {
		if !f.Settable() {
			return invalid("field %s cannot be updated", f)
		}
		v = normalizeField(f, v)
		if err := validateField(f, v); err != nil {
			return err
		}
		next[f] = v
	}
	if len(next) == 0 {
		return nil
	}

	done := s.Index.holdShared()
	defer done()
	unlock := s.locks.lock(id)
	defer unlock()

	cur, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	old := cur.Encode()

	claims := make(map[domain.Field]string)
	write := make(map[string]string, len(next))
	for f, v := range next {
		if old[string(f)] == v {
			continue
		}
		write[string(f)] = v
		if f.Indexed() {
			claims[f] = v
		}
	}
	if len(write) == 0 {
		return nil
	}

	reserved, err := s.reserve(ctx, id, claims)
	if err != nil {
		return err
	}
	// The indexed fields must still hold the values the index is moved
	// away from, otherwise a concurrent writer's entry would be orphaned.
	key := domain.UserKey(id)
	batch := store.NewBatch()
	for f := range claims {
		if prev := old[string(f)]; prev != "" {
			batch.ExpectValue(key, string(f), prev)
		} else {
			batch.ExpectAbsent(key, string(f))
		}
	}
	for f, v := range write {
		batch.Set(key, f, v)
	}
	if err := s.Primary.Exec(ctx, batch); err != nil {
		s.release(ctx, id, reserved)
		if errors.Is(err, store.ErrConflict) {
			zerolog.Ctx(ctx).Warn().Str("identity_id", id).Msg("identity changed during update")
			return fmt.Errorf("identity %s changed concurrently: %w", id, err)
		}
		return err
	}
	for _, f := range indexedFields {
		v, ok := claims[f]
		if !ok {
			continue
		}
		if err := s.Index.ReindexField(ctx, f, id, old[string(f)], v); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("identity_id", id).Str("field", string(f)).
				Msg("reindex after update failed; a full rebuild will repair it")
			return err
		}
	}
	zerolog.Ctx(ctx).Info().Str("identity_id", id).Int("fields", len(write)).Msg("identity updated")
	return nil
}

// VerifyPassword checks password against the stored hash of id.
func (s *IdentityService) VerifyPassword(ctx context.Context, id, password string) error {
	if _, err := domain.ParseIdentityID(id); err != nil {
		return invalid("%v", err)
	}
	if err := checkLen("password", password, 1, domain.PasswordMaxLen); err != nil {
		return err
	}
	return s.verify(ctx, id, password)
}

// SetPassword replaces the password of id. Callers are expected to have
// re-authenticated the user with VerifyPassword.
func (s *IdentityService) SetPassword(ctx context.Context, id, password string) (err error) {
	ctx, span := tracer().Start(ctx, "SetPassword",
		trace.WithAttributes(attribute.String("identity.id", id)))
	defer span.End()
	defer func() { identityOps.WithLabelValues("set_password", opResult(err)).Inc() }()

	id, err = domain.ParseIdentityID(id)
	if err != nil {
		return invalid("%v", err)
	}
	if err := validatePassword(password); err != nil {
		return err
	}
	ok, err := s.Primary.Exists(ctx, domain.UserKey(id))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return err
	}
	return s.Primary.HSet(ctx, domain.UserKey(id), map[string]string{string(domain.FieldPasswordHash): hash})
}

// idLocks serializes updates of one identity within the process. Entries
// live only while someone holds or waits for them.
type idLocks struct {
	mu sync.Mutex
	m  map[string]*idLock
}

type idLock struct {
	sync.Mutex
	refs int
}

func (l *idLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*idLock)
	}
	e, ok := l.m[id]
	if !ok {
		e = &idLock{}
		l.m[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.Lock()
	return func() {
		e.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
