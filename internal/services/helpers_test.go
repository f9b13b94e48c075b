package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-identity-backend/internal/store"
)

// testRounds keeps hashing cheap in tests.
const testRounds = 1000

type testEnv struct {
	primary  store.Store
	index    store.Store
	builder  *IndexBuilder
	sessions *SessionService
	svc      *IdentityService
}

func wire(primary, index store.Store) *testEnv {
	b := NewIndexBuilder(primary, index)
	sess := NewSessionService(primary)
	svc := NewIdentityService(primary, b, sess, NewPasswordHasher(testRounds, nil, false))
	return &testEnv{primary: primary, index: index, builder: b, sessions: sess, svc: svc}
}

func newRedisEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	primary := store.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr(), DB: 0}))
	index := store.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr(), DB: 1}))
	t.Cleanup(func() {
		_ = primary.Close()
		_ = index.Close()
	})
	return wire(primary, index)
}

func newSQLiteEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := store.OpenSQLite(fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return wire(store.NewGormStore(db, store.NamespacePrimary), store.NewGormStore(db, store.NamespaceIndex))
}

var envs = map[string]func(t *testing.T) *testEnv{
	"redis":  newRedisEnv,
	"sqlite": newSQLiteEnv,
}

func (e *testEnv) mustRegister(t *testing.T, username, email string) string {
	t.Helper()
	tok, err := e.svc.Register(context.Background(), username, "Test User", email, "secret-pw")
	require.NoError(t, err)
	id, err := e.sessions.Resolve(context.Background(), tok)
	require.NoError(t, err)
	return id
}

var errBoom = errors.New("boom")

// flakyStore fails selected operations.
type flakyStore struct {
	store.Store
	failHSetNX bool
	failExec   bool
	failHSet   bool
	failFlush  bool
	failScan   bool

	// beforeExec runs once, ahead of the next Exec.
	beforeExec func()
}

func (f *flakyStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	if f.failScan {
		return nil, errBoom
	}
	return f.Store.ScanPrefix(ctx, prefix)
}

func (f *flakyStore) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	if f.failHSetNX {
		return false, errBoom
	}
	return f.Store.HSetNX(ctx, key, field, value)
}

func (f *flakyStore) Exec(ctx context.Context, b *store.Batch) error {
	if f.failExec {
		return errBoom
	}
	if hook := f.beforeExec; hook != nil {
		f.beforeExec = nil
		hook()
	}
	return f.Store.Exec(ctx, b)
}

func (f *flakyStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if f.failHSet {
		return errBoom
	}
	return f.Store.HSet(ctx, key, fields)
}

func (f *flakyStore) FlushAll(ctx context.Context) error {
	if f.failFlush {
		return errBoom
	}
	return f.Store.FlushAll(ctx)
}
