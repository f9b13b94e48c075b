package main

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tbourn/go-identity-backend/internal/config"
	"github.com/tbourn/go-identity-backend/internal/ratelimit"
	"github.com/tbourn/go-identity-backend/internal/services"
	"github.com/tbourn/go-identity-backend/internal/store"
)

// stores holds the two logical stores and releases their connections.
type stores struct {
	primary store.Store
	index   store.Store
	close   func() error
}

// openStores connects the Primary and Index stores of the configured backend.
func openStores(ctx context.Context, sc config.StoreConfig) (*stores, error) {
	switch sc.Backend {
	case config.BackendRedis:
		primary, err := store.OpenRedis(ctx, store.RedisOptions(sc.RedisPrimary))
		if err != nil {
			return nil, err
		}
		index, err := store.OpenRedis(ctx, store.RedisOptions(sc.RedisIndex))
		if err != nil {
			_ = primary.Close()
			return nil, err
		}
		return &stores{
			primary: primary,
			index:   index,
			close:   func() error { return errors.Join(primary.Close(), index.Close()) },
		}, nil

	case config.BackendSQLite, config.BackendPostgres:
		var (
			db  *gorm.DB
			err error
		)
		if sc.Backend == config.BackendSQLite {
			db, err = store.OpenSQLite(sc.SQLitePath)
		} else {
			db, err = store.OpenPostgres(sc.PostgresDSN)
		}
		if err != nil {
			return nil, fmt.Errorf("store: open %s: %w", sc.Backend, err)
		}
		closeDB := func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		}
		if err := store.AutoMigrate(db); err != nil {
			return nil, errors.Join(fmt.Errorf("store: migrate: %w", err), closeDB())
		}
		return &stores{
			primary: store.NewGormStore(db, store.NamespacePrimary),
			index:   store.NewGormStore(db, store.NamespaceIndex),
			close:   closeDB,
		}, nil
	}
	return nil, fmt.Errorf("store: unknown backend %q", sc.Backend)
}

// app is the dependency graph built once per process.
type app struct {
	stores   *stores
	builder  *services.IndexBuilder
	sessions *services.SessionService
	identity *services.IdentityService
}

func newApp(c config.Config, st *stores) *app {
	b := services.NewIndexBuilder(st.primary, st.index)
	sess := services.NewSessionService(st.primary)
	hasher := services.NewPasswordHasher(c.Hash.Rounds, []byte(c.Hash.Salt), c.Hash.LegacyGlobalSalt)
	return &app{
		stores:   st,
		builder:  b,
		sessions: sess,
		identity: services.NewIdentityService(st.primary, b, sess, hasher),
	}
}

// limiters builds the per-IP and per-token rate limiters.
func limiters(rc config.RateLimitConfig) (ip, token ratelimit.Limiter, err error) {
	alg := ratelimit.Algorithm(rc.Algorithm)
	if ip, err = ratelimit.New(alg, rc.IP.Capacity, rc.IP.Window); err != nil {
		return nil, nil, err
	}
	if token, err = ratelimit.New(alg, rc.Token.Capacity, rc.Token.Window); err != nil {
		return nil, nil, err
	}
	return ip, token, nil
}
