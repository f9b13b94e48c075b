package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// writeChunk bounds the rows of one INSERT or DELETE statement. SQLite
// rejects statements with more than 32766 bind variables.
const writeChunk = 500

// Namespaces used by the two logical stores when they share one database.
const (
	NamespacePrimary = "primary"
	NamespaceIndex   = "index"
)

// Entry is a single hash field. The (namespace, hash_key, field_name) triple
// is the primary key, so a logical hash is the set of rows sharing a key.
type Entry struct {
	Namespace string `gorm:"column:namespace;type:varchar(32);primaryKey"`
	Key       string `gorm:"column:hash_key;type:varchar(255);primaryKey"`
	Field     string `gorm:"column:field_name;type:varchar(512);primaryKey"`
	Value     string `gorm:"column:field_value;type:text;not null"`
}

// TableName implements the GORM tabler interface.
func (Entry) TableName() string { return "kv_entries" }

// OpenSQLite opens (or creates) a SQLite database, applies PRAGMAs and
// installs the tracing plugin.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if the parent directory does not exist instead of surfacing
	// sqlite's "out of memory (14)".
	if !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, err
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	if sqlDB, err := db.DB(); err == nil {
		maxOpen := 10
		// Shared-cache memory databases report SQLITE_LOCKED on concurrent
		// writers instead of waiting on busy_timeout.
		if strings.Contains(path, "mode=memory") {
			maxOpen = 1
		}
		sqlDB.SetMaxOpenConns(maxOpen)
		sqlDB.SetMaxIdleConns(maxOpen)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenPostgres opens a PostgreSQL database from a DSN.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates the kv_entries table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Entry{})
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
}

// GormStore is a Store persisted in a SQL table through GORM. Several
// GormStores may share one database as long as their namespaces differ.
type GormStore struct {
	db *gorm.DB
	ns string

	// mu serializes batches so that precondition checks and writes of one
	// batch are not interleaved with another batch from this process.
	mu sync.Mutex
}

// NewGormStore returns the logical store named namespace inside db.
func NewGormStore(db *gorm.DB, namespace string) *GormStore {
	if db == nil {
		panic("store: gorm db cannot be nil")
	}
	return &GormStore{db: db, ns: namespace}
}

func (s *GormStore) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := s.get(s.db.WithContext(ctx), key, field)
	if err != nil && !errors.Is(err, ErrNil) {
		return "", fmt.Errorf("store: hget %s %s: %w", key, field, err)
	}
	return v, err
}

func (s *GormStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var rows []Entry
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND hash_key = ?", s.ns, key).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: hgetall %s: %w", key, err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Field] = r.Value
	}
	return out, nil
}

func (s *GormStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	rows := make([]Entry, 0, len(fields))
	for f, v := range fields {
		rows = append(rows, Entry{Namespace: s.ns, Key: key, Field: f, Value: v})
	}
	if err := s.upsert(s.db.WithContext(ctx), rows); err != nil {
		return fmt.Errorf("store: hset %s: %w", key, err)
	}
	return nil
}

func (s *GormStore) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Entry{Namespace: s.ns, Key: key, Field: field, Value: value})
	if res.Error != nil {
		return false, fmt.Errorf("store: hsetnx %s %s: %w", key, field, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.del(s.db.WithContext(ctx), key, fields...); err != nil {
		return fmt.Errorf("store: hdel %s: %w", key, err)
	}
	return nil
}

func (s *GormStore) HExists(ctx context.Context, key, field string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("namespace = ? AND hash_key = ? AND field_name = ?", s.ns, key, field).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("store: hexists %s %s: %w", key, field, err)
	}
	return n > 0, nil
}

func (s *GormStore) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("namespace = ? AND hash_key = ?", s.ns, key).
		Limit(1).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("store: exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *GormStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Distinct("hash_key").
		Where("namespace = ? AND hash_key LIKE ? ESCAPE '\\'", s.ns, likeEscape(prefix)+"%").
		Order("hash_key").
		Pluck("hash_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("store: scan %s*: %w", prefix, err)
	}
	return keys, nil
}

func (s *GormStore) FlushAll(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Where("namespace = ?", s.ns).
		Delete(&Entry{}).Error
	if err != nil {
		return fmt.Errorf("store: flush %s: %w", s.ns, err)
	}
	return nil
}

func (s *GormStore) Exec(ctx context.Context, b *Batch) error {
	if b == nil || (len(b.Ops) == 0 && len(b.Expects) == 0) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range b.Expects {
			cur, err := s.get(tx, e.Key, e.Field)
			switch {
			case errors.Is(err, ErrNil):
				if !e.Absent {
					return ErrConflict
				}
			case err != nil:
				return err
			case e.Absent || cur != e.Value:
				return ErrConflict
			}
		}
		for _, op := range b.Ops {
			var err error
			switch op.Kind {
			case OpSet:
				err = s.upsert(tx, []Entry{{Namespace: s.ns, Key: op.Key, Field: op.Field, Value: op.Value}})
			case OpDel:
				err = s.del(tx, op.Key, op.Field)
			default:
				err = fmt.Errorf("unknown op %q", op.Kind)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("store: exec batch: %w", err)
	}
	return err
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close is a no-op: the *gorm.DB is shared between logical stores and is
// closed by its owner.
func (s *GormStore) Close() error { return nil }

func (s *GormStore) get(db *gorm.DB, key, field string) (string, error) {
	var e Entry
	err := db.Where("namespace = ? AND hash_key = ? AND field_name = ?", s.ns, key, field).
		Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNil
	}
	if err != nil {
		return "", err
	}
	return e.Value, nil
}

// upsert writes rows in chunks of writeChunk. More than one chunk runs in a
// transaction so the hash is written all or nothing.
func (s *GormStore) upsert(db *gorm.DB, rows []Entry) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "hash_key"}, {Name: "field_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"field_value"}),
	}).CreateInBatches(&rows, writeChunk).Error
}

func (s *GormStore) del(db *gorm.DB, key string, fields ...string) error {
	if len(fields) <= writeChunk {
		return s.delChunk(db, key, fields)
	}
	return db.Transaction(func(tx *gorm.DB) error {
		for i := 0; i < len(fields); i += writeChunk {
			end := min(i+writeChunk, len(fields))
			if err := s.delChunk(tx, key, fields[i:end]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) delChunk(db *gorm.DB, key string, fields []string) error {
	return db.Where("namespace = ? AND hash_key = ? AND field_name IN ?", s.ns, key, fields).
		Delete(&Entry{}).Error
}

// likeEscape escapes LIKE wildcards so prefix is matched literally.
func likeEscape(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix)
}
