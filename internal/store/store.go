// Package store implements the primitive hash-map store used by the identity
// layer. Two logical stores are used at runtime: the Primary store, holding
// authoritative identity and session records, and the Index store, holding
// derived lookup hashes that can always be rebuilt from the Primary store.
//
// Every backend exposes the same Store contract:
//
//   - field-level and whole-record reads (HGet, HGetAll)
//   - multi-field writes applied atomically per key (HSet)
//   - conditional "set if absent" for uniqueness reservations (HSetNX)
//   - prefix scans over keys (ScanPrefix)
//   - flushing of the whole logical store (FlushAll)
//   - atomic batches of set/delete operations guarded by preconditions (Exec)
//
// Backends:
//   - RedisStore: one Redis database number per logical store (go-redis/v8)
//   - GormStore:  rows in a kv_entries table, one namespace per logical store
//     (SQLite via glebarez/sqlite, PostgreSQL via gorm.io/driver/postgres)
package store

import (
	"context"
	"errors"
)

var (
	// ErrNil is returned by HGet when the key or field does not exist.
	ErrNil = errors.New("store: nil")

	// ErrConflict is returned by Exec when a batch precondition does not hold.
	// No operation of the batch has been applied in that case.
	ErrConflict = errors.New("store: batch precondition failed")
)

// Store is the primitive hash-map store contract.
//
// Implementations must be safe for concurrent use.
type Store interface {
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetNX(ctx context.Context, key, field, value string) (bool, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HExists(ctx context.Context, key, field string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)

	// ScanPrefix returns every key starting with prefix, sorted and without
	// duplicates.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	// FlushAll removes every key of this logical store.
	FlushAll(ctx context.Context) error

	// Exec applies b atomically. When any precondition fails it returns
	// ErrConflict and leaves the store untouched.
	Exec(ctx context.Context, b *Batch) error

	Ping(ctx context.Context) error
	Close() error
}

// OpKind enumerates batch operations.
type OpKind string

const (
	OpSet OpKind = "set"
	OpDel OpKind = "del"
)

// Op is a single field write or delete inside a Batch.
type Op struct {
	Kind  OpKind
	Key   string
	Field string
	Value string
}

// Expect is a batch precondition on a single hash field. When Absent is true
// the field must not exist; otherwise it must hold exactly Value.
type Expect struct {
	Key    string
	Field  string
	Value  string
	Absent bool
}

// Batch groups operations that must be applied together.
type Batch struct {
	Expects []Expect
	Ops     []Op
}

// NewBatch returns an empty batch.
func NewBatch() *Batch { return &Batch{} }

// Set appends a field write.
func (b *Batch) Set(key, field, value string) *Batch {
	b.Ops = append(b.Ops, Op{Kind: OpSet, Key: key, Field: field, Value: value})
	return b
}

// Del appends a field delete.
func (b *Batch) Del(key, field string) *Batch {
	b.Ops = append(b.Ops, Op{Kind: OpDel, Key: key, Field: field})
	return b
}

// ExpectValue requires key/field to currently hold value.
func (b *Batch) ExpectValue(key, field, value string) *Batch {
	b.Expects = append(b.Expects, Expect{Key: key, Field: field, Value: value})
	return b
}

// ExpectAbsent requires key/field to not exist.
func (b *Batch) ExpectAbsent(key, field string) *Batch {
	b.Expects = append(b.Expects, Expect{Key: key, Field: field, Absent: true})
	return b
}

// Empty reports whether the batch carries no operations.
func (b *Batch) Empty() bool { return b == nil || len(b.Ops) == 0 }
