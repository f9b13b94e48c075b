package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"
)

// RedisOptions selects one logical store on a Redis server.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore is a Store backed by a single Redis database number.
type RedisStore struct {
	client *redis.Client
}

// execScript applies a Batch atomically on the server.
//
// KEYS holds the key of every precondition followed by the key of every op.
// ARGV[1] and ARGV[2] are the precondition and op counts, followed by
// (mode, field, value) triples for preconditions and (kind, field, value)
// triples for ops. Returns 1 when applied and 0 when a precondition failed.
var execScript = redis.NewScript(`
local ne = tonumber(ARGV[1])
local no = tonumber(ARGV[2])
local a = 3
for i = 1, ne do
  local mode, field, want = ARGV[a], ARGV[a + 1], ARGV[a + 2]
  a = a + 3
  local cur = redis.call('HGET', KEYS[i], field)
  if mode == 'absent' then
    if cur then return 0 end
  elseif cur ~= want then
    return 0
  end
end
for j = 1, no do
  local kind, field, val = ARGV[a], ARGV[a + 1], ARGV[a + 2]
  a = a + 3
  local key = KEYS[ne + j]
  if kind == 'set' then
    redis.call('HSET', key, field, val)
  else
    redis.call('HDEL', key, field)
  end
end
return 1
`)

// OpenRedis connects to the logical store described by opt and verifies the
// connection with a PING.
func OpenRedis(ctx context.Context, opt RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opt.Addr,
		Password: opt.Password,
		DB:       opt.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("store: redis %s db %d: %w", opt.Addr, opt.DB, err)
	}
	return NewRedisStore(client), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		panic("store: redis client cannot be nil")
	}
	return &RedisStore{client: client}
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNil
	}
	if err != nil {
		return "", fmt.Errorf("store: hget %s %s: %w", key, field, err)
	}
	return v, nil
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("store: hgetall %s: %w", key, err)
	}
	return m, nil
}

func (s *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	if err := s.client.HSet(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("store: hset %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	ok, err := s.client.HSetNX(ctx, key, field, value).Result()
	if err != nil {
		return false, fmt.Errorf("store: hsetnx %s %s: %w", key, field, err)
	}
	return ok, nil
}

func (s *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("store: hdel %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) HExists(ctx context.Context, key, field string) (bool, error) {
	ok, err := s.client.HExists(ctx, key, field).Result()
	if err != nil {
		return false, fmt.Errorf("store: hexists %s %s: %w", key, field, err)
	}
	return ok, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("store: exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	iter := s.client.Scan(ctx, 0, globEscape(prefix)+"*", 500).Iterator()
	for iter.Next(ctx) {
		seen[iter.Val()] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("store: scan %s*: %w", prefix, err)
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisStore) FlushAll(ctx context.Context) error {
	if err := s.client.FlushDB(ctx).Err(); err != nil {
		return fmt.Errorf("store: flushdb: %w", err)
	}
	return nil
}

func (s *RedisStore) Exec(ctx context.Context, b *Batch) error {
	if b == nil || (len(b.Ops) == 0 && len(b.Expects) == 0) {
		return nil
	}
	keys := make([]string, 0, len(b.Expects)+len(b.Ops))
	args := make([]interface{}, 0, 2+3*(len(b.Expects)+len(b.Ops)))
	args = append(args, len(b.Expects), len(b.Ops))
	for _, e := range b.Expects {
		mode := "eq"
		if e.Absent {
			mode = "absent"
		}
		keys = append(keys, e.Key)
		args = append(args, mode, e.Field, e.Value)
	}
	for _, op := range b.Ops {
		keys = append(keys, op.Key)
		args = append(args, string(op.Kind), op.Field, op.Value)
	}

	applied, err := execScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("store: exec batch: %w", err)
	}
	if applied != 1 {
		return ErrConflict
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisStore) Close() error { return s.client.Close() }

// globEscape escapes Redis MATCH metacharacters so prefix is matched literally.
func globEscape(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
