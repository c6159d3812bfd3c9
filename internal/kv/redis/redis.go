// Package redis implements kv.Store on top of Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vovakirdan/viewing-server/internal/kv"
)

// Options configures the Redis client. Zero durations and retries keep the
// go-redis defaults. Retries are bounded and use exponential backoff between
// MinRetryBackoff and MaxRetryBackoff.
type Options struct {
	URL             string
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

// pruneScript removes index members whose record key no longer exists.
// KEYS[1] is the index, KEYS[2..n] the record keys, ARGV the members.
var pruneScript = goredis.NewScript(`
local removed = 0
for i = 2, #KEYS do
	if redis.call('EXISTS', KEYS[i]) == 0 then
		removed = removed + redis.call('SREM', KEYS[1], ARGV[i - 1])
	end
end
return removed
`)

// Store is a Redis-backed kv.Store.
type Store struct {
	rdb goredis.UniversalClient
}

var _ kv.Store = (*Store)(nil)

// New connects to the Redis instance at opts.URL. The connection is lazy;
// call Ping to verify reachability.
func New(opts Options) (*Store, error) {
	ro, err := goredis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.MaxRetries != 0 {
		ro.MaxRetries = opts.MaxRetries
	}
	if opts.MinRetryBackoff != 0 {
		ro.MinRetryBackoff = opts.MinRetryBackoff
	}
	if opts.MaxRetryBackoff != 0 {
		ro.MaxRetryBackoff = opts.MaxRetryBackoff
	}
	if opts.DialTimeout != 0 {
		ro.DialTimeout = opts.DialTimeout
	}
	if opts.ReadTimeout != 0 {
		ro.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout != 0 {
		ro.WriteTimeout = opts.WriteTimeout
	}
	return NewFromClient(goredis.NewClient(ro)), nil
}

// NewFromClient wraps an existing client. Close closes the client.
func NewFromClient(rdb goredis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// SetEx issues a single SET with expiry so the value never exists without
// its TTL.
func (s *Store) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) GetMany(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return [][]byte{}, nil
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		switch val := v.(type) {
		case string:
			out[i] = []byte(val)
		case []byte:
			out[i] = val
		}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// IndexAdd adds member and refreshes the index expiry in one transaction.
func (s *Store) IndexAdd(ctx context.Context, index, member string, ttl time.Duration) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.SAdd(ctx, index, member)
		pipe.PExpire(ctx, index, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis index add %s: %w", index, err)
	}
	return nil
}

func (s *Store) IndexMembers(ctx context.Context, index string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", index, err)
	}
	return members, nil
}

func (s *Store) IndexRemove(ctx context.Context, index string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.rdb.SRem(ctx, index, args...).Err(); err != nil {
		return fmt.Errorf("redis srem %s: %w", index, err)
	}
	return nil
}

// IndexPrune runs the existence check and SREM server side in one script.
func (s *Store) IndexPrune(ctx context.Context, index string, members map[string]string) (int, error) {
	if len(members) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(members)+1)
	args := make([]any, 0, len(members))
	keys = append(keys, index)
	for member, key := range members {
		keys = append(keys, key)
		args = append(args, member)
	}
	n, err := pruneScript.Run(ctx, s.rdb, keys, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("redis index prune %s: %w", index, err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
