// Package cache implements the stale-while-revalidate substrate shared by
// schema discovery, value converters, and manifest storage. It is backed
// by Redis (github.com/redis/go-redis/v9) and de-duplicates concurrent
// refreshes of the same key with golang.org/x/sync/singleflight.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	jmlerrors "github.com/jira-magic-library/jml/pkg/errors"
)

// Namespace prefixes used by the library. Clear(ctx, "") clears every
// namespace; Clear(ctx, ns) clears only keys under that prefix.
const (
	NamespaceSchema   = "jml:schema:"
	NamespaceLookup   = "jml:lookup:"
	NamespaceProjects = "jml:projects:"
	NamespaceProject  = "jml:project:"
	NamespaceManifest = "bulk:manifest:"
)

// Store is the cache substrate contract. Implementations must never
// return an error from Get/Set/Clear for a backing-store outage: they log
// and degrade (get -> miss, set/clear -> no-op), per the library's
// propagation policy. RefreshOnce is the exception: fn's own error always
// propagates, since no value exists to serve in that case.
type Store interface {
	// Get returns the cached value for key. ok is false when no value
	// exists within the hard-expiry window. stale is true once the
	// value's soft-expiry has passed; callers needing strict freshness
	// pass rejectStale=true, which makes a stale hit behave like a miss.
	Get(ctx context.Context, key string, rejectStale bool) (value []byte, ok bool, stale bool)

	// Set writes value under key with the given soft TTL; the hard
	// expiry (and therefore the key's lifetime in Redis) is 2*ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// RefreshOnce runs fn at most once concurrently per key across the
	// process. A second concurrent caller for the same key joins the
	// in-flight call and observes its result.
	RefreshOnce(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) ([]byte, error)) ([]byte, error)

	// Clear removes every key under the given namespace prefix. An empty
	// prefix clears every jml/bulk-manifest namespace.
	Clear(ctx context.Context, namespacePrefix string) error

	// Ping probes the backing store.
	Ping(ctx context.Context) error
}

// entry is the JSON envelope stored as the Redis value, carrying the
// soft/hard expiry alongside the opaque payload so a single GET call can
// answer both "what's the value" and "is it stale".
type entry struct {
	Value      []byte    `json:"value"`
	SoftExpiry time.Time `json:"soft_expiry"`
	HardExpiry time.Time `json:"hard_expiry"`
}

// RedisStore implements Store over a redis.UniversalClient.
type RedisStore struct {
	client redis.UniversalClient
	log    logr.Logger
	group  singleflight.Group
}

// NewRedisStore constructs a Store. log may be the zero logr.Logger
// (discards everything) when the caller doesn't want cache diagnostics.
func NewRedisStore(client redis.UniversalClient, log logr.Logger) *RedisStore {
	return &RedisStore{client: client, log: log}
}

func (s *RedisStore) Get(ctx context.Context, key string, rejectStale bool) ([]byte, bool, bool) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, false
	}
	if err != nil {
		s.log.Error(err, "cache get failed, treating as miss", "key", key)
		return nil, false, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		s.log.Error(err, "cache entry corrupt, treating as miss", "key", key)
		return nil, false, false
	}

	now := time.Now()
	if now.After(e.HardExpiry) {
		return nil, false, false
	}
	stale := now.After(e.SoftExpiry)
	if stale && rejectStale {
		return nil, false, false
	}
	return e.Value, true, stale
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	now := time.Now()
	e := entry{
		Value:      value,
		SoftExpiry: now.Add(ttl),
		HardExpiry: now.Add(2 * ttl),
	}
	raw, err := json.Marshal(e)
	if err != nil {
		s.log.Error(err, "failed to marshal cache entry", "key", key)
		return
	}
	if err := s.client.Set(ctx, key, raw, 2*ttl).Err(); err != nil {
		s.log.Error(err, "cache set failed, continuing without caching", "key", key)
	}
}

func (s *RedisStore) RefreshOnce(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	v, err, _ := s.group.Do(key, func() (any, error) {
		value, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		s.Set(ctx, key, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *RedisStore) Clear(ctx context.Context, namespacePrefix string) error {
	if namespacePrefix == "" {
		for _, prefix := range []string{"jml:", NamespaceManifest} {
			_ = s.Clear(ctx, prefix)
		}
		return nil
	}
	pattern := namespacePrefix + "*"

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			s.log.Error(err, "cache clear scan failed, aborting without error to caller", "prefix", namespacePrefix)
			return nil
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				s.log.Error(err, "cache clear delete failed", "prefix", namespacePrefix)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return jmlerrors.CacheErrorVariant("cache backing store unreachable", err)
	}
	return nil
}
