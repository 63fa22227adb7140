// Package naredisstore implements nastore's `Backend` interface on Redis. Items
// live under a key prefix ending in `:`, so a single Redis database can be
// shared by several consoles configured with different prefixes. Prefixes
// shouldn't nest (like `neoadmin` and `neoadmin:staging`) since the outer one
// would list the inner one's keys.
package naredisstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/xerrors"

	"github.com/brandur/neoadmin/internal/nastore"
)

const (
	// Delimiter is appended to a prefix that doesn't already end in it.
	Delimiter = ":"

	scanCount = 100
)

type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the Redis server at url (like
// `redis://localhost:6379/0`) and pings it to make sure it's reachable. An
// empty prefix uses the whole database.
func NewRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, xerrors.Errorf("error parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Errorf("error pinging redis: %w", err)
	}

	return &RedisStore{client: client, prefix: normalizePrefix(prefix)}, nil
}

func normalizePrefix(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, Delimiter) {
		return prefix
	}
	return prefix + Delimiter
}

// Produces a SCAN pattern matching every key under prefix, with any glob
// characters in the prefix itself escaped.
func scanPattern(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	b.WriteString("*")
	return b.String()
}

func (s *RedisStore) Close() error {
	return s.client.Close() //nolint:wrapcheck
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

func (s *RedisStore) GetItem(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nastore.ErrKeyNotFound
		}

		return nil, xerrors.Errorf("error getting item: %w", err)
	}

	return data, nil
}

// SetItem stores data with no Redis-level TTL. Expiry is carried inside the
// record itself and enforced by nastore so that every backend behaves the same.
func (s *RedisStore) SetItem(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.key(key), data, 0).Err(); err != nil {
		return xerrors.Errorf("error setting item: %w", err)
	}

	return nil
}

func (s *RedisStore) RemoveItem(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return xerrors.Errorf("error deleting item: %w", err)
	}

	return nil
}

func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	fullKeys, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(fullKeys))
	for i, fullKey := range fullKeys {
		keys[i] = strings.TrimPrefix(fullKey, s.prefix)
	}

	return keys, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	fullKeys, err := s.scan(ctx)
	if err != nil {
		return err
	}

	if len(fullKeys) < 1 {
		return nil
	}

	if err := s.client.Del(ctx, fullKeys...).Err(); err != nil {
		return xerrors.Errorf("error deleting items: %w", err)
	}

	return nil
}

// Scans for every key under the store's prefix. SCAN may return a key more
// than once, so results are deduplicated.
func (s *RedisStore) scan(ctx context.Context) ([]string, error) {
	var (
		iter = s.client.Scan(ctx, 0, scanPattern(s.prefix), scanCount).Iterator()
		keys []string
		seen = make(map[string]struct{})
	)

	for iter.Next(ctx) {
		key := iter.Val()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	if err := iter.Err(); err != nil {
		return nil, xerrors.Errorf("error scanning keys: %w", err)
	}

	return keys, nil
}
