package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "categorizer:cache"

// RedisStore keeps each entry as a JSON document with a separate hit counter key
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to addr and verifies the connection
func NewRedisStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisStoreFromClient(client, prefix), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) entryKey(key string) string { return s.prefix + ":entry:" + key }
func (s *RedisStore) hitsKey(key string) string  { return s.prefix + ":hits:" + key }

func (s *RedisStore) Load(ctx context.Context) ([]Entry, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+":entry:*", 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan cache keys: %w", err)
	}

	var entries []Entry
	for start := 0; start < len(keys); start += 500 {
		end := min(start+500, len(keys))
		chunk, err := s.mget(ctx, keys[start:end])
		if err != nil {
			return nil, err
		}
		entries = append(entries, chunk...)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}

func (s *RedisStore) mget(ctx context.Context, entryKeys []string) ([]Entry, error) {
	hitKeys := make([]string, len(entryKeys))
	for i, k := range entryKeys {
		hitKeys[i] = s.hitsKey(strings.TrimPrefix(k, s.prefix+":entry:"))
	}

	pipe := s.client.Pipeline()
	docs := pipe.MGet(ctx, entryKeys...)
	hits := pipe.MGet(ctx, hitKeys...)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read cache entries: %w", err)
	}

	entries := make([]Entry, 0, len(entryKeys))
	hitVals := hits.Val()
	for i, raw := range docs.Val() {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			// undecodable documents are left for the cache to skip as missing
			continue
		}
		if h, ok := hitVals[i].(string); ok {
			e.HitCount, _ = strconv.ParseInt(h, 10, 64)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, error) {
	raw, err := s.client.Get(ctx, s.entryKey(key)).Bytes()
	if err == redis.Nil {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	hits, err := s.client.Get(ctx, s.hitsKey(key)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Entry{}, fmt.Errorf("failed to get hit count: %w", err)
	}
	e.HitCount = hits
	return e, nil
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, e Entry) (bool, error) {
	hits := e.HitCount
	e.HitCount = 0
	doc, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("failed to encode cache entry: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.entryKey(e.Key), doc, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to insert cache entry: %w", err)
	}
	if ok && hits > 0 {
		if err := s.client.Set(ctx, s.hitsKey(e.Key), hits, 0).Err(); err != nil {
			return true, fmt.Errorf("failed to set hit count: %w", err)
		}
	}
	return ok, nil
}

func (s *RedisStore) IncrementHits(ctx context.Context, key string) error {
	exists, err := s.client.Exists(ctx, s.entryKey(key)).Result()
	if err != nil {
		return fmt.Errorf("failed to check cache entry: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return s.client.Incr(ctx, s.hitsKey(key)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
