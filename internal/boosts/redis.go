package boosts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/resilience"
)

// HashClient is the subset of pkg/redis.Client the store needs.
type HashClient interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, keys ...string) error
	ScanKeys(ctx context.Context, pattern string, fn func(key string) error) error
}

const (
	fieldBoosts     = "boosts"
	fieldCategories = "categories"
	fieldTimestamp  = "timestamp"
)

// RedisStore serves reads from memory and writes through to one Redis hash
// per document. A write that fails in Redis is not applied in memory.
type RedisStore struct {
	mem     *MemoryStore
	client  HashClient
	prefix  string
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// NewRedisStore returns an empty store; call Load to fill it from Redis.
func NewRedisStore(client HashClient, prefix string) *RedisStore {
	mem, _ := NewMemoryStore("")
	return &RedisStore{
		mem:     mem,
		client:  client,
		prefix:  prefix,
		breaker: resilience.NewCircuitBreaker("redis-boosts", resilience.CircuitBreakerConfig{}),
		logger:  slog.Default().With("component", "boosts-redis"),
	}
}

func (s *RedisStore) key(id search.DocID) string {
	return s.prefix + string(id)
}

func (s *RedisStore) write(ctx context.Context, id search.DocID, fields map[string]string) error {
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.client.HSet(ctx, s.key(id), fields)
	})
	if err != nil {
		return fmt.Errorf("writing boosts for %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) SetBoosts(ctx context.Context, id search.DocID, boosts []float64) error {
	data, err := json.Marshal(boosts)
	if err != nil {
		return fmt.Errorf("encoding boosts: %w", err)
	}
	if err := s.write(ctx, id, map[string]string{fieldBoosts: string(data)}); err != nil {
		return err
	}
	return s.mem.SetBoosts(ctx, id, boosts)
}

func (s *RedisStore) RemoveBoosts(ctx context.Context, id search.DocID) error {
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.client.Del(ctx, s.key(id))
	})
	if err != nil {
		return fmt.Errorf("removing boosts for %s: %w", id, err)
	}
	return s.mem.RemoveBoosts(ctx, id)
}

func (s *RedisStore) SetCategoryValues(ctx context.Context, id search.DocID, values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encoding categories: %w", err)
	}
	if err := s.write(ctx, id, map[string]string{fieldCategories: string(data)}); err != nil {
		return err
	}
	return s.mem.SetCategoryValues(ctx, id, values)
}

func (s *RedisStore) SetTimestamp(ctx context.Context, id search.DocID, ts int64) error {
	if err := s.write(ctx, id, map[string]string{fieldTimestamp: strconv.FormatInt(ts, 10)}); err != nil {
		return err
	}
	return s.mem.SetTimestamp(ctx, id, ts)
}

func (s *RedisStore) Get(id search.DocID) (Entry, bool) { return s.mem.Get(id) }

func (s *RedisStore) Categories(id search.DocID) map[string]string { return s.mem.Categories(id) }

func (s *RedisStore) Len() int { return s.mem.Len() }

// Dump is a no-op: every write is already in Redis.
func (s *RedisStore) Dump(context.Context) error { return nil }

// Load replaces the in-memory view with the hashes found under the prefix.
func (s *RedisStore) Load(ctx context.Context) error {
	loaded := 0
	err := s.client.ScanKeys(ctx, s.prefix+"*", func(key string) error {
		fields, err := s.client.HGetAll(ctx, key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", key, err)
		}
		e, err := decodeEntry(fields)
		if err != nil {
			s.logger.Warn("skipping malformed boosts entry", "key", key, "error", err)
			return nil
		}
		s.mem.set(search.DocID(strings.TrimPrefix(key, s.prefix)), e)
		loaded++
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading boosts: %w", err)
	}
	s.logger.Info("boosts loaded from redis", "entries", loaded)
	return nil
}

func decodeEntry(fields map[string]string) (Entry, error) {
	var e Entry
	if v, ok := fields[fieldBoosts]; ok {
		if err := json.Unmarshal([]byte(v), &e.Boosts); err != nil {
			return e, fmt.Errorf("boosts: %w", err)
		}
	}
	if v, ok := fields[fieldCategories]; ok {
		if err := json.Unmarshal([]byte(v), &e.Categories); err != nil {
			return e, fmt.Errorf("categories: %w", err)
		}
	}
	if v, ok := fields[fieldTimestamp]; ok {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return e, fmt.Errorf("timestamp: %w", err)
		}
		e.Timestamp = ts
	}
	return e, nil
}

var _ Store = (*RedisStore)(nil)
