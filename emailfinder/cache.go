package emailfinder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// PatternCache remembers which template a mail domain uses.
type PatternCache interface {
	Get(ctx context.Context, domain string) (Pattern, bool, error)
	Set(ctx context.Context, domain string, p Pattern) error
	Delete(ctx context.Context, domain string) error
}

type memoryEntry struct {
	pattern Pattern
	expires time.Time
}

// MemoryPatternCache is a process-local cache with a fixed TTL.
type MemoryPatternCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryPatternCache creates a cache; ttl <= 0 keeps entries forever.
func NewMemoryPatternCache(ttl time.Duration) *MemoryPatternCache {
	return &MemoryPatternCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryPatternCache) Get(_ context.Context, domain string) (Pattern, bool, error) {
	domain = cacheKey(domain)
	m.mu.RLock()
	entry, ok := m.entries[domain]
	m.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !entry.expires.IsZero() && m.now().After(entry.expires) {
		m.mu.Lock()
		delete(m.entries, domain)
		m.mu.Unlock()
		return "", false, nil
	}
	return entry.pattern, true, nil
}

func (m *MemoryPatternCache) Set(_ context.Context, domain string, p Pattern) error {
	if !p.Valid() {
		return fmt.Errorf("unknown pattern %q", p)
	}
	entry := memoryEntry{pattern: p}
	if m.ttl > 0 {
		entry.expires = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[cacheKey(domain)] = entry
	m.mu.Unlock()
	return nil
}

func (m *MemoryPatternCache) Delete(_ context.Context, domain string) error {
	m.mu.Lock()
	delete(m.entries, cacheKey(domain))
	m.mu.Unlock()
	return nil
}

// Len counts entries, including expired ones not yet evicted.
func (m *MemoryPatternCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

const redisPatternPrefix = "finder:pattern:"

// RedisPatternCache shares learned patterns across API instances.
type RedisPatternCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPatternCache(client *redis.Client, ttl time.Duration) *RedisPatternCache {
	return &RedisPatternCache{client: client, ttl: ttl}
}

func (r *RedisPatternCache) Get(ctx context.Context, domain string) (Pattern, bool, error) {
	val, err := r.client.Get(ctx, redisPatternPrefix+cacheKey(domain)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get pattern: %w", err)
	}
	p := Pattern(val)
	if !p.Valid() {
		return "", false, nil
	}
	return p, true, nil
}

func (r *RedisPatternCache) Set(ctx context.Context, domain string, p Pattern) error {
	if !p.Valid() {
		return fmt.Errorf("unknown pattern %q", p)
	}
	if err := r.client.Set(ctx, redisPatternPrefix+cacheKey(domain), string(p), r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set pattern: %w", err)
	}
	return nil
}

func (r *RedisPatternCache) Delete(ctx context.Context, domain string) error {
	if err := r.client.Del(ctx, redisPatternPrefix+cacheKey(domain)).Err(); err != nil {
		return fmt.Errorf("redis delete pattern: %w", err)
	}
	return nil
}

// HitRecorder is implemented by stores that count served lookups.
type HitRecorder interface {
	Touch(ctx context.Context, domain string) error
}

// TieredPatternCache reads through a fast cache to a durable store and
// writes to both. Fast hits are still counted when Store is a HitRecorder.
type TieredPatternCache struct {
	Fast  PatternCache
	Store PatternCache
}

func (t TieredPatternCache) Get(ctx context.Context, domain string) (Pattern, bool, error) {
	if p, ok, err := t.Fast.Get(ctx, domain); err == nil && ok {
		if rec, ok := t.Store.(HitRecorder); ok {
			if err := rec.Touch(ctx, domain); err != nil {
				logrus.WithError(err).WithField("domain", domain).Warn("could not record pattern hit")
			}
		}
		return p, true, nil
	}
	p, ok, err := t.Store.Get(ctx, domain)
	if err != nil || !ok {
		return "", false, err
	}
	_ = t.Fast.Set(ctx, domain, p)
	return p, true, nil
}

func (t TieredPatternCache) Set(ctx context.Context, domain string, p Pattern) error {
	if err := t.Store.Set(ctx, domain, p); err != nil {
		return err
	}
	return t.Fast.Set(ctx, domain, p)
}

func (t TieredPatternCache) Delete(ctx context.Context, domain string) error {
	if err := t.Store.Delete(ctx, domain); err != nil {
		return err
	}
	return t.Fast.Delete(ctx, domain)
}

func cacheKey(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}
