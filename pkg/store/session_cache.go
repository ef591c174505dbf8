package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNoSessions means the user has no cached refresh fingerprints.
	ErrNoSessions = errors.New("no active sessions")
	// ErrUnknownFingerprint means the fingerprint is not in the user's set.
	ErrUnknownFingerprint = errors.New("unknown refresh fingerprint")
	// ErrCacheContention means a compare-and-swap kept losing races.
	ErrCacheContention = errors.New("session cache contention")
)

const (
	fingerprintSeparator = ";"
	maxCASAttempts       = 16
)

// SessionCache maps a user to the refresh fingerprints that may still be
// exchanged. Every mutation is atomic per user.
type SessionCache interface {
	Fingerprints(ctx context.Context, userID string) ([]string, bool, error)
	Append(ctx context.Context, userID, fingerprint string) error
	// Swap replaces old with next in one write.
	Swap(ctx context.Context, userID, old, next string) error
	Remove(ctx context.Context, userID, fingerprint string) error
	Clear(ctx context.Context, userID string) error
}

// Fingerprint strips the auth scheme from a presented refresh credential.
func Fingerprint(token string) string {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "Bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

func sessionRedisKey(userID string) string {
	return fmt.Sprintf("refresh-token/%s", userID)
}

func splitFingerprints(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, fingerprintSeparator) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func swapFingerprint(current []string, exists bool, old, next string) ([]string, error) {
	if !exists || len(current) == 0 {
		return nil, ErrNoSessions
	}
	idx := slices.Index(current, old)
	if idx < 0 {
		return nil, ErrUnknownFingerprint
	}
	out := slices.Delete(slices.Clone(current), idx, idx+1)
	if next != "" {
		out = append(out, next)
	}
	return out, nil
}

// RedisSessionCache stores the fingerprint list as one string value and
// guards every mutation with WATCH/MULTI.
type RedisSessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionCache wraps an existing client. ttl refreshes the key
// expiry on every write; zero keeps keys forever.
func NewRedisSessionCache(client *redis.Client, ttl time.Duration) *RedisSessionCache {
	return &RedisSessionCache{client: client, ttl: ttl}
}

func (c *RedisSessionCache) Fingerprints(ctx context.Context, userID string) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, sessionRedisKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get sessions: %w", err)
	}
	return splitFingerprints(raw), true, nil
}

func (c *RedisSessionCache) Append(ctx context.Context, userID, fingerprint string) error {
	return c.update(ctx, userID, func(current []string, _ bool) ([]string, error) {
		return append(current, fingerprint), nil
	})
}

func (c *RedisSessionCache) Swap(ctx context.Context, userID, old, next string) error {
	return c.update(ctx, userID, func(current []string, exists bool) ([]string, error) {
		return swapFingerprint(current, exists, old, next)
	})
}

func (c *RedisSessionCache) Remove(ctx context.Context, userID, fingerprint string) error {
	return c.Swap(ctx, userID, fingerprint, "")
}

func (c *RedisSessionCache) Clear(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, sessionRedisKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	return nil
}

// update is a compare-and-swap on the user's key: the write only lands if
// nobody touched the key since it was read, otherwise it re-reads and retries.
func (c *RedisSessionCache) update(ctx context.Context, userID string, fn func([]string, bool) ([]string, error)) error {
	key := sessionRedisKey(userID)
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Result()
			exists := true
			if errors.Is(err, redis.Nil) {
				exists = false
			} else if err != nil {
				return err
			}
			next, err := fn(splitFingerprints(raw), exists)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if len(next) == 0 {
					pipe.Del(ctx, key)
					return nil
				}
				pipe.Set(ctx, key, strings.Join(next, fingerprintSeparator), c.ttl)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrNoSessions) || errors.Is(err, ErrUnknownFingerprint) {
				return err
			}
			return fmt.Errorf("update sessions: %w", err)
		}
		return nil
	}
	return ErrCacheContention
}

// MemorySessionCache keeps fingerprint lists in memory (single instance only).
type MemorySessionCache struct {
	mu   sync.Mutex
	sets map[string][]string
}

// NewMemorySessionCache builds an in-memory session cache.
func NewMemorySessionCache() *MemorySessionCache {
	return &MemorySessionCache{sets: make(map[string][]string)}
}

func (c *MemorySessionCache) Fingerprints(_ context.Context, userID string) ([]string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.sets[userID]
	return slices.Clone(set), ok, nil
}

func (c *MemorySessionCache) Append(_ context.Context, userID, fingerprint string) error {
	c.mu.Lock()
	c.sets[userID] = append(c.sets[userID], fingerprint)
	c.mu.Unlock()
	return nil
}

func (c *MemorySessionCache) Swap(_ context.Context, userID, old, next string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.sets[userID]
	updated, err := swapFingerprint(current, ok, old, next)
	if err != nil {
		return err
	}
	if len(updated) == 0 {
		delete(c.sets, userID)
		return nil
	}
	c.sets[userID] = updated
	return nil
}

func (c *MemorySessionCache) Remove(ctx context.Context, userID, fingerprint string) error {
	return c.Swap(ctx, userID, fingerprint, "")
}

func (c *MemorySessionCache) Clear(_ context.Context, userID string) error {
	c.mu.Lock()
	delete(c.sets, userID)
	c.mu.Unlock()
	return nil
}
