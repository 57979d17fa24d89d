package persona

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mubot/mu/internal/log"
)

// DefaultCacheTTL is how long cached personas stay fresh. Persona edits are
// rare, so a few minutes of staleness is acceptable.
const DefaultCacheTTL = 5 * time.Minute

// CachedCatalog fronts another catalog with a Redis cache so persona lookups
// on the hot request path avoid repeated backing-store reads. Cache failures
// are logged and ignored; the backing catalog always has the final word.
type CachedCatalog struct {
	rdb    *redis.Client
	next   Catalog
	ttl    time.Duration
	logger log.Logger
}

// NewCachedCatalog wraps next with a Redis cache. A zero ttl means
// DefaultCacheTTL.
func NewCachedCatalog(rdb *redis.Client, next Catalog, ttl time.Duration, logger log.Logger) (*CachedCatalog, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if next == nil {
		return nil, errors.New("backing catalog is required")
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &CachedCatalog{rdb: rdb, next: next, ttl: ttl, logger: logger}, nil
}

// Get implements Catalog.
func (c *CachedCatalog) Get(ctx context.Context, id string) (Persona, bool) {
	key := cacheKey(id)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var p Persona
		if json.Unmarshal(raw, &p) == nil && strings.TrimSpace(p.SystemPrompt) != "" {
			return p, true
		}
		// A corrupt entry falls through to the backing catalog and gets
		// overwritten below.
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("persona cache read failed", "persona_id", id, "error", err)
	}

	p, ok := c.next.Get(ctx, id)
	if !ok {
		return Persona{}, false
	}

	if raw, err := json.Marshal(p); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("persona cache write failed", "persona_id", id, "error", err)
		}
	}

	return p, true
}

// Invalidate drops a persona from the cache after an edit.
func (c *CachedCatalog) Invalidate(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, cacheKey(id)).Err()
}

func cacheKey(id string) string {
	return "mu:persona:" + strings.ToLower(id)
}

// RedisPrefs reads per-user persona assignments from Redis, falling back to
// another prefs source on a miss or a Redis failure. Assignments written
// through Assign take effect immediately across all instances.
type RedisPrefs struct {
	rdb    *redis.Client
	next   UserPrefs
	logger log.Logger
}

// NewRedisPrefs wraps next with Redis-backed assignments. next may be nil
// when Redis is the only assignment source.
func NewRedisPrefs(rdb *redis.Client, next UserPrefs, logger log.Logger) (*RedisPrefs, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &RedisPrefs{rdb: rdb, next: next, logger: logger}, nil
}

// PersonaIDFor implements UserPrefs.
func (p *RedisPrefs) PersonaIDFor(ctx context.Context, userID string) (string, bool) {
	id, err := p.rdb.Get(ctx, assignmentKey(userID)).Result()
	if err == nil && strings.TrimSpace(id) != "" {
		return strings.ToLower(id), true
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		p.logger.Warn("user assignment read failed", "user_id", userID, "error", err)
	}
	if p.next == nil {
		return "", false
	}
	return p.next.PersonaIDFor(ctx, userID)
}

// Assign records a user's persona choice. No TTL: assignments persist until
// replaced or removed.
func (p *RedisPrefs) Assign(ctx context.Context, userID, personaID string) error {
	return p.rdb.Set(ctx, assignmentKey(userID), strings.ToLower(personaID), 0).Err()
}

// Unassign removes a user's persona choice, restoring default resolution.
func (p *RedisPrefs) Unassign(ctx context.Context, userID string) error {
	return p.rdb.Del(ctx, assignmentKey(userID)).Err()
}

func assignmentKey(userID string) string {
	return "mu:persona:user:" + userID
}
