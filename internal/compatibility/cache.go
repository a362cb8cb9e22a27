package compatibility

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/buddyup/internal/preferences"
)

// cacheKey ties a cached score to the exact preference versions it was
// computed from, so a later preference write invalidates it (spec §8
// property 8) without needing an explicit bust on every write.
type cacheKey struct {
	userA, userB           string
	versionA, versionB     int
}

type cacheEntry struct {
	score     Score
	expiresAt time.Time
}

// Cache is a short-TTL, version-aware cache of compatibility scores (spec
// §5: "cache ... for compatibility scores (5 min TTL)").
type Cache struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock clockwork.Clock
	items map[cacheKey]cacheEntry
}

func NewCache(ttl time.Duration, clock clockwork.Clock) *Cache {
	return &Cache{
		ttl:   ttl,
		clock: clock,
		items: make(map[cacheKey]cacheEntry),
	}
}

func key(userA string, versionA int, userB string, versionB int) cacheKey {
	if userB < userA {
		userA, userB = userB, userA
		versionA, versionB = versionB, versionA
	}
	return cacheKey{userA: userA, versionA: versionA, userB: userB, versionB: versionB}
}

// Get returns a cached score keyed by both users' preference versions. A
// stale version on either side simply misses — there is nothing to evict
// because the old version never matches a new key.
func (c *Cache) Get(userA string, versionA int, userB string, versionB int) (Score, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.items[key(userA, versionA, userB, versionB)]
	if !ok || c.clock.Now().After(entry.expiresAt) {
		return Score{}, false
	}
	return entry.score, true
}

func (c *Cache) Put(userA string, versionA int, userB string, versionB int, score Score) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key(userA, versionA, userB, versionB)] = cacheEntry{
		score:     score,
		expiresAt: c.clock.Now().Add(c.ttl),
	}
}

// CachedScorer wraps a Scorer with the version-aware TTL cache.
type CachedScorer struct {
	inner Scorer
	cache *Cache
}

func NewCachedScorer(inner Scorer, cache *Cache) *CachedScorer {
	return &CachedScorer{inner: inner, cache: cache}
}

func (c *CachedScorer) Score(a, b preferences.UserPreferences, now time.Time) (Score, error) {
	if hit, ok := c.cache.Get(a.UserID, a.Version, b.UserID, b.Version); ok {
		return hit, nil
	}
	score, err := c.inner.Score(a, b, now)
	if err != nil {
		return Score{}, err
	}
	c.cache.Put(a.UserID, a.Version, b.UserID, b.Version, score)
	return score, nil
}
