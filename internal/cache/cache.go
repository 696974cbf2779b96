// Package cache provides a read-through TTL cache over multiplexer topology.
//
// Entries expire lazily on Get; there is no background sweeper. Snapshots are
// replaced wholesale on refresh and callers always receive deep copies.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/timvw/pane-pilot/internal/logging"
	"github.com/timvw/pane-pilot/internal/model"
	ppotel "github.com/timvw/pane-pilot/internal/otel"
)

// ErrRefreshFailed is returned when a topology fetch fails and no snapshot
// young enough to serve is available.
var ErrRefreshFailed = errors.New("topology refresh failed")

// KeyAllSessions is the cache key for the full topology.
const KeyAllSessions = "all-sessions"

const sessionPrefix = "session:"

// Defaults for NewSessionCache.
const (
	DefaultTTL   = 5 * time.Second
	DefaultGrace = 30 * time.Second
)

var log = logging.ForComponent(logging.CompCache)

// SessionKey returns the cache key for one session.
func SessionKey(name string) string { return sessionPrefix + name }

// Source fetches topology. mux.Multiplexer satisfies it.
type Source interface {
	ListTopology(ctx context.Context) ([]model.Session, error)
}

// Snapshot is a cached topology view.
type Snapshot struct {
	Key       string          `json:"key"`
	Sessions  []model.Session `json:"sessions"`
	FetchedAt time.Time       `json:"fetched_at"`
	// Stale is set when the snapshot is served after a failed refresh.
	Stale bool `json:"stale,omitempty"`
}

// Session returns the named session from the snapshot.
func (s Snapshot) Session(name string) (model.Session, bool) {
	for _, sess := range s.Sessions {
		if sess.Name == name {
			return sess, true
		}
	}
	return model.Session{}, false
}

// Stats are read-only cache counters.
type Stats struct {
	Hits          int64     `json:"hits"`
	Misses        int64     `json:"misses"`
	Refreshes     int64     `json:"refreshes"`
	RefreshErrors int64     `json:"refresh_errors"`
	Entries       int       `json:"entries"`
	LastRefresh   time.Time `json:"last_refresh"`
}

type entry struct {
	sessions  []model.Session
	fetchedAt time.Time
}

// SessionCache caches topology snapshots per key.
type SessionCache struct {
	src   Source
	ttl   time.Duration
	grace time.Duration

	// Now is injectable for tests.
	Now     func() time.Time
	Metrics *ppotel.Metrics

	mu      sync.RWMutex
	entries map[string]*entry
	// gens and epoch increase on invalidation so in-flight fetches started
	// before the invalidation are not stored.
	gens  map[string]uint64
	epoch uint64
	stats Stats

	group singleflight.Group
}

// NewSessionCache creates a cache over src. A ttl of 0 disables caching
// (every Get fetches); a negative grace disables stale fallback.
func NewSessionCache(src Source, ttl, grace time.Duration) *SessionCache {
	return &SessionCache{
		src:     src,
		ttl:     ttl,
		grace:   grace,
		entries: make(map[string]*entry),
		gens:    make(map[string]uint64),
	}
}

// Get returns the snapshot for key, fetching on miss or expiry. Concurrent
// misses for the same key share a single fetch.
func (c *SessionCache) Get(ctx context.Context, key string) (Snapshot, error) {
	if key != KeyAllSessions && !strings.HasPrefix(key, sessionPrefix) {
		return Snapshot{}, fmt.Errorf("unknown cache key %q", key)
	}

	now := c.now()
	c.mu.RLock()
	e, ok := c.entries[key]
	gen := c.generation(key)
	c.mu.RUnlock()

	if ok && c.ttl > 0 && now.Sub(e.fetchedAt) < c.ttl {
		c.mu.Lock()
		c.stats.Hits++
		c.mu.Unlock()
		c.Metrics.RecordCacheHit(ctx)
		return snapshot(key, e, false), nil
	}

	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	c.Metrics.RecordCacheMiss(ctx)

	v, err, _ := c.group.Do(key+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		return c.refresh(ctx, key, gen)
	})
	if err != nil {
		return c.fallback(ctx, key, err)
	}
	return snapshot(key, v.(*entry), false), nil
}

// refresh fetches topology and stores it unless the key was invalidated meanwhile.
func (c *SessionCache) refresh(ctx context.Context, key string, gen uint64) (*entry, error) {
	sessions, err := c.src.ListTopology(ctx)
	now := c.now()
	if err != nil {
		c.mu.Lock()
		c.stats.RefreshErrors++
		c.mu.Unlock()
		c.Metrics.RecordCacheRefreshError(ctx)
		return nil, err
	}

	if name, ok := strings.CutPrefix(key, sessionPrefix); ok {
		var only []model.Session
		for _, s := range sessions {
			if s.Name == name {
				only = append(only, s)
				break
			}
		}
		sessions = only
	}

	e := &entry{sessions: sessions, fetchedAt: now}

	c.mu.Lock()
	c.stats.Refreshes++
	c.stats.LastRefresh = now
	if c.generation(key) == gen && c.ttl > 0 {
		c.entries[key] = e
	}
	c.mu.Unlock()
	return e, nil
}

// fallback serves the previous snapshot, flagged stale, while it is younger
// than TTL plus grace.
func (c *SessionCache) fallback(ctx context.Context, key string, cause error) (Snapshot, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && c.grace >= 0 && c.now().Sub(e.fetchedAt) < c.ttl+c.grace {
		log.Warn("serving_stale_topology", "key", key, "age", c.now().Sub(e.fetchedAt).String(), "error", cause)
		return snapshot(key, e, true), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(cause, ctxErr) {
		return Snapshot{}, cause
	}
	return Snapshot{}, fmt.Errorf("%w: %s: %w", ErrRefreshFailed, key, cause)
}

// Invalidate evicts one key.
func (c *SessionCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.gens[key]++
	c.mu.Unlock()
	c.Metrics.RecordCacheInvalidation(context.Background())
	log.Debug("invalidated", "key", key)
}

// InvalidateSession evicts the session's key and the full topology.
func (c *SessionCache) InvalidateSession(name string) {
	c.Invalidate(SessionKey(name))
	c.Invalidate(KeyAllSessions)
}

// InvalidateAll evicts every key.
func (c *SessionCache) InvalidateAll() {
	c.mu.Lock()
	c.epoch++
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
	c.Metrics.RecordCacheInvalidation(context.Background())
	log.Debug("invalidated_all")
}

// generation must be called with mu held.
func (c *SessionCache) generation(key string) uint64 {
	return c.gens[key] + c.epoch
}

// Stats returns a copy of the cache counters.
func (c *SessionCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}

// TTL returns the configured time-to-live.
func (c *SessionCache) TTL() time.Duration { return c.ttl }

func (c *SessionCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func snapshot(key string, e *entry, stale bool) Snapshot {
	return Snapshot{
		Key:       key,
		Sessions:  model.CloneSessions(e.sessions),
		FetchedAt: e.fetchedAt,
		Stale:     stale,
	}
}
