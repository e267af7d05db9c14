// Package cache is an in-process key/value store with per-entry TTL and
// tenant-prefixed keys. Entries are reconstructable from the durable source
// of truth, so per-key last-write-wins is the whole consistency story.
// It is process-local: multiple worker processes each see their own copy
// and tolerate staleness up to the TTL.
package cache

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/OneClickTag/jobrunner/internal/tenant"
)

// DefaultTTL applies when Options.TTL is zero.
const DefaultTTL = 300 * time.Second

// ErrNoTenant is returned when a tenant-scoped operation runs without a
// resolvable tenant and Global was not requested. Falling back to the
// global scope silently would leak entries across tenants.
var ErrNoTenant = errors.New("cache: no tenant in context and global scope not requested")

// Options control scoping and lifetime for a single cache call.
type Options struct {
	TTL    time.Duration
	Global bool
}

type entry struct {
	value     any
	expiresAt time.Time
	tenantID  string // "" for global entries
	gen       uint64
}

// Cache is safe for concurrent use by processors and read paths.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	gen     uint64

	defaultTTL time.Duration
	log        *zap.Logger
	sf         singleflight.Group

	stopOnce sync.Once
	stop     chan struct{}
}

// New builds a cache and starts its periodic sweep. Call Stop when done.
func New(defaultTTL, sweepEvery time.Duration, log *zap.Logger) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	c := &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		log:        log.Named("cache"),
		stop:       make(chan struct{}),
	}
	if sweepEvery > 0 {
		go c.sweepLoop(sweepEvery)
	}
	return c
}

// Stop halts the periodic sweep.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			c.Cleanup()
		}
	}
}

// resolveKey builds the full key and owning tenant for a call. A missing
// tenant without Global is a hard error, never a silent global fallback.
func (c *Cache) resolveKey(ctx context.Context, key string, opts Options) (string, string, error) {
	if opts.Global {
		return "global:" + key, "", nil
	}
	id := tenant.ID(ctx)
	if id == "" {
		c.log.Warn("tenant-scoped cache call without tenant context", zap.String("key", key))
		return "", "", ErrNoTenant
	}
	return "tenant:" + id + ":" + key, id, nil
}

// Get returns the cached value for key within the caller's scope. An entry
// recorded under another tenant is never returned, even on a raw key
// collision.
func (c *Cache) Get(ctx context.Context, key string, opts Options) (any, bool, error) {
	full, tenantID, err := c.resolveKey(ctx, key, opts)
	if err != nil {
		return nil, false, err
	}

	c.mu.RLock()
	e, ok := c.entries[full]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if e.tenantID != tenantID {
		// Read-time isolation check, independent of key prefixing.
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		c.deleteIfGen(full, e.gen)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key with the scope and TTL from opts. Expiry is
// enforced both at read time and by a scheduled deletion, so unread expired
// keys do not accumulate.
func (c *Cache) Set(ctx context.Context, key string, value any, opts Options) error {
	full, tenantID, err := c.resolveKey(ctx, key, opts)
	if err != nil {
		return err
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	c.gen++
	e := entry{value: value, expiresAt: time.Now().Add(ttl), tenantID: tenantID, gen: c.gen}
	c.entries[full] = e
	c.mu.Unlock()

	time.AfterFunc(ttl, func() { c.deleteIfGen(full, e.gen) })
	return nil
}

// deleteIfGen removes the entry only if it has not been overwritten since
// the deletion was scheduled.
func (c *Cache) deleteIfGen(full string, gen uint64) {
	c.mu.Lock()
	if e, ok := c.entries[full]; ok && e.gen == gen {
		delete(c.entries, full)
	}
	c.mu.Unlock()
}

// Del removes a single key in the caller's scope.
func (c *Cache) Del(ctx context.Context, key string, opts Options) error {
	full, _, err := c.resolveKey(ctx, key, opts)
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.entries, full)
	c.mu.Unlock()
	return nil
}

// DelPattern removes every key in the caller's scope whose original
// (prefix-stripped) name matches the glob. Entries of other tenants are
// untouched even when their stripped names would match.
func (c *Cache) DelPattern(ctx context.Context, glob string, opts Options) (int, error) {
	prefix := "global:"
	if !opts.Global {
		id := tenant.ID(ctx)
		if id == "" {
			c.log.Warn("tenant-scoped cache call without tenant context", zap.String("pattern", glob))
			return 0, ErrNoTenant
		}
		prefix = "tenant:" + id + ":"
	}

	re, err := compileGlob(glob)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for full := range c.entries {
		if !strings.HasPrefix(full, prefix) {
			continue
		}
		if re.MatchString(strings.TrimPrefix(full, prefix)) {
			delete(c.entries, full)
			removed++
		}
	}
	return removed, nil
}

func compileGlob(glob string) (*regexp.Regexp, error) {
	parts := strings.Split(glob, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	return re, errors.Wrapf(err, "compile pattern %q", glob)
}

// GetOrSet is the cache-aside helper: return the cached value, or run
// factory once per key across concurrent callers and cache its result.
func (c *Cache) GetOrSet(ctx context.Context, key string, factory func(ctx context.Context) (any, error), opts Options) (any, error) {
	full, _, err := c.resolveKey(ctx, key, opts)
	if err != nil {
		return nil, err
	}
	if v, ok, err := c.Get(ctx, key, opts); err != nil || ok {
		return v, err
	}

	v, err, _ := c.sf.Do(full, func() (any, error) {
		if v, ok, err := c.Get(ctx, key, opts); err != nil || ok {
			return v, err
		}
		v, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(ctx, key, v, opts); err != nil {
			return nil, err
		}
		return v, nil
	})
	return v, err
}

// ClearTenant removes every entry belonging to the given tenant.
func (c *Cache) ClearTenant(tenantID string) int {
	prefix := "tenant:" + tenantID + ":"
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for full := range c.entries {
		if strings.HasPrefix(full, prefix) {
			delete(c.entries, full)
			removed++
		}
	}
	return removed
}

// Cleanup eagerly removes expired entries and returns how many it dropped.
func (c *Cache) Cleanup() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for full, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, full)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
