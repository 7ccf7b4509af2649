package codecache

import (
	"errors"
	"sync"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/singleflight"

	"github.com/chazu/hostrt/compiler"
	"github.com/chazu/hostrt/metrics"
	"github.com/chazu/hostrt/vm"
)

var log = commonlog.GetLogger("hostrt.codecache")

// AnonymousSourceID names sources compiled without a cache key.
const AnonymousSourceID = "anonymous"

// Options configures a Cache.
type Options struct {
	Compiler *compiler.Compiler // required
	Store    Store              // a MemoryStore when nil
	Metrics  *metrics.Metrics
}

type liveEntry struct {
	hash string
	unit *vm.CompilationUnit
}

// Cache serves compilation units by key. It is safe for concurrent use.
type Cache struct {
	compiler *compiler.Compiler
	store    Store
	metrics  *metrics.Metrics

	mu    sync.Mutex
	live  map[string]liveEntry
	group singleflight.Group
}

// New creates a cache.
func New(opts Options) *Cache {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	return &Cache{
		compiler: opts.Compiler,
		store:    opts.Store,
		metrics:  opts.Metrics,
		live:     make(map[string]liveEntry),
	}
}

// Store returns the backing store.
func (c *Cache) Store() Store {
	return c.store
}

// LoadOrCompile returns a unit for source. With an empty key it always
// compiles and caches nothing. Otherwise a live or stored unit whose source
// hash matches is returned as is, keeping its compilation id; anything else
// compiles source and replaces the entry for key.
//
// Only one compilation per key is in flight. A caller that waited on a
// flight for different source text retries with its own source once that
// flight finishes, so the last completed install owns the key.
func (c *Cache) LoadOrCompile(source, key string) (*vm.CompilationUnit, error) {
	if key == "" {
		c.metrics.CacheLookup(metrics.CacheUncached)
		return c.compiler.Compile(source, AnonymousSourceID)
	}

	hash := Hash(source)
	for {
		if u, ok := c.lookup(key, hash); ok {
			c.metrics.CacheLookup(metrics.CacheHit)
			return u, nil
		}
		v, err, _ := c.group.Do(key, func() (interface{}, error) {
			return c.fill(source, key, hash)
		})
		if err != nil {
			return nil, err
		}
		if le := v.(liveEntry); le.hash == hash {
			return le.unit, nil
		}
		log.Debug("retrying after flight for other source", "key", key)
	}
}

func (c *Cache) lookup(key, hash string) (*vm.CompilationUnit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	le, ok := c.live[key]
	if !ok || le.hash != hash {
		return nil, false
	}
	return le.unit, true
}

func (c *Cache) publish(key string, le liveEntry) {
	c.mu.Lock()
	c.live[key] = le
	c.mu.Unlock()
}

// fill runs inside the flight for key.
func (c *Cache) fill(source, key, hash string) (liveEntry, error) {
	if u, ok := c.lookup(key, hash); ok {
		c.metrics.CacheLookup(metrics.CacheHit)
		return liveEntry{hash: hash, unit: u}, nil
	}

	if u, ok := c.loadStored(key, hash); ok {
		le := liveEntry{hash: hash, unit: u}
		c.publish(key, le)
		c.metrics.CacheLookup(metrics.CacheHit)
		return le, nil
	}

	c.metrics.CacheLookup(metrics.CacheMiss)
	u, err := c.compiler.Compile(source, key)
	if err != nil {
		return liveEntry{}, err
	}
	if err := c.store.Save(NewEntry(key, hash, u)); err != nil {
		log.Warning("cannot persist cache entry", "key", key, "error", err.Error())
	}
	le := liveEntry{hash: hash, unit: u}
	c.publish(key, le)
	return le, nil
}

// loadStored returns the stored unit for key when its hash matches. Stale,
// corrupt, unverifiable and uninstallable entries count as misses.
func (c *Cache) loadStored(key, hash string) (*vm.CompilationUnit, bool) {
	e, err := c.store.Load(key)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, false
	case err != nil:
		log.Warning("discarding unreadable cache entry", "key", key, "error", err.Error())
		return nil, false
	case e.SourceHash != hash:
		c.metrics.CacheLookup(metrics.CacheStale)
		log.Info("stale cache entry", "key", key)
		return nil, false
	}

	u, err := e.CompilationUnit()
	if err != nil {
		log.Warning("discarding corrupt cache entry", "key", key, "error", err.Error())
		return nil, false
	}
	if err := compiler.Verify(u); err != nil {
		log.Warning("discarding unverifiable cache entry", "key", key, "error", err.Error())
		return nil, false
	}
	if err := c.compiler.Install(u); err != nil {
		log.Warning("cannot install stored unit", "key", key, "id", u.CompilationID, "error", err.Error())
		return nil, false
	}
	log.Debug("loaded stored unit", "key", key, "id", u.CompilationID)
	return u, true
}

// Invalidate forgets key in memory and in the store.
func (c *Cache) Invalidate(key string) error {
	c.mu.Lock()
	delete(c.live, key)
	c.mu.Unlock()
	return c.store.Delete(key)
}

// Len returns the number of live keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}
