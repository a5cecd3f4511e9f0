// Package cache keeps slow-changing remote lookups on disk between runs.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

const (
	cacheFile = "remote_cache.json"

	// DefaultTTL is how long a lookup stays fresh.
	DefaultTTL = 12 * time.Hour

	// maxEntries bounds the file; the least recently used key is evicted.
	maxEntries = 32
)

type Entry struct {
	Values       []string  `json:"values"`
	Fetched      time.Time `json:"fetched"`
	LastModified time.Time `json:"last_modified"`
}

type Cache struct {
	Path    string
	Entries map[string]*Entry `json:"entries"`
	ttl     time.Duration
	mu      sync.Mutex
	dirty   bool
	now     func() time.Time
}

// DefaultPath is the cache location inside configDir.
func DefaultPath(configDir string) string {
	return filepath.Join(configDir, cacheFile)
}

// Open loads the cache at path. A missing file yields an empty cache.
func Open(path string, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		Path:    path,
		Entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     time.Now,
	}

	if _, err := os.Stat(path); err == nil {
		if err := c.Load(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Cache) Load() error {
	f, err := os.Open(c.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := json.NewDecoder(f).Decode(&c.Entries); err != nil {
		return fmt.Errorf("failed to decode cache %s: %w", c.Path, err)
	}
	if c.Entries == nil {
		c.Entries = make(map[string]*Entry)
	}
	return nil
}

func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.Path), 0700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	f, err := os.Create(c.Path)
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(c.Entries); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// Get returns the values stored under key while they are fresh.
func (c *Cache) Get(key string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.Entries[key]
	if !ok || c.now().Sub(e.Fetched) > c.ttl {
		return nil, false
	}
	// Touching an entry only matters for eviction, so it does not force a save.
	e.LastModified = c.now()
	return slices.Clone(e.Values), true
}

// Put stores values under key, evicting the least recently used key when full.
func (c *Cache) Put(key string, values []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.Entries[key]; !exists && len(c.Entries) >= maxEntries {
		c.evictOldest()
	}
	c.Entries[key] = &Entry{Values: slices.Clone(values), Fetched: now, LastModified: now}
	c.dirty = true
}

// Forget drops key so the next Get misses.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.Entries[key]; ok {
		delete(c.Entries, key)
		c.dirty = true
	}
}

func (c *Cache) evictOldest() {
	var (
		oldestKey  string
		oldestTime time.Time
		first      = true
	)
	for k, e := range c.Entries {
		if first || e.LastModified.Before(oldestTime) {
			oldestKey, oldestTime, first = k, e.LastModified, false
		}
	}
	if oldestKey != "" {
		delete(c.Entries, oldestKey)
	}
}
