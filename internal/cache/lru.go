package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type lruEntry struct {
	value   []byte
	expires time.Time
}

// LRUProvider is an in-process Provider bounded by entry count with per-key expiry.
type LRUProvider struct {
	cache *lru.Cache[string, lruEntry]
	now   func() time.Time

	mu     sync.Mutex
	closed bool
}

// NewLRUProvider creates a cache holding at most size entries.
func NewLRUProvider(size int) (*LRUProvider, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[string, lruEntry](size)
	if err != nil {
		return nil, err
	}
	return &LRUProvider{cache: c, now: time.Now}, nil
}

// Get returns the value for key unless it is missing or expired.
func (p *LRUProvider) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := p.cache.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !entry.expires.IsZero() && p.now().After(entry.expires) {
		p.cache.Remove(key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), entry.value...), nil
}

// Set stores value for ttl. A non-positive ttl keeps the entry until evicted.
func (p *LRUProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil
	}
	entry := lruEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expires = p.now().Add(ttl)
	}
	p.cache.Add(key, entry)
	return nil
}

// Del removes key.
func (p *LRUProvider) Del(_ context.Context, key string) error {
	p.cache.Remove(key)
	return nil
}

// Len returns the number of cached entries, including expired ones not yet evicted.
func (p *LRUProvider) Len() int {
	return p.cache.Len()
}

// Close purges the cache and ignores later writes.
func (p *LRUProvider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cache.Purge()
	return nil
}
