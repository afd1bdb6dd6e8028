package cache

import (
	"context"
	"sync"
	"time"

	"github.com/use-agent/pluck/models"
)

type entry struct {
	data      models.ResultSet
	createdAt time.Time
	expiresAt time.Time
}

// Memory is an in-process cache with per-entry TTL and a size cap.
type Memory struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	now        func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemory creates a Memory cache holding at most maxEntries results.
// A background goroutine evicts expired entries every minute.
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	c := &Memory{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get returns the stored result set if present and not expired.
func (c *Memory) Get(_ context.Context, key string) (models.ResultSet, bool, error) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return e.data, true, nil
}

// Set stores rs for ttl. At capacity the oldest entry is evicted.
func (c *Memory) Set(_ context.Context, key string, rs models.ResultSet, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.store[key] = &entry{
		data:      append(models.ResultSet(nil), rs...),
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Close stops the cleanup goroutine.
func (c *Memory) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *Memory) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range c.store {
		if oldestKey == "" || e.createdAt.Before(oldest) {
			oldestKey, oldest = k, e.createdAt
		}
	}
	delete(c.store, oldestKey)
}

func (c *Memory) evictExpired() {
	now := c.now()
	c.mu.Lock()
	for k, e := range c.store {
		if !now.Before(e.expiresAt) {
			delete(c.store, k)
		}
	}
	c.mu.Unlock()
}

func (c *Memory) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}
