package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kjstillabower/weather-history-collector/internal/models"
)

// Cache stores verified upstream pages by key.
// Get returns cached data if present and not expired, Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, page string, ttl time.Duration) error
}

// HourlyKey identifies the aligned hourly page for one date at location.
func HourlyKey(location string, date time.Time) string {
	return fmt.Sprintf("hourly:%s:%s", location, date.Format("2006-01-02"))
}

// DayLengthKey identifies the day-length page for one month at location.
func DayLengthKey(location string, ym models.YearMonth) string {
	return fmt.Sprintf("daylength:%s:%s", location, ym)
}

// InMemoryCache implements Cache using a mutex-guarded map with TTL-based expiration.
// Expired entries are removed on access.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	page      string
	expiresAt time.Time
}

func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// Get returns (page, true, nil) on hit, ("", false, nil) on miss or expiration.
func (c *InMemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return "", false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return "", false, nil
	}
	return entry.page, true, nil
}

// Set stores page with the given TTL.
func (c *InMemoryCache) Set(ctx context.Context, key string, page string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		page:      page,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
