// Copyright 2025 SQLGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is the expiry applied to schema-discovery results when the
// caller does not override it.
const DefaultTTL = 60 * time.Second

type entry struct {
	value     interface{}
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// Cache is a TTL key/value cache for volatile metadata. One mutex guards
// the map; no I/O ever runs under the lock, so hold times stay O(1).
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL time.Duration
	hits       int64
	misses     int64
}

// Stats reports a point-in-time view of the cache contents.
type Stats struct {
	Total      int           `json:"total_entries"`
	Valid      int           `json:"valid_entries"`
	Expired    int           `json:"expired_entries"`
	Hits       int64         `json:"hits"`
	Misses     int64         `json:"misses"`
	DefaultTTL time.Duration `json:"default_ttl"`
}

// New creates a cache with the given default TTL. Non-positive values fall
// back to DefaultTTL.
func New(defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
	}
}

// Get returns the cached value for key. An entry at or past its expiry is
// treated as a miss and removed.
func (c *Cache) Get(key string) (interface{}, bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if e.expired(now) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key. A non-positive ttl uses the cache default.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: now.Add(ttl)}
}

// Invalidate removes a single entry. Reports whether the key was present.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	return ok
}

// Clear removes every entry and returns how many were dropped.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]entry)
	return n
}

// CleanupExpired sweeps out every expired entry in one pass and returns
// how many were removed. Expiry is otherwise handled lazily on Get.
func (c *Cache) CleanupExpired() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Stats returns cache statistics. Valid + Expired always equals Total.
func (c *Cache) Stats() Stats {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	valid := 0
	for _, e := range c.entries {
		if !e.expired(now) {
			valid++
		}
	}
	total := len(c.entries)
	return Stats{
		Total:      total,
		Valid:      valid,
		Expired:    total - valid,
		Hits:       c.hits,
		Misses:     c.misses,
		DefaultTTL: c.defaultTTL,
	}
}

// Key builds a deterministic cache key from an operation name and its
// arguments. Map arguments are serialized in sorted key order so the same
// call always produces the same key.
func Key(op string, args ...interface{}) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, op)
	for _, arg := range args {
		switch v := arg.(type) {
		case map[string]interface{}:
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				parts = append(parts, fmt.Sprintf("%s=%v", k, v[k]))
			}
		default:
			parts = append(parts, fmt.Sprintf("%v", arg))
		}
	}
	return strings.Join(parts, ":")
}

// GetOrCompute is the memoization decorator: it consults the cache under
// key and falls through to compute on a miss, storing the result with
// ttl. Errors are never cached. Any read-only metadata operation can opt
// in without duplicating caching logic.
func GetOrCompute[T any](c *Cache, key string, ttl time.Duration, compute func() (T, error)) (T, error) {
	if cached, ok := c.Get(key); ok {
		if typed, ok := cached.(T); ok {
			return typed, nil
		}
	}

	value, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, value, ttl)
	return value, nil
}
