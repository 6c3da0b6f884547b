/*
Copyright 2026 The ClusterLens Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package query

import (
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"time"
)

// resultCache is a short-TTL, size-bounded cache of query results,
// keyed by a hash of (type, sorted targets, depth). Eviction is
// oldest-first when the entry bound is hit.
type resultCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[uint64]cacheEntry
}

type cacheEntry struct {
	result   Result
	storedAt time.Time
}

func newResultCache(ttl time.Duration, maxEntries int) *resultCache {
	return &resultCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[uint64]cacheEntry),
	}
}

func cacheKey(req *Request) uint64 {
	targets := make([]string, len(req.Targets))
	copy(targets, req.Targets)
	sort.Strings(targets)

	h := fnv.New64a()
	_, _ = h.Write([]byte(req.Type))
	for _, t := range targets {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(t))
	}
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.Itoa(req.MaxDepth)))
	return h.Sum64()
}

func (c *resultCache) get(key uint64) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	if time.Since(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		return Result{}, false
	}
	return entry.result, true
}

func (c *resultCache) put(key uint64, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		var oldestKey uint64
		var oldest time.Time
		first := true
		for k, e := range c.entries {
			if first || e.storedAt.Before(oldest) {
				oldestKey, oldest = k, e.storedAt
				first = false
			}
		}
		delete(c.entries, oldestKey)
	}
	c.entries[key] = cacheEntry{result: result, storedAt: time.Now()}
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
