// Package actioncache is the bounded-lifetime side-cache that lets ephemeral
// notification actions (e.g. "copy text") resolve the original message body
// after display.
//
// It is a deliberately lossy, forget-eventually store: values are keyed by
// an opaque per-notification token and evicted lazily by insertion time.
package actioncache

import (
	"container/heap"
	"sync"
	"time"
)

const DefaultTTL = 15 * time.Minute

// ageEntry orders tokens by insertion time for eviction. Multiple entries
// may share a timestamp.
type ageEntry struct {
	at    time.Time
	token string
}

// ageHeap is a min-heap on insertion time.
type ageHeap []ageEntry

func (h ageHeap) Len() int            { return len(h) }
func (h ageHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h ageHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *ageHeap) Push(x any)         { *h = append(*h, x.(ageEntry)) }
func (h *ageHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Cache maps tokens to message bodies with a TTL enforced lazily on Put.
//
// Get has no eviction side effect, so a long idle stretch without inserts
// leaves stale entries readable until the next Put. That is the accepted
// contract: the window is bounded by the TTL only in amortized terms.
type Cache struct {
	mu     sync.Mutex
	ttl    time.Duration
	values map[string]string
	ages   ageHeap

	now func() time.Time
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:    ttl,
		values: map[string]string{},
		now:    time.Now,
	}
}

// Put stores value under token, evicting every entry older than TTL first.
// Re-putting an existing token overwrites the value and refreshes nothing
// about older heap entries; they age out on their own.
func (c *Cache) Put(token, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	heap.Push(&c.ages, ageEntry{at: now, token: token})

	cutoff := now.Add(-c.ttl)
	for len(c.ages) > 0 && c.ages[0].at.Before(cutoff) {
		e := heap.Pop(&c.ages).(ageEntry)
		// The mapping may already be gone (explicit Delete, or an overwrite
		// whose older heap entry expired first).
		delete(c.values, e.token)
	}

	c.values[token] = value
}

// Get returns the stored body for token. Plain lookup, no eviction.
func (c *Cache) Get(token string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[token]
	return v, ok
}

// Delete removes token immediately. The heap entry is left behind and ages
// out harmlessly on a later Put.
func (c *Cache) Delete(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, token)
}

// Len reports the number of live values.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}
