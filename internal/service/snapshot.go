package service

import (
	"sync"

	"github.com/and161185/lotus-core/internal/model"
)

// DefaultSnapshotCapacity bounds a SnapshotCache created with a non-positive capacity.
const DefaultSnapshotCapacity = 10000

// SnapshotCache keeps the latest rebuilt state per aggregate. A cached state is
// only a starting point: the router always folds the log tail on top of it.
type SnapshotCache struct {
	mu    sync.Mutex
	max   int
	items map[string]model.Student
}

// NewSnapshotCache creates a cache holding up to capacity aggregates.
func NewSnapshotCache(capacity int) *SnapshotCache {
	if capacity <= 0 {
		capacity = DefaultSnapshotCapacity
	}
	return &SnapshotCache{max: capacity, items: make(map[string]model.Student)}
}

// Get returns the cached state of id.
func (c *SnapshotCache) Get(id string) (model.Student, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.items[id]
	return s, ok
}

// Put stores s unless a newer version is cached. When full, an arbitrary entry is evicted.
func (c *SnapshotCache) Put(s model.Student) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.items[s.ID]; ok {
		if cur.Version >= s.Version {
			return
		}
	} else if len(c.items) >= c.max {
		for k := range c.items {
			delete(c.items, k)
			break
		}
	}
	c.items[s.ID] = s
}

// Len returns the number of cached aggregates.
func (c *SnapshotCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
