package adapters

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voxhollow/interactions-go/ixn/model"
	ports "github.com/voxhollow/interactions-go/ixn/ports"
)

// LRUSnapshotCache keeps interaction snapshots with a TTL, evicting the
// least recently used entry past capacity. Snapshots are cloned on the
// way in and out so callers never share cached state.
type LRUSnapshotCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*cacheEntry
	head     *cacheEntry
	tail     *cacheEntry
}

type cacheEntry struct {
	id        string
	snap      *model.Interaction
	expiresAt time.Time
	prev      *cacheEntry
	next      *cacheEntry
}

// NewLRUSnapshotCache creates a cache holding up to capacity snapshots.
func NewLRUSnapshotCache(capacity int) *LRUSnapshotCache {
	return &LRUSnapshotCache{
		capacity: capacity,
		items:    make(map[string]*cacheEntry),
	}
}

// Get returns a copy of the cached snapshot, if present and fresh.
func (c *LRUSnapshotCache) Get(ctx context.Context, id string) (*model.Interaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[id]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.remove(entry)
		delete(c.items, id)
		return nil, false
	}

	c.moveToFront(entry)
	return entry.snap.Clone(), true
}

// Set stores a copy of the snapshot under its interaction id.
func (c *LRUSnapshotCache) Set(ctx context.Context, snap *model.Interaction, ttl time.Duration) error {
	if snap == nil || snap.ID == "" {
		return fmt.Errorf("snapshot requires an interaction id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(ttl)
	if entry, ok := c.items[snap.ID]; ok {
		entry.snap = snap.Clone()
		entry.expiresAt = expiresAt
		c.moveToFront(entry)
		return nil
	}

	entry := &cacheEntry{
		id:        snap.ID,
		snap:      snap.Clone(),
		expiresAt: expiresAt,
	}
	c.addToFront(entry)
	c.items[snap.ID] = entry

	if len(c.items) > c.capacity {
		c.evictLRU()
	}
	return nil
}

// Delete removes a snapshot from the cache.
func (c *LRUSnapshotCache) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[id]
	if !ok {
		return nil
	}
	c.remove(entry)
	delete(c.items, id)
	return nil
}

func (c *LRUSnapshotCache) moveToFront(entry *cacheEntry) {
	if entry == c.head {
		return
	}
	c.remove(entry)
	c.addToFront(entry)
}

func (c *LRUSnapshotCache) addToFront(entry *cacheEntry) {
	entry.next = c.head
	entry.prev = nil

	if c.head != nil {
		c.head.prev = entry
	}
	c.head = entry

	if c.tail == nil {
		c.tail = entry
	}
}

func (c *LRUSnapshotCache) remove(entry *cacheEntry) {
	if entry.prev != nil {
		entry.prev.next = entry.next
	} else {
		c.head = entry.next
	}

	if entry.next != nil {
		entry.next.prev = entry.prev
	} else {
		c.tail = entry.prev
	}

	entry.prev = nil
	entry.next = nil
}

func (c *LRUSnapshotCache) evictLRU() {
	if c.tail == nil {
		return
	}
	entry := c.tail
	c.remove(entry)
	delete(c.items, entry.id)
}

// Ensure LRUSnapshotCache implements the SnapshotCache interface.
var _ ports.SnapshotCache = (*LRUSnapshotCache)(nil)
