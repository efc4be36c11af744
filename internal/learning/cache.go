package learning

import (
	"sort"
	"sync"
)

// Cache is the in-memory projection of server-owned scheduling items, keyed
// by compound identity, with a derived due subset. It is the single source
// of truth for synchronous reads; callers re-read it on each update rather
// than holding derived copies.
//
// Updates arrive both from call responses and from unsolicited pushes.
// When the two race for the same item, the last write by arrival order wins:
// both paths are applied from the channel's single read loop, and each update
// is atomic under the cache lock.
type Cache struct {
	mutex sync.RWMutex
	items map[Key]Item
	due   map[Key]struct{}
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		items: make(map[Key]Item),
		due:   make(map[Key]struct{}),
	}
}

// Upsert replaces any existing entry with the same identity and recomputes
// due membership from the item's IsDue flag.
func (c *Cache) Upsert(item Item) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.apply(item)
}

// ReplaceSet applies a bulk fetch result. Entries not present in the new
// list are left untouched: absence never implies deletion in this domain.
func (c *Cache) ReplaceSet(items []Item) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, item := range items {
		c.apply(item)
	}
}

// apply must be called with the lock held.
func (c *Cache) apply(item Item) {
	key := item.Key()
	c.items[key] = item
	if item.IsDue {
		c.due[key] = struct{}{}
	} else {
		delete(c.due, key)
	}
}

// Get returns the item with the given identity.
func (c *Cache) Get(key Key) (Item, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	item, ok := c.items[key]
	return item, ok
}

// AllItems returns every cached item, ordered by identity.
func (c *Cache) AllItems() []Item {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	out := make([]Item, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item)
	}
	sortItems(out)
	return out
}

// DueItems returns the items currently flagged due, ordered by identity.
func (c *Cache) DueItems() []Item {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	out := make([]Item, 0, len(c.due))
	for key := range c.due {
		out = append(out, c.items[key])
	}
	sortItems(out)
	return out
}

// ItemsByType returns the cached items of one type, ordered by identity.
func (c *Cache) ItemsByType(itemType string) []Item {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var out []Item
	for _, item := range c.items {
		if item.ItemType == itemType {
			out = append(out, item)
		}
	}
	sortItems(out)
	return out
}

// Len returns the number of cached items.
func (c *Cache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.items)
}

func sortItems(items []Item) {
	sort.Slice(items, func(a, b int) bool {
		if items[a].ItemType != items[b].ItemType {
			return items[a].ItemType < items[b].ItemType
		}
		return items[a].ItemID < items[b].ItemID
	})
}
