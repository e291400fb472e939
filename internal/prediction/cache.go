package prediction

import (
	"sync"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

type cacheKey struct {
	zip  string
	year int
	pt   domain.PropertyType
}

// lruCache is a thread-safe LRU of finished predictions. Stored values are
// never modified; callers receive copies.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[cacheKey]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   cacheKey
	value domain.Prediction
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[cacheKey]*entry),
	}
}

func (c *lruCache) get(key cacheKey) (domain.Prediction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return domain.Prediction{}, false
	}
	c.moveToFront(e)
	return clonePrediction(e.value), true
}

// put stores value unless key is already present. Entries are immutable, so
// the first write wins.
func (c *lruCache) put(key cacheKey, value domain.Prediction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: clonePrediction(value)}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[cacheKey]*entry)
	c.head, c.tail = nil, nil
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}

func clonePrediction(p domain.Prediction) domain.Prediction {
	p.Warnings = append([]domain.Warning(nil), p.Warnings...)
	return p
}
