// Package fsrv is the file URI server: thumbnail and file-content routes
// backed by a bounded LRU metadata cache, with a local-disk path and a
// peer-fetch fallback.
/*
 * Copyright (c) 2024, corevault authors.
 */
package fsrv

import (
	"container/list"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/sdcore/corevault/cmn/debug"
	"github.com/sdcore/corevault/core"
)

const capacity = 150 // entries per server instance

// cacheKey is the (library, file_path_id) tuple.
type cacheKey struct {
	libraryID  uuid.UUID
	filePathID int64
}

// Cache is a hint-only LRU: staleness is tolerated and corrected on I/O
// failure, never assumed authoritative.
type Cache struct {
	mu       sync.Mutex
	ll       *list.List // front = most-recently-used
	elements map[cacheKey]*list.Element
}

type entry struct {
	key   cacheKey
	value core.CacheValue
}

func NewCache() *Cache {
	return &Cache{ll: list.New(), elements: make(map[cacheKey]*list.Element)}
}

// Get returns the cached value for key, if present, moving it to
// most-recently-used position.
func (c *Cache) Get(libraryID uuid.UUID, filePathID int64) (core.CacheValue, bool) {
	key := cacheKey{libraryID, filePathID}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.elements[key]
	if !ok {
		return core.CacheValue{}, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).value, true
}

// Insert adds or refreshes an entry, evicting the least-recently-used victim
// when the cache is at capacity.
func (c *Cache) Insert(libraryID uuid.UUID, filePathID int64, value core.CacheValue) {
	key := cacheKey{libraryID, filePathID}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.elements[key]; ok {
		el.Value.(*entry).value = value
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{key: key, value: value})
	c.elements[key] = el

	for c.ll.Len() > capacity {
		victim := c.ll.Back()
		if victim == nil {
			break
		}
		c.ll.Remove(victim)
		delete(c.elements, victim.Value.(*entry).key)
	}
	debug.Assert(c.ll.Len() <= capacity)
}

// Invalidate drops one entry; called when local I/O reports NotFound so a
// stale hint doesn't keep fooling future requests.
func (c *Cache) Invalidate(libraryID uuid.UUID, filePathID int64) {
	key := cacheKey{libraryID, filePathID}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.elements[key]; ok {
		c.ll.Remove(el)
		delete(c.elements, key)
	}
}

// Sweep drops local entries whose absolute path no longer exists; remote
// entries are left to the peer-fetch path to correct. Registered with the
// housekeeper by the embedder.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, el := range c.elements {
		ent := el.Value.(*entry)
		if ent.value.ServeFrom != core.ServeLocal {
			continue
		}
		if _, err := os.Stat(ent.value.AbsPath); err != nil && os.IsNotExist(err) {
			c.ll.Remove(el)
			delete(c.elements, key)
		}
	}
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
