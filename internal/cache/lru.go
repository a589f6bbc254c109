// internal/cache/lru.go
package cache

import (
    "container/list"
    "sync"
)

// LRU is a small bounded string cache. It shadows database lookups on hot
// paths (webhook dedup, opt-out checks); the database stays the source of
// truth, so eviction only costs an extra query.
type LRU struct {
    mu    sync.Mutex
    cap   int
    ll    *list.List
    items map[string]*list.Element
}

type entry struct {
    key   string
    value string
}

func New(capacity int) *LRU {
    if capacity <= 0 {
        capacity = 1
    }
    return &LRU{
        cap:   capacity,
        ll:    list.New(),
        items: make(map[string]*list.Element, capacity),
    }
}

func (c *LRU) Get(key string) (string, bool) {
    c.mu.Lock()
    defer c.mu.Unlock()
    el, ok := c.items[key]
    if !ok {
        return "", false
    }
    c.ll.MoveToFront(el)
    return el.Value.(*entry).value, true
}

// Add inserts or refreshes key. The least recently used entry is evicted
// once the cache is full.
func (c *LRU) Add(key, value string) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if el, ok := c.items[key]; ok {
        c.ll.MoveToFront(el)
        el.Value.(*entry).value = value
        return
    }
    el := c.ll.PushFront(&entry{key: key, value: value})
    c.items[key] = el
    if c.ll.Len() > c.cap {
        oldest := c.ll.Back()
        if oldest != nil {
            c.ll.Remove(oldest)
            delete(c.items, oldest.Value.(*entry).key)
        }
    }
}

func (c *LRU) Remove(key string) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if el, ok := c.items[key]; ok {
        c.ll.Remove(el)
        delete(c.items, key)
    }
}

func (c *LRU) Len() int {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.ll.Len()
}
