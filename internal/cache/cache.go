package cache

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// TokenCache caches the encoded ids of a text.
type TokenCache interface {
	// Get retrieves the ids for text.
	Get(text string) ([]int, bool)
	// Put stores the ids for text.
	Put(text string, ids []int)
	// Size returns the number of items in the cache.
	Size() int
}

// MapCache is an unbounded in-memory TokenCache.
type MapCache struct {
	data map[string][]int
	mu   sync.RWMutex
}

func NewMapCache() *MapCache {
	return &MapCache{
		data: make(map[string][]int),
	}
}

func (c *MapCache) Get(text string) ([]int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Return copy to avoid modification of cached value
	if v, ok := c.data[text]; ok {
		return clone(v), true
	}
	return nil, false
}

func (c *MapCache) Put(text string, ids []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[text] = clone(ids)
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// LRUCache is a TokenCache that evicts the least recently used text once
// it holds size entries.
type LRUCache struct {
	lru *lru.Cache
}

func NewLRUCache(size int) (*LRUCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &LRUCache{lru: c}, nil
}

func (c *LRUCache) Get(text string) ([]int, bool) {
	v, ok := c.lru.Get(text)
	if !ok {
		return nil, false
	}
	return clone(v.([]int)), true
}

func (c *LRUCache) Put(text string, ids []int) {
	c.lru.Add(text, clone(ids))
}

func (c *LRUCache) Size() int {
	return c.lru.Len()
}

// New returns an LRUCache when size is positive and an unbounded MapCache
// otherwise.
func New(size int) (TokenCache, error) {
	if size <= 0 {
		return NewMapCache(), nil
	}
	return NewLRUCache(size)
}

func clone(ids []int) []int {
	dst := make([]int, len(ids))
	copy(dst, ids)
	return dst
}
