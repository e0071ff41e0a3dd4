package proxy

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// notFoundCache remembers remote misses per repository path for a while so
// repeated requests for absent artifacts do not reach the origin.
type notFoundCache struct {
	lru *expirable.LRU[string, struct{}]
}

func newNotFoundCache(size int, ttl time.Duration) *notFoundCache {
	if size <= 0 {
		size = 10000
	}
	return &notFoundCache{lru: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func nfcKey(repoID, path string) string {
	return repoID + ":" + path
}

func (c *notFoundCache) Add(repoID, path string) {
	c.lru.Add(nfcKey(repoID, path), struct{}{})
}

func (c *notFoundCache) Contains(repoID, path string) bool {
	return c.lru.Contains(nfcKey(repoID, path))
}

func (c *notFoundCache) Remove(repoID, path string) {
	c.lru.Remove(nfcKey(repoID, path))
}

func (c *notFoundCache) Len() int {
	return c.lru.Len()
}
