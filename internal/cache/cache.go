// Package cache holds read results from the entry stores. One instance is
// shared across both stores; any successful mutation anywhere clears it
// entirely, which keeps invalidation correct across overlapping query
// shapes at the cost of extra churn.
package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// Capacity bounds the number of cached read results.
	Capacity = 50
	// TTL is the absolute lifetime of a cached result; an expired hit is
	// treated as a miss.
	TTL = 5 * time.Minute
)

type QueryCache struct {
	lru *expirable.LRU[string, interface{}]
}

func New() *QueryCache {
	return &QueryCache{
		lru: expirable.NewLRU[string, interface{}](Capacity, nil, TTL),
	}
}

// Key builds a deterministic cache key from the operation name and its
// normalized parameters. Params must be a fixed struct so field order in
// the encoding is stable.
func Key(op string, params interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		// Unkeyable params simply never hit the cache.
		return fmt.Sprintf("%s:%p", op, &params)
	}
	return op + ":" + string(data)
}

func (c *QueryCache) Get(key string) (interface{}, bool) {
	return c.lru.Get(key)
}

func (c *QueryCache) Set(key string, value interface{}) {
	c.lru.Add(key, value)
}

// Clear empties the cache unconditionally. Called after every mutation.
func (c *QueryCache) Clear() {
	c.lru.Purge()
}

func (c *QueryCache) Len() int {
	return c.lru.Len()
}
