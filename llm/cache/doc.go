// Package cache implements the bounded per-stage response cache.
//
// Each workflow stage owns one Service: an LRU store with a TTL, an item
// cap, and a byte-size cap, evicted by recency, by expiry, or (under memory
// pressure) by an emergency cleanup that halves the cache. Keys are content
// hashes of (stage, prompt prefix, relevant context fields, user, coarse
// time bucket), so identical logical requests within the same window
// deliberately collide while stages, users, and config fields never do.
//
// The background maintenance loop is an explicitly cancellable task with a
// Stop method rather than a detached timer, so it can never keep a process
// alive past shutdown.
package cache
