// Package cache holds the in-memory side of the edge cache: the LRU index of
// entries, the freshness policy evaluated against an injected clock, cache key
// derivation, Cache-Control decoding, and the JSON snapshot that lets disk
// entries survive a restart. It never reads or writes bodies; the proxy layer
// pairs index changes with the storage tiers.
package cache
