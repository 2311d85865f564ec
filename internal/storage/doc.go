// Package storage holds the byte-storage tiers behind the edge cache. Both
// tiers address bodies by the sha256 of the cache key, never the raw key, so
// locators are filesystem-safe and bounded in length. The disk tier publishes
// writes atomically (temp file + rename) and a sweeper reclaims orphaned temp
// files; the memory tier keeps copies of small bodies in-process. Tier
// selection is a pure function of body size (Decide), which lets the cache
// pipeline find the owning tier of an evicted entry without a live handle.
package storage
