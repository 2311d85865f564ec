// Package origin wraps every upstream request the edge makes. A single Client
// owns the pooled transport, bounds in-flight requests, retries transport
// failures and 5xx answers with capped exponential backoff, and collapses
// concurrent identical fetches into one flight whose result is copied to each
// waiter. Counters and latency are exported through prometheus.
package origin
