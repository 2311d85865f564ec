// Package geolb decides which edge POP a client should be sent to. A Prober
// keeps the Registry's health and latency current, a RegionTable maps client
// addresses to regions, and the Selector combines both to answer lookups,
// falling back to the global healthy pool and finally to ErrNoHealthyPOP.
package geolb
