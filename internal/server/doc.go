// Package server hosts the Fiber HTTP service and its middleware chain:
// request IDs, panic recovery, and the split between the cache pipeline and
// the /-/ diagnostics surface. It accepts explicit dependencies so the binary
// in main.go and the tests can wire their own proxy handler.
package server
