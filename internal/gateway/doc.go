// Package gateway upgrades HTTP requests to WebSocket connections and owns
// them for their whole lifetime.
//
// A Gateway keeps a Registry of live connections (state Open or Closing),
// dispatches inbound frames to per-connection handlers in arrival order,
// fans payloads out with Broadcast, enforces heartbeats, and tears every
// connection down through a bounded grace period on Shutdown.
//
// Each connection runs one read goroutine and one write goroutine. Inbound
// frames are dispatched on the read goroutine, so handlers for a single
// connection never run concurrently with each other.
package gateway
