// Package store holds the latest HealthReport per source in memory. It is a
// thread-safe map with TTL eviction that backs the live sources view and the
// WebSocket feed. Historical data lives in the report directory and the
// history index, not here.
package store
