// Package ws implements the WebSocket report feed for echoscope-server.
//
// Hub manages a set of connected subscribers. It broadcasts the live sources
// snapshot on a configurable interval (default 5s) and pushes every new
// health report the moment the analysis service produces it. A subscriber
// connecting to /ws/stream?source=a,b only receives those sources.
//
// New(store, interval, policy) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker and blocks until ctx is cancelled,
// then closes all active connections.
// Hub.Notify(report, filename) pushes a "report" event to every interested subscriber.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket and sends the current
// snapshot immediately on connect.
//
// Messages sent to clients:
//
//	{"event": "snapshot", "data": { /* same schema as GET /api/v1/sources */ }}
//	{"event": "report",   "data": { /* one source entry with diagnostics */ }}
//
// The upgrader accepts all origins. The endpoint is mounted at /ws/stream.
package ws
