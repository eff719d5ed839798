// Package shipper posts agent batches to echoscope-server (POST /api/v1/ingest).
//
// Shipper.Ship() is non-blocking: batches are placed in an in-memory channel
// (agent.buffer_size, default 100). When the buffer is full the oldest entry
// is evicted so the latest samples are always preserved.
//
// Shipper.Run() drains the buffer in a loop, retrying a failed batch with
// truncated exponential backoff (1s→60s, ±25% jitter). 4xx responses other
// than 429 discard the batch immediately rather than retrying.
//
// Auth reuses the probe package's HTTP client: mTLS, API key header, bearer
// token or basic auth, configured by agent.server_auth.
package shipper
