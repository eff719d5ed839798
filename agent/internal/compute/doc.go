// Package compute groups probe samples into per-source batches.
//
// Engine.Process buffers the samples of each probe.Result and returns a
// Batch once agent.batch_size samples have accumulated. Every batch is scored
// locally with pkg/health so the agent can log the score the server will
// produce. The engine also tracks probe uptime over the last 20 cycles.
// Process accepts an injectable time.Time so tests are deterministic.
package compute
