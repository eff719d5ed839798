// Package probe collects echo samples from the configured sources.
//
// Implemented probers: ICMP ping via go-ping (ping.go) and the Prometheus
// blackbox exporter /probe endpoint (blackbox.go). Factory: New(config.Source)
// returns the correct Prober.
//
// A probe that cannot reach its target returns a Result with Err set rather
// than an error, so the compute engine can record the cycle as down.
//
// Authentication (mTLS, API key, bearer token, basic) for HTTP sources is
// handled by the shared authRoundTripper in probe.go.
package probe
