// Package analysis runs one dataset through the full pipeline: score it
// with the active policy, persist the report, index it, publish it to the
// live store, evaluate alert rules, push it to WebSocket clients and count
// it in the metrics registry.
//
// If scoring fails nothing is persisted or published; the error is
// returned unchanged so callers can match health.ErrInvalidInput and
// health.ErrMalformedSample with errors.Is.
package analysis
