// Package dataset parses uploaded echo data into a types.EchoDataset.
//
// Accepted top-level shapes:
//
//	[ {sample}, ... ]
//	{"samples": [ {sample}, ... ]}
//	{"data":    [ {sample}, ... ]}   // legacy generator output
//
// Each sample requires latency_ms (number) and packet_loss (bool, 0 or 1).
// timestamp (RFC3339 string or unix seconds), jitter_ms and anomaly_flag are
// optional. Missing or mistyped required fields are rejected with a
// *ParseError; nothing is defaulted. Value constraints (negative latency)
// are left to the scorer.
package dataset
