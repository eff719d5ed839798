package types

import "time"

// EchoSample is one round-trip measurement.
type EchoSample struct {
	Timestamp time.Time `json:"timestamp"`

	// LatencyMs is the round-trip time in milliseconds. Lost echoes carry 0.
	LatencyMs float64 `json:"latency_ms"`

	PacketLoss bool `json:"packet_loss"`

	// JitterMs is nil when the producer did not measure jitter.
	JitterMs *float64 `json:"jitter_ms,omitempty"`

	// Anomaly is set only on synthetically generated outliers.
	Anomaly *bool `json:"anomaly_flag,omitempty"`
}

// HasJitter reports whether the sample carries a jitter measurement.
func (s EchoSample) HasJitter() bool { return s.JitterMs != nil }

// IsAnomaly reports whether the sample was marked as an injected outlier.
func (s EchoSample) IsAnomaly() bool { return s.Anomaly != nil && *s.Anomaly }

// EchoDataset is an ordered batch of samples owned by one analysis run.
// It is not modified after construction.
type EchoDataset struct {
	SourceName string       `json:"source"`
	CreatedAt  time.Time    `json:"created_at"`
	Samples    []EchoSample `json:"samples"`
}

// Count returns the number of samples in the dataset.
func (d EchoDataset) Count() int { return len(d.Samples) }

// Float returns a pointer to v. Handy for building samples with jitter.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
