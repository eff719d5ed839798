// Package generator produces synthetic echo datasets for exercising the
// scorer without real network telemetry. Randomness comes from an explicit
// seed, so a given Params always yields the same dataset.
package generator

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/echoscope/echoscope/pkg/health"
	"github.com/echoscope/echoscope/pkg/types"
)

// Baseline distribution.
const (
	baseLatencyMinMs = 10.0
	baseLatencyMaxMs = 60.0
	baseJitterMaxMs  = 8.0
	baseLossProb     = 0.01
)

// Outlier distribution used when anomalies are injected.
const (
	DefaultAnomalyRate  = 0.10
	outlierLatencyMinMs = 400.0
	outlierLatencyMaxMs = 1500.0
	DefaultInterval     = time.Second
)

// Params controls one generation run.
type Params struct {
	// Entries is the sample count; must be positive.
	Entries int

	// WithAnomalies replaces roughly AnomalyRate of the samples with
	// outliers: half abnormally slow, half forced loss.
	WithAnomalies bool

	// AnomalyRate is the outlier fraction. Zero means DefaultAnomalyRate.
	AnomalyRate float64

	Seed int64

	// Start is the first sample's timestamp; samples are Interval apart.
	Start    time.Time
	Interval time.Duration

	// SourceName labels the dataset. Defaults to "synthetic-<seed>".
	SourceName string
}

// Generate builds a dataset from p.
func Generate(p Params) (types.EchoDataset, error) {
	if p.Entries <= 0 {
		return types.EchoDataset{}, &health.InvalidInputError{
			Reason: fmt.Sprintf("entries must be positive, got %d", p.Entries),
		}
	}
	rate := p.AnomalyRate
	if rate == 0 {
		rate = DefaultAnomalyRate
	}
	if rate < 0 || rate > 1 {
		return types.EchoDataset{}, &health.InvalidInputError{
			Reason: fmt.Sprintf("anomaly rate must be in [0,1], got %v", rate),
		}
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	name := p.SourceName
	if name == "" {
		name = fmt.Sprintf("synthetic-%d", p.Seed)
	}

	rng := rand.New(rand.NewSource(p.Seed)) //nolint:gosec // reproducible test data, not crypto

	ds := types.EchoDataset{
		SourceName: name,
		CreatedAt:  p.Start,
		Samples:    make([]types.EchoSample, p.Entries),
	}
	for i := range ds.Samples {
		s := types.EchoSample{
			Timestamp:  p.Start.Add(time.Duration(i) * interval),
			LatencyMs:  round2(between(rng, baseLatencyMinMs, baseLatencyMaxMs)),
			PacketLoss: rng.Float64() < baseLossProb,
			JitterMs:   types.Float(round2(rng.Float64() * baseJitterMaxMs)),
		}
		if s.PacketLoss {
			s.LatencyMs = 0
		}

		if p.WithAnomalies {
			anomalous := rng.Float64() < rate
			s.Anomaly = types.Bool(anomalous)
			if anomalous {
				if rng.Intn(2) == 0 {
					s.LatencyMs = round2(between(rng, outlierLatencyMinMs, outlierLatencyMaxMs))
					s.PacketLoss = false
				} else {
					s.LatencyMs = 0
					s.PacketLoss = true
				}
			}
		}
		ds.Samples[i] = s
	}
	return ds, nil
}

// Encode writes ds in the envelope format dataset.Parse accepts.
func Encode(w io.Writer, ds types.EchoDataset) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ds); err != nil {
		return fmt.Errorf("generator: encode: %w", err)
	}
	return nil
}

func between(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
