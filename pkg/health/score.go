package health

import (
	"fmt"
	"math"
	"time"

	"github.com/echoscope/echoscope/pkg/types"
)

// baseline is the score of a perfect dataset before penalties.
const baseline = 100.0

// Factors exposes the individual penalties that were subtracted from the
// baseline. Useful for rendering per-dimension breakdowns.
type Factors struct {
	LatencyPenalty float64
	LossPenalty    float64
	JitterPenalty  float64

	// Raw is the unclamped, unrounded score.
	Raw float64
}

// Result is the output of Score.
type Result struct {
	Report  types.HealthReport
	Factors Factors

	// Skipped holds the indices of samples dropped under SampleSkip.
	// Always empty under SampleReject.
	Skipped []int
}

// Score computes the health report for ds under policy p.
//
// now becomes the report timestamp; passing it in keeps Score a pure
// function. The returned report has no ID; the caller assigns one when
// persisting it.
//
// Errors: *InvalidInputError when ds has no samples (or none survive
// SampleSkip), *MalformedSampleError for a negative or non-finite latency
// or jitter under SampleReject.
func Score(ds types.EchoDataset, p Policy, now time.Time) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, fmt.Errorf("health: invalid policy: %w", err)
	}
	if ds.Count() == 0 {
		return Result{}, &InvalidInputError{Reason: "dataset has no samples"}
	}

	samples, skipped, err := screen(ds.Samples, p.Samples)
	if err != nil {
		return Result{}, err
	}
	if len(samples) == 0 {
		return Result{}, &InvalidInputError{
			Reason: fmt.Sprintf("all %d samples are malformed", ds.Count()),
		}
	}

	st := Aggregate(samples)

	f := Factors{
		LatencyPenalty: ramp(st.AvgLatencyMs, p.LatencyGoodMs, p.LatencyBadMs, p.LatencyMaxPenalty),
		LossPenalty:    clamp(st.LossRate, 0, 1) * p.LossWeight,
	}
	// Missing optional jitter is not penalised.
	if st.JitterSamples > 0 {
		f.JitterPenalty = ramp(st.AvgJitterMs, p.JitterGoodMs, p.JitterBadMs, p.JitterMaxPenalty)
	}
	f.Raw = baseline - f.LatencyPenalty - f.LossPenalty - f.JitterPenalty

	score := int(math.Round(clamp(f.Raw, 0, 100)))

	return Result{
		Report: types.HealthReport{
			Score:          score,
			Level:          Classify(score, p.Thresholds),
			DataPoints:     len(samples),
			Timestamp:      now,
			SourceFilename: ds.SourceName,
			Stats:          st,
		},
		Factors: f,
		Skipped: skipped,
	}, nil
}

// Aggregate computes the statistics of samples. Latency figures cover every
// sample, lost or not; jitter covers only samples that carry it.
// An empty slice yields zero Stats.
func Aggregate(samples []types.EchoSample) types.Stats {
	var st types.Stats
	if len(samples) == 0 {
		return st
	}

	var latSum, jitSum float64
	st.MinLatencyMs = math.Inf(1)
	for _, s := range samples {
		latSum += s.LatencyMs
		if s.LatencyMs < st.MinLatencyMs {
			st.MinLatencyMs = s.LatencyMs
		}
		if s.LatencyMs > st.MaxLatencyMs {
			st.MaxLatencyMs = s.LatencyMs
		}
		if s.PacketLoss {
			st.LostCount++
		}
		if s.HasJitter() {
			jitSum += *s.JitterMs
			st.JitterSamples++
		}
		if s.IsAnomaly() {
			st.AnomalyCount++
		}
	}

	n := float64(len(samples))
	st.AvgLatencyMs = latSum / n
	st.LossRate = float64(st.LostCount) / n
	if st.JitterSamples > 0 {
		st.AvgJitterMs = jitSum / float64(st.JitterSamples)
	}
	return st
}

// screen validates every sample. Under SampleReject the first violation is
// returned as an error; under SampleSkip violating samples are dropped and
// their indices returned. Order of the kept samples is preserved.
func screen(in []types.EchoSample, mode SampleMode) ([]types.EchoSample, []int, error) {
	out := make([]types.EchoSample, 0, len(in))
	var skipped []int
	for i, s := range in {
		if err := checkSample(i, s); err != nil {
			if mode == SampleSkip {
				skipped = append(skipped, i)
				continue
			}
			return nil, nil, err
		}
		out = append(out, s)
	}
	return out, skipped, nil
}

func checkSample(i int, s types.EchoSample) error {
	if !validMs(s.LatencyMs) {
		return &MalformedSampleError{Index: i, Field: "latency_ms", Value: s.LatencyMs}
	}
	if s.HasJitter() && !validMs(*s.JitterMs) {
		return &MalformedSampleError{Index: i, Field: "jitter_ms", Value: *s.JitterMs}
	}
	return nil
}

// validMs reports whether v is a finite, non-negative duration.
func validMs(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// ramp returns 0 for v ≤ good, max for v ≥ bad and interpolates linearly
// in between. It is monotonic non-decreasing in v.
func ramp(v, good, bad, max float64) float64 {
	if v <= good {
		return 0
	}
	if v >= bad {
		return max
	}
	return max * (v - good) / (bad - good)
}

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
