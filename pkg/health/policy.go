package health

import (
	"fmt"

	"github.com/echoscope/echoscope/pkg/types"
)

// SampleMode selects what happens to a sample that fails validation.
type SampleMode string

const (
	// SampleReject aborts the whole run with a MalformedSampleError.
	SampleReject SampleMode = "reject"
	// SampleSkip drops the sample and reports its index in Result.Skipped.
	SampleSkip SampleMode = "skip"
)

// Thresholds are the minimum integer scores for each level above Critique.
// They must strictly descend: 100 ≥ Excellent > Bon > Moyen > Mauvais > 0.
type Thresholds struct {
	Excellent int
	Bon       int
	Moyen     int
	Mauvais   int
}

// Policy holds every constant the score formula depends on.
type Policy struct {
	// Latency penalty: 0 at or below LatencyGoodMs, ramps linearly to
	// LatencyMaxPenalty at LatencyBadMs, constant above.
	LatencyGoodMs     float64
	LatencyBadMs      float64
	LatencyMaxPenalty float64

	// LossWeight is the penalty at 100% loss. 100 means total loss alone
	// drives the score to 0.
	LossWeight float64

	// Jitter penalty, same shape as latency but smaller in magnitude.
	JitterGoodMs     float64
	JitterBadMs      float64
	JitterMaxPenalty float64

	Thresholds Thresholds

	// Samples selects the malformed-sample policy. Empty means SampleReject.
	Samples SampleMode
}

// DefaultPolicy returns the documented default weights and thresholds.
func DefaultPolicy() Policy {
	return Policy{
		LatencyGoodMs:     50,
		LatencyBadMs:      300,
		LatencyMaxPenalty: 40,
		LossWeight:        100,
		JitterGoodMs:      10,
		JitterBadMs:       100,
		JitterMaxPenalty:  15,
		Thresholds:        DefaultThresholds(),
		Samples:           SampleReject,
	}
}

// DefaultThresholds returns 90/80/70/60.
func DefaultThresholds() Thresholds {
	return Thresholds{Excellent: 90, Bon: 80, Moyen: 70, Mauvais: 60}
}

// Validate checks that the policy is internally consistent.
func (p Policy) Validate() error {
	if p.LatencyGoodMs < 0 {
		return fmt.Errorf("latency_good_ms must not be negative")
	}
	if p.LatencyBadMs <= p.LatencyGoodMs {
		return fmt.Errorf("latency_bad_ms (%v) must be greater than latency_good_ms (%v)", p.LatencyBadMs, p.LatencyGoodMs)
	}
	if p.JitterGoodMs < 0 {
		return fmt.Errorf("jitter_good_ms must not be negative")
	}
	if p.JitterBadMs <= p.JitterGoodMs {
		return fmt.Errorf("jitter_bad_ms (%v) must be greater than jitter_good_ms (%v)", p.JitterBadMs, p.JitterGoodMs)
	}
	if p.LatencyMaxPenalty < 0 || p.LossWeight < 0 || p.JitterMaxPenalty < 0 {
		return fmt.Errorf("penalty weights must not be negative")
	}
	switch p.Samples {
	case SampleReject, SampleSkip, "":
	default:
		return fmt.Errorf("unknown malformed sample mode %q: want reject|skip", p.Samples)
	}
	return p.Thresholds.Validate()
}

// Validate checks that the thresholds partition [0, 100] without gaps.
func (t Thresholds) Validate() error {
	if t.Excellent > 100 {
		return fmt.Errorf("thresholds: excellent (%d) must not exceed 100", t.Excellent)
	}
	if !(t.Excellent > t.Bon && t.Bon > t.Moyen && t.Moyen > t.Mauvais) {
		return fmt.Errorf("thresholds must strictly descend, got %d/%d/%d/%d",
			t.Excellent, t.Bon, t.Moyen, t.Mauvais)
	}
	if t.Mauvais <= 0 {
		return fmt.Errorf("thresholds: mauvais (%d) must be positive", t.Mauvais)
	}
	return nil
}

// Bounds returns the inclusive integer score range assigned to l.
// ok is false for an unknown level.
func (t Thresholds) Bounds(l types.Level) (lo, hi int, ok bool) {
	switch l {
	case types.LevelExcellent:
		return t.Excellent, 100, true
	case types.LevelBon:
		return t.Bon, t.Excellent - 1, true
	case types.LevelMoyen:
		return t.Moyen, t.Bon - 1, true
	case types.LevelMauvais:
		return t.Mauvais, t.Moyen - 1, true
	case types.LevelCritique:
		return 0, t.Mauvais - 1, true
	}
	return 0, 0, false
}

// Classify maps a score to its level. It is total: values above 100 are
// Excellent and negative values Critique.
func Classify(score int, t Thresholds) types.Level {
	switch {
	case score >= t.Excellent:
		return types.LevelExcellent
	case score >= t.Bon:
		return types.LevelBon
	case score >= t.Moyen:
		return types.LevelMoyen
	case score >= t.Mauvais:
		return types.LevelMauvais
	default:
		return types.LevelCritique
	}
}
