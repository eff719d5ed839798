// Package health turns a batch of echo samples into a 0–100 health score and
// a qualitative level.
//
// score.go provides the pure Score(dataset, policy, now) function:
//
//	score = clamp(100 - latency_penalty - loss_penalty - jitter_penalty, 0, 100)
//
// rounded half away from zero, then classified by Policy.Thresholds.
// Latency and jitter penalties ramp linearly between a "good" and a "bad"
// bound and saturate above it, so a single outlier cannot drive the score
// below zero. Loss is penalised proportionally to the loss rate.
//
// Default level thresholds: Excellent ≥90, Bon 80–89, Moyen 70–79,
// Mauvais 60–69, Critique <60.
//
// The package performs no I/O and does not log; callers decide what to do
// with InvalidInputError and MalformedSampleError.
package health
