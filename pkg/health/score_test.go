package health

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/echoscope/echoscope/pkg/types"
)

var now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// almostEqual returns true if a and b are within epsilon of each other.
func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

// uniform builds n samples with the same latency and loss flag.
func uniform(n int, latency float64, lost bool) []types.EchoSample {
	out := make([]types.EchoSample, n)
	for i := range out {
		out[i] = types.EchoSample{
			Timestamp:  now.Add(time.Duration(i) * time.Second),
			LatencyMs:  latency,
			PacketLoss: lost,
		}
	}
	return out
}

func dataset(samples ...[]types.EchoSample) types.EchoDataset {
	ds := types.EchoDataset{SourceName: "test.json", CreatedAt: now}
	for _, s := range samples {
		ds.Samples = append(ds.Samples, s...)
	}
	return ds
}

func mustScore(t *testing.T, ds types.EchoDataset, p Policy) Result {
	t.Helper()
	res, err := Score(ds, p, now)
	if err != nil {
		t.Fatalf("Score: unexpected error: %v", err)
	}
	return res
}

// --- Score() table-driven tests ---

func TestScore_Scenarios(t *testing.T) {
	tests := []struct {
		name      string
		ds        types.EchoDataset
		wantScore int
		wantLevel types.Level
	}{
		{
			name:      "zero latency, no loss, no jitter",
			ds:        dataset(uniform(10, 0, false)),
			wantScore: 100,
			wantLevel: types.LevelExcellent,
		},
		{
			name:      "100 samples at 20ms",
			ds:        dataset(uniform(100, 20, false)),
			wantScore: 100,
			wantLevel: types.LevelExcellent,
		},
		{
			// 50% loss → penalty 50; avg latency 10ms → no latency penalty.
			name:      "half the samples lost",
			ds:        dataset(uniform(50, 20, false), uniform(50, 0, true)),
			wantScore: 50,
			wantLevel: types.LevelCritique,
		},
		{
			// avg 175ms → (175-50)/250*40 = 20
			name:      "latency halfway up the ramp",
			ds:        dataset(uniform(4, 175, false)),
			wantScore: 80,
			wantLevel: types.LevelBon,
		},
		{
			// saturated latency penalty 40 → 60
			name:      "latency far above bad bound",
			ds:        dataset(uniform(4, 5000, false)),
			wantScore: 60,
			wantLevel: types.LevelMauvais,
		},
		{
			// loss 25% → 25 penalty
			name:      "quarter loss",
			ds:        dataset(uniform(3, 10, false), uniform(1, 10, true)),
			wantScore: 75,
			wantLevel: types.LevelMoyen,
		},
		{
			name:      "total loss",
			ds:        dataset(uniform(20, 0, true)),
			wantScore: 0,
			wantLevel: types.LevelCritique,
		},
		{
			// total loss plus saturated latency must still clamp to 0.
			name:      "total loss and huge latency",
			ds:        dataset(uniform(20, 9999, true)),
			wantScore: 0,
			wantLevel: types.LevelCritique,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := mustScore(t, tc.ds, DefaultPolicy())
			if res.Report.Score != tc.wantScore {
				t.Errorf("Score = %d, want %d (factors %+v)", res.Report.Score, tc.wantScore, res.Factors)
			}
			if res.Report.Level != tc.wantLevel {
				t.Errorf("Level = %q, want %q", res.Report.Level, tc.wantLevel)
			}
		})
	}
}

func TestScore_HalfLoss_MateriallyBelow70(t *testing.T) {
	res := mustScore(t, dataset(uniform(50, 20, false), uniform(50, 20, true)), DefaultPolicy())
	if res.Report.Score >= 70 {
		t.Errorf("Score = %d, want < 70", res.Report.Score)
	}
	if l := res.Report.Level; l != types.LevelMauvais && l != types.LevelCritique {
		t.Errorf("Level = %q, want Mauvais or Critique", l)
	}
}

func TestScore_ReportFields(t *testing.T) {
	ds := dataset(uniform(3, 30, false), uniform(1, 0, true))
	ds.SourceName = "echo_upload.json"
	res := mustScore(t, ds, DefaultPolicy())

	if res.Report.DataPoints != 4 {
		t.Errorf("DataPoints = %d, want 4", res.Report.DataPoints)
	}
	if res.Report.SourceFilename != "echo_upload.json" {
		t.Errorf("SourceFilename = %q", res.Report.SourceFilename)
	}
	if !res.Report.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", res.Report.Timestamp, now)
	}
	if res.Report.ID != "" {
		t.Errorf("ID = %q, want empty (assigned on write)", res.Report.ID)
	}
}

// --- jitter ---

func TestScore_Jitter(t *testing.T) {
	withJitter := func(n int, jitter float64) []types.EchoSample {
		s := uniform(n, 20, false)
		for i := range s {
			s[i].JitterMs = types.Float(jitter)
		}
		return s
	}

	tests := []struct {
		name        string
		samples     []types.EchoSample
		wantPenalty float64
	}{
		{"no jitter data not penalised", uniform(5, 20, false), 0},
		{"jitter under good bound", withJitter(5, 5), 0},
		{"jitter halfway", withJitter(5, 55), 7.5},
		{"jitter saturated", withJitter(5, 500), 15},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := mustScore(t, dataset(tc.samples), DefaultPolicy())
			if !almostEqual(res.Factors.JitterPenalty, tc.wantPenalty, 1e-9) {
				t.Errorf("JitterPenalty = %.4f, want %.4f", res.Factors.JitterPenalty, tc.wantPenalty)
			}
		})
	}
}

func TestScore_JitterOnlyAveragedWherePresent(t *testing.T) {
	s := uniform(4, 10, false)
	s[0].JitterMs = types.Float(40)
	s[1].JitterMs = types.Float(20)

	res := mustScore(t, dataset(s), DefaultPolicy())
	if res.Report.Stats.JitterSamples != 2 {
		t.Errorf("JitterSamples = %d, want 2", res.Report.Stats.JitterSamples)
	}
	if !almostEqual(res.Report.Stats.AvgJitterMs, 30, 1e-9) {
		t.Errorf("AvgJitterMs = %.4f, want 30", res.Report.Stats.AvgJitterMs)
	}
}

// --- properties ---

func TestScore_InRange(t *testing.T) {
	latencies := []float64{0, 1, 49.9, 50, 120, 300, 301, 1e6}
	losses := []bool{false, true}
	for _, lat := range latencies {
		for _, lost := range losses {
			s := uniform(7, lat, lost)
			for i := range s {
				s[i].JitterMs = types.Float(lat / 2)
			}
			res := mustScore(t, dataset(s), DefaultPolicy())
			if res.Report.Score < 0 || res.Report.Score > 100 {
				t.Errorf("Score %d out of [0,100] for latency=%v lost=%v", res.Report.Score, lat, lost)
			}
		}
	}
}

func TestScore_MonotonicInLatency(t *testing.T) {
	prev := math.MaxInt
	for lat := 0.0; lat <= 1000; lat += 5 {
		// Fixed loss of 1 in 10.
		ds := dataset(uniform(9, lat, false), uniform(1, lat, true))
		res := mustScore(t, ds, DefaultPolicy())
		if res.Report.Score > prev {
			t.Fatalf("score increased from %d to %d at latency %.0fms", prev, res.Report.Score, lat)
		}
		prev = res.Report.Score
	}
}

func TestScore_Deterministic(t *testing.T) {
	s := uniform(30, 80, false)
	s[3].PacketLoss = true
	s[7].JitterMs = types.Float(12)
	ds := dataset(s)

	a := mustScore(t, ds, DefaultPolicy())
	b := mustScore(t, ds, DefaultPolicy())
	if a.Report.Score != b.Report.Score || a.Report.Level != b.Report.Level {
		t.Errorf("repeated scoring differs: %d/%s vs %d/%s",
			a.Report.Score, a.Report.Level, b.Report.Score, b.Report.Level)
	}
}

func TestScore_OrderIndependent(t *testing.T) {
	s := uniform(10, 40, false)
	s[0].LatencyMs = 400
	s[9].PacketLoss = true

	rev := make([]types.EchoSample, len(s))
	for i := range s {
		rev[len(s)-1-i] = s[i]
	}

	a := mustScore(t, dataset(s), DefaultPolicy())
	b := mustScore(t, dataset(rev), DefaultPolicy())
	if a.Report.Score != b.Report.Score {
		t.Errorf("score depends on order: %d vs %d", a.Report.Score, b.Report.Score)
	}
}

// --- errors ---

func TestScore_EmptyDataset(t *testing.T) {
	tests := []struct {
		name string
		ds   types.EchoDataset
	}{
		{"nil samples", types.EchoDataset{SourceName: "x"}},
		{"empty samples", types.EchoDataset{SourceName: "x", Samples: []types.EchoSample{}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Score(tc.ds, DefaultPolicy(), now)
			var inv *InvalidInputError
			if !errors.As(err, &inv) {
				t.Fatalf("err = %v, want *InvalidInputError", err)
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Error("errors.Is(err, ErrInvalidInput) = false")
			}
			if res.Report.DataPoints != 0 || res.Report.Level != "" {
				t.Errorf("expected no report, got %+v", res.Report)
			}
		})
	}
}

func TestScore_MalformedReject(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*types.EchoSample)
		wantField string
	}{
		{"negative latency", func(s *types.EchoSample) { s.LatencyMs = -1 }, "latency_ms"},
		{"NaN latency", func(s *types.EchoSample) { s.LatencyMs = math.NaN() }, "latency_ms"},
		{"infinite latency", func(s *types.EchoSample) { s.LatencyMs = math.Inf(1) }, "latency_ms"},
		{"negative jitter", func(s *types.EchoSample) { s.JitterMs = types.Float(-3) }, "jitter_ms"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := uniform(5, 20, false)
			tc.mutate(&s[2])

			_, err := Score(dataset(s), DefaultPolicy(), now)
			var mal *MalformedSampleError
			if !errors.As(err, &mal) {
				t.Fatalf("err = %v, want *MalformedSampleError", err)
			}
			if mal.Index != 2 || mal.Field != tc.wantField {
				t.Errorf("got index=%d field=%q, want 2 %q", mal.Index, mal.Field, tc.wantField)
			}
			if !errors.Is(err, ErrMalformedSample) {
				t.Error("errors.Is(err, ErrMalformedSample) = false")
			}
		})
	}
}

func TestScore_MalformedSkip(t *testing.T) {
	p := DefaultPolicy()
	p.Samples = SampleSkip

	s := uniform(4, 20, false)
	s[1].LatencyMs = -5
	s[3].JitterMs = types.Float(-1)

	res := mustScore(t, dataset(s), p)
	if len(res.Skipped) != 2 || res.Skipped[0] != 1 || res.Skipped[1] != 3 {
		t.Errorf("Skipped = %v, want [1 3]", res.Skipped)
	}
	if res.Report.DataPoints != 2 {
		t.Errorf("DataPoints = %d, want 2", res.Report.DataPoints)
	}
}

func TestScore_MalformedSkip_AllDropped(t *testing.T) {
	p := DefaultPolicy()
	p.Samples = SampleSkip

	_, err := Score(dataset(uniform(3, -1, false)), p, now)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestScore_InvalidPolicy(t *testing.T) {
	p := DefaultPolicy()
	p.LatencyBadMs = p.LatencyGoodMs
	if _, err := Score(dataset(uniform(1, 1, false)), p, now); err == nil {
		t.Fatal("expected error for invalid policy, got nil")
	}
}

// --- Aggregate ---

func TestAggregate(t *testing.T) {
	s := []types.EchoSample{
		{LatencyMs: 10},
		{LatencyMs: 30, JitterMs: types.Float(4)},
		{LatencyMs: 0, PacketLoss: true, Anomaly: types.Bool(true)},
		{LatencyMs: 80, Anomaly: types.Bool(false)},
	}
	st := Aggregate(s)

	if !almostEqual(st.AvgLatencyMs, 30, 1e-9) {
		t.Errorf("AvgLatencyMs = %.4f, want 30", st.AvgLatencyMs)
	}
	if st.MinLatencyMs != 0 || st.MaxLatencyMs != 80 {
		t.Errorf("Min/Max = %.1f/%.1f, want 0/80", st.MinLatencyMs, st.MaxLatencyMs)
	}
	if !almostEqual(st.LossRate, 0.25, 1e-9) || st.LostCount != 1 {
		t.Errorf("LossRate = %.4f LostCount = %d, want 0.25 / 1", st.LossRate, st.LostCount)
	}
	if st.AnomalyCount != 1 {
		t.Errorf("AnomalyCount = %d, want 1", st.AnomalyCount)
	}
	if st.JitterSamples != 1 || st.AvgJitterMs != 4 {
		t.Errorf("jitter = %d samples avg %.2f, want 1 / 4", st.JitterSamples, st.AvgJitterMs)
	}
}

func TestAggregate_Empty(t *testing.T) {
	if st := Aggregate(nil); st != (types.Stats{}) {
		t.Errorf("Aggregate(nil) = %+v, want zero", st)
	}
}

// --- ramp ---

func TestRamp(t *testing.T) {
	tests := []struct{ v, want float64 }{
		{0, 0}, {50, 0}, {175, 20}, {300, 40}, {1e9, 40},
	}
	for _, tc := range tests {
		if got := ramp(tc.v, 50, 300, 40); !almostEqual(got, tc.want, 1e-9) {
			t.Errorf("ramp(%.0f) = %.4f, want %.4f", tc.v, got, tc.want)
		}
	}
}
