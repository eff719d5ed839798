package compute

import (
	"errors"
	"testing"
	"time"

	"github.com/echoscope/echoscope/agent/internal/probe"
	"github.com/echoscope/echoscope/pkg/health"
	"github.com/echoscope/echoscope/pkg/types"
)

// baseTime is a fixed reference point so all test timings are deterministic.
var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func tick(n int) time.Time {
	return baseTime.Add(time.Duration(n) * time.Minute)
}

// makeResult builds a probe result with n healthy echoes.
func makeResult(id string, n int, latency float64) *probe.Result {
	res := &probe.Result{SourceID: id, SourceType: "ping", ProbedAt: baseTime}
	for i := 0; i < n; i++ {
		res.Samples = append(res.Samples, types.EchoSample{
			Timestamp: baseTime.Add(time.Duration(i) * time.Second),
			LatencyMs: latency,
			JitterMs:  types.Float(1),
		})
	}
	return res
}

func TestEngine_BuffersUntilBatchSize(t *testing.T) {
	e := NewEngine(10, health.DefaultPolicy())

	if b := e.Process(makeResult("gw", 4, 20), tick(0)); b != nil {
		t.Fatal("batch returned before batch size reached")
	}
	if b := e.Process(makeResult("gw", 4, 20), tick(1)); b != nil {
		t.Fatal("batch returned before batch size reached")
	}
	if got := e.Pending("gw"); got != 8 {
		t.Errorf("Pending = %d, want 8", got)
	}

	b := e.Process(makeResult("gw", 4, 20), tick(2))
	if b == nil {
		t.Fatal("expected batch at 12 samples")
	}
	if b.Dataset.Count() != 10 {
		t.Errorf("batch samples = %d, want 10", b.Dataset.Count())
	}
	if b.Dataset.SourceName != "gw" || !b.Dataset.CreatedAt.Equal(tick(2)) {
		t.Errorf("dataset header: %q %v", b.Dataset.SourceName, b.Dataset.CreatedAt)
	}
	if got := e.Pending("gw"); got != 2 {
		t.Errorf("carry-over Pending = %d, want 2", got)
	}
}

func TestEngine_LocalScore(t *testing.T) {
	e := NewEngine(5, health.DefaultPolicy())
	b := e.Process(makeResult("gw", 5, 20), tick(0))
	if b == nil {
		t.Fatal("expected batch")
	}
	if b.ScoreErr != nil {
		t.Fatalf("ScoreErr = %v", b.ScoreErr)
	}
	if b.Local.Level != types.LevelExcellent {
		t.Errorf("local level = %q, want %q (score %v)", b.Local.Level, types.LevelExcellent, b.Local.Score)
	}
	if b.Local.DataPoints != 5 {
		t.Errorf("local data points = %d, want 5", b.Local.DataPoints)
	}
}

func TestEngine_SourcesIndependent(t *testing.T) {
	e := NewEngine(5, health.DefaultPolicy())
	e.Process(makeResult("a", 3, 20), tick(0))
	if b := e.Process(makeResult("b", 3, 20), tick(0)); b != nil {
		t.Error("source b should not inherit source a's samples")
	}
	if e.Pending("a") != 3 || e.Pending("b") != 3 {
		t.Errorf("pending a=%d b=%d", e.Pending("a"), e.Pending("b"))
	}
}

func TestEngine_FailedProbeLowersUptime(t *testing.T) {
	e := NewEngine(100, health.DefaultPolicy())
	e.Process(makeResult("gw", 1, 20), tick(0))
	e.Process(&probe.Result{SourceID: "gw", Err: errors.New("timeout")}, tick(1))
	e.Process(makeResult("gw", 1, 20), tick(2))
	e.Process(&probe.Result{SourceID: "gw", Err: errors.New("timeout")}, tick(3))

	if got := e.Uptime("gw"); got != 50 {
		t.Errorf("Uptime = %v, want 50", got)
	}
	if got := e.Pending("gw"); got != 2 {
		t.Errorf("failed probes should add no samples, Pending = %d", got)
	}
}

func TestEngine_UptimeWindow(t *testing.T) {
	e := NewEngine(1000, health.DefaultPolicy())
	for i := 0; i < uptimeWindow; i++ {
		e.Process(&probe.Result{SourceID: "gw", Err: errors.New("down")}, tick(i))
	}
	for i := 0; i < uptimeWindow; i++ {
		e.Process(makeResult("gw", 1, 20), tick(uptimeWindow+i))
	}
	if got := e.Uptime("gw"); got != 100 {
		t.Errorf("Uptime after window rollover = %v, want 100", got)
	}
	if got := e.Uptime("unknown"); got != 100 {
		t.Errorf("Uptime for unseen source = %v, want 100", got)
	}
}
