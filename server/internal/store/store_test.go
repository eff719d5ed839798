package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/echoscope/echoscope/pkg/types"
)

func rep(source string, score int) types.HealthReport {
	return types.HealthReport{SourceFilename: source, Score: score, Level: types.LevelBon}
}

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestPutAndGet(t *testing.T) {
	st := New(5 * time.Minute)
	st.Put(rep("eu", 88), "health_report_x.json")

	e, ok := st.Get("eu")
	if !ok {
		t.Fatal("Get: expected entry, got none")
	}
	if e.Report.Score != 88 || e.Filename != "health_report_x.json" {
		t.Errorf("entry = %+v", e)
	}
}

func TestGet_Missing(t *testing.T) {
	st := New(5 * time.Minute)
	if _, ok := st.Get("unknown"); ok {
		t.Fatal("Get on empty store: expected false, got true")
	}
}

func TestGet_Stale(t *testing.T) {
	base := time.Now()
	st := New(5 * time.Minute)
	st.now = fixedClock(base.Add(-10 * time.Minute))
	st.Put(rep("old", 70), "f")

	st.now = fixedClock(base)
	if _, ok := st.Get("old"); ok {
		t.Fatal("Get on stale entry: expected false, got true")
	}
}

func TestPut_Overwrites(t *testing.T) {
	st := New(5 * time.Minute)
	st.Put(rep("src", 90), "a")
	st.Put(rep("src", 40), "b")

	e, _ := st.Get("src")
	if e.Report.Score != 40 || e.Filename != "b" {
		t.Errorf("entry after overwrite = %+v", e)
	}
}

func TestList_ExcludesStaleAndSorts(t *testing.T) {
	base := time.Now()
	st := New(5 * time.Minute)

	st.now = fixedClock(base.Add(-10 * time.Minute))
	st.Put(rep("old", 10), "")

	st.now = fixedClock(base)
	st.Put(rep("zulu", 90), "")
	st.Put(rep("alpha", 80), "")

	entries := st.List()
	if len(entries) != 2 {
		t.Fatalf("List: got %d entries, want 2", len(entries))
	}
	if entries[0].Report.SourceFilename != "alpha" || entries[1].Report.SourceFilename != "zulu" {
		t.Errorf("List order = %q, %q", entries[0].Report.SourceFilename, entries[1].Report.SourceFilename)
	}
	if st.Count() != 3 {
		t.Errorf("Count includes stale: got %d, want 3", st.Count())
	}
}

func TestEvict_RemovesStale(t *testing.T) {
	base := time.Now()
	st := New(5 * time.Minute)

	st.now = fixedClock(base.Add(-10 * time.Minute))
	st.Put(rep("old1", 1), "")
	st.Put(rep("old2", 2), "")

	st.now = fixedClock(base)
	st.Put(rep("live", 3), "")

	if removed := st.Evict(base); removed != 2 {
		t.Errorf("Evict: removed %d, want 2", removed)
	}
	if st.Count() != 1 {
		t.Errorf("Count after evict: got %d, want 1", st.Count())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	st := New(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		st.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConcurrentMixedOps(t *testing.T) {
	st := New(5 * time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			st.Put(rep("src-a", 50), "")
		}()
		go func() {
			defer wg.Done()
			st.List()
		}()
	}
	wg.Wait()
	if st.Count() != 1 {
		t.Errorf("Count = %d, want 1", st.Count())
	}
}

func TestPut_TrendAndDelta(t *testing.T) {
	st := New(5 * time.Minute)
	for _, score := range []int{90, 85, 60} {
		st.Put(rep("lab", score), "")
	}

	e, _ := st.Get("lab")
	if len(e.Trend) != 3 || e.Trend[0].Score != 90 || e.Trend[2].Score != 60 {
		t.Fatalf("trend = %+v, want 90, 85, 60", e.Trend)
	}
	if d := e.Delta(); d != -25 {
		t.Errorf("Delta = %d, want -25", d)
	}

	// Callers get a copy; mutating it must not reach the store.
	e.Trend[0].Score = 0
	if again, _ := st.Get("lab"); again.Trend[0].Score != 90 {
		t.Error("Get returned a trend aliasing the store")
	}
}

func TestPut_TrendIsBounded(t *testing.T) {
	st := New(5 * time.Minute)
	for i := 0; i < TrendLen+5; i++ {
		st.Put(rep("lab", i), "")
	}
	e, _ := st.Get("lab")
	if len(e.Trend) != TrendLen {
		t.Fatalf("trend length = %d, want %d", len(e.Trend), TrendLen)
	}
	if e.Trend[0].Score != 5 || e.Trend[TrendLen-1].Score != TrendLen+4 {
		t.Errorf("trend window = %d..%d", e.Trend[0].Score, e.Trend[TrendLen-1].Score)
	}
}

func TestPut_StaleSourceRestartsTrend(t *testing.T) {
	base := time.Now()
	st := New(5 * time.Minute)

	st.now = fixedClock(base.Add(-10 * time.Minute))
	st.Put(rep("lab", 30), "")

	st.now = fixedClock(base)
	st.Put(rep("lab", 95), "")

	e, _ := st.Get("lab")
	if len(e.Trend) != 1 || e.Delta() != 0 {
		t.Errorf("trend = %+v, want a single fresh point", e.Trend)
	}
}
