package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/echoscope/echoscope/pkg/health"
	"github.com/echoscope/echoscope/pkg/types"
	"github.com/echoscope/echoscope/server/internal/metrics"
	"github.com/echoscope/echoscope/server/internal/report"
	"github.com/echoscope/echoscope/server/internal/store"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu        sync.Mutex
	evaluated []types.HealthReport
	notified  []string
	indexed   []string
	indexErr  error
}

func (r *recorder) Evaluate(rep types.HealthReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluated = append(r.evaluated, rep)
}

func (r *recorder) Notify(_ types.HealthReport, filename string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, filename)
}

func (r *recorder) Insert(_ context.Context, filename string, _ types.HealthReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexErr != nil {
		return r.indexErr
	}
	r.indexed = append(r.indexed, filename)
	return nil
}

func newService(t *testing.T, rec *recorder) (*Service, *report.Writer, *store.Store, *metrics.Registry) {
	t.Helper()
	w, err := report.NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	st := store.New(time.Hour)
	reg := metrics.New()
	svc, err := New(Options{
		Writer:   w,
		Store:    st,
		Index:    rec,
		Alerts:   rec,
		Notifier: rec,
		Metrics:  reg,
		Now:      func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, w, st, reg
}

func dataset(source string, samples ...types.EchoSample) types.EchoDataset {
	return types.EchoDataset{SourceName: source, CreatedAt: fixedNow, Samples: samples}
}

func good(n int) []types.EchoSample {
	out := make([]types.EchoSample, n)
	for i := range out {
		out[i] = types.EchoSample{
			Timestamp: fixedNow.Add(time.Duration(i) * time.Second),
			LatencyMs: 20,
			JitterMs:  types.Float(2),
		}
	}
	return out
}

func TestAnalyze_PersistsAndPublishes(t *testing.T) {
	rec := &recorder{}
	svc, w, st, _ := newService(t, rec)

	out, err := svc.Analyze(context.Background(), dataset("lab.json", good(10)...))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if out.Report.Score != 100 || out.Report.Level != types.LevelExcellent {
		t.Errorf("report: got %d %s, want 100 Excellent", out.Report.Score, out.Report.Level)
	}
	if out.Report.ID == "" {
		t.Error("report ID not assigned")
	}
	if !out.Report.Timestamp.Equal(fixedNow) {
		t.Errorf("timestamp: got %v, want %v", out.Report.Timestamp, fixedNow)
	}

	art, err := w.Load(out.Filename)
	if err != nil {
		t.Fatalf("Load %q: %v", out.Filename, err)
	}
	if art.HealthScore.Score != 100 || art.DataPoints != 10 {
		t.Errorf("artifact: got %+v", art)
	}

	e, ok := st.Get("lab.json")
	if !ok || e.Filename != out.Filename {
		t.Errorf("store entry: got %+v (ok=%v)", e, ok)
	}
	if len(rec.evaluated) != 1 || len(rec.notified) != 1 || len(rec.indexed) != 1 {
		t.Errorf("collaborators: evaluated=%d notified=%d indexed=%d, want 1 each",
			len(rec.evaluated), len(rec.notified), len(rec.indexed))
	}
}

func TestAnalyze_ErrorsPersistNothing(t *testing.T) {
	cases := []struct {
		name    string
		ds      types.EchoDataset
		wantErr error
	}{
		{"empty", dataset("empty.json"), health.ErrInvalidInput},
		{"negative latency", dataset("bad.json", types.EchoSample{LatencyMs: -5}), health.ErrMalformedSample},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			svc, w, st, _ := newService(t, rec)

			_, err := svc.Analyze(context.Background(), tc.ds)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err: got %v, want %v", err, tc.wantErr)
			}
			if n, err := w.Count(); err != nil || n != 0 {
				t.Errorf("report dir has %d reports (err %v), want 0", n, err)
			}
			if st.Count() != 0 {
				t.Errorf("store has %d entries, want 0", st.Count())
			}
			if len(rec.evaluated)+len(rec.notified)+len(rec.indexed) != 0 {
				t.Error("collaborators were called on a failed run")
			}
		})
	}
}

func TestAnalyze_IndexFailureIsNotFatal(t *testing.T) {
	rec := &recorder{indexErr: errors.New("disk full")}
	svc, _, st, _ := newService(t, rec)

	if _, err := svc.Analyze(context.Background(), dataset("lab.json", good(3)...)); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, ok := st.Get("lab.json"); !ok {
		t.Error("report should still reach the store")
	}
}

func TestSetPolicy(t *testing.T) {
	svc, _, _, _ := newService(t, &recorder{})

	p := health.DefaultPolicy()
	p.Samples = health.SampleSkip
	if err := svc.SetPolicy(p); err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}

	samples := append(good(4), types.EchoSample{LatencyMs: -1})
	out, err := svc.Analyze(context.Background(), dataset("mixed.json", samples...))
	if err != nil {
		t.Fatalf("Analyze under skip: %v", err)
	}
	if len(out.Skipped) != 1 || out.Skipped[0] != 4 {
		t.Errorf("skipped: got %v, want [4]", out.Skipped)
	}
	if out.Report.DataPoints != 4 {
		t.Errorf("data points: got %d, want 4", out.Report.DataPoints)
	}

	bad := health.DefaultPolicy()
	bad.Thresholds.Bon = 99
	if err := svc.SetPolicy(bad); err == nil {
		t.Fatal("SetPolicy accepted non-descending thresholds")
	}
	if svc.Policy() != p {
		t.Error("invalid SetPolicy replaced the active policy")
	}
}

func TestNew_RequiresWriterAndStore(t *testing.T) {
	if _, err := New(Options{Store: store.New(time.Minute)}); err == nil {
		t.Error("expected error without writer")
	}
	w, _ := report.NewWriter(t.TempDir())
	if _, err := New(Options{Writer: w}); err == nil {
		t.Error("expected error without store")
	}
}

func TestErrorCounters(t *testing.T) {
	svc, _, _, reg := newService(t, &recorder{})

	svc.RecordParseError()
	svc.Analyze(context.Background(), dataset("empty.json"))                                //nolint:errcheck
	svc.Analyze(context.Background(), dataset("bad.json", types.EchoSample{LatencyMs: -1})) //nolint:errcheck

	got := map[string]float64{}
	for _, mf := range reg.Families() {
		if mf.GetName() != "echoscope_analysis_errors_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			got[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}
	for _, kind := range []string{metrics.KindParse, metrics.KindInvalid, metrics.KindMalformed} {
		if got[kind] != 1 {
			t.Errorf("errors{kind=%q}: got %v, want 1", kind, got[kind])
		}
	}
}
