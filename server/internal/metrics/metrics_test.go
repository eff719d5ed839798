package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/echoscope/echoscope/pkg/types"
)

func scrape(t *testing.T, r *Registry) map[string]*dto.MetricFamily {
	t.Helper()
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(rr.Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}
	return mfs
}

// valueFor returns the sample value of the series with the given label value.
func valueFor(mf *dto.MetricFamily, labelValue string) (float64, bool) {
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetValue() != labelValue {
				continue
			}
			if m.Counter != nil {
				return m.Counter.GetValue(), true
			}
			return m.Gauge.GetValue(), true
		}
	}
	return 0, false
}

func TestRegistry_ReportsByLevel(t *testing.T) {
	r := New()
	r.ObserveReport(types.HealthReport{SourceFilename: "eu", Score: 95, Level: types.LevelExcellent})
	r.ObserveReport(types.HealthReport{SourceFilename: "eu", Score: 91, Level: types.LevelExcellent})
	r.ObserveReport(types.HealthReport{SourceFilename: "us", Score: 30, Level: types.LevelCritique,
		Stats: types.Stats{LossRate: 0.4, AvgLatencyMs: 210}})

	mfs := scrape(t, r)

	reports := mfs[nameReports]
	if reports == nil {
		t.Fatalf("missing %s", nameReports)
	}
	if v, _ := valueFor(reports, "Excellent"); v != 2 {
		t.Errorf("Excellent = %v, want 2", v)
	}
	if v, ok := valueFor(reports, "Moyen"); !ok || v != 0 {
		t.Errorf("Moyen = %v (present %v), want 0 and present", v, ok)
	}

	if v, _ := valueFor(mfs[nameScore], "eu"); v != 91 {
		t.Errorf("last score eu = %v, want 91", v)
	}
	if v, _ := valueFor(mfs[nameLossRate], "us"); v != 0.4 {
		t.Errorf("last loss us = %v, want 0.4", v)
	}
	if v, _ := valueFor(mfs[nameLatency], "us"); v != 210 {
		t.Errorf("last latency us = %v, want 210", v)
	}
}

func TestRegistry_Errors(t *testing.T) {
	r := New()
	r.ObserveError(KindParse)
	r.ObserveError(KindParse)
	r.ObserveError(KindMalformed)

	mfs := scrape(t, r)
	if v, _ := valueFor(mfs[nameErrors], KindParse); v != 2 {
		t.Errorf("parse errors = %v, want 2", v)
	}
	if v, _ := valueFor(mfs[nameErrors], KindMalformed); v != 1 {
		t.Errorf("malformed errors = %v, want 1", v)
	}
}

func TestRegistry_EmptyFamiliesOmitted(t *testing.T) {
	mfs := scrape(t, New())
	if _, ok := mfs[nameScore]; ok {
		t.Errorf("%s should be omitted with no sources", nameScore)
	}
	if _, ok := mfs[nameReports]; !ok {
		t.Errorf("%s should always be present", nameReports)
	}
}

func TestRegistry_MethodNotAllowed(t *testing.T) {
	rr := httptest.NewRecorder()
	New().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}
