// Package metrics keeps the server's own counters and renders them in the
// Prometheus text exposition format for GET /metrics.
package metrics

import (
	"bytes"
	"net/http"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/echoscope/echoscope/pkg/types"
)

// Metric names.
const (
	nameReports  = "echoscope_reports_total"
	nameErrors   = "echoscope_analysis_errors_total"
	nameScore    = "echoscope_last_score"
	nameLossRate = "echoscope_last_loss_rate"
	nameLatency  = "echoscope_last_avg_latency_ms"
)

// Error kinds passed to ObserveError.
const (
	KindParse     = "parse"
	KindInvalid   = "invalid_input"
	KindMalformed = "malformed_sample"
	KindStorage   = "storage"
)

// Registry accumulates analysis metrics. Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	reports  map[types.Level]float64
	errors   map[string]float64
	score    map[string]float64
	lossRate map[string]float64
	latency  map[string]float64
}

// New returns a Registry with every level counter initialised to zero.
func New() *Registry {
	r := &Registry{
		reports:  make(map[types.Level]float64, len(types.Levels)),
		errors:   make(map[string]float64),
		score:    make(map[string]float64),
		lossRate: make(map[string]float64),
		latency:  make(map[string]float64),
	}
	for _, l := range types.Levels {
		r.reports[l] = 0
	}
	return r
}

// ObserveReport counts rep and records it as its source's latest values.
func (r *Registry) ObserveReport(rep types.HealthReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[rep.Level]++
	r.score[rep.SourceFilename] = float64(rep.Score)
	r.lossRate[rep.SourceFilename] = rep.Stats.LossRate
	r.latency[rep.SourceFilename] = rep.Stats.AvgLatencyMs
}

// ObserveError counts a failed analysis run of the given kind.
func (r *Registry) ObserveError(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[kind]++
}

// Families returns the current metric families, sorted by name.
func (r *Registry) Families() []*dto.MetricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()

	levels := make(map[string]float64, len(r.reports))
	for l, v := range r.reports {
		levels[string(l)] = v
	}

	fams := []*dto.MetricFamily{
		family(nameReports, "Health reports produced, by level.", dto.MetricType_COUNTER, "level", levels),
		family(nameErrors, "Analysis runs that failed, by kind.", dto.MetricType_COUNTER, "kind", r.errors),
		family(nameScore, "Most recent health score per source.", dto.MetricType_GAUGE, "source", r.score),
		family(nameLossRate, "Most recent packet loss rate (0-1) per source.", dto.MetricType_GAUGE, "source", r.lossRate),
		family(nameLatency, "Most recent mean latency in milliseconds per source.", dto.MetricType_GAUGE, "source", r.latency),
	}
	sort.Slice(fams, func(i, j int) bool { return fams[i].GetName() < fams[j].GetName() })
	return fams
}

// ServeHTTP writes the text exposition.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var buf bytes.Buffer
	for _, mf := range r.Families() {
		if len(mf.GetMetric()) == 0 {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes()) //nolint:errcheck
}

// family builds a single-label metric family with one series per key.
func family(name, help string, typ dto.MetricType, label string, values map[string]float64) *dto.MetricFamily {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mf := &dto.MetricFamily{
		Name: strPtr(name),
		Help: strPtr(help),
		Type: typ.Enum(),
	}
	for _, k := range keys {
		m := &dto.Metric{
			Label: []*dto.LabelPair{{Name: strPtr(label), Value: strPtr(k)}},
		}
		v := values[k]
		if typ == dto.MetricType_COUNTER {
			m.Counter = &dto.Counter{Value: &v}
		} else {
			m.Gauge = &dto.Gauge{Value: &v}
		}
		mf.Metric = append(mf.Metric, m)
	}
	return mf
}

func strPtr(s string) *string { return &s }
