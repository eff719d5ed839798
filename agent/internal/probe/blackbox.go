package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/echoscope/echoscope/agent/internal/config"
	"github.com/echoscope/echoscope/pkg/types"
)

// Metric names exposed by the Prometheus blackbox exporter on /probe.
const (
	metricProbeSuccess  = "probe_success"
	metricProbeDuration = "probe_duration_seconds"
	metricICMPDuration  = "probe_icmp_duration_seconds"
)

// blackboxProber turns one blackbox exporter probe into one echo sample.
type blackboxProber struct {
	src    config.Source
	client *http.Client

	prevLatency float64
	hasPrev     bool
}

func (b *blackboxProber) Probe(ctx context.Context) (*Result, error) {
	res := newResult(b.src, time.Now())

	mfs, err := fetchMetrics(ctx, b.client, b.src.Endpoint)
	if err != nil {
		res.Err = fmt.Errorf("blackbox %q: %w", b.src.ID, err)
		return res, nil
	}

	success, ok := gaugeValue(mfs[metricProbeSuccess])
	if !ok {
		res.Err = fmt.Errorf("blackbox %q: %s missing", b.src.ID, metricProbeSuccess)
		return res, nil
	}

	s := types.EchoSample{Timestamp: res.ProbedAt}
	if success == 0 {
		s.PacketLoss = true
		res.Samples = []types.EchoSample{s}
		return res, nil
	}

	latency := rttSeconds(mfs) * 1000
	s.LatencyMs = latency
	if b.hasPrev {
		d := latency - b.prevLatency
		if d < 0 {
			d = -d
		}
		s.JitterMs = types.Float(d)
	}
	b.prevLatency, b.hasPrev = latency, true
	res.Samples = []types.EchoSample{s}
	return res, nil
}

// rttSeconds prefers the ICMP "rtt" phase when the module exposes it and
// falls back to the total probe duration.
func rttSeconds(mfs map[string]*dto.MetricFamily) float64 {
	if mf := mfs[metricICMPDuration]; mf != nil {
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "phase" && lp.GetValue() == "rtt" {
					return metricValue(m)
				}
			}
		}
	}
	v, _ := gaugeValue(mfs[metricProbeDuration])
	return v
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// gaugeValue returns the first sample of mf. ok is false when mf is absent or empty.
func gaugeValue(mf *dto.MetricFamily) (float64, bool) {
	if mf == nil || len(mf.GetMetric()) == 0 {
		return 0, false
	}
	return metricValue(mf.GetMetric()[0]), true
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return 0
}
