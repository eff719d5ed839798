package dataset

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/echoscope/echoscope/pkg/health"
)

var now = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func TestParse_Array(t *testing.T) {
	body := `[
		{"timestamp": "2026-03-01T09:00:00Z", "latency_ms": 12.5, "packet_loss": false},
		{"timestamp": 1772355600, "latency_ms": 0, "packet_loss": 1, "jitter_ms": 3.2},
		{"latency_ms": 900, "packet_loss": 0, "anomaly_flag": true}
	]`
	ds, err := Parse(strings.NewReader(body), "upload.json", now)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ds.Count() != 3 {
		t.Fatalf("Count = %d, want 3", ds.Count())
	}
	if ds.SourceName != "upload.json" {
		t.Errorf("SourceName = %q", ds.SourceName)
	}
	if !ds.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", ds.CreatedAt, now)
	}

	s0, s1, s2 := ds.Samples[0], ds.Samples[1], ds.Samples[2]
	if s0.LatencyMs != 12.5 || s0.PacketLoss {
		t.Errorf("sample 0 = %+v", s0)
	}
	if !s0.Timestamp.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("sample 0 timestamp = %v", s0.Timestamp)
	}
	if !s1.PacketLoss || s1.JitterMs == nil || *s1.JitterMs != 3.2 {
		t.Errorf("sample 1 = %+v", s1)
	}
	if s1.Timestamp.Unix() != 1772355600 {
		t.Errorf("sample 1 unix timestamp = %d", s1.Timestamp.Unix())
	}
	if !s2.IsAnomaly() || s2.HasJitter() {
		t.Errorf("sample 2 = %+v", s2)
	}
}

func TestParse_Envelope(t *testing.T) {
	body := `{"source": "agent-eu", "created_at": "2026-02-28T10:00:00Z",
		"samples": [{"latency_ms": 10, "packet_loss": false}]}`

	ds, err := Parse(strings.NewReader(body), "", now)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ds.SourceName != "agent-eu" {
		t.Errorf("SourceName = %q, want agent-eu", ds.SourceName)
	}
	if ds.CreatedAt.Day() != 28 {
		t.Errorf("CreatedAt = %v, want envelope value", ds.CreatedAt)
	}
}

func TestParse_EnvelopeSourceOverridden(t *testing.T) {
	body := `{"source": "inner", "samples": [{"latency_ms": 10, "packet_loss": false}]}`
	ds, err := Parse(strings.NewReader(body), "outer.json", now)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ds.SourceName != "outer.json" {
		t.Errorf("SourceName = %q, want outer.json", ds.SourceName)
	}
}

func TestParse_LegacyDataKey(t *testing.T) {
	body := `{"data": [{"latency_ms": 10, "packet_loss": true}]}`
	ds, err := Parse(strings.NewReader(body), "gen.json", now)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ds.Count() != 1 || !ds.Samples[0].PacketLoss {
		t.Errorf("samples = %+v", ds.Samples)
	}
}

func TestParse_EmptyArrayIsNotAParseError(t *testing.T) {
	ds, err := Parse(strings.NewReader(`[]`), "empty.json", now)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ds.Count() != 0 {
		t.Errorf("Count = %d, want 0", ds.Count())
	}
}

func TestParse_NegativeLatencyPassesThrough(t *testing.T) {
	ds, err := Parse(strings.NewReader(`[{"latency_ms": -4, "packet_loss": false}]`), "x", now)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ds.Samples[0].LatencyMs != -4 {
		t.Errorf("LatencyMs = %v, want -4", ds.Samples[0].LatencyMs)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantIndex int
		wantField string
	}{
		{"empty body", ``, -1, ""},
		{"whitespace body", "  \n ", -1, ""},
		{"malformed JSON", `[{"latency_ms": 1,`, -1, ""},
		{"scalar top level", `42`, -1, ""},
		{"object without samples", `{"foo": []}`, -1, ""},
		{"samples null", `{"samples": null}`, -1, ""},
		{"sample not an object", `[1]`, 0, ""},
		{"missing latency", `[{"packet_loss": false}]`, 0, "latency_ms"},
		{"null latency", `[{"latency_ms": null, "packet_loss": false}]`, 0, "latency_ms"},
		{"string latency", `[{"latency_ms": "12", "packet_loss": false}]`, 0, "latency_ms"},
		{"missing loss", `[{"latency_ms": 1}, {"latency_ms": 2}]`, 0, "packet_loss"},
		{"loss out of range", `[{"latency_ms": 1, "packet_loss": 2}]`, 0, "packet_loss"},
		{"loss as string", `[{"latency_ms": 1, "packet_loss": "no"}]`, 0, "packet_loss"},
		{"bad jitter", `[{"latency_ms": 1, "packet_loss": false}, {"latency_ms": 1, "packet_loss": false, "jitter_ms": "x"}]`, 1, "jitter_ms"},
		{"bad timestamp", `[{"latency_ms": 1, "packet_loss": false, "timestamp": "yesterday"}]`, 0, "timestamp"},
		{"timestamp beyond int64", `[{"latency_ms": 1, "packet_loss": false, "timestamp": 1e19}]`, 0, "timestamp"},
		{"timestamp far negative", `[{"latency_ms": 1, "packet_loss": false, "timestamp": -1e30}]`, 0, "timestamp"},
		{"timestamp huge", `[{"latency_ms": 1, "packet_loss": false}, {"latency_ms": 1, "packet_loss": false, "timestamp": 1e300}]`, 1, "timestamp"},
		{"timestamp past year 9999", `[{"latency_ms": 1, "packet_loss": false, "timestamp": 253402300800}]`, 0, "timestamp"},
		{"bad anomaly flag", `[{"latency_ms": 1, "packet_loss": false, "anomaly_flag": "yes"}]`, 0, "anomaly_flag"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.body), "bad.json", now)
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want *ParseError", err)
			}
			if pe.Index != tc.wantIndex || pe.Field != tc.wantField {
				t.Errorf("got index=%d field=%q, want %d %q (%v)", pe.Index, pe.Field, tc.wantIndex, tc.wantField, err)
			}
			if !errors.Is(err, health.ErrInvalidInput) {
				t.Error("parse error should match health.ErrInvalidInput")
			}
		})
	}
}
