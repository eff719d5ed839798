package api

import (
	"github.com/echoscope/echoscope/pkg/health"
	"github.com/echoscope/echoscope/pkg/types"
	"github.com/echoscope/echoscope/server/internal/store"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	OverallScore float64        `json:"overall_score"`
	Level        string         `json:"level"` // a types.Level, or "unknown" with no live sources
	SourceCount  int            `json:"source_count"`
	LevelCounts  map[string]int `json:"level_counts"`
	AlertCount   int            `json:"alert_count"`
	ReportCount  int            `json:"report_count"`
}

// SourceResponse is one live source in GET /api/v1/sources or
// GET /api/v1/sources/{name}: its latest report plus diagnostics.
type SourceResponse struct {
	Source      string           `json:"source"`
	Filename    string           `json:"filename"`
	ReportID    string           `json:"report_id"`
	Score       int              `json:"score"`
	Level       types.Level      `json:"level"`
	DataPoints  int              `json:"data_points"`
	Stats       types.Stats      `json:"stats"`
	Timestamp   string           `json:"timestamp"`  // RFC3339
	UpdatedAt   string           `json:"updated_at"` // RFC3339
	Delta       int              `json:"delta"`      // score change since the previous report
	Trend       []store.Point    `json:"trend"`      // oldest first
	Diagnostics []DiagnosticHint `json:"diagnostics"`
}

// SourcesResponse is the payload for GET /api/v1/sources and the WebSocket
// snapshot event.
type SourcesResponse struct {
	Sources     []SourceResponse `json:"sources"`
	GeneratedAt string           `json:"generated_at"` // RFC3339
}

// ReportSummary is one row in GET /api/v1/reports.
type ReportSummary struct {
	Filename   string      `json:"filename"`
	ID         string      `json:"id,omitempty"`
	Source     string      `json:"source"`
	Score      int         `json:"score"`
	Level      types.Level `json:"level"`
	DataPoints int         `json:"data_points"`
	Timestamp  string      `json:"timestamp"` // RFC3339
}

// ReportResponse is the payload for GET /api/v1/reports/{filename}.
type ReportResponse struct {
	Filename    string               `json:"filename"`
	Report      types.ReportArtifact `json:"report"`
	Diagnostics []DiagnosticHint     `json:"diagnostics"`
}

// AnalyzeResponse is returned by the analyze, ingest and generate endpoints.
type AnalyzeResponse struct {
	Filename    string             `json:"filename"`
	Report      types.HealthReport `json:"report"`
	Factors     FactorsResponse    `json:"factors"`
	Skipped     []int              `json:"skipped,omitempty"`
	Diagnostics []DiagnosticHint   `json:"diagnostics"`
	Seed        *int64             `json:"seed,omitempty"` // generate only
}

// FactorsResponse is the JSON form of health.Factors.
type FactorsResponse struct {
	LatencyPenalty float64 `json:"latency_penalty"`
	LossPenalty    float64 `json:"loss_penalty"`
	JitterPenalty  float64 `json:"jitter_penalty"`
	Raw            float64 `json:"raw"`
}

// GenerateRequest is the body of POST /api/v1/generate.
type GenerateRequest struct {
	Entries       int     `json:"entries"`
	WithAnomalies bool    `json:"with_anomalies"`
	AnomalyRate   float64 `json:"anomaly_rate,omitempty"`
	Seed          *int64  `json:"seed,omitempty"`
	Source        string  `json:"source,omitempty"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

func toFactors(f health.Factors) FactorsResponse {
	return FactorsResponse{
		LatencyPenalty: f.LatencyPenalty,
		LossPenalty:    f.LossPenalty,
		JitterPenalty:  f.JitterPenalty,
		Raw:            f.Raw,
	}
}
