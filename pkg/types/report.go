package types

import "time"

// Level is the qualitative classification of a health score.
type Level string

const (
	LevelExcellent Level = "Excellent"
	LevelBon       Level = "Bon"
	LevelMoyen     Level = "Moyen"
	LevelMauvais   Level = "Mauvais"
	LevelCritique  Level = "Critique"
)

// Levels lists every level from best to worst.
var Levels = []Level{LevelExcellent, LevelBon, LevelMoyen, LevelMauvais, LevelCritique}

// Valid reports whether l is one of the five known levels.
func (l Level) Valid() bool {
	for _, v := range Levels {
		if l == v {
			return true
		}
	}
	return false
}

// Stats are the aggregates the score is derived from.
type Stats struct {
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MinLatencyMs  float64 `json:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LossRate      float64 `json:"loss_rate"` // 0–1
	LostCount     int     `json:"lost_count"`
	AvgJitterMs   float64 `json:"avg_jitter_ms"`
	JitterSamples int     `json:"jitter_samples"`
	AnomalyCount  int     `json:"anomaly_count"`
}

// HealthReport is the outcome of one analysis run. Later runs produce new
// reports; a report is never updated in place.
type HealthReport struct {
	ID             string    `json:"id"`
	Score          int       `json:"score"`
	Level          Level     `json:"level"`
	DataPoints     int       `json:"data_points"`
	Timestamp      time.Time `json:"timestamp"`
	SourceFilename string    `json:"source_filename"`
	Stats          Stats     `json:"stats"`
}

// HealthScore is the nested score object of the report artifact.
type HealthScore struct {
	Score int   `json:"score"`
	Level Level `json:"level"`
}

// ReportArtifact is the persisted JSON form of a HealthReport.
// timestamp, filename, data_points and health_score are the stable contract
// that report listing and viewing depend on; the rest is additive.
type ReportArtifact struct {
	ID          string      `json:"id,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	Filename    string      `json:"filename"`
	DataPoints  int         `json:"data_points"`
	HealthScore HealthScore `json:"health_score"`
	Stats       *Stats      `json:"stats,omitempty"`
}

// Artifact converts r to its persisted form.
func (r HealthReport) Artifact() ReportArtifact {
	st := r.Stats
	return ReportArtifact{
		ID:          r.ID,
		Timestamp:   r.Timestamp.UTC(),
		Filename:    r.SourceFilename,
		DataPoints:  r.DataPoints,
		HealthScore: HealthScore{Score: r.Score, Level: r.Level},
		Stats:       &st,
	}
}

// Report converts a persisted artifact back to a HealthReport.
func (a ReportArtifact) Report() HealthReport {
	r := HealthReport{
		ID:             a.ID,
		Score:          a.HealthScore.Score,
		Level:          a.HealthScore.Level,
		DataPoints:     a.DataPoints,
		Timestamp:      a.Timestamp,
		SourceFilename: a.Filename,
	}
	if a.Stats != nil {
		r.Stats = *a.Stats
	}
	return r
}
