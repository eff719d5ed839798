package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/echoscope/echoscope/pkg/types"
)

// evalCondition evaluates a rule condition string against a HealthReport.
//
// Supported expressions (field operator value):
//
//	score < 60
//	loss_rate > 0.05
//	avg_latency_ms > 200
//	avg_jitter_ms > 30
//	anomaly_count >= 5
//	data_points < 10
//	level == Critique
//	level != Excellent
//
// Returns (fires bool, triggering value float64). For level conditions the
// value is the report's score.
// Returns (false, 0) if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, rep types.HealthReport) (bool, float64) {
	field, op, rhs, err := parseCondition(cond)
	if err != nil {
		return false, 0
	}

	if field == "level" {
		switch op {
		case "==":
			return string(rep.Level) == rhs, float64(rep.Score)
		case "!=":
			return string(rep.Level) != rhs, float64(rep.Score)
		}
		return false, 0
	}

	v, _ := numericField(field, rep)
	threshold, _ := strconv.ParseFloat(rhs, 64)
	return compareFloat(v, op, threshold), v
}

// parseCondition splits and checks cond without evaluating it.
func parseCondition(cond string) (field, op, rhs string, err error) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("condition %q: want \"field op value\"", cond)
	}
	field, op, rhs = parts[0], parts[1], parts[2]

	if field == "level" {
		if op != "==" && op != "!=" {
			return "", "", "", fmt.Errorf("condition %q: level supports == and != only", cond)
		}
		if !types.Level(rhs).Valid() {
			return "", "", "", fmt.Errorf("condition %q: unknown level %q", cond, rhs)
		}
		return field, op, rhs, nil
	}

	if _, ok := numericField(field, types.HealthReport{}); !ok {
		return "", "", "", fmt.Errorf("condition %q: unknown field %q", cond, field)
	}
	switch op {
	case ">", ">=", "<", "<=", "==":
	default:
		return "", "", "", fmt.Errorf("condition %q: unknown operator %q", cond, op)
	}
	if _, perr := strconv.ParseFloat(rhs, 64); perr != nil {
		return "", "", "", fmt.Errorf("condition %q: value %q is not a number", cond, rhs)
	}
	return field, op, rhs, nil
}

// numericField maps a field name to its value in the report.
func numericField(field string, rep types.HealthReport) (float64, bool) {
	switch field {
	case "score":
		return float64(rep.Score), true
	case "loss_rate":
		return rep.Stats.LossRate, true
	case "avg_latency_ms":
		return rep.Stats.AvgLatencyMs, true
	case "avg_jitter_ms":
		return rep.Stats.AvgJitterMs, true
	case "anomaly_count":
		return float64(rep.Stats.AnomalyCount), true
	case "data_points":
		return float64(rep.DataPoints), true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
