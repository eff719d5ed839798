package api

import (
	"fmt"
	"sort"

	"github.com/echoscope/echoscope/pkg/health"
	"github.com/echoscope/echoscope/pkg/types"
)

// smallSample is the data point count below which a score is flagged as
// statistically weak.
const smallSample = 10

// DiagnosticHint is one human-readable insight about a report.
// The UI displays these as chips next to the score; clicking one shows Detail.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier (used for dedup/ordering).
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label shown on the chip (≤ 5 words).
	Title string `json:"title"`
	// Detail is the full explanation shown on click/hover.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint (e.g. loss %).
	Value *float64 `json:"value,omitempty"`
}

// computeDiagnostics derives hints from a report's statistics, judged
// against the ramps of policy p. Ordered critical first, then warnings,
// then info.
func computeDiagnostics(rep types.HealthReport, p health.Policy) []DiagnosticHint {
	st := rep.Stats
	var hints []DiagnosticHint

	// ── Packet loss ──────────────────────────────────────────────────────────
	if st.LossRate > 0 {
		pct := st.LossRate * 100
		v := pct
		var level, title, detail string
		switch {
		case pct >= 10:
			level = "critical"
			title = fmt.Sprintf("%.1f%% packet loss", pct)
			detail = fmt.Sprintf(
				"%d of %d echoes (%.1f%%) never came back. Loss at this level dominates the "+
					"score and usually points at a saturated link, a failing interface or "+
					"rate limiting of ICMP on the path. Check interface error counters and the "+
					"hop where loss first appears.",
				st.LostCount, rep.DataPoints, pct,
			)
		case pct >= 1:
			level = "warning"
			title = fmt.Sprintf("%.1f%% packet loss", pct)
			detail = fmt.Sprintf(
				"%d of %d echoes were lost (%.1f%%). Interactive traffic starts to suffer "+
					"around this point. Watch whether it grows between runs.",
				st.LostCount, rep.DataPoints, pct,
			)
		default:
			level = "info"
			title = fmt.Sprintf("%.2f%% minor loss", pct)
			detail = "A very small share of echoes was lost. This is often normal noise."
		}
		hints = append(hints, DiagnosticHint{Key: "packet_loss", Level: level, Title: title, Detail: detail, Value: &v})
	}

	// ── Latency ──────────────────────────────────────────────────────────────
	switch avg := st.AvgLatencyMs; {
	case avg >= p.LatencyBadMs:
		v := avg
		hints = append(hints, DiagnosticHint{
			Key:   "latency",
			Level: "critical",
			Title: fmt.Sprintf("%.0f ms average latency", avg),
			Detail: fmt.Sprintf(
				"Mean round-trip time is %.1f ms, at or beyond the %.0f ms ceiling where the "+
					"latency penalty is maxed out. Look for congestion, a long detour in "+
					"routing, or an overloaded target.",
				avg, p.LatencyBadMs,
			),
			Value: &v,
		})
	case avg > p.LatencyGoodMs:
		v := avg
		hints = append(hints, DiagnosticHint{
			Key:   "latency",
			Level: "warning",
			Title: fmt.Sprintf("%.0f ms average latency", avg),
			Detail: fmt.Sprintf(
				"Mean round-trip time is %.1f ms, above the %.0f ms comfort zone. "+
					"The score loses points in proportion to how far it is from %.0f ms.",
				avg, p.LatencyGoodMs, p.LatencyBadMs,
			),
			Value: &v,
		})
	default:
		if st.MaxLatencyMs >= p.LatencyBadMs {
			v := st.MaxLatencyMs
			hints = append(hints, DiagnosticHint{
				Key:   "latency_spike",
				Level: "info",
				Title: "Latency spikes",
				Detail: fmt.Sprintf(
					"The average is fine but at least one echo took %.0f ms. "+
						"Occasional spikes are common on shared links.",
					st.MaxLatencyMs,
				),
				Value: &v,
			})
		}
	}

	// ── Jitter ───────────────────────────────────────────────────────────────
	switch {
	case st.JitterSamples == 0:
		hints = append(hints, DiagnosticHint{
			Key:   "no_jitter",
			Level: "info",
			Title: "No jitter data",
			Detail: "None of the samples carried jitter, so the score ignores it. " +
				"Collect jitter to judge real-time traffic such as voice and video.",
		})
	case st.AvgJitterMs >= p.JitterBadMs:
		v := st.AvgJitterMs
		hints = append(hints, DiagnosticHint{
			Key:   "jitter",
			Level: "critical",
			Title: fmt.Sprintf("%.0f ms jitter", st.AvgJitterMs),
			Detail: fmt.Sprintf(
				"Delay varies by %.1f ms on average. Voice and video will stutter. "+
					"Bufferbloat on an upstream queue is the usual cause.",
				st.AvgJitterMs,
			),
			Value: &v,
		})
	case st.AvgJitterMs > p.JitterGoodMs:
		v := st.AvgJitterMs
		hints = append(hints, DiagnosticHint{
			Key:    "jitter",
			Level:  "warning",
			Title:  fmt.Sprintf("%.0f ms jitter", st.AvgJitterMs),
			Detail: fmt.Sprintf("Delay varies by %.1f ms on average, above the %.0f ms target.", st.AvgJitterMs, p.JitterGoodMs),
			Value:  &v,
		})
	}

	// ── Anomalies ────────────────────────────────────────────────────────────
	if st.AnomalyCount > 0 && rep.DataPoints > 0 {
		share := float64(st.AnomalyCount) / float64(rep.DataPoints) * 100
		level := "info"
		if share >= 10 {
			level = "warning"
		}
		v := float64(st.AnomalyCount)
		hints = append(hints, DiagnosticHint{
			Key:   "anomalies",
			Level: level,
			Title: fmt.Sprintf("%d flagged anomalies", st.AnomalyCount),
			Detail: fmt.Sprintf(
				"%d samples (%.0f%%) were flagged as anomalous by the collector. "+
					"They count toward the statistics like any other sample.",
				st.AnomalyCount, share,
			),
			Value: &v,
		})
	}

	// ── Small dataset ────────────────────────────────────────────────────────
	if rep.DataPoints < smallSample {
		v := float64(rep.DataPoints)
		hints = append(hints, DiagnosticHint{
			Key:   "small_sample",
			Level: "info",
			Title: "Few data points",
			Detail: fmt.Sprintf(
				"Only %d samples were analysed. A single slow or lost echo moves the score "+
					"a lot; collect at least %d for a stable picture.",
				rep.DataPoints, smallSample,
			),
			Value: &v,
		})
	}

	if len(hints) == 0 || onlyInfo(hints) {
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "Link looks healthy",
			Detail: fmt.Sprintf("Score %d (%s). Latency, loss and jitter are all within target.", rep.Score, rep.Level),
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelOrder(hints[i].Level) < levelOrder(hints[j].Level)
	})
	return hints
}

func onlyInfo(hints []DiagnosticHint) bool {
	for _, h := range hints {
		if h.Level != "info" {
			return false
		}
	}
	return true
}

func levelOrder(l string) int {
	switch l {
	case "critical":
		return 0
	case "warning":
		return 1
	case "info":
		return 2
	default:
		return 3
	}
}
