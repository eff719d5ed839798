package compute

import (
	"log/slog"
	"sync"
	"time"

	"github.com/echoscope/echoscope/agent/internal/probe"
	"github.com/echoscope/echoscope/pkg/health"
	"github.com/echoscope/echoscope/pkg/types"
)

// uptimeWindow is the number of recent probe outcomes tracked for uptime %.
const uptimeWindow = 20

// Batch is a full per-source dataset ready to be handed to the shipper,
// together with the score the agent computed locally.
type Batch struct {
	Dataset   types.EchoDataset
	Local     types.HealthReport
	UptimePct float64

	// ScoreErr is non-nil when the local score could not be computed.
	// The batch is still shipped; the server scores it independently.
	ScoreErr error
}

// Engine maintains per-source sample buffers and probe uptime history.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	batchSize int
	policy    health.Policy
	states    map[string]*sourceState
}

// NewEngine returns a ready-to-use Engine that cuts a batch every batchSize
// samples and scores it with p.
func NewEngine(batchSize int, p health.Policy) *Engine {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Engine{
		batchSize: batchSize,
		policy:    p,
		states:    make(map[string]*sourceState),
	}
}

// Process appends the samples of one probe result to the source's buffer.
//
// now is passed explicitly so callers (and tests) control the clock without
// sleeping. Use time.Now() in production.
//
// It returns a Batch once the buffer reaches the batch size, or nil.
// A failed probe contributes no samples but lowers the source's uptime.
func (e *Engine) Process(res *probe.Result, now time.Time) *Batch {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(res.SourceID)
	success := res.Err == nil
	st.recordProbe(success)

	if !success {
		slog.Warn("compute: probe failed",
			"source", res.SourceID, "uptime_pct", st.uptimePct(), "err", res.Err)
		return nil
	}

	st.pending = append(st.pending, res.Samples...)
	if len(st.pending) < e.batchSize {
		return nil
	}

	samples := st.pending[:e.batchSize:e.batchSize]
	st.pending = append([]types.EchoSample(nil), st.pending[e.batchSize:]...)

	b := &Batch{
		Dataset: types.EchoDataset{
			SourceName: res.SourceID,
			CreatedAt:  now.UTC(),
			Samples:    samples,
		},
		UptimePct: st.uptimePct(),
	}

	scored, err := health.Score(b.Dataset, e.policy, now)
	if err != nil {
		slog.Warn("compute: local score failed", "source", res.SourceID, "err", err)
		b.ScoreErr = err
		return b
	}
	b.Local = scored.Report
	return b
}

// Uptime returns the probe uptime percentage for a source over the last
// uptimeWindow cycles. Unknown sources report 100.
func (e *Engine) Uptime(sourceID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[sourceID]; ok {
		return st.uptimePct()
	}
	return 100
}

// Pending returns the number of buffered samples for a source.
func (e *Engine) Pending(sourceID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[sourceID]; ok {
		return len(st.pending)
	}
	return 0
}

// sourceState holds per-source buffered samples and uptime history.
type sourceState struct {
	pending []types.EchoSample
	history []bool // circular buffer of probe outcomes, newest last
}

func (e *Engine) stateFor(id string) *sourceState {
	if st, ok := e.states[id]; ok {
		return st
	}
	st := &sourceState{}
	e.states[id] = st
	return st
}

func (st *sourceState) recordProbe(success bool) {
	if len(st.history) >= uptimeWindow {
		st.history = st.history[1:]
	}
	st.history = append(st.history, success)
}

func (st *sourceState) uptimePct() float64 {
	if len(st.history) == 0 {
		return 100 // assume up before first observation
	}
	var ok int
	for _, s := range st.history {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(st.history)) * 100
}
