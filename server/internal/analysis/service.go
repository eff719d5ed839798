package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/echoscope/echoscope/pkg/health"
	"github.com/echoscope/echoscope/pkg/types"
	"github.com/echoscope/echoscope/server/internal/metrics"
	"github.com/echoscope/echoscope/server/internal/report"
	"github.com/echoscope/echoscope/server/internal/store"
)

// Indexer records written reports. *history.Index satisfies it.
type Indexer interface {
	Insert(ctx context.Context, filename string, rep types.HealthReport) error
}

// Evaluator checks alert rules against a report. *alerts.Engine satisfies it.
type Evaluator interface {
	Evaluate(rep types.HealthReport)
}

// Notifier pushes a new report to live subscribers. *ws.Hub satisfies it.
type Notifier interface {
	Notify(rep types.HealthReport, filename string)
}

// Options wires a Service. Writer and Store are required; the rest are
// optional and skipped when nil.
type Options struct {
	Writer   *report.Writer
	Store    *store.Store
	Index    Indexer
	Alerts   Evaluator
	Notifier Notifier
	Metrics  *metrics.Registry

	// Policy is the initial scoring policy. Nil means health.DefaultPolicy().
	Policy *health.Policy

	// Now overrides the report clock. Defaults to time.Now.
	Now func() time.Time
}

// Outcome is the result of a successful Analyze call.
type Outcome struct {
	Report   types.HealthReport
	Filename string
	Factors  health.Factors
	Skipped  []int
}

// Service is safe for concurrent use. The policy can be swapped while
// analyses are running; each run uses the policy current at its start.
type Service struct {
	writer   *report.Writer
	store    *store.Store
	index    Indexer
	alerts   Evaluator
	notifier Notifier
	metrics  *metrics.Registry
	now      func() time.Time

	policy atomic.Pointer[health.Policy]
}

// New validates opts and returns a Service.
func New(opts Options) (*Service, error) {
	if opts.Writer == nil {
		return nil, fmt.Errorf("analysis: report writer is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("analysis: store is required")
	}
	s := &Service{
		writer:   opts.Writer,
		store:    opts.Store,
		index:    opts.Index,
		alerts:   opts.Alerts,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	p := health.DefaultPolicy()
	if opts.Policy != nil {
		p = *opts.Policy
	}
	if err := s.SetPolicy(p); err != nil {
		return nil, err
	}
	return s, nil
}

// SetNotifier attaches n after construction, for subscribers that themselves
// depend on the Service. Call it before the first Analyze.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Policy returns the active scoring policy.
func (s *Service) Policy() health.Policy {
	return *s.policy.Load()
}

// SetPolicy replaces the active policy. An invalid policy is rejected and
// the previous one stays active.
func (s *Service) SetPolicy(p health.Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("analysis: set policy: %w", err)
	}
	s.policy.Store(&p)
	return nil
}

// Analyze scores ds and, on success, persists and publishes the report.
func (s *Service) Analyze(ctx context.Context, ds types.EchoDataset) (Outcome, error) {
	res, err := health.Score(ds, s.Policy(), s.now().UTC())
	if err != nil {
		s.countError(errorKind(err))
		return Outcome{}, err
	}

	filename, rep, err := s.writer.Write(res.Report)
	if err != nil {
		s.countError(metrics.KindStorage)
		return Outcome{}, fmt.Errorf("analysis: %w", err)
	}

	if s.index != nil {
		if err := s.index.Insert(ctx, filename, rep); err != nil {
			// The artifact on disk is authoritative; an index miss is recoverable.
			s.countError(metrics.KindStorage)
			slog.Error("analysis: index insert failed", "file", filename, "err", err)
		}
	}

	s.store.Put(rep, filename)
	if s.alerts != nil {
		s.alerts.Evaluate(rep)
	}
	if s.notifier != nil {
		s.notifier.Notify(rep, filename)
	}
	if s.metrics != nil {
		s.metrics.ObserveReport(rep)
	}

	if len(res.Skipped) > 0 {
		slog.Warn("analysis: skipped malformed samples",
			"source", rep.SourceFilename,
			"skipped", len(res.Skipped),
		)
	}
	slog.Info("analysis: complete",
		"source", rep.SourceFilename,
		"score", rep.Score,
		"level", rep.Level,
		"data_points", rep.DataPoints,
	)

	return Outcome{
		Report:   rep,
		Filename: filename,
		Factors:  res.Factors,
		Skipped:  res.Skipped,
	}, nil
}

// RecordParseError counts an upload that was rejected before scoring.
func (s *Service) RecordParseError() {
	s.countError(metrics.KindParse)
}

func (s *Service) countError(kind string) {
	if s.metrics != nil {
		s.metrics.ObserveError(kind)
	}
}

// errorKind classifies a scoring error for the errors counter.
func errorKind(err error) string {
	if errors.Is(err, health.ErrMalformedSample) {
		return metrics.KindMalformed
	}
	return metrics.KindInvalid
}
