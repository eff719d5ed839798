package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/echoscope/echoscope/pkg/health"
	"github.com/echoscope/echoscope/pkg/types"
	"github.com/echoscope/echoscope/server/internal/alerts"
	"github.com/echoscope/echoscope/server/internal/analysis"
	"github.com/echoscope/echoscope/server/internal/dataset"
	"github.com/echoscope/echoscope/server/internal/generator"
	"github.com/echoscope/echoscope/server/internal/history"
	"github.com/echoscope/echoscope/server/internal/report"
	"github.com/echoscope/echoscope/server/internal/store"
)

// DefaultMaxBodyBytes bounds request bodies when Options.MaxBodyBytes is zero.
const DefaultMaxBodyBytes = 10 << 20

// maxGenerateEntries caps POST /api/v1/generate.
const maxGenerateEntries = 100000

// AlertLister exposes current alerts. *alerts.Engine satisfies it.
type AlertLister interface {
	Active() []*alerts.Alert
}

// ReportIndex lists and counts indexed reports. *history.Index satisfies it.
type ReportIndex interface {
	List(ctx context.Context, q history.Query) ([]history.Record, error)
	Count(ctx context.Context) (int, error)
}

// Options wires a Handler. Store, Analyzer and Reports are required.
type Options struct {
	Store    *store.Store
	Analyzer *analysis.Service
	Reports  *report.Writer

	// History serves GET /api/v1/reports and the health report count when
	// set; otherwise the report directory is scanned.
	History ReportIndex

	// Alerts serves GET /api/v1/alerts. Nil means no alerting.
	Alerts AlertLister

	// MaxBodyBytes bounds analyze and ingest bodies.
	MaxBodyBytes int64

	// Protect wraps every mutating route, typically with auth.APIKey.
	Protect func(http.Handler) http.Handler

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store    *store.Store
	analyzer *analysis.Service
	reports  *report.Writer
	history  ReportIndex
	alerts   AlertLister
	maxBody  int64
	now      func() time.Time
	mux      *http.ServeMux
}

// New creates a Handler from opts and registers all routes.
func New(opts Options) http.Handler {
	h := &Handler{
		store:    opts.Store,
		analyzer: opts.Analyzer,
		reports:  opts.Reports,
		history:  opts.History,
		alerts:   opts.Alerts,
		maxBody:  opts.MaxBodyBytes,
		now:      opts.Now,
		mux:      http.NewServeMux(),
	}
	if h.maxBody <= 0 {
		h.maxBody = DefaultMaxBodyBytes
	}
	if h.now == nil {
		h.now = time.Now
	}
	protect := opts.Protect
	if protect == nil {
		protect = func(next http.Handler) http.Handler { return next }
	}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/sources", h.listSources)
	h.mux.HandleFunc("/api/v1/sources/", h.getSource) // subtree, extracts {name}
	h.mux.HandleFunc("/api/v1/reports", h.listReports)
	h.mux.HandleFunc("/api/v1/reports/", h.getReport) // subtree, extracts {filename}
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.Handle("/api/v1/analyze", protect(http.HandlerFunc(h.analyze)))
	h.mux.Handle("/api/v1/ingest", protect(http.HandlerFunc(h.ingest)))
	h.mux.Handle("/api/v1/generate", protect(http.HandlerFunc(h.generate)))

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- read routes ------------------------------------------------------------

// health returns GET /api/v1/health: mean score of live sources and level counts.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries := h.store.List()
	resp := HealthResponse{
		SourceCount: len(entries),
		LevelCounts: make(map[string]int, len(types.Levels)),
	}
	for _, l := range types.Levels {
		resp.LevelCounts[string(l)] = 0
	}
	if h.alerts != nil {
		for _, a := range h.alerts.Active() {
			if a.State == "firing" {
				resp.AlertCount++
			}
		}
	}
	if n, err := h.reportCount(r.Context()); err == nil {
		resp.ReportCount = n
	} else {
		slog.Warn("api: count reports", "err", err)
	}

	if len(entries) == 0 {
		resp.Level = "unknown"
		jsonResp(w, http.StatusOK, resp)
		return
	}

	var total float64
	for _, e := range entries {
		total += float64(e.Report.Score)
		resp.LevelCounts[string(e.Report.Level)]++
	}
	resp.OverallScore = total / float64(len(entries))
	resp.Level = string(health.Classify(int(math.Round(resp.OverallScore)), h.analyzer.Policy().Thresholds))
	jsonResp(w, http.StatusOK, resp)
}

// listSources returns GET /api/v1/sources: the latest report of every live source.
func (h *Handler) listSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildSources(h.store, h.analyzer.Policy()))
}

// getSource returns GET /api/v1/sources/{name}.
func (h *Handler) getSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/v1/sources/")
	if name == "" {
		h.listSources(w, r)
		return
	}
	e, ok := h.store.Get(name)
	if !ok {
		jsonErr(w, http.StatusNotFound, "source not found")
		return
	}
	jsonResp(w, http.StatusOK, ToSourceResponse(e, h.analyzer.Policy()))
}

func (h *Handler) reportCount(ctx context.Context) (int, error) {
	if h.history != nil {
		return h.history.Count(ctx)
	}
	return h.reports.Count()
}

// listReports returns GET /api/v1/reports?source=&level=&limit=, newest first.
func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := history.Query{Source: r.URL.Query().Get("source")}
	if lv := r.URL.Query().Get("level"); lv != "" {
		q.Level = types.Level(lv)
		if !q.Level.Valid() {
			jsonErr(w, http.StatusBadRequest, fmt.Sprintf("unknown level %q", lv))
			return
		}
	}
	if ls := r.URL.Query().Get("limit"); ls != "" {
		n, err := strconv.Atoi(ls)
		if err != nil || n <= 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = n
	}
	if q.Limit == 0 {
		q.Limit = history.DefaultLimit
	}

	out := make([]ReportSummary, 0)
	if h.history != nil {
		recs, err := h.history.List(r.Context(), q)
		if err != nil {
			slog.Error("api: list history", "err", err)
			jsonErr(w, http.StatusInternalServerError, "could not list reports")
			return
		}
		for _, rec := range recs {
			out = append(out, toSummary(rec.Filename, rec.Report))
		}
		jsonResp(w, http.StatusOK, out)
		return
	}

	entries, err := h.reports.List()
	if err != nil {
		slog.Error("api: list reports", "err", err)
		jsonErr(w, http.StatusInternalServerError, "could not list reports")
		return
	}
	for _, e := range entries {
		rep := e.Artifact.Report()
		if q.Source != "" && rep.SourceFilename != q.Source {
			continue
		}
		if q.Level != "" && rep.Level != q.Level {
			continue
		}
		out = append(out, toSummary(e.Filename, rep))
		if len(out) == q.Limit {
			break
		}
	}
	jsonResp(w, http.StatusOK, out)
}

// getReport returns GET /api/v1/reports/{filename}.
func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/v1/reports/")
	if name == "" {
		h.listReports(w, r)
		return
	}
	if path.Base(name) != name {
		jsonErr(w, http.StatusNotFound, "report not found")
		return
	}
	art, err := h.reports.Load(name)
	if errors.Is(err, report.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		slog.Error("api: load report", "file", name, "err", err)
		jsonErr(w, http.StatusInternalServerError, "could not read report")
		return
	}
	jsonResp(w, http.StatusOK, ReportResponse{
		Filename:    name,
		Report:      art,
		Diagnostics: computeDiagnostics(art.Report(), h.analyzer.Policy()),
	})
}

// listAlerts returns GET /api/v1/alerts: firing alerts plus those resolved
// within the last hour.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.alerts == nil {
		jsonResp(w, http.StatusOK, []*alerts.Alert{})
		return
	}
	jsonResp(w, http.StatusOK, h.alerts.Active())
}

// --- mutating routes --------------------------------------------------------

// analyze handles POST /api/v1/analyze. The body is a JSON dataset, or a
// multipart form whose "file" field holds one.
func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	source := r.URL.Query().Get("source")
	var body io.Reader = r.Body

	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		if err := r.ParseMultipartForm(h.maxBody); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				h.writeAnalysisErr(w, err)
				return
			}
			jsonErr(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			jsonErr(w, http.StatusBadRequest, `multipart form must contain a "file" field`)
			return
		}
		defer f.Close()
		if source == "" {
			source = hdr.Filename
		}
		body = f
	}

	ds, err := dataset.Parse(body, source, h.now().UTC())
	if err != nil {
		h.analyzer.RecordParseError()
		h.writeAnalysisErr(w, err)
		return
	}
	if ds.SourceName == "" {
		ds.SourceName = "upload"
	}
	h.runAnalysis(w, r, ds, nil)
}

// ingest handles POST /api/v1/ingest: one agent batch in envelope form.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	ds, err := dataset.Parse(r.Body, "", h.now().UTC())
	if err != nil {
		h.analyzer.RecordParseError()
		h.writeAnalysisErr(w, err)
		return
	}
	if ds.SourceName == "" {
		jsonErr(w, http.StatusBadRequest, `batch must name its "source"`)
		return
	}
	h.runAnalysis(w, r, ds, nil)
}

// generate handles POST /api/v1/generate: synthesise a dataset and analyse it.
func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Entries > maxGenerateEntries {
		jsonErr(w, http.StatusBadRequest, fmt.Sprintf("entries must not exceed %d", maxGenerateEntries))
		return
	}
	now := h.now().UTC()
	seed := now.UnixNano()
	if req.Seed != nil {
		seed = *req.Seed
	}

	ds, err := generator.Generate(generator.Params{
		Entries:       req.Entries,
		WithAnomalies: req.WithAnomalies,
		AnomalyRate:   req.AnomalyRate,
		Seed:          seed,
		Start:         now,
		SourceName:    req.Source,
	})
	if err != nil {
		h.writeAnalysisErr(w, err)
		return
	}
	h.runAnalysis(w, r, ds, &seed)
}

func (h *Handler) runAnalysis(w http.ResponseWriter, r *http.Request, ds types.EchoDataset, seed *int64) {
	out, err := h.analyzer.Analyze(r.Context(), ds)
	if err != nil {
		h.writeAnalysisErr(w, err)
		return
	}
	jsonResp(w, http.StatusCreated, AnalyzeResponse{
		Filename:    out.Filename,
		Report:      out.Report,
		Factors:     toFactors(out.Factors),
		Skipped:     out.Skipped,
		Diagnostics: computeDiagnostics(out.Report, h.analyzer.Policy()),
		Seed:        seed,
	})
}

// writeAnalysisErr maps parse, validation and scorer errors to status codes.
func (h *Handler) writeAnalysisErr(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		jsonErr(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
	case errors.Is(err, health.ErrMalformedSample):
		jsonErr(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, health.ErrInvalidInput):
		jsonErr(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("api: analysis failed", "err", err)
		jsonErr(w, http.StatusInternalServerError, "analysis failed")
	}
}

// --- builders ---------------------------------------------------------------

// BuildSources assembles the live sources view. Diagnostics are judged
// against policy p.
func BuildSources(st *store.Store, p health.Policy) SourcesResponse {
	entries := st.List()
	out := make([]SourceResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ToSourceResponse(e, p))
	}
	return SourcesResponse{
		Sources:     out,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// ToSourceResponse maps a store.Entry to its JSON representation.
func ToSourceResponse(e store.Entry, p health.Policy) SourceResponse {
	rep := e.Report
	trend := e.Trend
	if trend == nil {
		trend = []store.Point{}
	}
	return SourceResponse{
		Source:      rep.SourceFilename,
		Filename:    e.Filename,
		ReportID:    rep.ID,
		Score:       rep.Score,
		Level:       rep.Level,
		DataPoints:  rep.DataPoints,
		Stats:       rep.Stats,
		Timestamp:   rep.Timestamp.UTC().Format(time.RFC3339),
		UpdatedAt:   e.UpdatedAt.UTC().Format(time.RFC3339),
		Delta:       e.Delta(),
		Trend:       trend,
		Diagnostics: computeDiagnostics(rep, p),
	}
}

func toSummary(filename string, rep types.HealthReport) ReportSummary {
	return ReportSummary{
		Filename:   filename,
		ID:         rep.ID,
		Source:     rep.SourceFilename,
		Score:      rep.Score,
		Level:      rep.Level,
		DataPoints: rep.DataPoints,
		Timestamp:  rep.Timestamp.UTC().Format(time.RFC3339),
	}
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
