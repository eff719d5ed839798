package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/echoscope/echoscope/pkg/types"
)

const (
	filePrefix = "health_report_"
	fileExt    = ".json"
	stampFmt   = "20060102T150405Z"

	// maxSourceLen caps the source part of a file name.
	maxSourceLen = 40
)

// ErrNotFound is returned by Load for unknown or invalid file names.
var ErrNotFound = errors.New("report: not found")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Entry is one persisted report as seen by List.
type Entry struct {
	Filename string               `json:"filename"`
	Artifact types.ReportArtifact `json:"report"`
}

// Writer stores report artifacts in one directory.
type Writer struct {
	dir string
}

// NewWriter returns a Writer rooted at dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("report: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Write persists rep and returns the file name (relative to the directory). If rep has
// no ID one is assigned; the returned report reflects it.
func (w *Writer) Write(rep types.HealthReport) (string, types.HealthReport, error) {
	if rep.ID == "" {
		rep.ID = uuid.New().String()
	}
	name := Filename(rep)

	data, err := json.MarshalIndent(rep.Artifact(), "", "  ")
	if err != nil {
		return "", rep, fmt.Errorf("report: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(w.dir, ".tmp-"+filePrefix+"*")
	if err != nil {
		return "", rep, fmt.Errorf("report: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", rep, fmt.Errorf("report: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", rep, fmt.Errorf("report: close: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(w.dir, name)); err != nil {
		os.Remove(tmpName)
		return "", rep, fmt.Errorf("report: rename: %w", err)
	}

	slog.Info("report: written",
		"file", name,
		"source", rep.SourceFilename,
		"score", rep.Score,
		"level", rep.Level,
	)
	return name, rep, nil
}

// Load reads the report stored under filename.
func (w *Writer) Load(filename string) (types.ReportArtifact, error) {
	if !validName(filename) {
		return types.ReportArtifact{}, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(w.dir, filename))
	if errors.Is(err, os.ErrNotExist) {
		return types.ReportArtifact{}, ErrNotFound
	}
	if err != nil {
		return types.ReportArtifact{}, fmt.Errorf("report: read %q: %w", filename, err)
	}
	var a types.ReportArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return types.ReportArtifact{}, fmt.Errorf("report: decode %q: %w", filename, err)
	}
	return a, nil
}

// List returns every readable report in the directory, newest first. Files that fail
// to decode are logged and skipped.
func (w *Writer) List() ([]Entry, error) {
	des, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("report: list: %w", err)
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		if de.IsDir() || !validName(de.Name()) {
			continue
		}
		a, err := w.Load(de.Name())
		if err != nil {
			slog.Warn("report: skipping unreadable file", "file", de.Name(), "err", err)
			continue
		}
		out = append(out, Entry{Filename: de.Name(), Artifact: a})
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].Artifact.Timestamp, out[j].Artifact.Timestamp
		if ti.Equal(tj) {
			return out[i].Filename > out[j].Filename
		}
		return ti.After(tj)
	})
	return out, nil
}

// Count returns how many report files are in the directory. Files are
// matched by name only and never opened.
func (w *Writer) Count() (int, error) {
	des, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("report: count: %w", err)
	}
	n := 0
	for _, de := range des {
		if !de.IsDir() && validName(de.Name()) {
			n++
		}
	}
	return n, nil
}

// Filename returns the deterministic file name for rep.
func Filename(rep types.HealthReport) string {
	id := strings.ReplaceAll(rep.ID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s%s_%s_%s%s",
		filePrefix, rep.Timestamp.UTC().Format(stampFmt), sanitize(rep.SourceFilename), id, fileExt)
}

// sanitize reduces a source name to a safe file name component.
func sanitize(source string) string {
	base := filepath.Base(source)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.Trim(unsafeChars.ReplaceAllString(base, "-"), "-.")
	if base == "" {
		base = "dataset"
	}
	if len(base) > maxSourceLen {
		base = base[:maxSourceLen]
	}
	return base
}

// validName guards Load against path traversal and foreign files.
func validName(name string) bool {
	return strings.HasPrefix(name, filePrefix) &&
		strings.HasSuffix(name, fileExt) &&
		filepath.Base(name) == name &&
		!strings.Contains(name, "..")
}

// Prune deletes reports whose encoded timestamp is before cutoff and
// returns how many were removed.
func (w *Writer) Prune(cutoff time.Time) (int, error) {
	des, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("report: prune: %w", err)
	}
	removed := 0
	for _, de := range des {
		ts, ok := parseStamp(de.Name())
		if !ok || !ts.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, de.Name())); err != nil {
			slog.Warn("report: prune failed", "file", de.Name(), "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// parseStamp extracts the UTC timestamp encoded in a report file name.
func parseStamp(filename string) (time.Time, bool) {
	if !validName(filename) {
		return time.Time{}, false
	}
	rest := strings.TrimPrefix(filename, filePrefix)
	if len(rest) < len(stampFmt) {
		return time.Time{}, false
	}
	ts, err := time.Parse(stampFmt, rest[:len(stampFmt)])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
