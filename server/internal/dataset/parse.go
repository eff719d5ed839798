package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/echoscope/echoscope/pkg/health"
	"github.com/echoscope/echoscope/pkg/types"
)

// ParseError describes why an upload could not be turned into a dataset.
// Index is -1 for errors that are not tied to one sample.
type ParseError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	switch {
	case e.Index < 0:
		return "dataset: " + e.Reason
	case e.Field == "":
		return fmt.Sprintf("dataset: sample %d: %s", e.Index, e.Reason)
	default:
		return fmt.Sprintf("dataset: sample %d: %s: %s", e.Index, e.Field, e.Reason)
	}
}

// Unwrap lets callers treat every parse failure as invalid input.
func (e *ParseError) Unwrap() error { return health.ErrInvalidInput }

// rawSample keeps every field as raw JSON so presence and type can be
// checked explicitly.
type rawSample struct {
	Timestamp  json.RawMessage `json:"timestamp"`
	LatencyMs  json.RawMessage `json:"latency_ms"`
	PacketLoss json.RawMessage `json:"packet_loss"`
	JitterMs   json.RawMessage `json:"jitter_ms"`
	Anomaly    json.RawMessage `json:"anomaly_flag"`
}

// envelope is the object form of an upload.
type envelope struct {
	Source    string          `json:"source"`
	CreatedAt *time.Time      `json:"created_at"`
	Samples   json.RawMessage `json:"samples"`
	Data      json.RawMessage `json:"data"`
}

// Parse reads an upload from r. sourceName becomes the dataset's source
// unless the envelope names one and sourceName is empty. now is used as
// CreatedAt when the upload carries none.
func Parse(r io.Reader, sourceName string, now time.Time) (types.EchoDataset, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return types.EchoDataset{}, fmt.Errorf("dataset: read: %w", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return types.EchoDataset{}, &ParseError{Index: -1, Reason: "empty body"}
	}

	ds := types.EchoDataset{SourceName: sourceName, CreatedAt: now}

	var list json.RawMessage
	switch body[0] {
	case '[':
		list = body
	case '{':
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return types.EchoDataset{}, syntaxErr(err)
		}
		switch {
		case len(env.Samples) > 0:
			list = env.Samples
		case len(env.Data) > 0:
			list = env.Data
		default:
			return types.EchoDataset{}, &ParseError{Index: -1, Reason: `object must contain a "samples" array`}
		}
		if ds.SourceName == "" {
			ds.SourceName = env.Source
		}
		if env.CreatedAt != nil {
			ds.CreatedAt = *env.CreatedAt
		}
	default:
		return types.EchoDataset{}, &ParseError{Index: -1, Reason: "top level must be an array or an object"}
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(list, &raws); err != nil {
		return types.EchoDataset{}, syntaxErr(err)
	}
	if raws == nil {
		return types.EchoDataset{}, &ParseError{Index: -1, Reason: "samples must be an array"}
	}

	ds.Samples = make([]types.EchoSample, 0, len(raws))
	for i, raw := range raws {
		s, err := parseSample(i, raw)
		if err != nil {
			return types.EchoDataset{}, err
		}
		ds.Samples = append(ds.Samples, s)
	}
	return ds, nil
}

func parseSample(i int, raw json.RawMessage) (types.EchoSample, error) {
	var rs rawSample
	if err := json.Unmarshal(raw, &rs); err != nil {
		return types.EchoSample{}, &ParseError{Index: i, Reason: "sample must be an object"}
	}

	var s types.EchoSample

	if isAbsent(rs.LatencyMs) {
		return s, &ParseError{Index: i, Field: "latency_ms", Reason: "required"}
	}
	lat, err := number(rs.LatencyMs)
	if err != nil {
		return s, &ParseError{Index: i, Field: "latency_ms", Reason: err.Error()}
	}
	s.LatencyMs = lat

	if isAbsent(rs.PacketLoss) {
		return s, &ParseError{Index: i, Field: "packet_loss", Reason: "required"}
	}
	lost, err := flag(rs.PacketLoss)
	if err != nil {
		return s, &ParseError{Index: i, Field: "packet_loss", Reason: err.Error()}
	}
	s.PacketLoss = lost

	if !isAbsent(rs.Timestamp) {
		ts, err := timestamp(rs.Timestamp)
		if err != nil {
			return s, &ParseError{Index: i, Field: "timestamp", Reason: err.Error()}
		}
		s.Timestamp = ts
	}

	if !isAbsent(rs.JitterMs) {
		j, err := number(rs.JitterMs)
		if err != nil {
			return s, &ParseError{Index: i, Field: "jitter_ms", Reason: err.Error()}
		}
		s.JitterMs = &j
	}

	if !isAbsent(rs.Anomaly) {
		a, err := flag(rs.Anomaly)
		if err != nil {
			return s, &ParseError{Index: i, Field: "anomaly_flag", Reason: err.Error()}
		}
		s.Anomaly = &a
	}

	return s, nil
}

// isAbsent treats a missing key and an explicit null the same way.
func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func number(raw json.RawMessage) (float64, error) {
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, errors.New("must be a number")
	}
	return v, nil
}

// flag accepts true/false and the integers 0/1.
func flag(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		switch n {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	}
	return false, errors.New("must be a boolean, 0 or 1")
}

// maxUnixSeconds is 9999-12-31T23:59:59Z, the last second RFC3339 can carry.
const maxUnixSeconds = 253402300799

// timestamp accepts an RFC3339 string or unix seconds (fractional allowed).
func timestamp(raw json.RawMessage) (time.Time, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		ts, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return time.Time{}, errors.New("must be RFC3339")
		}
		return ts, nil
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) || math.Abs(secs) > maxUnixSeconds {
			return time.Time{}, errors.New("unix seconds out of range")
		}
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
	}
	return time.Time{}, errors.New("must be an RFC3339 string or unix seconds")
}

func syntaxErr(err error) error {
	var se *json.SyntaxError
	if errors.As(err, &se) {
		return &ParseError{Index: -1, Reason: fmt.Sprintf("malformed JSON at offset %d", se.Offset)}
	}
	return &ParseError{Index: -1, Reason: "malformed JSON: " + err.Error()}
}
