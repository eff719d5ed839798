package shipper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/echoscope/echoscope/agent/internal/compute"
	"github.com/echoscope/echoscope/agent/internal/config"
	"github.com/echoscope/echoscope/agent/internal/probe"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second

	ingestPath = "/api/v1/ingest"
)

// permanentError marks a rejection that retrying cannot fix.
type permanentError struct {
	status int
	msg    string
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("server rejected batch: status %d: %s", e.status, e.msg)
}

// Shipper buffers compute.Batches and ships them to echoscope-server over HTTP.
// Ship() is non-blocking; when the buffer is full the oldest batch is evicted.
// Run() must be called in a goroutine to drain the buffer and handle retries.
type Shipper struct {
	cfg    config.AgentConfig
	url    string
	buf    chan *compute.Batch
	client *http.Client

	// after is injectable so tests can skip backoff sleeps.
	after func(time.Duration) <-chan time.Time
}

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) (*Shipper, error) {
	client, err := probe.BuildHTTPClient(cfg.ServerAuth, config.TLSConfig{}, sendTimeout)
	if err != nil {
		return nil, fmt.Errorf("shipper: build http client: %w", err)
	}
	return newShipper(cfg, client), nil
}

func newShipper(cfg config.AgentConfig, client *http.Client) *Shipper {
	size := cfg.BufferSize
	if size <= 0 {
		size = config.DefaultBufferSize
	}
	return &Shipper{
		cfg:    cfg,
		url:    strings.TrimRight(cfg.ServerEndpoint, "/") + ingestPath,
		buf:    make(chan *compute.Batch, size),
		client: client,
		after:  time.After,
	}
}

// Ship enqueues a batch. If the buffer is full the oldest entry is evicted
// to make room.
func (s *Shipper) Ship(b *compute.Batch) {
	select {
	case s.buf <- b:
	default:
		// Buffer full: drop the oldest batch, keep the newest.
		select {
		case old := <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest batch",
				"source", old.Dataset.SourceName, "buffer_cap", cap(s.buf))
		default:
		}
		s.buf <- b
	}
}

// Pending returns the number of buffered batches.
func (s *Shipper) Pending() int { return len(s.buf) }

// Run drains the buffer, posting batches to the server. A batch that fails
// with a transient error is retried with exponential backoff before the next
// one is taken. Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		var b *compute.Batch
		select {
		case <-ctx.Done():
			return
		case b = <-s.buf:
		}

		for {
			err := s.send(ctx, b)
			if err == nil {
				bo.reset()
				slog.Debug("shipper: batch delivered",
					"source", b.Dataset.SourceName, "samples", b.Dataset.Count())
				break
			}
			if ctx.Err() != nil {
				return
			}

			var perm *permanentError
			if errors.As(err, &perm) {
				slog.Error("shipper: permanent send error, discarding batch",
					"source", b.Dataset.SourceName, "err", err)
				break
			}

			wait := bo.next()
			slog.Warn("shipper: send failed, will retry",
				"endpoint", s.url,
				"source", b.Dataset.SourceName,
				"err", err,
				"retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-s.after(wait):
			}
		}
	}
}

// send posts one batch as a {source, created_at, samples} envelope.
// 4xx responses are permanent; everything else is retried.
func (s *Shipper) send(ctx context.Context, b *compute.Batch) error {
	body, err := json.Marshal(b.Dataset)
	if err != nil {
		return &permanentError{msg: fmt.Sprintf("encode: %v", err)}
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return &permanentError{msg: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("status %d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &permanentError{status: resp.StatusCode, msg: strings.TrimSpace(string(msg))}
	default:
		return fmt.Errorf("status %d", resp.StatusCode)
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
