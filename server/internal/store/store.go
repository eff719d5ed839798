package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/echoscope/echoscope/pkg/types"
)

// TrendLen is how many past scores are kept per source.
const TrendLen = 20

// Point is one past score of a source.
type Point struct {
	Timestamp time.Time   `json:"timestamp"`
	Score     int         `json:"score"`
	Level     types.Level `json:"level"`
}

// Entry is a source's latest report, the file it was written to, when it
// was stored, and the scores that preceded it (oldest first, latest last).
type Entry struct {
	Report    types.HealthReport
	Filename  string
	UpdatedAt time.Time
	Trend     []Point
}

// Delta is the change between the latest score and the one before it.
// It is zero for a source seen only once.
func (e Entry) Delta() int {
	if len(e.Trend) < 2 {
		return 0
	}
	return e.Trend[len(e.Trend)-1].Score - e.Trend[len(e.Trend)-2].Score
}

// Store keeps the latest report of every source in memory. Sources that
// produce nothing for longer than the TTL disappear from reads at once and
// are dropped by the next Evict.
type Store struct {
	ttl time.Duration
	now func() time.Time // injectable for tests

	mu      sync.RWMutex
	sources map[string]*Entry
}

// New returns an empty Store that forgets sources after ttl.
func New(ttl time.Duration) *Store {
	return &Store{
		ttl:     ttl,
		now:     time.Now,
		sources: make(map[string]*Entry),
	}
}

// TTL returns the configured retention window.
func (s *Store) TTL() time.Duration { return s.ttl }

// Put records rep as the latest report of rep.SourceFilename and appends its
// score to the source's trend. A stale source starts a fresh trend.
func (s *Store) Put(rep types.HealthReport, filename string) {
	now := s.now()
	p := Point{Timestamp: rep.Timestamp, Score: rep.Score, Level: rep.Level}

	s.mu.Lock()
	defer s.mu.Unlock()

	var trend []Point
	if prev, ok := s.sources[rep.SourceFilename]; ok && s.fresh(prev, now) {
		trend = prev.Trend
	}
	trend = append(trend, p)
	if len(trend) > TrendLen {
		trend = append([]Point(nil), trend[len(trend)-TrendLen:]...)
	}

	s.sources[rep.SourceFilename] = &Entry{
		Report:    rep,
		Filename:  filename,
		UpdatedAt: now,
		Trend:     trend,
	}
}

// Get returns a copy of the live entry for source.
func (s *Store) Get(source string) (Entry, bool) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sources[source]
	if !ok || !s.fresh(e, now) {
		return Entry{}, false
	}
	return e.clone(), true
}

// List returns copies of every live entry, ordered by source name.
func (s *Store) List() []Entry {
	now := s.now()
	s.mu.RLock()
	out := make([]Entry, 0, len(s.sources))
	for _, e := range s.sources {
		if s.fresh(e, now) {
			out = append(out, e.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Report.SourceFilename < out[j].Report.SourceFilename
	})
	return out
}

// Count returns how many sources are held, stale ones included.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sources)
}

// Evict drops every source not updated within the TTL before now and
// returns how many were dropped.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for name, e := range s.sources {
		if !s.fresh(e, now) {
			delete(s.sources, name)
			n++
		}
	}
	return n
}

// Run evicts stale sources every half TTL (at least once a second) until
// ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	every := s.ttl / 2
	if every < time.Second {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale sources", "count", n, "remaining", s.Count())
			}
		}
	}
}

// fresh reports whether e was updated within the TTL before now.
func (s *Store) fresh(e *Entry, now time.Time) bool {
	return e.UpdatedAt.After(now.Add(-s.ttl))
}

func (e *Entry) clone() Entry {
	cp := *e
	cp.Trend = append([]Point(nil), e.Trend...)
	return cp
}
