package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/echoscope/echoscope/pkg/health"
	"github.com/echoscope/echoscope/pkg/types"
	"github.com/echoscope/echoscope/server/internal/api"
	"github.com/echoscope/echoscope/server/internal/store"
)

const (
	writeTimeout = 10 * time.Second

	// pongWait is how long a client may stay silent before it is dropped.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// queueDepth is the per-client outgoing message buffer.
	queueDepth = 16

	// maxInbound bounds client frames; clients only send control frames.
	maxInbound = 512
)

// Event names carried in Message.Event.
const (
	EventSnapshot = "snapshot"
	EventReport   = "report"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients. Data is an
// api.SourcesResponse for snapshot events and an api.SourceResponse for
// report events.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub fans health reports out to WebSocket subscribers. Every interval it
// sends each subscriber the live sources it asked for; Notify pushes a new
// report immediately.
//
// A subscriber may restrict itself to some sources with a comma separated
// ?source= query parameter. Without it, it receives everything.
type Hub struct {
	store    *store.Store
	interval time.Duration
	policy   func() health.Policy

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn  *websocket.Conn
	queue chan []byte

	// sources is nil for an unfiltered subscriber.
	sources map[string]struct{}
}

// wants reports whether the subscriber asked for source.
func (s *subscriber) wants(source string) bool {
	if s.sources == nil {
		return true
	}
	_, ok := s.sources[source]
	return ok
}

// New creates a Hub that reads from st and broadcasts every interval.
// policy supplies the thresholds diagnostics are judged against; nil means
// health.DefaultPolicy.
func New(st *store.Store, interval time.Duration, policy func() health.Policy) *Hub {
	if policy == nil {
		policy = health.DefaultPolicy
	}
	return &Hub{
		store:    st,
		interval: interval,
		policy:   policy,
		subs:     make(map[*subscriber]struct{}),
	}
}

// Run sends periodic snapshots until ctx is cancelled, then disconnects
// every subscriber.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			snap := api.BuildSources(h.store, h.policy())
			h.fanout(func(s *subscriber) ([]byte, bool) {
				return encode(EventSnapshot, filterSources(snap, s))
			})
		}
	}
}

// Notify pushes a report event to every subscriber interested in its source.
func (h *Hub) Notify(rep types.HealthReport, filename string) {
	entry, ok := h.store.Get(rep.SourceFilename)
	if !ok || entry.Report.ID != rep.ID {
		entry = store.Entry{Report: rep, Filename: filename, UpdatedAt: time.Now()}
	}
	data, ok := encode(EventReport, api.ToSourceResponse(entry, h.policy()))
	if !ok {
		return
	}
	h.fanout(func(s *subscriber) ([]byte, bool) {
		return data, s.wants(rep.SourceFilename)
	})
}

// ServeHTTP upgrades the request and serves one subscriber until it
// disconnects. The first message is always a snapshot.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	s := &subscriber{
		conn:    conn,
		queue:   make(chan []byte, queueDepth),
		sources: parseSources(r.URL.Query().Get("source")),
	}
	if data, ok := encode(EventSnapshot, filterSources(api.BuildSources(h.store, h.policy()), s)); ok {
		s.queue <- data
	}
	h.add(s)
	defer h.remove(s)

	go s.writeLoop()
	s.readLoop()
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

// remove closes s.queue exactly once; the write loop then closes the socket.
func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.queue)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		delete(h.subs, s)
		close(s.queue)
	}
}

// fanout queues msg(s) for each subscriber that wants it. Subscribers whose
// queue is full are dropped. Queues are only closed under the write lock, so
// sending under the read lock is safe.
func (h *Hub) fanout(msg func(*subscriber) ([]byte, bool)) {
	var slow []*subscriber

	h.mu.RLock()
	for s := range h.subs {
		data, ok := msg(s)
		if !ok {
			continue
		}
		select {
		case s.queue <- data:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		slog.Warn("ws: dropping slow subscriber", "remote", s.conn.RemoteAddr().String())
		h.remove(s)
	}
}

// writeLoop owns all writes to the connection. It exits when the queue is
// closed or a write fails.
func (s *subscriber) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer s.conn.Close()

	for {
		var (
			kind    = websocket.TextMessage
			payload []byte
		)
		select {
		case msg, open := <-s.queue:
			if !open {
				kind = websocket.CloseMessage
			}
			payload = msg
		case <-ping.C:
			kind = websocket.PingMessage
		}

		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
		err := s.conn.WriteMessage(kind, payload)
		if err != nil || kind == websocket.CloseMessage {
			return
		}
	}
}

// readLoop consumes control frames so pongs and closes are processed.
// It returns when the peer goes away or stops answering pings.
func (s *subscriber) readLoop() {
	defer s.conn.Close()

	extend := func() { s.conn.SetReadDeadline(time.Now().Add(pongWait)) } //nolint:errcheck
	s.conn.SetReadLimit(maxInbound)
	extend()
	s.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return
		}
	}
}

// parseSources turns "a, b,c" into a set. An empty value means no filter.
func parseSources(q string) map[string]struct{} {
	if strings.TrimSpace(q) == "" {
		return nil
	}
	set := make(map[string]struct{})
	for _, name := range strings.Split(q, ",") {
		if name = strings.TrimSpace(name); name != "" {
			set[name] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// filterSources returns the part of snap that s subscribed to.
func filterSources(snap api.SourcesResponse, s *subscriber) api.SourcesResponse {
	if s.sources == nil {
		return snap
	}
	out := api.SourcesResponse{
		Sources:     make([]api.SourceResponse, 0, len(s.sources)),
		GeneratedAt: snap.GeneratedAt,
	}
	for _, src := range snap.Sources {
		if s.wants(src.Source) {
			out.Sources = append(out.Sources, src)
		}
	}
	return out
}

func encode(event string, data interface{}) ([]byte, bool) {
	b, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		slog.Error("ws: encode", "event", event, "err", err)
		return nil, false
	}
	return b, true
}
