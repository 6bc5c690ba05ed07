package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// sseBacklog is how many recent events are kept for Last-Event-ID replay.
	// Runs publish one event per inserted record, so this covers a typical run.
	sseBacklog = 1000

	sseKeepaliveInterval = 15 * time.Second
	sseClientBuffer      = 64
)

type sseEvent struct {
	ID    uint64
	Topic string
	Data  []byte
}

// sseHub fans out published run events to connected SSE clients and keeps a
// bounded backlog for reconnects.
type sseHub struct {
	mu      sync.RWMutex
	clients map[*sseClient]struct{}
	lastID  uint64
	backlog []sseEvent // oldest first, at most cap entries
	cap     int
}

type sseClient struct {
	topics []string // NATS-style patterns; empty matches everything
	ch     chan sseEvent
}

func newSSEHub(backlog int) *sseHub {
	return &sseHub{
		clients: make(map[*sseClient]struct{}),
		cap:     backlog,
	}
}

// broadcast assigns the next id to the event and delivers it to every
// matching client. Slow clients miss events rather than block publishers.
func (h *sseHub) broadcast(topic string, payload []byte) {
	h.mu.Lock()
	h.lastID++
	evt := sseEvent{ID: h.lastID, Topic: topic, Data: payload}
	if len(h.backlog) == h.cap {
		copy(h.backlog, h.backlog[1:])
		h.backlog = h.backlog[:h.cap-1]
	}
	h.backlog = append(h.backlog, evt)
	clients := make([]*sseClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if !c.matches(topic) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
		}
	}
}

func (h *sseHub) subscribe(topics []string) *sseClient {
	c := &sseClient{topics: topics, ch: make(chan sseEvent, sseClientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *sseHub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// since returns backlog events newer than lastID, oldest first.
func (h *sseHub) since(lastID uint64) []sseEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []sseEvent
	for _, evt := range h.backlog {
		if evt.ID > lastID {
			out = append(out, evt)
		}
	}
	return out
}

func (c *sseClient) matches(topic string) bool {
	if len(c.topics) == 0 {
		return true
	}
	for _, p := range c.topics {
		if matchTopicPattern(p, topic) {
			return true
		}
	}
	return false
}

// matchTopicPattern matches a dot-separated topic against a pattern. "*"
// matches one segment and a trailing ">" matches one or more.
func matchTopicPattern(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	pat := strings.Split(pattern, ".")
	top := strings.Split(topic, ".")
	for i, p := range pat {
		if p == ">" {
			return i < len(top)
		}
		if i >= len(top) || (p != "*" && p != top[i]) {
			return false
		}
	}
	return len(pat) == len(top)
}

func parseTopics(q string) []string {
	var topics []string
	for _, t := range strings.Split(q, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

// handleEventStream handles GET /v1/events/stream. ?topics= takes a comma
// separated list of patterns; Last-Event-ID replays the backlog.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	client := s.sseHub.subscribe(parseTopics(r.URL.Query().Get("topics")))
	defer s.sseHub.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if lastID, err := strconv.ParseUint(v, 10, 64); err == nil {
			for _, evt := range s.sseHub.since(lastID) {
				if client.matches(evt.Topic) {
					writeSSEEvent(w, evt)
				}
			}
			flusher.Flush()
		}
	}

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-client.ch:
			writeSSEEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt sseEvent) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", evt.ID, evt.Topic, evt.Data)
}
