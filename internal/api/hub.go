package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Lezhik/SpringTwin/internal/jobs"
)

// clientBuffer is the number of events a slow SSE client may lag behind
// before further events are dropped for it.
const clientBuffer = 64

// Hub fans job events out to Server-Sent Events clients. It implements
// jobs.Publisher; Publish never blocks.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	logger  *slog.Logger
}

var _ jobs.Publisher = (*Hub)(nil)

// Client is one SSE connection. Only the serving goroutine writes to the
// response.
type Client struct {
	project string
	events  chan []byte
	done    chan struct{}
	dropped int
}

// NewHub creates a Hub. A nil logger means slog.Default().
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[*Client]bool), logger: logger}
}

// Register adds a client interested in project, or every project when
// project is empty.
func (h *Hub) Register(project string) *Client {
	c := &Client{project: project, events: make(chan []byte, clientBuffer), done: make(chan struct{})}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
	return c
}

// Unregister removes a client.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.done)
		if c.dropped > 0 {
			h.logger.Warn("sse client lagged", slog.Int("dropped_events", c.dropped))
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish implements jobs.Publisher.
func (h *Hub) Publish(e jobs.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("encode job event", slog.String("job", e.JobID), slog.String("error", err.Error()))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.project != "" && c.project != e.ProjectID {
			continue
		}
		select {
		case c.events <- data:
		default:
			c.dropped++
		}
	}
}

// Serve streams events to w until the request context ends. keepAlive is
// the interval between comment pings.
func (c *Client) Serve(w http.ResponseWriter, r *http.Request, keepAlive time.Duration) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: connected\ndata: {\"timestamp\":%q}\n\n", time.Now().UTC().Format(time.RFC3339))
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return nil
		case <-c.done:
			return nil
		case data := <-c.events:
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
