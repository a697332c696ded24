// Package live pushes a learner's progress events to their open websocket
// connections, so every tab and device sees the same state.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mind-engage/mindengage-progress/internal/progress"
	syncx "github.com/mind-engage/mindengage-progress/internal/sync"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

// Message is what clients receive.
type Message struct {
	Type string          `json:"type"`
	Seq  int64           `json:"seq,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Backlog replays stored events a reconnecting client missed.
type Backlog interface {
	Since(ctx context.Context, learner string, after int64, limit int) ([]syncx.Event, error)
}

type client struct {
	learner string
	send    chan Message
}

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*client]struct{}
	upgrader websocket.Upgrader
	backlog  Backlog
	log      *slog.Logger
}

// NewHub accepts upgrades from the given origins; an empty list or "*"
// accepts any origin.
func NewHub(origins []string, backlog Backlog, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	allowed := map[string]bool{}
	for _, o := range origins {
		allowed[o] = true
	}
	h := &Hub{
		clients: map[string]map[*client]struct{}{},
		backlog: backlog,
		log:     log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
		},
	}
	return h
}

// Publish implements progress.EventSink for deployments without an event
// log. Messages carry no seq and are never de-duplicated.
func (h *Hub) Publish(_ context.Context, e progress.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.log.Error("encode live event", "error", err)
		return
	}
	h.fanout(e.LearnerID, Message{Type: string(e.Type), Data: data})
}

// Deliver pushes an event already stored in the log. Register it with
// EventRepo.Notify; the seq lets Serve drop events a replay already sent.
func (h *Hub) Deliver(_ context.Context, e syncx.Event) {
	h.fanout(e.LearnerID, Message{Type: e.Type, Seq: e.Seq, Data: e.Data})
}

// fanout never blocks: slow clients drop events rather than stall the writer.
func (h *Hub) fanout(learner string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[learner] {
		select {
		case c.send <- msg:
		default:
			h.log.Warn("live client too slow, dropping event", "learner", learner, "type", msg.Type)
		}
	}
}

// Connected returns how many sockets a learner has open.
func (h *Hub) Connected(learner string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[learner])
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.learner]
	if !ok {
		set = map[*client]struct{}{}
		h.clients[c.learner] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[c.learner]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.learner)
		}
	}
}

// Serve upgrades the request and streams the learner's events until the
// socket closes. ?since=<seq> replays stored events first. The client is
// registered before the replay so nothing is missed in between; a live event
// whose seq the replay already sent is skipped.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, learner string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	c := &client{learner: learner, send: make(chan Message, sendBuffer)}
	h.register(c)
	defer h.unregister(c)
	h.log.Debug("live client connected", "learner", learner)

	replayed := map[int64]bool{}
	if since := r.URL.Query().Get("since"); since != "" && h.backlog != nil {
		after, _ := strconv.ParseInt(since, 10, 64)
		events, err := h.backlog.Since(r.Context(), learner, after, 0)
		if err != nil {
			h.log.Warn("live backlog failed", "learner", learner, "error", err)
		}
		for _, e := range events {
			if err := writeJSON(conn, Message{Type: e.Type, Seq: e.Seq, Data: e.Data}); err != nil {
				return
			}
			replayed[e.Seq] = true
		}
	}
	if err := writeJSON(conn, Message{Type: "ready"}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.log.Debug("live read error", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case msg := <-c.send:
			if msg.Seq != 0 && replayed[msg.Seq] {
				continue
			}
			if err := writeJSON(conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
