package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/minhph/voicestudio/internal/store"
)

var jobEventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard runs on a different origin than the API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// jobEvent is the wire format pushed to dashboard clients.
type jobEvent struct {
	Type string        `json:"type"`
	Job  *store.TtsJob `json:"job"`
}

// JobEventHub fans job status changes out to the websocket connections of
// the owning user. Publishing never blocks: a slow client gets dropped.
type JobEventHub struct {
	mu    sync.Mutex
	conns map[string]map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan jobEvent
}

func NewJobEventHub() *JobEventHub {
	return &JobEventHub{conns: make(map[string]map[*wsClient]struct{})}
}

// PublishJobStatus sends the job's current state to every connection the
// owning user has open.
func (h *JobEventHub) PublishJobStatus(userID string, job *store.TtsJob) {
	ev := jobEvent{Type: "job_status", Job: job}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns[userID] {
		select {
		case c.send <- ev:
		default:
			// Buffer full; the writer goroutine is stuck. Drop the client.
			delete(h.conns[userID], c)
			close(c.send)
		}
	}
}

func (h *JobEventHub) add(userID string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*wsClient]struct{})
	}
	h.conns[userID][c] = struct{}{}
}

func (h *JobEventHub) remove(userID string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[userID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(h.conns, userID)
		}
	}
}

// handleJobEventsWS upgrades the connection and streams job status events.
// Browsers cannot set headers on websocket requests, so the JWT arrives as
// a query parameter instead.
func (r *Router) handleJobEventsWS(w http.ResponseWriter, req *http.Request) {
	tokenString := req.URL.Query().Get("token")
	if tokenString == "" {
		http.Error(w, `{"error": "missing token"}`, http.StatusUnauthorized)
		return
	}
	sess, err := r.authenticate(req, tokenString)
	if err != nil {
		http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
		return
	}

	conn, err := jobEventsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("job events upgrade failed: %v", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan jobEvent, 16)}
	r.jobEvents.add(sess.UserID, client)

	go r.writeJobEvents(client)

	// Read loop exists only to observe close and ping/pong liveness.
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	r.jobEvents.remove(sess.UserID, client)
	conn.Close()
}

func (r *Router) writeJobEvents(c *wsClient) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
				c.conn.Close()
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.conn.Close()
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}
