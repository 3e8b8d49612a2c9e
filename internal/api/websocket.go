package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/fatigue.report/internal/fatigue/l1landmarks"
	"github.com/banshee-data/fatigue.report/internal/fatigue/pipeline"
	"github.com/banshee-data/fatigue.report/internal/monitoring"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = wsPongWait * 9 / 10
	wsSendBuffer   = 8
	wsMaxFrameSize = 64 * 1024
)

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// statusHub fans status snapshots out to websocket clients. A client whose
// queue is full misses that update.
type statusHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
	dropped atomic.Uint64
}

func newStatusHub() *statusHub {
	return &statusHub{clients: make(map[*wsClient]struct{})}
}

func (h *statusHub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *statusHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *statusHub) broadcast(st pipeline.Status) {
	b, err := json.Marshal(st)
	if err != nil {
		monitoring.Opsf("[ws] failed to encode status: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *statusHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *statusHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// handleStatusWS sends the current status on connect and every cycle
// after that.
func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Diagf("[ws] status upgrade failed: %v", err)
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}

	initial, err := json.Marshal(s.session.Status())
	if err == nil {
		client.send <- initial
	}
	if !s.hub.add(client) {
		conn.Close()
		return
	}

	go s.statusReadPump(client)
	s.statusWritePump(client)
}

// statusReadPump only services control frames; it removes the client when
// the peer goes away.
func (s *Server) statusReadPump(c *wsClient) {
	defer s.hub.remove(c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				monitoring.Diagf("[ws] status client error: %v", err)
			}
			return
		}
	}
}

func (s *Server) statusWritePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ingestAck answers one landmark message when the client asked for acks.
type ingestAck struct {
	Seq   uint64 `json:"seq"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// handleLandmarksWS accepts one JSON frame per message, in the same format
// as a detector line, and queues it for the session. With ?ack=1 every
// message is answered with an ingestAck. Face frames without a full
// landmark set are refused before queueing, so OK means the session will
// take the frame.
func (s *Server) handleLandmarksWS(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		http.Error(w, "landmark ingest disabled", http.StatusServiceUnavailable)
		return
	}
	wantAck := r.URL.Query().Get("ack") == "1" || r.URL.Query().Get("ack") == "true"

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Diagf("[ws] landmarks upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxFrameSize)

	ack := func(a ingestAck) bool {
		if !wantAck {
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(a) == nil
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				monitoring.Diagf("[ws] landmarks client error: %v", err)
			}
			return
		}
		frame, err := l1landmarks.ParseFrame(msg)
		if err != nil {
			if !ack(ingestAck{OK: false, Error: err.Error()}) {
				return
			}
			continue
		}
		if frame.Face {
			if err := frame.Landmarks.Validate(); err != nil {
				if !ack(ingestAck{Seq: frame.Seq, OK: false, Error: err.Error()}) {
					return
				}
				continue
			}
		}
		select {
		case s.ingest <- frame:
		case <-s.done:
			return
		}
		if !ack(ingestAck{Seq: frame.Seq, OK: true}) {
			return
		}
	}
}
