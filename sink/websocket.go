package sink

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nasti-l/movement-tracker/processor"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
)

// HubConfig configures WebSocketHub.
type HubConfig struct {
	Encoding Encoding
	// ClientBuffer is the per-client backlog; a full backlog drops records.
	// Default 64.
	ClientBuffer int
	// CheckOrigin overrides the upgrader origin check. Default allows all.
	CheckOrigin func(r *http.Request) bool
}

// HubStats is a snapshot of hub counters.
type HubStats struct {
	Clients   int
	Broadcast uint64
	Dropped   uint64
}

// WebSocketHub serves records to WebSocket clients. It is an http.Handler:
// each request is upgraded and registered until the client goes away.
type WebSocketHub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool

	broadcast atomic.Uint64
	dropped   atomic.Uint64
}

type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() { close(c.send) })
}

// NewWebSocketHub creates a hub with no clients.
func NewWebSocketHub(cfg HubConfig) (*WebSocketHub, error) {
	enc, err := ParseEncoding(string(cfg.Encoding))
	if err != nil {
		return nil, err
	}
	cfg.Encoding = enc
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = 64
	}
	check := cfg.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}

	return &WebSocketHub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     check,
		},
		clients: make(map[*hubClient]struct{}),
	}, nil
}

// ServeHTTP upgrades the connection and streams records until the client
// disconnects or the hub closes.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("sink: websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &hubClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.cfg.ClientBuffer),
	}
	if !h.register(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	slog.Info("sink: websocket client connected", "client", c.id, "remote", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

// Publish encodes rec once and queues it for every client.
func (h *WebSocketHub) Publish(rec processor.Record) error {
	payload, err := h.cfg.Encoding.Encode(rec)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("sink: websocket hub closed")
	}

	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.dropped.Add(1)
			slog.Debug("sink: websocket client slow, record dropped", "client", c.id, "frame_seq", rec.FrameSeq)
		}
	}
	h.broadcast.Add(1)
	return nil
}

// Close disconnects every client. Later connections are refused.
func (h *WebSocketHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
	return nil
}

// Stats returns a counter snapshot.
func (h *WebSocketHub) Stats() HubStats {
	h.mu.Lock()
	n := len(h.clients)
	h.mu.Unlock()
	return HubStats{
		Clients:   n,
		Broadcast: h.broadcast.Load(),
		Dropped:   h.dropped.Load(),
	}
}

func (h *WebSocketHub) register(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *WebSocketHub) unregister(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// readPump discards client messages; it exists to process pongs and notice
// disconnects.
func (h *WebSocketHub) readPump(c *hubClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		slog.Info("sink: websocket client disconnected", "client", c.id)
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("sink: websocket read error", "client", c.id, "error", err)
			}
			return
		}
	}
}

func (h *WebSocketHub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	msgType := websocket.TextMessage
	if h.cfg.Encoding == EncodingMsgpack {
		msgType = websocket.BinaryMessage
	}

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := c.conn.WriteMessage(msgType, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
