package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256
)

// Frame formats selected with ?format= on connect.
const (
	FormatJSON  = "json"
	FormatProto = "proto"
)

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode           string
	StartedAt      time.Time
	AllowedOrigins []string
}

// frame is one outgoing message, pre-encoded in both formats.
type frame struct {
	requestID int64
	json      []byte
	proto     []byte
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan frame
	format string

	mu       sync.RWMutex
	requests map[int64]bool // empty means every request
}

// subscribeMsg narrows or widens the request ids a client follows.
//
//	{"action":"subscribe","requests":[1,2]}
//	{"action":"unsubscribe","requests":[2]}
//	{"action":"all"}
type subscribeMsg struct {
	Action   string  `json:"action"`
	Requests []int64 `json:"requests"`
}

// Hub fans lifecycle events from the signal bus out to WebSocket clients.
type Hub struct {
	bus      domain.SignalBus
	upgrader websocket.Upgrader
	logger   *slog.Logger
	mode     string
	started  time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
	done    chan struct{}
}

// NewHub creates a Hub reading domain.ChannelRequests from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	started := cfg.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	mode := cfg.Mode
	if mode == "" {
		mode = "unknown"
	}
	h := &Hub{
		bus:     bus,
		logger:  logger.With(slog.String("component", "ws_hub")),
		mode:    mode,
		started: started,
		clients: make(map[*client]struct{}),
		done:    make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

// Run subscribes to the lifecycle channel and broadcasts until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, domain.ChannelRequests)
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "ws: subscribed", slog.String("channel", domain.ChannelRequests))
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				return ctx.Err()
			}
			f, err := encodeEvent(data)
			if err != nil {
				h.logger.WarnContext(ctx, "ws: dropping malformed event", slog.String("error", err.Error()))
				continue
			}
			h.broadcast(f)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	close(h.done)
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) broadcast(f frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(f.requestID) {
			continue
		}
		select {
		case c.send <- f:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

// HandleWS upgrades the connection and streams lifecycle events.
// GET /ws?format=proto
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	format := FormatJSON
	if r.URL.Query().Get("format") == FormatProto {
		format = FormatProto
	}
	c := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan frame, sendBufferSize),
		format:   format,
		requests: make(map[int64]bool),
	}

	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		_ = conn.Close()
		return
	default:
	}
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws: client connected", slog.Int("total_clients", total), slog.String("format", format))

	c.sendStatus()
	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws: client disconnected", slog.Int("total_clients", total))
}

// encodeEvent wraps a bus payload in the {"type","payload"} envelope in
// both wire formats.
func encodeEvent(data []byte) (frame, error) {
	var ev domain.LifecycleEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return frame{}, err
	}
	f, err := encodeEnvelope("lifecycle", json.RawMessage(data))
	if err != nil {
		return frame{}, err
	}
	f.requestID = ev.RequestID
	return f, nil
}

func encodeEnvelope(typ string, payload any) (frame, error) {
	js, err := json.Marshal(map[string]any{"type": typ, "payload": payload})
	if err != nil {
		return frame{}, err
	}
	var generic map[string]any
	if err := json.Unmarshal(js, &generic); err != nil {
		return frame{}, err
	}
	st, err := structpb.NewStruct(generic)
	if err != nil {
		return frame{}, err
	}
	pb, err := proto.Marshal(st)
	if err != nil {
		return frame{}, err
	}
	return frame{json: js, proto: pb}, nil
}

func (c *client) wants(requestID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.requests) == 0 || c.requests[requestID]
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, id := range msg.Requests {
			c.requests[id] = true
		}
	case "unsubscribe":
		for _, id := range msg.Requests {
			delete(c.requests, id)
		}
	case "all":
		clear(c.requests)
	}
}

func (c *client) sendStatus() {
	uptime := max(int64(time.Since(c.hub.started).Seconds()), 0)
	f, err := encodeEnvelope("hub_status", map[string]any{
		"mode":           c.hub.mode,
		"format":         c.format,
		"uptime_seconds": uptime,
	})
	if err != nil {
		return
	}
	select {
	case c.send <- f:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// writePump sends JSON as text frames and protobuf as binary frames, with
// periodic pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			kind, data := websocket.TextMessage, f.json
			if c.format == FormatProto {
				kind, data = websocket.BinaryMessage, f.proto
			}
			if err := c.conn.WriteMessage(kind, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
