package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/c360/zonewatch/hub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Websocket-only message types
const (
	EventInitialData hub.EventType = "initial_data"
	EventError       hub.EventType = "error"

	requestData = "request_data"
)

type clientMessage struct {
	Type string `json:"type"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// wsClient owns one websocket connection. Only writePump writes to conn.
type wsClient struct {
	server  *Server
	conn    *websocket.Conn
	sub     *hub.Subscription
	replies chan hub.Event
	limiter *rate.Limiter
	done    chan struct{}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &wsClient{
		server:  s,
		conn:    conn,
		sub:     s.hub.Subscribe(s.subscriberBuffer, hub.AllEventTypes...),
		replies: make(chan hub.Event, 4),
		limiter: rate.NewLimiter(s.requestLimit, s.requestBurst),
		done:    make(chan struct{}),
	}
	s.logger.Info("Dashboard client connected", "remote", r.RemoteAddr, "subscription", c.sub.ID())

	// The snapshot goes out before any queued live event
	if err := c.write(s.snapshotEvent()); err != nil {
		c.sub.Close()
		_ = conn.Close()
		return
	}

	s.clients.Add(2)
	go c.writePump()
	go c.readPump()
}

func (s *Server) snapshotEvent() hub.Event {
	return hub.Event{
		ID:   uuid.NewString(),
		Type: EventInitialData,
		Time: time.Now(),
		Data: s.source.Snapshot(),
	}
}

// readPump handles request_data until the peer goes away
func (c *wsClient) readPump() {
	defer c.server.clients.Done()
	defer func() {
		close(c.done)
		c.sub.Close()
		c.server.logger.Info("Dashboard client disconnected",
			"remote", c.conn.RemoteAddr().String(),
			"dropped_events", c.sub.Dropped())
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Debug("Websocket read error", "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != requestData {
			continue
		}

		reply := c.server.snapshotEvent()
		if !c.limiter.Allow() {
			reply = hub.Event{
				ID:   uuid.NewString(),
				Type: EventError,
				Time: time.Now(),
				Data: errorPayload{Message: "request_data rate limit exceeded"},
			}
		}
		select {
		case c.replies <- reply:
		default:
		}
	}
}

// writePump forwards hub events and replies, and keeps the peer alive with pings
func (c *wsClient) writePump() {
	defer c.server.clients.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.Events():
			if !ok {
				c.closeWithMessage(websocket.CloseGoingAway, "server shutting down")
				return
			}
			if c.write(ev) != nil {
				return
			}
		case ev := <-c.replies:
			if c.write(ev) != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.server.shutdown:
			c.closeWithMessage(websocket.CloseGoingAway, "server shutting down")
			return
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) write(ev hub.Event) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(ev)
}

func (c *wsClient) closeWithMessage(code int, text string) {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(writeWait))
}
