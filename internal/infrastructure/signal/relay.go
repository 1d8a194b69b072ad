package signal

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"pointlink/internal/core/domain"
	"pointlink/pkg/config"
	"pointlink/pkg/validation"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// sendQueueSize bounds the per-connection outbound queue. Writes beyond it
// are dropped rather than blocking the relay.
const sendQueueSize = 32

// Metrics receives relay-level observability readings.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	MessageRelayed(kind string)
	MessageDropped(reason string)
}

type nopMetrics struct{}

func (nopMetrics) ConnectionOpened()     {}
func (nopMetrics) ConnectionClosed()     {}
func (nopMetrics) MessageRelayed(string) {}
func (nopMetrics) MessageDropped(string) {}

// Client wraps one relay-side websocket connection. All writes go through
// the send channel and a single writer goroutine, which keeps delivery to
// one target in send order.
type Client struct {
	id     domain.ConnectionID
	conn   *websocket.Conn
	room   domain.RoomID
	member domain.MemberID
	send   chan domain.Envelope
	once   sync.Once
}

func (c *Client) enqueue(env domain.Envelope) bool {
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel exactly once, which terminates the
// client's writePump and with it the connection.
func (c *Client) shutdown() {
	c.once.Do(func() { close(c.send) })
}

// Relay is the signaling server: it brokers offer/answer/ice-candidate
// messages between members of a room and announces membership changes. It
// never inspects payloads and keeps no handshake state.
type Relay struct {
	registry *Registry
	metrics  Metrics

	pingInterval    time.Duration
	pongTimeout     time.Duration
	writeTimeout    time.Duration
	maxMessageBytes int64

	limitMessages bool
	messageRate   rate.Limit
	messageBurst  int

	logger *zap.SugaredLogger
}

func NewRelay(cfg *config.Config, registry *Registry, metrics Metrics, log *zap.Logger) *Relay {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Relay{
		registry:        registry,
		metrics:         metrics,
		pingInterval:    cfg.Signal.PingInterval,
		pongTimeout:     cfg.Signal.PongTimeout,
		writeTimeout:    cfg.Signal.WriteTimeout,
		maxMessageBytes: cfg.Signal.MaxMessageBytes,
		limitMessages:   cfg.RateLimiting.Enabled,
		messageRate:     rate.Limit(cfg.RateLimiting.MessagesPerSecond),
		messageBurst:    cfg.RateLimiting.Burst,
		logger:          log.Sugar(),
	}
}

// Registry exposes the membership snapshot for the HTTP surface.
func (s *Relay) Registry() *Registry {
	return s.registry
}

// HandleWebSocket upgrades the request and runs the connection until it
// drops. One goroutine writes, the handler goroutine reads.
func (s *Relay) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		id:   domain.ConnectionID(uuid.New().String()),
		conn: conn,
		send: make(chan domain.Envelope, sendQueueSize),
	}
	s.metrics.ConnectionOpened()

	go s.writePump(client)

	// Connection-level welcome carrying the diagnostic connection id.
	welcome, _ := json.Marshal(map[string]string{"connectionId": string(client.id)})
	client.enqueue(domain.Envelope{Type: domain.KindWelcome, Payload: welcome})

	s.logger.Infow("connection opened", "conn_id", client.id, "remote", conn.RemoteAddr())

	s.readLoop(client)
	s.disconnect(client)
}

func (s *Relay) readLoop(c *Client) {
	c.conn.SetReadLimit(s.maxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	var limiter *rate.Limiter
	if s.limitMessages {
		limiter = rate.NewLimiter(s.messageRate, s.messageBurst)
	}

	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("read error", "conn_id", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))

		if limiter != nil && !limiter.Allow() {
			s.metrics.MessageDropped("rate_limited")
			s.logger.Debugw("message rate limited", "conn_id", c.id, "type", env.Type)
			continue
		}

		s.handleMessage(c, env)
	}
}

func (s *Relay) handleMessage(c *Client, env domain.Envelope) {
	switch {
	case env.Type == domain.KindJoin:
		s.handleJoin(c, env)
	case env.Type.IsRelayable():
		s.handleRelay(c, env)
	default:
		s.metrics.MessageDropped("unknown_type")
		s.logger.Warnw("unknown message type", "conn_id", c.id, "type", env.Type)
	}
}

func (s *Relay) handleJoin(c *Client, env domain.Envelope) {
	if err := validation.ValidateRoomID(string(env.Room)); err != nil {
		s.metrics.MessageDropped("invalid_join")
		s.logger.Warnw("join rejected", "conn_id", c.id, "error", err)
		return
	}
	if err := validation.ValidateMemberID(string(env.From)); err != nil {
		s.metrics.MessageDropped("invalid_join")
		s.logger.Warnw("join rejected", "conn_id", c.id, "error", err)
		return
	}

	// A live connection that joins again under a different room or member id
	// moves: its old membership goes away and the old room hears a departure,
	// so no stale routable entry survives. Repeating the identical join is a
	// no-op beyond the ack.
	rejoin := c.member == env.From && c.room == env.Room && c.member != ""
	if c.member != "" && !rejoin {
		s.announceLeave(c)
	}

	replaced := s.registry.Join(env.Room, env.From, c)
	switch {
	case replaced != nil:
		// Reconnect reusing the member id: the old connection is evicted
		// and the departure/arrival is not re-announced.
		s.logger.Infow("member replaced by new connection",
			"room", env.Room, "member", env.From, "old_conn", replaced.id, "new_conn", c.id)
		replaced.shutdown()
	case !rejoin:
		announce := domain.Envelope{Type: domain.KindUserConnected, Room: env.Room, From: env.From}
		for _, other := range s.registry.Others(env.Room, env.From) {
			if !other.enqueue(announce) {
				s.metrics.MessageDropped("send_queue_full")
			}
		}
	}

	ack, _ := json.Marshal(map[string]string{"room": string(env.Room), "id": string(env.From)})
	c.enqueue(domain.Envelope{Type: domain.KindRoomJoined, Room: env.Room, Target: env.From, Payload: ack})

	s.logger.Infow("member joined", "room", env.Room, "member", env.From, "conn_id", c.id, "reconnect", replaced != nil)
}

func (s *Relay) handleRelay(c *Client, env domain.Envelope) {
	if c.member == "" {
		s.metrics.MessageDropped("not_joined")
		s.logger.Warnw("relay before join", "conn_id", c.id, "type", env.Type)
		return
	}
	if env.Target == "" {
		s.metrics.MessageDropped("missing_target")
		s.logger.Warnw("relay missing target", "conn_id", c.id, "type", env.Type)
		return
	}

	target, ok := s.registry.Lookup(c.room, env.Target)
	if !ok {
		// Routing miss: the sender may be racing a disconnect. Signaling is
		// best-effort, so the message vanishes without an error.
		s.metrics.MessageDropped("routing_miss")
		s.logger.Debugw("routing miss",
			"room", c.room, "from", c.member, "target", env.Target, "type", env.Type)
		return
	}

	forwarded := domain.Envelope{
		Type:    env.Type,
		Room:    c.room,
		From:    c.member,
		Payload: env.Payload,
	}
	if !target.enqueue(forwarded) {
		s.metrics.MessageDropped("send_queue_full")
		s.logger.Warnw("target send queue full, dropping",
			"room", c.room, "target", env.Target, "type", env.Type)
		return
	}

	s.metrics.MessageRelayed(string(env.Type))
	s.logger.Debugw("relayed",
		"room", c.room, "from", c.member, "target", env.Target, "type", env.Type, "payload_bytes", len(env.Payload))
}

// announceLeave removes c's registered membership and tells the remaining
// members of its room that it left.
func (s *Relay) announceLeave(c *Client) {
	remaining, wasMember := s.registry.Leave(c)
	if !wasMember || c.member == "" {
		return
	}
	gone := domain.Envelope{Type: domain.KindUserDisconnected, Room: c.room, From: c.member}
	for _, other := range remaining {
		if !other.enqueue(gone) {
			s.metrics.MessageDropped("send_queue_full")
		}
	}
}

func (s *Relay) disconnect(c *Client) {
	s.announceLeave(c)
	c.shutdown()
	s.metrics.ConnectionClosed()
	s.logger.Infow("connection closed", "conn_id", c.id, "room", c.room, "member", c.member)
}

// writePump drains the client's send channel onto the wire and keeps the
// connection alive with pings. It owns all writes to the connection.
func (s *Relay) writePump(c *Client) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				s.logger.Infow("write error", "conn_id", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
