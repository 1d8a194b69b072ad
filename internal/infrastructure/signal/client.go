package signal

import (
	"context"
	"errors"
	"sync"
	"time"

	"pointlink/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	clientWriteWait      = 10 * time.Second
	clientPongWait       = 60 * time.Second
	clientPingPeriod     = (clientPongWait * 9) / 10
	clientMaxMessageSize = 64 * 1024
)

var ErrClientClosed = errors.New("signaling connection closed")

// RelayClient is the participant side of the signaling connection. It joins
// one room under one member id and exposes everything the relay delivers as
// a stream of envelopes. It implements ports.Signaler for peer sessions.
type RelayClient struct {
	conn   *websocket.Conn
	room   domain.RoomID
	member domain.MemberID

	incoming chan domain.Envelope
	outgoing chan domain.Envelope
	done     chan struct{}
	once     sync.Once

	logger *zap.SugaredLogger
}

// DialRelay connects to the relay, joins the room and starts the read and
// write pumps. The returned client must be closed by the caller.
func DialRelay(ctx context.Context, url string, room domain.RoomID, member domain.MemberID, log *zap.Logger) (*RelayClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &RelayClient{
		conn:     conn,
		room:     room,
		member:   member,
		incoming: make(chan domain.Envelope, 16),
		outgoing: make(chan domain.Envelope, 16),
		done:     make(chan struct{}),
		logger:   log.Sugar(),
	}

	conn.SetReadLimit(clientMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(clientPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(clientPongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	if err := c.send(domain.Envelope{Type: domain.KindJoin, Room: room, From: member}); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Events delivers every envelope the relay sends, in arrival order. The
// channel closes when the connection drops.
func (c *RelayClient) Events() <-chan domain.Envelope {
	return c.incoming
}

// Send forwards a handshake message to one counterparty through the relay.
func (c *RelayClient) Send(kind domain.SignalKind, target domain.MemberID, payload []byte) error {
	return c.send(domain.Envelope{
		Type:    kind,
		Room:    c.room,
		From:    c.member,
		Target:  target,
		Payload: payload,
	})
}

func (c *RelayClient) send(env domain.Envelope) error {
	// Check done on its own first: once the client closes nobody drains
	// outgoing, and a two-way select against its free buffer would pick a
	// winner at random and report success for a dead connection.
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case <-c.done:
		return ErrClientClosed
	case c.outgoing <- env:
		return nil
	}
}

func (c *RelayClient) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.conn.Close()
}

func (c *RelayClient) readPump() {
	defer func() {
		c.Close()
		close(c.incoming)
	}()

	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Infow("relay connection lost", "member", c.member, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(clientPongWait))

		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *RelayClient) writePump() {
	ticker := time.NewTicker(clientPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Infow("relay write failed", "member", c.member, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
