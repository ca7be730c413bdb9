package signaling

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/BioHazard786/tandem/internal/metrics"
	"github.com/BioHazard786/tandem/internal/protocol"
)

// Client is a wrapper for a single websocket connection (a peer).
type Client struct {
	// ID identifies the connection in logs. It is not the peer id.
	ID string

	hub   *Hub
	conn  *websocket.Conn
	codec protocol.Codec
	log   zerolog.Logger

	mu sync.Mutex

	// send is a buffered channel for all outbound messages. The hub writes
	// to it without blocking and WritePump drains it to the websocket.
	send   chan *protocol.Message
	closed bool

	// room and member describe the client's current membership, if any.
	room   *Room
	member *Member
}

// NewClient wraps conn. The codec is fixed for the connection's lifetime.
func NewClient(hub *Hub, conn *websocket.Conn, codec protocol.Codec) *Client {
	id := uuid.NewString()
	return &Client{
		ID:    id,
		hub:   hub,
		conn:  conn,
		codec: codec,
		log:   hub.log.With().Str("conn_id", id).Str("codec", codec.Name()).Logger(),
		send:  make(chan *protocol.Message, hub.opts.SendQueueSize),
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	// Closing the connection runs the same cleanup as an explicit leave.
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	pongWait := c.hub.opts.PongWait
	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("Unexpected close error")
			}
			return
		}

		msg, err := c.codec.Decode(data)
		if err == nil {
			err = msg.Validate()
		}
		if err != nil {
			c.hub.metrics.Inc(metrics.ProtocolErrors)
			c.log.Warn().Err(err).Msg("Dropping invalid message")
			continue
		}

		c.hub.Handle(c, msg)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	writeWait := c.hub.opts.WriteWait
	ticker := time.NewTicker(c.hub.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	frame := websocket.TextMessage
	if c.codec.Binary() {
		frame = websocket.BinaryMessage
	}

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := c.codec.Encode(message)
			if err != nil {
				c.log.Error().Err(err).Str("type", string(message.Type)).Msg("Failed to encode message")
				continue
			}
			if err := c.conn.WriteMessage(frame, data); err != nil {
				c.log.Debug().Err(err).Msg("Write failed")
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

// deliver queues m for the connection without blocking. It reports whether
// the message was queued; a full or closed queue drops it.
func (c *Client) deliver(m *protocol.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- m:
		return true
	default:
		c.hub.metrics.Inc(metrics.DroppedSendQueue)
		c.log.Warn().Str("type", string(m.Type)).Msg("Send queue full, dropping message")
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) membership() (*Room, *Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.member
}

func (c *Client) setMembership(r *Room, m *Member) {
	c.mu.Lock()
	c.room, c.member = r, m
	c.mu.Unlock()
}

// clearMembership forgets r, unless the client has since moved elsewhere.
func (c *Client) clearMembership(r *Room) {
	c.mu.Lock()
	if c.room == r {
		c.room, c.member = nil, nil
	}
	c.mu.Unlock()
}
