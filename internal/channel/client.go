package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/BioHazard786/tandem/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	queueSize      = 64
)

// ErrClosed is returned by Send after the connection is gone.
var ErrClosed = errors.New("channel closed")

// Client manages the WebSocket connection to the relay.
type Client struct {
	conn     *websocket.Conn
	codec    protocol.Codec
	log      zerolog.Logger
	incoming chan *protocol.Message
	outgoing chan *protocol.Message

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to rawURL, which should already carry the ?codec= query
// matching codec. The relay's host is resolved through resolver, or the
// default Resolver when nil.
func Dial(ctx context.Context, rawURL string, codec protocol.Codec, resolver *Resolver) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if resolver == nil {
		resolver = &Resolver{}
	}

	dialer := websocket.Dialer{
		NetDialContext:   resolver.DialContext,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:     conn,
		codec:    codec,
		log:      log.With().Str("component", "channel").Str("server", u.Host).Logger(),
		incoming: make(chan *protocol.Message, queueSize),
		outgoing: make(chan *protocol.Message, queueSize),
		done:     make(chan struct{}),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

// readPump reads messages from the WebSocket connection. Incoming is closed
// when it returns.
func (c *Client) readPump() {
	defer func() {
		c.shutdown()
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Debug().Err(err).Msg("Connection lost")
			}
			return
		}

		msg, err := c.codec.Decode(data)
		if err == nil {
			err = msg.Validate()
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("Dropping invalid message from server")
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
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
		case message := <-c.outgoing:
			data, err := c.codec.Encode(message)
			if err != nil {
				c.log.Error().Err(err).Str("type", string(message.Type)).Msg("Failed to encode message")
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(frame, data); err != nil {
				c.shutdown()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}

		case <-c.done:
			c.flush(frame)
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever was queued before Close, so a final leave reaches
// the server.
func (c *Client) flush(frame int) {
	for {
		select {
		case message := <-c.outgoing:
			data, err := c.codec.Encode(message)
			if err != nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(frame, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues msg for the server. It never blocks once the connection is
// gone.
func (c *Client) Send(msg *protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Incoming returns the channel for receiving messages. It is closed when the
// connection ends for any reason.
func (c *Client) Incoming() <-chan *protocol.Message {
	return c.incoming
}

// Done is closed once the connection is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the WebSocket connection and cleans up resources. It is safe
// to call more than once.
func (c *Client) Close() error {
	c.shutdown()
	return nil
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}
