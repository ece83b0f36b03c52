// Package websocket connects dashboard clients to the detection stream.
package websocket

import (
	"errors"
	"sync"
	"time"

	"SpectraIDS/internal/logging"
	"SpectraIDS/internal/model"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ErrClosed is returned by Send once the connection is gone.
var ErrClosed = errors.New("websocket: client closed")

// Registry is the membership a client joins for its lifetime.
type Registry interface {
	Register(sub model.Subscriber)
	Unregister(sub model.Subscriber)
}

// echoMessage is the reply to any inbound text frame.
type echoMessage struct {
	Echo string `json:"echo"`
}

// Client adapts one websocket connection to a Subscriber. Writes from Send,
// the echo reply and the keepalive ping are serialized on writeMu.
type Client struct {
	conn     *websocket.Conn
	registry Registry

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
	log     zerolog.Logger
}

// NewClient wraps conn. Call Start to join the registry.
func NewClient(registry Registry, conn *websocket.Conn) *Client {
	return &Client{
		conn:     conn,
		registry: registry,
		done:     make(chan struct{}),
		log:      logging.Component("websocket").With().Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

// Start registers the client and begins reading and pinging.
func (c *Client) Start() {
	c.registry.Register(c)
	go c.pingPump()
	go c.readPump()
}

// Done is closed when the connection has been torn down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Send writes one event to the peer.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	return c.write(websocket.TextMessage, payload)
}

func (c *Client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// Close unregisters the client and closes the connection.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.registry.Unregister(c)
		_ = c.conn.Close() // best-effort
		c.log.Debug().Msg("websocket client closed")
	})
}

// readPump echoes inbound text and tears the client down on any read error.
func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("unexpected websocket close error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		reply, err := json.Marshal(echoMessage{Echo: string(data)})
		if err != nil {
			continue
		}
		if err := c.write(websocket.TextMessage, reply); err != nil {
			c.log.Debug().Err(err).Msg("failed to write echo")
			return
		}
	}
}

func (c *Client) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
