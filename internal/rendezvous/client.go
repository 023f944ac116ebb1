package rendezvous

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/monkey1992/XyWebRTC/internal/signaling"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Enough for SDP with a full set of codecs.
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// Client is one websocket connection held by the hub.
type Client struct {
	Hub  *Hub
	Conn *websocket.Conn

	// ID is assigned on connect and never changes.
	ID signaling.PeerID

	// Room is owned by the hub goroutine; empty when not in a room.
	Room string

	// Send is drained by WritePump. Only the hub closes it.
	Send chan *signaling.Frame

	// slow is set by the hub when Send overflowed.
	slow bool

	log zerolog.Logger
}

// inbound is a frame tagged with the client that sent it.
type inbound struct {
	client *Client
	frame  *signaling.Frame
}

// ReadPump pumps frames from the websocket connection to the hub.
// At most one reader runs per connection.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f signaling.Frame
		if err := c.Conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		select {
		case c.Hub.Inbound <- inbound{client: c, frame: &f}:
		case <-c.Hub.done:
			return
		}
	}
}

// WritePump pumps frames from the hub to the websocket connection.
// At most one writer runs per connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(f); err != nil {
				c.log.Debug().Err(err).Str("event", f.Event).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// emit queues a frame without blocking the hub. A client that cannot keep
// up is marked slow and disconnected by the hub once the current event is
// handled; it receives nothing further. Only called from the hub goroutine.
func (c *Client) emit(event string, v any) {
	if c.slow {
		return
	}
	f, err := signaling.NewFrame(event, v)
	if err != nil {
		c.log.Error().Err(err).Str("event", event).Msg("encode failed")
		return
	}
	select {
	case c.Send <- f:
	default:
		c.slow = true
		c.Hub.slow = append(c.Hub.slow, c)
		c.log.Warn().Str("event", event).Msg("send buffer full")
	}
}
