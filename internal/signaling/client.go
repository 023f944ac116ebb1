package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/monkey1992/XyWebRTC/internal/dns"
	"github.com/monkey1992/XyWebRTC/internal/logging"
	"github.com/rs/zerolog"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 64 * 1024
	handshakeTimeout = 10 * time.Second
	sendBuffer       = 64
)

var (
	ErrClosed        = errors.New("signaling channel closed")
	ErrNotJoined     = errors.New("not joined to a room")
	ErrAlreadyJoined = errors.New("already joined to a room")
)

// Options configures a Client.
type Options struct {
	// URL of the rendezvous websocket endpoint (ws:// or wss://).
	URL string

	// Insecure disables server certificate validation. Intended for local
	// signaling servers with self-signed certificates only.
	Insecure bool

	// CAFile is an optional PEM bundle trusted instead of the system roots.
	CAFile string

	// Resolver used to dial the server. Nil uses dns.NewResolver().
	Resolver *dns.Resolver

	Logger zerolog.Logger
}

// link is one websocket connection with its pumps. A dropped link is never
// reused; Join dials a new one.
type link struct {
	conn       *websocket.Conn
	outgoing   chan *Frame
	done       chan struct{}
	writerDone chan struct{}
}

func newLink(conn *websocket.Conn) *link {
	return &link{
		conn:       conn,
		outgoing:   make(chan *Frame, sendBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (l *link) dropped() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Client is the signaling channel of one room membership. It owns a single
// websocket connection at a time; every inbound event is dispatched to the
// Callback from the read goroutine in arrival order.
type Client struct {
	opts Options
	cb   Callback
	log  zerolog.Logger

	mu     sync.RWMutex
	link   *link
	room   string
	self   PeerID
	closed bool

	quit      chan struct{}
	leaveOnce sync.Once
}

// NewClient creates a signaling client dispatching to cb. Nothing is dialed
// until Join.
func NewClient(opts Options, cb Callback) *Client {
	if opts.Resolver == nil {
		opts.Resolver = dns.NewResolver()
	}
	return &Client{
		opts: opts,
		cb:   cb,
		log:  logging.Module(opts.Logger, "signaling"),
		quit: make(chan struct{}),
	}
}

// Join connects to the rendezvous server and asks to create or join room.
// The outcome arrives asynchronously as OnCreated, OnJoined or OnFull.
// A dial failure leaves the client unconnected and a dropped connection
// leaves it unusable; in both cases Join may be called again.
func (c *Client) Join(ctx context.Context, room string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.link != nil && !c.link.dropped() {
		return ErrAlreadyJoined
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	l := newLink(conn)
	c.link = l
	c.room = room
	c.self = ""

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump(l)
	go c.writePump(l)

	f, err := NewFrame(EventCreateOrJoin, room)
	if err != nil {
		return err
	}
	l.outgoing <- f

	c.log.Info().Str("room", room).Str("server", c.opts.URL).Msg("joining room")
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	tlsConfig, err := TLSConfig(c.opts.Insecure, c.opts.CAFile)
	if err != nil {
		return nil, err
	}
	if c.opts.Insecure && u.Scheme == "wss" {
		c.log.Warn().Str("server", u.Host).Msg("certificate validation disabled for signaling server")
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		NetDialContext:   c.opts.Resolver.DialContext,
		TLSClientConfig:  tlsConfig,
		HandshakeTimeout: handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

// Send transmits a negotiation envelope stamped with our own PeerID.
// Delivery is fire-and-forget. Once the connection is gone Send returns
// ErrClosed until the next successful Join.
func (c *Client) Send(env Envelope) error {
	c.mu.RLock()
	closed, l, self := c.closed, c.link, c.self
	c.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if l == nil {
		return ErrNotJoined
	}
	if l.dropped() {
		return ErrClosed
	}
	if self == "" {
		return ErrNotJoined
	}

	env.From = self
	f, err := NewFrame(EventMessage, env)
	if err != nil {
		return err
	}

	select {
	case l.outgoing <- f:
		return nil
	case <-c.quit:
		return ErrClosed
	case <-l.done:
		return ErrClosed
	}
}

// Leave announces departure and closes the connection. Only the first call
// has an effect; sends after Leave return ErrClosed.
func (c *Client) Leave() error {
	var err error
	c.leaveOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		l := c.link
		c.mu.Unlock()

		close(c.quit)
		if l == nil {
			return
		}

		select {
		case <-l.writerDone:
		case <-time.After(writeWait):
		}

		if cerr := l.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		c.log.Info().Str("room", c.Room()).Msg("left room")
	})
	return err
}

// Done is closed once the current connection to the server is gone, either
// after Leave or because the server dropped us. Before the first Join it
// returns nil. A later Join starts a new connection with its own channel.
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.link == nil {
		return nil
	}
	return c.link.done
}

// Self returns our PeerID, empty until the server confirmed the join.
func (c *Client) Self() PeerID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

// Room returns the room passed to Join.
func (c *Client) Room() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

// readPump reads frames from the connection and dispatches them in order.
func (c *Client) readPump(l *link) {
	defer func() {
		l.conn.Close()
		close(l.done)
	}()

	l.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var f Frame
		if err := l.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.isClosed() {
				c.log.Error().Err(err).Msg("signaling connection lost")
			}
			return
		}
		c.dispatch(&f)
	}
}

// writePump writes frames to the connection and sends periodic pings.
func (c *Client) writePump(l *link) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		close(l.writerDone)
	}()

	for {
		select {
		case f := <-l.outgoing:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteJSON(f); err != nil {
				c.log.Error().Err(err).Str("event", f.Event).Msg("write failed")
				return
			}

		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.quit:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if self := c.Self(); self != "" {
				if bye, err := NewFrame(EventBye, self); err == nil {
					l.conn.WriteJSON(bye)
				}
			}
			l.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
			return

		case <-l.done:
			return
		}
	}
}

func (c *Client) dispatch(f *Frame) {
	switch f.Event {
	case EventCreated, EventJoined:
		var m Membership
		if err := f.Decode(&m); err != nil {
			c.log.Warn().Err(err).Str("event", f.Event).Msg("bad membership payload")
			return
		}
		c.mu.Lock()
		c.self = m.ID
		c.mu.Unlock()

		if f.Event == EventCreated {
			c.cb.OnCreated(m.Room, m.ID)
		} else {
			c.cb.OnJoined(m.Room, m.ID)
		}

	case EventFull:
		var room string
		_ = f.Decode(&room)
		c.cb.OnFull(room)

	case EventJoin:
		var peer PeerID
		if err := f.Decode(&peer); err != nil || peer == "" {
			c.log.Warn().Err(err).Msg("bad join payload")
			return
		}
		c.cb.OnPeerJoined(peer)

	case EventBye:
		var peer PeerID
		if err := f.Decode(&peer); err != nil || peer == "" {
			c.log.Warn().Err(err).Msg("bad bye payload")
			return
		}
		c.cb.OnPeerLeft(peer, "bye")

	case EventLog:
		var lines []string
		_ = f.Decode(&lines)
		c.cb.OnLog(lines)

	case EventMessage:
		var env Envelope
		if err := f.Decode(&env); err != nil {
			c.log.Warn().Err(err).Msg("bad message payload")
			return
		}
		c.dispatchEnvelope(&env)

	default:
		c.log.Debug().Str("event", f.Event).Msg("unknown event")
	}
}

func (c *Client) dispatchEnvelope(env *Envelope) {
	if self := c.Self(); env.To != "" && env.To != self {
		c.log.Debug().Str("to", string(env.To)).Msg("message for another peer")
		return
	}

	switch env.Type {
	case TypeOffer:
		c.cb.OnOffer(env)
	case TypeAnswer:
		c.cb.OnAnswer(env)
	case TypeCandidate:
		c.cb.OnCandidate(env)
	default:
		c.log.Debug().Str("type", env.Type).Str("from", string(env.From)).Msg("ignoring message type")
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
