package rendezvous

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/monkey1992/XyWebRTC/internal/logging"
	"github.com/monkey1992/XyWebRTC/internal/signaling"
	"github.com/rs/zerolog"
)

const maxPlainNameAttempts = 16

// Hub owns every room and client. All state is mutated by the single Run
// goroutine; the pumps talk to it over channels.
type Hub struct {
	// Register admits a freshly upgraded connection.
	Register chan *Client
	// Unregister is sent by a client's read pump when its connection ends.
	// Clients already evicted are ignored.
	Unregister chan *Client
	// Inbound carries every frame read from any client.
	Inbound chan inbound

	// Capacity is the maximum number of peers per room. Zero means unbounded.
	Capacity int

	rooms   map[string]*Room
	clients map[*Client]struct{}
	slow    []*Client
	queries chan func()
	done    chan struct{}
	log     zerolog.Logger
	metrics *metrics
}

// NewHub creates a hub admitting at most capacity peers per room.
func NewHub(capacity int, log zerolog.Logger) *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan inbound),
		Capacity:   capacity,
		rooms:      make(map[string]*Room),
		clients:    make(map[*Client]struct{}),
		queries:    make(chan func()),
		done:       make(chan struct{}),
		log:        logging.Module(log, "rendezvous"),
		metrics:    newMetrics(),
	}
}

// NewClient allocates a client with a fresh PeerID.
func (h *Hub) NewClient(conn *websocket.Conn) *Client {
	id := signaling.PeerID(uuid.NewString())
	return &Client{
		Hub:  h,
		Conn: conn,
		ID:   id,
		Send: make(chan *signaling.Frame, sendBuffer),
		log:  h.log.With().Str("peer", string(id)).Logger(),
	}
}

// Run processes hub events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.Send)
			}
			h.clients = map[*Client]struct{}{}
			h.rooms = map[string]*Room{}
			h.metrics.rooms.Set(0)
			h.metrics.peers.Set(0)
			return

		case c := <-h.Register:
			h.clients[c] = struct{}{}
			c.log.Debug().Str("remote", c.Conn.RemoteAddr().String()).Msg("client registered")

		case c := <-h.Unregister:
			if _, ok := h.clients[c]; !ok {
				continue
			}
			h.remove(c)
			c.log.Debug().Msg("client unregistered")
			h.evictSlow()

		case in := <-h.Inbound:
			h.handle(in.client, in.frame)
			h.evictSlow()

		case q := <-h.queries:
			q()
		}
	}
}

// remove drops c from the hub and its room and closes its send channel.
func (h *Hub) remove(c *Client) {
	delete(h.clients, c)
	h.leave(c)
	close(c.Send)
}

// evictSlow disconnects every client whose send buffer overflowed. Telling
// the room may overflow further clients, so it runs until none are left.
func (h *Hub) evictSlow() {
	for len(h.slow) > 0 {
		c := h.slow[0]
		h.slow = h.slow[1:]
		if _, ok := h.clients[c]; !ok {
			continue
		}
		c.log.Warn().Str("room", c.Room).Msg("client too slow, disconnecting")
		h.remove(c)
		h.metrics.evicted.Inc()
	}
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Rooms returns a snapshot of the current rooms.
func (h *Hub) Rooms() []RoomInfo {
	result := make(chan []RoomInfo, 1)
	q := func() {
		out := make([]RoomInfo, 0, len(h.rooms))
		for _, r := range h.rooms {
			out = append(out, r.info())
		}
		result <- out
	}
	select {
	case h.queries <- q:
		return <-result
	case <-h.done:
		return nil
	}
}

func (h *Hub) handle(c *Client, f *signaling.Frame) {
	switch f.Event {
	case signaling.EventCreateOrJoin:
		var name string
		if err := f.Decode(&name); err != nil {
			c.log.Warn().Err(err).Msg("bad create or join payload")
			return
		}
		h.createOrJoin(c, name)

	case signaling.EventMessage:
		var env signaling.Envelope
		if err := f.Decode(&env); err != nil {
			c.log.Warn().Err(err).Msg("bad message payload")
			return
		}
		h.relay(c, env)

	case signaling.EventBye:
		h.leave(c)

	default:
		c.log.Debug().Str("event", f.Event).Msg("unknown event")
	}
}

func (h *Hub) createOrJoin(c *Client, name string) {
	if c.Room != "" {
		c.emit(signaling.EventLog, []string{"Already in room", c.Room})
		return
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = h.generateRoomName()
	}
	c.emit(signaling.EventLog, []string{"Received request to create or join room", name})

	room, ok := h.rooms[name]
	if !ok {
		room = newRoom(name)
		h.rooms[name] = room
		room.add(c)
		h.metrics.rooms.Inc()
		h.metrics.peers.Inc()
		c.emit(signaling.EventCreated, signaling.Membership{Room: name, ID: c.ID})
		h.log.Info().Str("room", name).Str("peer", string(c.ID)).Msg("room created")
		return
	}

	if h.Capacity > 0 && room.size() >= h.Capacity {
		c.emit(signaling.EventFull, name)
		h.metrics.rejected.Inc()
		h.log.Info().Str("room", name).Int("peers", room.size()).Msg("room full, join rejected")
		return
	}

	c.emit(signaling.EventLog, []string{fmt.Sprintf("Room %s now has %d client(s)", name, room.size()+1)})
	for _, other := range room.others(c.ID) {
		other.emit(signaling.EventJoin, c.ID)
	}
	room.add(c)
	h.metrics.peers.Inc()
	c.emit(signaling.EventJoined, signaling.Membership{Room: name, ID: c.ID})
	h.log.Info().Str("room", name).Str("peer", string(c.ID)).Int("peers", room.size()).Msg("peer joined")
}

// relay forwards a negotiation message inside the sender's room. The sender
// is stamped by the hub; an empty To reaches every other member.
func (h *Hub) relay(c *Client, env signaling.Envelope) {
	room, ok := h.rooms[c.Room]
	if !ok {
		c.emit(signaling.EventLog, []string{"Join a room before sending messages"})
		return
	}

	env.From = c.ID
	h.metrics.relayed.WithLabelValues(relayedType(env.Type)).Inc()
	if env.To == "" {
		for _, other := range room.others(c.ID) {
			other.emit(signaling.EventMessage, env)
		}
		return
	}

	target, ok := room.members[env.To]
	if !ok || target == c {
		c.log.Debug().Str("to", string(env.To)).Str("type", env.Type).Msg("relay target not in room")
		return
	}
	target.emit(signaling.EventMessage, env)
}

// leave removes c from its room and tells the remaining members.
func (h *Hub) leave(c *Client) {
	room, ok := h.rooms[c.Room]
	if !ok {
		return
	}
	room.remove(c)
	h.metrics.peers.Dec()
	for _, other := range room.others(c.ID) {
		other.emit(signaling.EventBye, c.ID)
	}
	if room.size() == 0 {
		delete(h.rooms, room.Name)
		h.metrics.rooms.Dec()
		h.log.Info().Str("room", room.Name).Msg("room deleted")
	}
}

// generateRoomName draws one word per group, retrying until the name is
// unused. A numeric suffix is added once plain names keep colliding.
func (h *Hub) generateRoomName() string {
	for attempt := 0; ; attempt++ {
		words := make([]string, 0, len(roomWords)+1)
		for _, group := range roomWords {
			words = append(words, group[randomIndex(len(group))])
		}
		if attempt >= maxPlainNameAttempts {
			words = append(words, fmt.Sprint(randomIndex(1000)))
		}

		name := strings.Join(words, "-")
		if _, ok := h.rooms[name]; !ok {
			return name
		}
	}
}

func randomIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return int(v.Int64())
}
