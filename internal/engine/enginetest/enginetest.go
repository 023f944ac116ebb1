// Package enginetest provides an in-memory engine.Engine for tests.
//
// Each fake connection applies its operations on its own engine.Serial, so
// callbacks are asynchronous and ordered like a real engine's. Nothing
// touches the network: created descriptions are placeholder SDP and remote
// candidates are recorded, not used.
package enginetest

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/monkey1992/XyWebRTC/internal/engine"
	"github.com/pion/rtp"
)

var ErrNoRemoteOffer = errors.New("no remote offer applied")

// Engine is a fake engine.Engine.
type Engine struct {
	// Failure injection, read when a connection or stream is created.
	FailConnection error
	FailStream     error
	FailCreate     error
	FailSetLocal   error
	FailSetRemote  error

	mu      sync.Mutex
	conns   []*Connection
	streams []*Stream
}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) NewLocalStream(label string) (engine.LocalStream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailStream != nil {
		return nil, e.FailStream
	}
	s := &Stream{id: fmt.Sprintf("%s-%d", label, len(e.streams))}
	e.streams = append(e.streams, s)
	return s, nil
}

func (e *Engine) NewConnection(servers []engine.ICEServer, obs engine.Observer) (engine.Connection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailConnection != nil {
		return nil, e.FailConnection
	}
	c := &Connection{
		Servers:       servers,
		obs:           obs,
		serial:        engine.NewSerial(),
		failCreate:    e.FailCreate,
		failSetLocal:  e.FailSetLocal,
		failSetRemote: e.FailSetRemote,
	}
	e.conns = append(e.conns, c)
	return c, nil
}

// Connections returns every connection created so far, in creation order.
func (e *Engine) Connections() []*Connection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Connection(nil), e.conns...)
}

// Streams returns every local stream created so far.
func (e *Engine) Streams() []*Stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Stream(nil), e.streams...)
}

// Stream is a fake local stream.
type Stream struct {
	id     string
	closed atomic.Bool
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Stream) Closed() bool { return s.closed.Load() }

// Connection is a fake engine.Connection.
type Connection struct {
	Servers []engine.ICEServer

	obs    engine.Observer
	serial *engine.Serial

	failCreate    error
	failSetLocal  error
	failSetRemote error

	mu         sync.Mutex
	ops        []string
	local      *engine.SessionDescription
	remote     *engine.SessionDescription
	candidates []engine.ICECandidate
	streams    []engine.LocalStream
	created    int
	closed     bool
}

func (c *Connection) AddStream(s engine.LocalStream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return engine.ErrClosed
	}
	c.streams = append(c.streams, s)
	c.ops = append(c.ops, "add-stream")
	return nil
}

func (c *Connection) RemoveStream(s engine.LocalStream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, have := range c.streams {
		if have == s {
			c.streams = append(c.streams[:i], c.streams[i+1:]...)
			break
		}
	}
	c.ops = append(c.ops, "remove-stream")
	return nil
}

func (c *Connection) CreateOffer(_ engine.Constraints, obs engine.SDPObserver) {
	c.run(obs.OnCreateFailure, func() {
		c.record("create-offer")
		if c.failCreate != nil {
			obs.OnCreateFailure(c.failCreate)
			return
		}
		obs.OnCreateSuccess(c.describe(engine.SDPOffer))
	})
}

func (c *Connection) CreateAnswer(_ engine.Constraints, obs engine.SDPObserver) {
	c.run(obs.OnCreateFailure, func() {
		c.record("create-answer")
		if c.failCreate != nil {
			obs.OnCreateFailure(c.failCreate)
			return
		}
		c.mu.Lock()
		hasOffer := c.remote != nil && c.remote.Type == engine.SDPOffer
		c.mu.Unlock()
		if !hasOffer {
			obs.OnCreateFailure(ErrNoRemoteOffer)
			return
		}
		obs.OnCreateSuccess(c.describe(engine.SDPAnswer))
	})
}

func (c *Connection) SetLocalDescription(obs engine.SDPObserver, d engine.SessionDescription) {
	c.run(obs.OnSetFailure, func() {
		c.record("set-local:" + string(d.Type))
		if c.failSetLocal != nil {
			obs.OnSetFailure(c.failSetLocal)
			return
		}
		c.mu.Lock()
		c.local = &d
		c.mu.Unlock()
		obs.OnSetSuccess()
	})
}

func (c *Connection) SetRemoteDescription(obs engine.SDPObserver, d engine.SessionDescription) {
	c.run(obs.OnSetFailure, func() {
		c.record("set-remote:" + string(d.Type))
		if c.failSetRemote != nil {
			obs.OnSetFailure(c.failSetRemote)
			return
		}
		c.mu.Lock()
		c.remote = &d
		c.mu.Unlock()
		obs.OnSetSuccess()
	})
}

// AddICECandidate records the candidate whatever the description state.
func (c *Connection) AddICECandidate(cand engine.ICECandidate) error {
	ok := c.serial.Push(func() {
		c.mu.Lock()
		c.candidates = append(c.candidates, cand)
		c.ops = append(c.ops, "candidate")
		c.mu.Unlock()
	})
	if !ok {
		return engine.ErrClosed
	}
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.serial.Close()
	return nil
}

// EmitCandidate delivers a locally discovered candidate to the observer.
func (c *Connection) EmitCandidate(cand engine.ICECandidate) {
	c.serial.Push(func() { c.obs.OnICECandidate(cand) })
}

// EmitStream delivers a remote stream to the observer.
func (c *Connection) EmitStream(s *engine.MediaStream) {
	c.serial.Push(func() { c.obs.OnAddStream(s) })
}

// EmitICEState delivers an ICE connection state change to the observer.
func (c *Connection) EmitICEState(s engine.ICEConnectionState) {
	c.serial.Push(func() { c.obs.OnICEConnectionChange(s) })
}

// EmitPeerInfo delivers PeerInfo if the observer accepts it.
func (c *Connection) EmitPeerInfo(info engine.PeerInfo) {
	if po, ok := c.obs.(engine.PeerInfoObserver); ok {
		c.serial.Push(func() { po.OnPeerInfo(info) })
	}
}

// Sync waits until every operation queued before it has run. It returns
// false if the connection is closed.
func (c *Connection) Sync() bool {
	done := make(chan struct{})
	if !c.serial.Push(func() { close(done) }) {
		return false
	}
	<-done
	return true
}

func (c *Connection) Ops() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ops...)
}

func (c *Connection) LocalDescription() *engine.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Connection) RemoteDescription() *engine.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Connection) RemoteCandidates() []engine.ICECandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]engine.ICECandidate(nil), c.candidates...)
}

func (c *Connection) Streams() []engine.LocalStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]engine.LocalStream(nil), c.streams...)
}

func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) run(fail func(error), op func()) {
	if !c.serial.Push(op) {
		fail(engine.ErrClosed)
	}
}

func (c *Connection) record(op string) {
	c.mu.Lock()
	c.ops = append(c.ops, op)
	c.mu.Unlock()
}

func (c *Connection) describe(t engine.SDPType) engine.SessionDescription {
	c.mu.Lock()
	c.created++
	n := c.created
	c.mu.Unlock()
	return engine.SessionDescription{Type: t, SDP: fmt.Sprintf("v=0\r\no=- %d 1 IN IP4 0.0.0.0\r\ns=fake %s\r\n", n, t)}
}

// Track is a fake remote track fed from a packet slice.
type Track struct {
	id     string
	stream string
	kind   engine.TrackKind
	mime   string

	mu        sync.Mutex
	packets   []*rtp.Packet
	keyFrames int
}

// NewVideoTrack returns a VP8 track that yields packets then io.EOF.
func NewVideoTrack(id, stream string, packets ...*rtp.Packet) *Track {
	return &Track{id: id, stream: stream, kind: engine.KindVideo, mime: "video/VP8", packets: packets}
}

// NewAudioTrack returns an Opus track with no packets.
func NewAudioTrack(id, stream string) *Track {
	return &Track{id: id, stream: stream, kind: engine.KindAudio, mime: "audio/opus"}
}

func (t *Track) ID() string             { return t.id }
func (t *Track) StreamID() string       { return t.stream }
func (t *Track) Kind() engine.TrackKind { return t.kind }
func (t *Track) MimeType() string       { return t.mime }

func (t *Track) ReadRTP() (*rtp.Packet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.packets) == 0 {
		return nil, io.EOF
	}
	p := t.packets[0]
	t.packets = t.packets[1:]
	return p, nil
}

func (t *Track) RequestKeyFrame() error {
	t.mu.Lock()
	t.keyFrames++
	t.mu.Unlock()
	return nil
}

func (t *Track) KeyFrameRequests() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keyFrames
}
