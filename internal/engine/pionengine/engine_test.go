package pionengine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/monkey1992/XyWebRTC/internal/engine"
	"github.com/monkey1992/XyWebRTC/internal/source"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 15 * time.Second

// wireObserver forwards local candidates straight into the other connection
// and records what it sees.
type wireObserver struct {
	engine.LogObserver

	mu     sync.Mutex
	peer   engine.Connection
	held   []engine.ICECandidate
	events *[]string

	connected chan struct{}
	connOnce  sync.Once
	tracks    chan engine.RemoteTrack
	info      chan engine.PeerInfo
}

func newWireObserver(events *[]string) *wireObserver {
	return &wireObserver{
		LogObserver: engine.LogObserver{Log: zerolog.Nop()},
		events:      events,
		connected:   make(chan struct{}),
		tracks:      make(chan engine.RemoteTrack, 4),
		info:        make(chan engine.PeerInfo, 1),
	}
}

func (o *wireObserver) record(ev string) {
	if o.events == nil {
		return
	}
	o.mu.Lock()
	*o.events = append(*o.events, ev)
	o.mu.Unlock()
}

func (o *wireObserver) setPeer(c engine.Connection) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.peer = c
	for _, cand := range o.held {
		c.AddICECandidate(cand)
	}
	o.held = nil
}

func (o *wireObserver) OnICECandidate(c engine.ICECandidate) {
	o.record("candidate")
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.peer == nil {
		o.held = append(o.held, c)
		return
	}
	o.peer.AddICECandidate(c)
}

func (o *wireObserver) OnICEConnectionChange(s engine.ICEConnectionState) {
	if s == engine.ICEConnected || s == engine.ICECompleted {
		o.connOnce.Do(func() { close(o.connected) })
	}
}

func (o *wireObserver) OnAddStream(s *engine.MediaStream) {
	if v := s.FirstVideo(); v != nil {
		o.tracks <- v
	}
}

func (o *wireObserver) OnPeerInfo(info engine.PeerInfo) {
	o.info <- info
}

// sdpWaiter turns SDPObserver callbacks into channel receives.
type sdpWaiter struct {
	engine.LogSDPObserver
	obs     *wireObserver
	created chan engine.SessionDescription
	set     chan error
}

func newSDPWaiter(obs *wireObserver) *sdpWaiter {
	return &sdpWaiter{
		LogSDPObserver: engine.LogSDPObserver{Log: zerolog.Nop()},
		obs:            obs,
		created:        make(chan engine.SessionDescription, 1),
		set:            make(chan error, 1),
	}
}

func (w *sdpWaiter) OnCreateSuccess(d engine.SessionDescription) { w.created <- d }
func (w *sdpWaiter) OnCreateFailure(err error)                  { w.set <- err }
func (w *sdpWaiter) OnSetFailure(err error)                     { w.set <- err }

func (w *sdpWaiter) OnSetSuccess() {
	if w.obs != nil {
		w.obs.record("set")
	}
	w.set <- nil
}

func (w *sdpWaiter) description(t *testing.T) engine.SessionDescription {
	t.Helper()
	select {
	case d := <-w.created:
		return d
	case err := <-w.set:
		t.Fatalf("create failed: %v", err)
	case <-time.After(waitTimeout):
		t.Fatal("timed out creating description")
	}
	return engine.SessionDescription{}
}

func (w *sdpWaiter) applied(t *testing.T) {
	t.Helper()
	select {
	case err := <-w.set:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("timed out applying description")
	}
}

func newTestEngine(t *testing.T, video *source.Fanout, name string) *Engine {
	t.Helper()
	e, err := New(Options{
		Logger:   zerolog.Nop(),
		Video:    video,
		Hello:    &engine.PeerInfo{Name: name, Version: "test", Platform: "go"},
		Loopback: true,
	})
	require.NoError(t, err)
	return e
}

func TestNegotiateLoopback(t *testing.T) {
	video := source.NewFanout()
	ea := newTestEngine(t, video, "alice")
	eb := newTestEngine(t, nil, "bob")

	var aEvents []string
	oa := newWireObserver(&aEvents)
	ob := newWireObserver(nil)

	a, err := ea.NewConnection(nil, oa)
	require.NoError(t, err)
	defer a.Close()
	b, err := eb.NewConnection(nil, ob)
	require.NoError(t, err)
	defer b.Close()

	sa, err := ea.NewLocalStream("alice")
	require.NoError(t, err)
	defer sa.Close()
	require.NoError(t, a.AddStream(sa))
	assert.Equal(t, 1, video.Len())

	oa.setPeer(b)
	ob.setPeer(a)

	wa := newSDPWaiter(oa)
	a.CreateOffer(engine.DefaultConstraints(), wa)
	offer := wa.description(t)
	assert.Equal(t, engine.SDPOffer, offer.Type)
	a.SetLocalDescription(wa, offer)
	wa.applied(t)

	wb := newSDPWaiter(nil)
	b.SetRemoteDescription(wb, offer)
	wb.applied(t)
	b.CreateAnswer(engine.DefaultConstraints(), wb)
	answer := wb.description(t)
	assert.Equal(t, engine.SDPAnswer, answer.Type)
	b.SetLocalDescription(wb, answer)
	wb.applied(t)

	a.SetRemoteDescription(wa, answer)
	wa.applied(t)

	for _, ch := range []chan struct{}{oa.connected, ob.connected} {
		select {
		case <-ch:
		case <-time.After(waitTimeout):
			t.Fatal("ICE did not connect")
		}
	}

	select {
	case info := <-ob.info:
		assert.Equal(t, "alice", info.Name)
	case <-time.After(waitTimeout):
		t.Fatal("no hello from alice")
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				video.WriteSample(media.Sample{Data: []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}, Duration: 20 * time.Millisecond})
			}
		}
	}()

	select {
	case track := <-ob.tracks:
		assert.Equal(t, engine.KindVideo, track.Kind())
		assert.Equal(t, webrtc.MimeTypeVP8, track.MimeType())
		pkt, err := track.ReadRTP()
		require.NoError(t, err)
		assert.NotEmpty(t, pkt.Payload)
		assert.NoError(t, track.RequestKeyFrame())
	case <-time.After(waitTimeout):
		t.Fatal("no remote video track")
	}

	oa.mu.Lock()
	defer oa.mu.Unlock()
	require.NotEmpty(t, aEvents)
	assert.Equal(t, "set", aEvents[0], "local description reported before any candidate")
}

func TestEarlyRemoteCandidateIsHeld(t *testing.T) {
	e := newTestEngine(t, nil, "x")
	c, err := e.NewConnection(nil, newWireObserver(nil))
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.AddICECandidate(engine.ICECandidate{
		SDPMid:    "0",
		Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host",
	}))
}

func TestCandidateIndexOutOfRange(t *testing.T) {
	e := newTestEngine(t, nil, "x")
	c, err := e.NewConnection(nil, newWireObserver(nil))
	require.NoError(t, err)
	defer c.Close()

	for _, idx := range []int{-1, 65536, 1 << 20} {
		err := c.AddICECandidate(engine.ICECandidate{
			SDPMid:        "0",
			SDPMLineIndex: idx,
			Candidate:     "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host",
		})
		assert.ErrorIs(t, err, engine.ErrInvalidCandidate, "index %d", idx)
	}
	assert.NoError(t, c.AddICECandidate(engine.ICECandidate{SDPMid: "0", SDPMLineIndex: 65535}))
}

func TestClosedConnection(t *testing.T) {
	e := newTestEngine(t, nil, "x")
	c, err := e.NewConnection(nil, newWireObserver(nil))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())

	assert.ErrorIs(t, c.AddICECandidate(engine.ICECandidate{}), engine.ErrClosed)

	w := newSDPWaiter(nil)
	c.CreateOffer(engine.DefaultConstraints(), w)
	select {
	case err := <-w.set:
		assert.True(t, errors.Is(err, engine.ErrClosed))
	case <-time.After(waitTimeout):
		t.Fatal("no failure reported")
	}
}

func TestLocalStreamRelease(t *testing.T) {
	video := source.NewFanout()
	e := newTestEngine(t, video, "x")

	s, err := e.NewLocalStream("me")
	require.NoError(t, err)
	assert.Equal(t, 1, video.Len())
	assert.Contains(t, s.ID(), "me-")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 0, video.Len())
}

func TestTunnelName(t *testing.T) {
	assert.True(t, tunnelName("utun3"))
	assert.True(t, tunnelName("wg0"))
	assert.False(t, tunnelName("eth0"))
}
