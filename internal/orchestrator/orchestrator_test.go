package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/monkey1992/XyWebRTC/internal/engine"
	"github.com/monkey1992/XyWebRTC/internal/engine/enginetest"
	"github.com/monkey1992/XyWebRTC/internal/render"
	"github.com/monkey1992/XyWebRTC/internal/signaling"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// outbox records every envelope the orchestrator sends.
type outbox struct {
	mu   sync.Mutex
	sent []signaling.Envelope
}

func (b *outbox) Send(env signaling.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, env)
	return nil
}

func (b *outbox) ofType(typ string) []signaling.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []signaling.Envelope
	for _, env := range b.sent {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func (b *outbox) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

func newTestOrchestrator(t *testing.T, eng *enginetest.Engine) (*Orchestrator, *outbox) {
	t.Helper()
	box := &outbox{}
	o, err := New(Options{Engine: eng, Signaling: box, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o, box
}

func onlyConn(t *testing.T, eng *enginetest.Engine) *enginetest.Connection {
	t.Helper()
	conns := eng.Connections()
	require.Len(t, conns, 1)
	return conns[0]
}

func stateOf(o *Orchestrator, peer signaling.PeerID) State {
	rec, ok := o.registry.Get(peer)
	if !ok {
		return -1
	}
	return rec.State()
}

func TestNewRequiresEngineAndSender(t *testing.T) {
	_, err := New(Options{Signaling: &outbox{}})
	assert.Error(t, err)
	_, err = New(Options{Engine: enginetest.New()})
	assert.Error(t, err)
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{Unbound, OfferSent, true},
		{Unbound, OfferReceived, true},
		{Unbound, Stable, false},
		{OfferSent, AnswerReceived, true},
		{OfferSent, OfferReceived, false},
		{AnswerReceived, Stable, true},
		{OfferReceived, AnswerSent, true},
		{OfferReceived, AnswerReceived, false},
		{AnswerSent, Stable, true},
		{Stable, OfferSent, true},
		{Stable, OfferReceived, true},
		{Stable, Leaving, true},
		{OfferSent, Leaving, true},
		{Leaving, Unbound, false},
		{Leaving, Leaving, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, canTransition(tt.from, tt.to))
		})
	}
	assert.Equal(t, "unknown", State(42).String())
}

func TestGetOrCreateConcurrent(t *testing.T) {
	r := NewRegistry()
	var calls atomic.Int32

	const n = 64
	recs := make([]*Record, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, _, err := r.GetOrCreate("peer", func() (*Record, error) {
				calls.Add(1)
				return newRecord("peer", nil, nil), nil
			})
			assert.NoError(t, err)
			recs[i] = rec
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, r.Len())
	for _, rec := range recs {
		assert.Same(t, recs[0], rec)
	}
}

func TestGetOrCreateFailureLeavesRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	_, created, err := r.GetOrCreate("peer", func() (*Record, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, created)
	assert.Equal(t, 0, r.Len())
}

func TestCallerSendsExactlyOneOffer(t *testing.T) {
	eng := enginetest.New()
	o, box := newTestOrchestrator(t, eng)

	o.OnPeerJoined("bob")
	require.Eventually(t, func() bool { return len(box.ofType(signaling.TypeOffer)) == 1 }, waitFor, tick)

	o.OnPeerJoined("bob")
	conn := onlyConn(t, eng)
	conn.Sync()

	offers := box.ofType(signaling.TypeOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, signaling.PeerID("bob"), offers[0].To)
	assert.Equal(t, conn.LocalDescription().SDP, offers[0].SDP)
	assert.Empty(t, box.ofType(signaling.TypeAnswer))
	assert.Equal(t, OfferSent, stateOf(o, "bob"))
	assert.Equal(t, []string{"add-stream", "create-offer", "set-local:offer"}, conn.Ops())
	assert.Len(t, conn.Streams(), 1)
}

func TestAnswerAppliedToSameRecord(t *testing.T) {
	eng := enginetest.New()
	o, box := newTestOrchestrator(t, eng)

	o.OnPeerJoined("bob")
	require.Eventually(t, func() bool { return len(box.ofType(signaling.TypeOffer)) == 1 }, waitFor, tick)
	before, _ := o.registry.Get("bob")

	o.OnAnswer(&signaling.Envelope{Type: signaling.TypeAnswer, SDP: "v=0 answer", From: "bob"})
	require.Eventually(t, func() bool { return stateOf(o, "bob") == Stable }, waitFor, tick)

	after, _ := o.registry.Get("bob")
	assert.Same(t, before, after)
	conn := onlyConn(t, eng)
	require.NotNil(t, conn.RemoteDescription())
	assert.Equal(t, "v=0 answer", conn.RemoteDescription().SDP)

	// A second answer does not fit a stable record.
	o.OnAnswer(&signaling.Envelope{Type: signaling.TypeAnswer, SDP: "again", From: "bob"})
	conn.Sync()
	assert.Equal(t, "v=0 answer", conn.RemoteDescription().SDP)
}

func TestCalleeAnswersOffer(t *testing.T) {
	eng := enginetest.New()
	o, box := newTestOrchestrator(t, eng)

	o.OnOffer(&signaling.Envelope{Type: signaling.TypeOffer, SDP: "v=0 offer", From: "alice"})
	require.Eventually(t, func() bool { return len(box.ofType(signaling.TypeAnswer)) == 1 }, waitFor, tick)

	conn := onlyConn(t, eng)
	conn.Sync()
	assert.Equal(t, []string{"add-stream", "set-remote:offer", "create-answer", "set-local:answer"}, conn.Ops())
	assert.Equal(t, signaling.PeerID("alice"), box.ofType(signaling.TypeAnswer)[0].To)
	assert.Equal(t, Stable, stateOf(o, "alice"))
	assert.Empty(t, box.ofType(signaling.TypeOffer))
}

func TestCandidatesForwardedInOrder(t *testing.T) {
	eng := enginetest.New()
	o, box := newTestOrchestrator(t, eng)

	o.OnPeerJoined("bob")
	require.Eventually(t, func() bool { return len(box.ofType(signaling.TypeOffer)) == 1 }, waitFor, tick)
	conn := onlyConn(t, eng)

	const n = 25
	for i := 0; i < n; i++ {
		conn.EmitCandidate(engine.ICECandidate{SDPMLineIndex: i % 2, SDPMid: fmt.Sprint(i % 2), Candidate: fmt.Sprintf("candidate:%d", i)})
	}
	conn.Sync()

	cands := box.ofType(signaling.TypeCandidate)
	require.Len(t, cands, n)
	for i, env := range cands {
		assert.Equal(t, fmt.Sprintf("candidate:%d", i), env.Candidate)
		assert.Equal(t, i%2, env.MLineIndex())
		assert.Equal(t, signaling.PeerID("bob"), env.To)
	}
}

func TestEarlyRemoteCandidateApplied(t *testing.T) {
	eng := enginetest.New()
	o, box := newTestOrchestrator(t, eng)

	o.OnPeerJoined("bob")
	require.Eventually(t, func() bool { return len(box.ofType(signaling.TypeOffer)) == 1 }, waitFor, tick)

	label := 0
	o.OnCandidate(&signaling.Envelope{Type: signaling.TypeCandidate, Label: &label, ID: "0", Candidate: "candidate:early", From: "bob"})

	conn := onlyConn(t, eng)
	conn.Sync()
	assert.Nil(t, conn.RemoteDescription())
	cands := conn.RemoteCandidates()
	require.Len(t, cands, 1)
	assert.Equal(t, engine.ICECandidate{SDPMLineIndex: 0, SDPMid: "0", Candidate: "candidate:early"}, cands[0])
}

func TestStrayMessagesDropped(t *testing.T) {
	eng := enginetest.New()
	o, box := newTestOrchestrator(t, eng)

	o.OnAnswer(&signaling.Envelope{Type: signaling.TypeAnswer, SDP: "x", From: "ghost"})
	o.OnCandidate(&signaling.Envelope{Type: signaling.TypeCandidate, Candidate: "candidate:1", From: "ghost"})
	assert.Equal(t, 0, o.registry.Len())
	assert.Empty(t, eng.Connections())

	// An answer to a peer we are answering ourselves is out of turn.
	o.OnOffer(&signaling.Envelope{Type: signaling.TypeOffer, SDP: "offer", From: "alice"})
	require.Eventually(t, func() bool { return stateOf(o, "alice") == Stable }, waitFor, tick)
	o.OnAnswer(&signaling.Envelope{Type: signaling.TypeAnswer, SDP: "answer", From: "alice"})

	conn := onlyConn(t, eng)
	conn.Sync()
	assert.NotContains(t, conn.Ops(), "set-remote:answer")
	assert.Len(t, box.ofType(signaling.TypeAnswer), 1)
}

func TestPeerLeftReleasesRecord(t *testing.T) {
	eng := enginetest.New()
	o, box := newTestOrchestrator(t, eng)

	o.OnPeerJoined("bob")
	require.Eventually(t, func() bool { return len(box.ofType(signaling.TypeOffer)) == 1 }, waitFor, tick)
	conn := onlyConn(t, eng)

	o.OnPeerLeft("bob", "bye")
	assert.Equal(t, 0, o.registry.Len())
	assert.True(t, conn.Closed())
	assert.True(t, eng.Streams()[0].Closed())
	assert.Contains(t, conn.Ops(), "remove-stream")

	ops := conn.Ops()
	o.OnCandidate(&signaling.Envelope{Type: signaling.TypeCandidate, Candidate: "candidate:late", From: "bob"})
	o.OnAnswer(&signaling.Envelope{Type: signaling.TypeAnswer, SDP: "late", From: "bob"})
	assert.Equal(t, ops, conn.Ops())
	assert.Empty(t, conn.RemoteCandidates())

	hist := o.History()
	require.Len(t, hist, 1)
	assert.Equal(t, Leaving, hist[0].State)

	// Leaving twice is harmless.
	o.OnPeerLeft("bob", "bye")
}

func TestLateCallbacksAreIgnored(t *testing.T) {
	eng := enginetest.New()
	o, box := newTestOrchestrator(t, eng)

	o.OnPeerJoined("bob")
	require.Eventually(t, func() bool { return len(box.ofType(signaling.TypeOffer)) == 1 }, waitFor, tick)
	rec, _ := o.registry.Get("bob")
	o.OnPeerLeft("bob", "bye")

	obs := newPeerObserver(o, "bob")
	obs.rec.Store(rec)
	obs.OnICECandidate(engine.ICECandidate{Candidate: "candidate:late"})
	o.creator(rec, signaling.TypeOffer).OnCreateFailure(errors.New("late"))
	(&localApplied{o: o, rec: rec, desc: engine.SessionDescription{Type: engine.SDPOffer}}).OnSetSuccess()

	assert.Empty(t, box.ofType(signaling.TypeCandidate))
	assert.Len(t, box.ofType(signaling.TypeOffer), 1)
	assert.NoError(t, rec.snapshot().Err)
}

func TestSetupFailure(t *testing.T) {
	boom := errors.New("no transport")
	eng := enginetest.New()
	eng.FailConnection = boom
	o, box := newTestOrchestrator(t, eng)

	_, err := o.newRecord("bob")
	assert.ErrorIs(t, err, ErrSetupFailed)
	assert.ErrorIs(t, err, boom)

	o.OnPeerJoined("bob")
	o.OnOffer(&signaling.Envelope{Type: signaling.TypeOffer, SDP: "offer", From: "carol"})
	assert.Equal(t, 0, o.registry.Len())
	assert.Zero(t, box.count())
	for _, s := range eng.Streams() {
		assert.True(t, s.Closed())
	}

	eng = enginetest.New()
	eng.FailStream = boom
	o, _ = newTestOrchestrator(t, eng)
	_, err = o.newRecord("bob")
	assert.ErrorIs(t, err, ErrSetupFailed)
	assert.Empty(t, eng.Connections())
}

func TestNegotiationFailureEndsRound(t *testing.T) {
	boom := errors.New("bad sdp")
	eng := enginetest.New()
	eng.FailSetRemote = boom
	o, box := newTestOrchestrator(t, eng)

	o.OnOffer(&signaling.Envelope{Type: signaling.TypeOffer, SDP: "offer", From: "alice"})
	require.Eventually(t, func() bool {
		rec, ok := o.registry.Get("alice")
		return ok && rec.snapshot().Err != nil
	}, waitFor, tick)

	rec, _ := o.registry.Get("alice")
	var nerr *NegotiationError
	require.ErrorAs(t, rec.snapshot().Err, &nerr)
	assert.Equal(t, "set remote offer", nerr.Op)
	assert.Equal(t, signaling.PeerID("alice"), nerr.Peer)
	assert.ErrorIs(t, nerr, boom)
	assert.Equal(t, OfferReceived, rec.State())
	assert.Empty(t, box.ofType(signaling.TypeAnswer))
	assert.NotContains(t, onlyConn(t, eng).Ops(), "create-answer")
}

func TestCloseTearsDownEverything(t *testing.T) {
	eng := enginetest.New()
	o, box := newTestOrchestrator(t, eng)

	o.OnPeerJoined("bob")
	o.OnOffer(&signaling.Envelope{Type: signaling.TypeOffer, SDP: "offer", From: "carol"})
	require.Eventually(t, func() bool { return box.count() == 2 }, waitFor, tick)

	require.NoError(t, o.Close())
	assert.Equal(t, 0, o.registry.Len())
	for _, c := range eng.Connections() {
		assert.True(t, c.Closed())
	}

	o.OnPeerJoined("dave")
	o.OnOffer(&signaling.Envelope{Type: signaling.TypeOffer, SDP: "offer", From: "erin"})
	assert.Len(t, eng.Connections(), 2)
	assert.NoError(t, o.Close())
}

func TestPeerInfoAndICEStateRecorded(t *testing.T) {
	eng := enginetest.New()
	var changes atomic.Int32
	o, err := New(Options{
		Engine:    eng,
		Signaling: &outbox{},
		Logger:    zerolog.Nop(),
		OnChange:  func(PeerState) { changes.Add(1) },
	})
	require.NoError(t, err)
	defer o.Close()

	o.OnPeerJoined("bob")
	conn := onlyConn(t, eng)
	conn.EmitICEState(engine.ICEConnected)
	conn.EmitPeerInfo(engine.PeerInfo{Name: "bob-laptop", Version: "1.0", Platform: "linux"})
	conn.Sync()

	snap := o.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, engine.ICEConnected, snap[0].ICE)
	assert.Equal(t, "bob-laptop", snap[0].Info.Name)
	assert.Positive(t, changes.Load())
}

// recordingSink counts written packets.
type recordingSink struct {
	n      atomic.Int32
	closed atomic.Bool
}

func (s *recordingSink) WriteRTP(*rtp.Packet) error { s.n.Add(1); return nil }
func (s *recordingSink) Close() error               { s.closed.Store(true); return nil }

func TestRemoteVideoAttachedOnRenderContext(t *testing.T) {
	loop := render.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	defer cancel()

	sink := &recordingSink{}
	surface := render.NewSurface(func(string, string) (render.Sink, error) { return sink, nil }, zerolog.Nop())

	eng := enginetest.New()
	o, err := New(Options{Engine: eng, Signaling: &outbox{}, Render: loop, Surface: surface, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer o.Close()

	attached := func() bool {
		res := make(chan bool, 1)
		loop.Post(func() { res <- surface.Attached("bob") })
		return <-res
	}

	o.OnPeerJoined("bob")
	conn := onlyConn(t, eng)
	conn.EmitStream(&engine.MediaStream{ID: "audio-only", AudioTracks: []engine.RemoteTrack{enginetest.NewAudioTrack("a", "audio-only")}})
	conn.Sync()
	assert.False(t, attached())

	conn.EmitStream(&engine.MediaStream{ID: "s", VideoTracks: []engine.RemoteTrack{
		enginetest.NewVideoTrack("v", "s", &rtp.Packet{}, &rtp.Packet{}),
	}})
	conn.Sync()
	require.Eventually(t, attached, waitFor, tick)
	require.Eventually(t, func() bool { return sink.n.Load() == 2 }, waitFor, tick)

	o.OnPeerLeft("bob", "bye")
	require.Eventually(t, func() bool { return !attached() }, waitFor, tick)
	assert.True(t, sink.closed.Load())
}
