// Package orchestrator drives one media connection per remote peer from
// signaling events: it creates connections on demand, runs the offer/answer
// exchange and forwards candidates in both directions.
package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/monkey1992/XyWebRTC/internal/engine"
	"github.com/monkey1992/XyWebRTC/internal/logging"
	"github.com/monkey1992/XyWebRTC/internal/render"
	"github.com/monkey1992/XyWebRTC/internal/signaling"
	"github.com/rs/zerolog"
)

// Sender transmits an envelope to the peer named in its To field.
type Sender interface {
	Send(env signaling.Envelope) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(env signaling.Envelope) error

func (f SenderFunc) Send(env signaling.Envelope) error { return f(env) }

// Options configures an Orchestrator. Engine and Signaling are required.
type Options struct {
	Engine     engine.Engine
	Signaling  Sender
	ICEServers []engine.ICEServer

	// Render runs Surface mutations. Defaults to render.Inline.
	Render render.Context
	// Surface shows remote video. Nil ignores remote streams.
	Surface *render.Surface

	Logger zerolog.Logger

	// OnChange is called after a peer's state changes. It must not block.
	OnChange func(PeerState)
}

// Orchestrator implements signaling.Callback. Unhandled room events fall
// through to the embedded BaseCallback.
type Orchestrator struct {
	signaling.BaseCallback

	opts     Options
	log      zerolog.Logger
	registry *Registry
	closed   atomic.Bool

	mu   sync.Mutex
	self signaling.PeerID
	room string
	seen map[signaling.PeerID]PeerState
}

// New returns an orchestrator with an empty registry. It does nothing until
// signaling events arrive through its Callback methods.
func New(opts Options) (*Orchestrator, error) {
	if opts.Engine == nil {
		return nil, errors.New("orchestrator: engine is required")
	}
	if opts.Signaling == nil {
		return nil, errors.New("orchestrator: signaling sender is required")
	}
	if opts.Render == nil {
		opts.Render = render.Inline{}
	}
	log := logging.Module(opts.Logger, "orchestrator")
	return &Orchestrator{
		BaseCallback: signaling.BaseCallback{Log: log},
		opts:         opts,
		log:          log,
		registry:     NewRegistry(),
		seen:         make(map[signaling.PeerID]PeerState),
	}, nil
}

func (o *Orchestrator) Registry() *Registry { return o.registry }

// Snapshot lists the live peers.
func (o *Orchestrator) Snapshot() []PeerState { return o.registry.Snapshot() }

// History lists the last known state of every peer seen, including those
// that left.
func (o *Orchestrator) History() []PeerState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]PeerState, 0, len(o.seen))
	for _, ps := range o.seen {
		out = append(out, ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// Self returns our own PeerID once the room is created or joined.
func (o *Orchestrator) Self() (signaling.PeerID, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.self, o.room
}

func (o *Orchestrator) OnCreated(room string, self signaling.PeerID) {
	o.setSelf(room, self)
	o.BaseCallback.OnCreated(room, self)
}

func (o *Orchestrator) OnJoined(room string, self signaling.PeerID) {
	o.setSelf(room, self)
	o.BaseCallback.OnJoined(room, self)
}

func (o *Orchestrator) setSelf(room string, self signaling.PeerID) {
	o.mu.Lock()
	o.self, o.room = self, room
	o.mu.Unlock()
}

// OnPeerJoined makes us the caller for peer.
func (o *Orchestrator) OnPeerJoined(peer signaling.PeerID) {
	if o.closed.Load() {
		return
	}
	rec, created, err := o.registry.GetOrCreate(peer, func() (*Record, error) { return o.newRecord(peer) })
	if err != nil {
		o.log.Error().Err(err).Str("peer", string(peer)).Msg("cannot connect to peer")
		return
	}
	if !created {
		o.log.Debug().Str("peer", string(peer)).Msg("peer already known")
		return
	}
	o.log.Info().Str("peer", string(peer)).Msg("peer joined, sending offer")
	o.notify(rec)
	rec.Conn.CreateOffer(engine.DefaultConstraints(), o.creator(rec, signaling.TypeOffer))
}

// OnOffer makes us the callee for the sender.
func (o *Orchestrator) OnOffer(env *signaling.Envelope) {
	if o.closed.Load() {
		return
	}
	rec, _, err := o.registry.GetOrCreate(env.From, func() (*Record, error) { return o.newRecord(env.From) })
	if err != nil {
		o.log.Error().Err(err).Str("peer", string(env.From)).Msg("cannot answer peer")
		return
	}
	if !rec.transition(OfferReceived, Unbound, Stable) {
		o.drop(env, rec, ErrUnexpected)
		return
	}
	o.notify(rec)
	desc := engine.SessionDescription{Type: engine.SDPOffer, SDP: env.SDP}
	rec.Conn.SetRemoteDescription(o.remoteApplied(rec, desc), desc)
}

func (o *Orchestrator) OnAnswer(env *signaling.Envelope) {
	if o.closed.Load() {
		return
	}
	rec, ok := o.registry.Get(env.From)
	if !ok {
		o.drop(env, nil, ErrUnknownPeer)
		return
	}
	if !rec.transition(AnswerReceived, OfferSent) {
		o.drop(env, rec, ErrUnexpected)
		return
	}
	o.notify(rec)
	desc := engine.SessionDescription{Type: engine.SDPAnswer, SDP: env.SDP}
	rec.Conn.SetRemoteDescription(o.remoteApplied(rec, desc), desc)
}

// OnCandidate applies a remote candidate whatever the description state; the
// engine holds it until a remote description exists.
func (o *Orchestrator) OnCandidate(env *signaling.Envelope) {
	if o.closed.Load() {
		return
	}
	rec, ok := o.registry.Get(env.From)
	if !ok || rec.State() == Leaving {
		o.drop(env, nil, ErrUnknownPeer)
		return
	}
	err := rec.Conn.AddICECandidate(engine.ICECandidate{
		SDPMLineIndex: env.MLineIndex(),
		SDPMid:        env.ID,
		Candidate:     env.Candidate,
	})
	if err != nil {
		o.log.Warn().Err(err).Str("peer", string(env.From)).Msg("add remote candidate")
	}
}

func (o *Orchestrator) OnPeerLeft(peer signaling.PeerID, reason string) {
	rec, ok := o.registry.Remove(peer)
	if !ok {
		o.log.Debug().Str("peer", string(peer)).Msg("unknown peer left")
		return
	}
	o.log.Info().Str("peer", string(peer)).Str("reason", reason).Msg("peer left")
	if err := o.release(rec); err != nil {
		o.log.Warn().Err(err).Str("peer", string(peer)).Msg("release peer")
	}
}

// Close tears down every connection. Later events are ignored.
func (o *Orchestrator) Close() error {
	if o.closed.Swap(true) {
		return nil
	}
	var errs []error
	for _, rec := range o.registry.Drain() {
		errs = append(errs, o.release(rec))
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) newRecord(peer signaling.PeerID) (*Record, error) {
	stream, err := o.opts.Engine.NewLocalStream("local")
	if err != nil {
		return nil, fmt.Errorf("%w: local stream: %w", ErrSetupFailed, err)
	}

	obs := newPeerObserver(o, peer)
	conn, err := o.opts.Engine.NewConnection(o.opts.ICEServers, obs)
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: connection: %w", ErrSetupFailed, err)
	}
	if err := conn.AddStream(stream); err != nil {
		conn.Close()
		stream.Close()
		return nil, fmt.Errorf("%w: add stream: %w", ErrSetupFailed, err)
	}

	rec := newRecord(peer, conn, stream)
	obs.rec.Store(rec)
	return rec, nil
}

func (o *Orchestrator) release(rec *Record) error {
	rec.transition(Leaving)
	o.notify(rec)

	var errs []error
	if err := rec.Conn.RemoveStream(rec.Stream); err != nil {
		errs = append(errs, err)
	}
	if err := rec.Conn.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := rec.Stream.Close(); err != nil {
		errs = append(errs, err)
	}
	if s := o.opts.Surface; s != nil {
		peer := string(rec.Peer)
		o.opts.Render.Post(func() { s.Detach(peer) })
	}
	return errors.Join(errs...)
}

// live reports whether callbacks for rec should still act.
func (o *Orchestrator) live(rec *Record) bool {
	return rec != nil && !o.closed.Load() && o.registry.Contains(rec) && rec.State() != Leaving
}

func (o *Orchestrator) send(rec *Record, env signaling.Envelope) {
	env.To = rec.Peer
	if err := o.opts.Signaling.Send(env); err != nil {
		o.log.Warn().Err(err).Str("peer", string(rec.Peer)).Str("type", env.Type).Msg("send to peer")
	}
}

func (o *Orchestrator) fail(rec *Record, op string, err error) {
	nerr := &NegotiationError{Op: op, Peer: rec.Peer, Err: err}
	rec.fail(nerr)
	o.log.Error().Err(nerr).Msg("negotiation failed")
	o.notify(rec)
}

func (o *Orchestrator) drop(env *signaling.Envelope, rec *Record, reason error) {
	level := zerolog.WarnLevel
	if env.Type == signaling.TypeCandidate {
		level = zerolog.DebugLevel
	}
	ev := o.log.WithLevel(level).Err(reason).Str("peer", string(env.From)).Str("type", env.Type)
	if rec != nil {
		ev = ev.Stringer("state", rec.State())
	}
	ev.Msg("dropping message")
}

func (o *Orchestrator) notify(rec *Record) {
	ps := rec.snapshot()
	o.mu.Lock()
	o.seen[ps.Peer] = ps
	o.mu.Unlock()
	if o.opts.OnChange != nil {
		o.opts.OnChange(ps)
	}
}
