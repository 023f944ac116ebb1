package orchestrator

import (
	"sync/atomic"

	"github.com/monkey1992/XyWebRTC/internal/engine"
	"github.com/monkey1992/XyWebRTC/internal/signaling"
)

// peerObserver receives the connection events of one peer.
type peerObserver struct {
	engine.LogObserver

	o    *Orchestrator
	peer signaling.PeerID
	rec  atomic.Pointer[Record]
}

func newPeerObserver(o *Orchestrator, peer signaling.PeerID) *peerObserver {
	return &peerObserver{
		LogObserver: engine.LogObserver{Log: o.log.With().Str("peer", string(peer)).Logger()},
		o:           o,
		peer:        peer,
	}
}

// OnICECandidate forwards each local candidate as soon as it is found.
func (p *peerObserver) OnICECandidate(c engine.ICECandidate) {
	rec := p.rec.Load()
	if !p.o.live(rec) {
		return
	}
	p.o.send(rec, signaling.NewCandidate(c.SDPMLineIndex, c.SDPMid, c.Candidate, p.peer))
}

func (p *peerObserver) OnICEConnectionChange(s engine.ICEConnectionState) {
	p.LogObserver.OnICEConnectionChange(s)
	rec := p.rec.Load()
	if !p.o.live(rec) {
		return
	}
	rec.setICE(s)
	p.o.notify(rec)
}

// OnAddStream shows the first video track of the stream.
func (p *peerObserver) OnAddStream(s *engine.MediaStream) {
	p.LogObserver.OnAddStream(s)
	rec := p.rec.Load()
	surface := p.o.opts.Surface
	if !p.o.live(rec) || surface == nil {
		return
	}
	track := s.FirstVideo()
	if track == nil {
		return
	}
	o, peer := p.o, string(p.peer)
	if !o.opts.Render.Post(func() {
		if o.live(rec) {
			surface.Attach(peer, track)
		}
	}) {
		p.Log.Debug().Msg("render context stopped, video not attached")
	}
}

func (p *peerObserver) OnPeerInfo(info engine.PeerInfo) {
	rec := p.rec.Load()
	if !p.o.live(rec) {
		return
	}
	p.Log.Info().Str("name", info.Name).Str("platform", info.Platform).Msg("peer identified")
	rec.setInfo(info)
	p.o.notify(rec)
}

// creator receives our created offer or answer and applies it locally.
type creator struct {
	engine.LogSDPObserver
	o   *Orchestrator
	rec *Record
	typ string
}

func (o *Orchestrator) creator(rec *Record, typ string) *creator {
	return &creator{LogSDPObserver: engine.LogSDPObserver{Log: o.log}, o: o, rec: rec, typ: typ}
}

func (c *creator) OnCreateSuccess(d engine.SessionDescription) {
	if !c.o.live(c.rec) {
		return
	}
	c.rec.Conn.SetLocalDescription(&localApplied{LogSDPObserver: c.LogSDPObserver, o: c.o, rec: c.rec, desc: d}, d)
}

func (c *creator) OnCreateFailure(err error) {
	if !c.o.live(c.rec) {
		return
	}
	c.o.fail(c.rec, "create "+c.typ, err)
}

// localApplied transmits the description once it is our local description.
type localApplied struct {
	engine.LogSDPObserver
	o    *Orchestrator
	rec  *Record
	desc engine.SessionDescription
}

func (l *localApplied) OnSetSuccess() {
	if !l.o.live(l.rec) {
		return
	}
	switch l.desc.Type {
	case engine.SDPOffer:
		if !l.rec.transition(OfferSent, Unbound, Stable) {
			return
		}
		l.o.notify(l.rec)
		l.o.send(l.rec, signaling.NewDescription(signaling.TypeOffer, l.desc.SDP, l.rec.Peer))
	case engine.SDPAnswer:
		if !l.rec.transition(AnswerSent, OfferReceived) {
			return
		}
		l.o.send(l.rec, signaling.NewDescription(signaling.TypeAnswer, l.desc.SDP, l.rec.Peer))
		l.rec.transition(Stable, AnswerSent)
		l.o.log.Info().Str("peer", string(l.rec.Peer)).Msg("negotiation complete")
		l.o.notify(l.rec)
	}
}

func (l *localApplied) OnSetFailure(err error) {
	if !l.o.live(l.rec) {
		return
	}
	l.o.fail(l.rec, "set local "+string(l.desc.Type), err)
}

// remoteApplied continues the round once a remote description is applied:
// an offer is answered, an answer completes the exchange.
type remoteApplied struct {
	engine.LogSDPObserver
	o    *Orchestrator
	rec  *Record
	desc engine.SessionDescription
}

func (o *Orchestrator) remoteApplied(rec *Record, d engine.SessionDescription) *remoteApplied {
	return &remoteApplied{LogSDPObserver: engine.LogSDPObserver{Log: o.log}, o: o, rec: rec, desc: d}
}

func (r *remoteApplied) OnSetSuccess() {
	if !r.o.live(r.rec) {
		return
	}
	switch r.desc.Type {
	case engine.SDPOffer:
		r.rec.Conn.CreateAnswer(engine.DefaultConstraints(), r.o.creator(r.rec, signaling.TypeAnswer))
	case engine.SDPAnswer:
		if r.rec.transition(Stable, AnswerReceived) {
			r.o.log.Info().Str("peer", string(r.rec.Peer)).Msg("negotiation complete")
			r.o.notify(r.rec)
		}
	}
}

func (r *remoteApplied) OnSetFailure(err error) {
	if !r.o.live(r.rec) {
		return
	}
	r.o.fail(r.rec, "set remote "+string(r.desc.Type), err)
}
