package pionengine

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/monkey1992/XyWebRTC/internal/engine"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// connection serializes every operation on ops and every observer callback
// on events, so both run in call order for one peer.
type connection struct {
	pc  *webrtc.PeerConnection
	obs engine.Observer
	log zerolog.Logger

	ops    *engine.Serial
	events *engine.Serial

	// pending holds remote candidates until a remote description exists.
	// Only touched from ops.
	pending []webrtc.ICECandidateInit

	// Local candidates are held until the local description has been
	// reported, so the description always reaches the peer first.
	mu         sync.Mutex
	localReady bool
	gathering  bool
	held       []engine.ICECandidate
	senders    map[string][]*webrtc.RTPSender

	closeOnce sync.Once
	closeErr  error
}

func newConnection(pc *webrtc.PeerConnection, obs engine.Observer, log zerolog.Logger) *connection {
	c := &connection{
		pc:      pc,
		obs:     obs,
		log:     log,
		ops:     engine.NewSerial(),
		events:  engine.NewSerial(),
		senders: make(map[string][]*webrtc.RTPSender),
	}

	pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
		c.events.Push(func() { obs.OnSignalingChange(engine.SignalingState(s.String())) })
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.log.Info().Str("ice_state", s.String()).Msg("ICE state")
		c.events.Push(func() { obs.OnICEConnectionChange(engine.ICEConnectionState(s.String())) })
	})
	pc.OnNegotiationNeeded(func() {
		c.events.Push(obs.OnRenegotiationNeeded)
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		label := dc.Label()
		c.events.Push(func() { obs.OnDataChannel(label) })
	})
	pc.OnICECandidate(c.onLocalCandidate)
	pc.OnTrack(c.onTrack)

	return c
}

// onLocalCandidate also derives the gathering state: the first candidate
// starts gathering and pion's nil candidate ends it.
func (c *connection) onLocalCandidate(cand *webrtc.ICECandidate) {
	if cand == nil {
		c.mu.Lock()
		c.gathering = false
		c.mu.Unlock()
		c.events.Push(func() { c.obs.OnICEGatheringChange(engine.ICEGatheringState(webrtc.ICEGatheringStateComplete.String())) })
		return
	}

	init := cand.ToJSON()
	out := engine.ICECandidate{Candidate: init.Candidate}
	if init.SDPMid != nil {
		out.SDPMid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		out.SDPMLineIndex = int(*init.SDPMLineIndex)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.gathering {
		c.gathering = true
		c.events.Push(func() { c.obs.OnICEGatheringChange(engine.ICEGatheringState(webrtc.ICEGatheringStateGathering.String())) })
	}
	if !c.localReady {
		c.held = append(c.held, out)
		return
	}
	c.events.Push(func() { c.obs.OnICECandidate(out) })
}

func (c *connection) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	rt := &remoteTrack{track: track, pc: c.pc}
	c.log.Info().
		Str("kind", track.Kind().String()).
		Str("track_id", track.ID()).
		Str("stream_id", track.StreamID()).
		Str("codec", track.Codec().MimeType).
		Msg("remote track")

	stream := &engine.MediaStream{ID: track.StreamID()}
	if rt.Kind() == engine.KindVideo {
		stream.VideoTracks = []engine.RemoteTrack{rt}
	} else {
		stream.AudioTracks = []engine.RemoteTrack{rt}
	}

	c.events.Push(func() {
		c.obs.OnAddTrack(rt)
		c.obs.OnAddStream(stream)
	})
}

func (c *connection) AddStream(ls engine.LocalStream) error {
	s, ok := ls.(*LocalStream)
	if !ok {
		return fmt.Errorf("unsupported local stream %T", ls)
	}

	senders := make([]*webrtc.RTPSender, 0, 2)
	for _, track := range s.tracks() {
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		go drainRTCP(sender)
		senders = append(senders, sender)
	}

	c.mu.Lock()
	c.senders[s.ID()] = senders
	c.mu.Unlock()
	return nil
}

func (c *connection) RemoveStream(ls engine.LocalStream) error {
	c.mu.Lock()
	senders := c.senders[ls.ID()]
	delete(c.senders, ls.ID())
	c.mu.Unlock()

	var errs []error
	for _, sender := range senders {
		if err := c.pc.RemoveTrack(sender); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *connection) CreateOffer(cons engine.Constraints, obs engine.SDPObserver) {
	c.enqueue(obs.OnCreateFailure, func() {
		if cons.ReceiveAudio {
			c.ensureReceiver(webrtc.RTPCodecTypeAudio)
		}
		if cons.ReceiveVideo {
			c.ensureReceiver(webrtc.RTPCodecTypeVideo)
		}

		offer, err := c.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: cons.ICERestart})
		c.reportCreate(obs, offer, err)
	})
}

func (c *connection) CreateAnswer(_ engine.Constraints, obs engine.SDPObserver) {
	c.enqueue(obs.OnCreateFailure, func() {
		answer, err := c.pc.CreateAnswer(nil)
		c.reportCreate(obs, answer, err)
	})
}

func (c *connection) SetLocalDescription(obs engine.SDPObserver, d engine.SessionDescription) {
	c.enqueue(obs.OnSetFailure, func() {
		if err := c.pc.SetLocalDescription(toPion(d)); err != nil {
			c.events.Push(func() { obs.OnSetFailure(err) })
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		c.events.Push(obs.OnSetSuccess)
		if c.localReady {
			return
		}
		c.localReady = true
		for _, cand := range c.held {
			c.events.Push(func() { c.obs.OnICECandidate(cand) })
		}
		c.held = nil
	})
}

func (c *connection) SetRemoteDescription(obs engine.SDPObserver, d engine.SessionDescription) {
	c.enqueue(obs.OnSetFailure, func() {
		if err := c.pc.SetRemoteDescription(toPion(d)); err != nil {
			c.events.Push(func() { obs.OnSetFailure(err) })
			return
		}

		for _, cand := range c.pending {
			if err := c.pc.AddICECandidate(cand); err != nil {
				c.log.Warn().Err(err).Msg("apply held remote candidate")
			}
		}
		if n := len(c.pending); n > 0 {
			c.log.Debug().Int("count", n).Msg("applied held remote candidates")
		}
		c.pending = nil

		c.events.Push(obs.OnSetSuccess)
	})
}

func (c *connection) AddICECandidate(cand engine.ICECandidate) error {
	if cand.SDPMLineIndex < 0 || cand.SDPMLineIndex > math.MaxUint16 {
		return fmt.Errorf("%w: m-line index %d out of range", engine.ErrInvalidCandidate, cand.SDPMLineIndex)
	}
	init := webrtc.ICECandidateInit{Candidate: cand.Candidate}
	if cand.SDPMid != "" {
		mid := cand.SDPMid
		init.SDPMid = &mid
	}
	idx := uint16(cand.SDPMLineIndex)
	init.SDPMLineIndex = &idx

	ok := c.ops.Push(func() {
		if c.pc.RemoteDescription() == nil {
			c.pending = append(c.pending, init)
			return
		}
		if err := c.pc.AddICECandidate(init); err != nil {
			c.log.Warn().Err(err).Str("candidate", init.Candidate).Msg("apply remote candidate")
		}
	})
	if !ok {
		return engine.ErrClosed
	}
	return nil
}

func (c *connection) Close() error {
	c.closeOnce.Do(func() {
		c.ops.Close()
		c.closeErr = c.pc.Close()
		c.events.Close()
		c.log.Debug().Msg("connection closed")
	})
	return c.closeErr
}

// enqueue runs op on the operation queue, or reports ErrClosed to fail.
func (c *connection) enqueue(fail func(error), op func()) {
	if !c.ops.Push(op) {
		fail(engine.ErrClosed)
	}
}

func (c *connection) reportCreate(obs engine.SDPObserver, d webrtc.SessionDescription, err error) {
	if err != nil {
		c.events.Push(func() { obs.OnCreateFailure(err) })
		return
	}
	out := fromPion(d)
	c.events.Push(func() { obs.OnCreateSuccess(out) })
}

// ensureReceiver adds a recvonly transceiver when none of kind exists yet.
func (c *connection) ensureReceiver(kind webrtc.RTPCodecType) {
	for _, t := range c.pc.GetTransceivers() {
		if t.Kind() == kind {
			return
		}
	}
	_, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("kind", kind.String()).Msg("add receive transceiver")
	}
}

// drainRTCP reads incoming RTCP so interceptors such as NACK keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func toPion(d engine.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(string(d.Type)), SDP: d.SDP}
}

func fromPion(d webrtc.SessionDescription) engine.SessionDescription {
	return engine.SessionDescription{Type: engine.SDPType(d.Type.String()), SDP: d.SDP}
}

type remoteTrack struct {
	track *webrtc.TrackRemote
	pc    *webrtc.PeerConnection
}

func (t *remoteTrack) ID() string       { return t.track.ID() }
func (t *remoteTrack) StreamID() string { return t.track.StreamID() }
func (t *remoteTrack) MimeType() string { return t.track.Codec().MimeType }

func (t *remoteTrack) Kind() engine.TrackKind {
	if t.track.Kind() == webrtc.RTPCodecTypeVideo {
		return engine.KindVideo
	}
	return engine.KindAudio
}

func (t *remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := t.track.ReadRTP()
	return pkt, err
}

// RequestKeyFrame sends a picture loss indication for the track.
func (t *remoteTrack) RequestKeyFrame() error {
	return t.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(t.track.SSRC())},
	})
}
