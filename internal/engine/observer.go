package engine

import "github.com/rs/zerolog"

// LogObserver implements Observer by logging every event. Embed it and
// override what matters.
type LogObserver struct {
	Log zerolog.Logger
}

func (o LogObserver) OnSignalingChange(s SignalingState) {
	o.Log.Debug().Str("state", string(s)).Msg("signaling state changed")
}

func (o LogObserver) OnICEConnectionChange(s ICEConnectionState) {
	o.Log.Debug().Str("state", string(s)).Msg("ice connection state changed")
}

func (o LogObserver) OnICEGatheringChange(s ICEGatheringState) {
	o.Log.Debug().Str("state", string(s)).Msg("ice gathering state changed")
}

func (o LogObserver) OnICECandidate(c ICECandidate) {
	o.Log.Debug().Str("candidate", c.Candidate).Msg("local candidate")
}

func (o LogObserver) OnAddStream(s *MediaStream) {
	o.Log.Debug().Str("stream", s.ID).Int("video", len(s.VideoTracks)).Int("audio", len(s.AudioTracks)).Msg("remote stream added")
}

func (o LogObserver) OnAddTrack(t RemoteTrack) {
	o.Log.Debug().Str("track", t.ID()).Str("kind", string(t.Kind())).Msg("remote track added")
}

func (o LogObserver) OnDataChannel(label string) {
	o.Log.Debug().Str("label", label).Msg("data channel")
}

func (o LogObserver) OnRenegotiationNeeded() {
	o.Log.Debug().Msg("renegotiation needed")
}

// LogSDPObserver implements SDPObserver by logging outcomes.
type LogSDPObserver struct {
	Log zerolog.Logger
}

func (o LogSDPObserver) OnCreateSuccess(d SessionDescription) {
	o.Log.Debug().Str("type", string(d.Type)).Msg("description created")
}

func (o LogSDPObserver) OnCreateFailure(err error) {
	o.Log.Error().Err(err).Msg("create description failed")
}

func (o LogSDPObserver) OnSetSuccess() {
	o.Log.Debug().Msg("description applied")
}

func (o LogSDPObserver) OnSetFailure(err error) {
	o.Log.Error().Err(err).Msg("apply description failed")
}
