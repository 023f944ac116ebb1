// Package engine describes the media-transport capabilities the orchestrator
// drives: connections, local streams and their asynchronous callbacks.
//
// Every Connection operation that takes an SDPObserver completes
// asynchronously. Implementations apply the operations of one connection in
// call order and may run different connections in parallel.
package engine

import (
	"errors"

	"github.com/pion/rtp"
)

var (
	ErrClosed = errors.New("connection closed")

	// ErrInvalidCandidate rejects a remote candidate whose media-line index
	// does not fit an SDP m-line number.
	ErrInvalidCandidate = errors.New("invalid ice candidate")
)

type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

// SessionDescription is an immutable offer or answer.
type SessionDescription struct {
	Type SDPType
	SDP  string
}

// ICECandidate is one transport candidate, local or remote.
type ICECandidate struct {
	SDPMLineIndex int
	SDPMid        string
	Candidate     string
}

type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// Constraints shape a created offer or answer.
type Constraints struct {
	ReceiveAudio bool
	ReceiveVideo bool
	ICERestart   bool
}

// DefaultConstraints receive both audio and video.
func DefaultConstraints() Constraints {
	return Constraints{ReceiveAudio: true, ReceiveVideo: true}
}

type (
	SignalingState     string
	ICEConnectionState string
	ICEGatheringState  string
)

const (
	ICENew          ICEConnectionState = "new"
	ICEChecking     ICEConnectionState = "checking"
	ICEConnected    ICEConnectionState = "connected"
	ICECompleted    ICEConnectionState = "completed"
	ICEDisconnected ICEConnectionState = "disconnected"
	ICEFailed       ICEConnectionState = "failed"
	ICEClosed       ICEConnectionState = "closed"
)

type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// RemoteTrack is an inbound media track.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() TrackKind
	MimeType() string
	ReadRTP() (*rtp.Packet, error)
	RequestKeyFrame() error
}

// MediaStream groups the remote tracks sharing a stream id.
type MediaStream struct {
	ID          string
	VideoTracks []RemoteTrack
	AudioTracks []RemoteTrack
}

// FirstVideo returns the first video track, or nil.
func (s *MediaStream) FirstVideo() RemoteTrack {
	if s == nil || len(s.VideoTracks) == 0 {
		return nil
	}
	return s.VideoTracks[0]
}

// LocalStream is the outbound media attached to a connection.
type LocalStream interface {
	ID() string
	Close() error
}

// Observer receives connection lifecycle events.
type Observer interface {
	OnSignalingChange(SignalingState)
	OnICEConnectionChange(ICEConnectionState)
	OnICEGatheringChange(ICEGatheringState)
	OnICECandidate(ICECandidate)
	OnAddStream(*MediaStream)
	OnAddTrack(RemoteTrack)
	OnDataChannel(label string)
	OnRenegotiationNeeded()
}

// PeerInfo is the self-description a remote peer sends once connected.
type PeerInfo struct {
	Name     string
	Version  string
	Platform string
}

// PeerInfoObserver is an optional Observer extension for engines that
// exchange PeerInfo.
type PeerInfoObserver interface {
	OnPeerInfo(PeerInfo)
}

// SDPObserver receives the outcome of one create or set request.
type SDPObserver interface {
	OnCreateSuccess(SessionDescription)
	OnCreateFailure(error)
	OnSetSuccess()
	OnSetFailure(error)
}

// Connection is one peer-to-peer transport connection.
type Connection interface {
	AddStream(LocalStream) error
	RemoveStream(LocalStream) error
	CreateOffer(Constraints, SDPObserver)
	CreateAnswer(Constraints, SDPObserver)
	SetLocalDescription(SDPObserver, SessionDescription)
	SetRemoteDescription(SDPObserver, SessionDescription)

	// AddICECandidate accepts a remote candidate at any time. Candidates
	// arriving before the remote description are held until it is applied.
	AddICECandidate(ICECandidate) error

	Close() error
}

// Engine creates connections and local streams.
type Engine interface {
	NewLocalStream(label string) (LocalStream, error)
	NewConnection(servers []ICEServer, obs Observer) (Connection, error)
}
