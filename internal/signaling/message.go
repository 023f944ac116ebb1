package signaling

import "encoding/json"

// PeerID identifies one participant of a room. It is assigned by the
// rendezvous server and is the correlation key for all per-peer state.
type PeerID string

// Frame is one websocket text message between client and server.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Room control and relay events.
const (
	// Client to server
	EventCreateOrJoin = "create or join"

	// Server to client
	EventCreated = "created"
	EventJoined  = "joined"
	EventFull    = "full"
	EventJoin    = "join"
	EventLog     = "log"

	// Both directions
	EventMessage = "message"
	EventBye     = "bye"
)

// Envelope types carried by EventMessage.
const (
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
)

// Membership is the payload of EventCreated and EventJoined.
type Membership struct {
	Room string `json:"room"`
	ID   PeerID `json:"id"`
}

// Envelope is a negotiation message relayed between peers.
// Offer and answer carry SDP; candidate carries Label, ID and Candidate.
type Envelope struct {
	Type string `json:"type"`
	SDP  string `json:"sdp,omitempty"`

	// Label is the media-line index of a candidate. A pointer so that
	// index 0 is still written on the wire.
	Label     *int   `json:"label,omitempty"`
	ID        string `json:"id,omitempty"`
	Candidate string `json:"candidate,omitempty"`

	From PeerID `json:"from,omitempty"`
	To   PeerID `json:"to,omitempty"`
}

// NewDescription builds an offer or answer envelope addressed to peer.
func NewDescription(typ, sdp string, to PeerID) Envelope {
	return Envelope{Type: typ, SDP: sdp, To: to}
}

// NewCandidate builds a candidate envelope addressed to peer.
func NewCandidate(label int, mid, candidate string, to PeerID) Envelope {
	return Envelope{
		Type:      TypeCandidate,
		Label:     &label,
		ID:        mid,
		Candidate: candidate,
		To:        to,
	}
}

// MLineIndex returns the candidate media-line index, 0 when absent.
func (e *Envelope) MLineIndex() int {
	if e.Label == nil {
		return 0
	}
	return *e.Label
}

// NewFrame marshals v as the data of an event frame.
func NewFrame(event string, v any) (*Frame, error) {
	if v == nil {
		return &Frame{Event: event}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Frame{Event: event, Data: data}, nil
}

// Decode unmarshals the frame data into v.
func (f *Frame) Decode(v any) error {
	return json.Unmarshal(f.Data, v)
}
