package orchestrator

import (
	"sync"

	"github.com/monkey1992/XyWebRTC/internal/engine"
	"github.com/monkey1992/XyWebRTC/internal/signaling"
)

// State is the negotiation state of one peer.
type State int

const (
	Unbound State = iota
	OfferSent
	AnswerReceived
	OfferReceived
	AnswerSent
	Stable
	Leaving
)

var stateNames = [...]string{
	Unbound:        "unbound",
	OfferSent:      "offer-sent",
	AnswerReceived: "answer-received",
	OfferReceived:  "offer-received",
	AnswerSent:     "answer-sent",
	Stable:         "stable",
	Leaving:        "leaving",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// transitions lists the legal moves. Leaving is reachable from every state
// and is terminal.
var transitions = map[State][]State{
	Unbound:        {OfferSent, OfferReceived},
	OfferSent:      {AnswerReceived},
	AnswerReceived: {Stable},
	OfferReceived:  {AnswerSent},
	AnswerSent:     {Stable},
	Stable:         {OfferSent, OfferReceived},
}

func canTransition(from, to State) bool {
	if from == Leaving {
		return false
	}
	if to == Leaving {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Record is the per-peer connection state. Peer, Conn and Stream never change
// after creation.
type Record struct {
	Peer   signaling.PeerID
	Conn   engine.Connection
	Stream engine.LocalStream

	mu    sync.Mutex
	state State
	ice   engine.ICEConnectionState
	info  engine.PeerInfo
	err   error
}

func newRecord(peer signaling.PeerID, conn engine.Connection, stream engine.LocalStream) *Record {
	return &Record{Peer: peer, Conn: conn, Stream: stream, ice: engine.ICENew}
}

func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// transition moves the record from one of from to to.
func (r *Record) transition(to State, from ...State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(from) > 0 {
		ok := false
		for _, s := range from {
			if r.state == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !canTransition(r.state, to) {
		return false
	}
	r.state = to
	return true
}

func (r *Record) setICE(s engine.ICEConnectionState) {
	r.mu.Lock()
	r.ice = s
	r.mu.Unlock()
}

func (r *Record) setInfo(info engine.PeerInfo) {
	r.mu.Lock()
	r.info = info
	r.mu.Unlock()
}

func (r *Record) fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// PeerState is a read-only view of a Record.
type PeerState struct {
	Peer  signaling.PeerID
	State State
	ICE   engine.ICEConnectionState
	Info  engine.PeerInfo
	Err   error
}

func (r *Record) snapshot() PeerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return PeerState{Peer: r.Peer, State: r.state, ICE: r.ice, Info: r.info, Err: r.err}
}
