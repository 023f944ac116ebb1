package orchestrator

import (
	"errors"
	"fmt"

	"github.com/monkey1992/XyWebRTC/internal/signaling"
)

var (
	// ErrSetupFailed wraps a failure to build the stream or connection for a
	// peer. The peer is not registered.
	ErrSetupFailed = errors.New("peer setup failed")

	// ErrUnknownPeer reports an answer or candidate from a peer without a
	// record.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrUnexpected reports a description that does not fit the record state.
	ErrUnexpected = errors.New("unexpected description")
)

// NegotiationError is a failed step of an offer/answer round.
type NegotiationError struct {
	Op   string
	Peer signaling.PeerID
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("%s for peer %s: %v", e.Op, e.Peer, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}
