package signaling

import "github.com/rs/zerolog"

// Callback receives room events and negotiation messages. The client calls
// it from its single read goroutine, so calls never overlap and arrive in
// wire order.
type Callback interface {
	// OnCreated and OnJoined are the mutually exclusive outcomes of Join.
	OnCreated(room string, self PeerID)
	OnJoined(room string, self PeerID)

	// OnFull reports a rejected join. The client does not retry.
	OnFull(room string)

	OnPeerJoined(peer PeerID)
	OnPeerLeft(peer PeerID, reason string)

	OnOffer(env *Envelope)
	OnAnswer(env *Envelope)
	OnCandidate(env *Envelope)

	OnLog(lines []string)
}

// BaseCallback implements every Callback method by logging it. Embed it
// and override the events you care about.
type BaseCallback struct {
	Log zerolog.Logger
}

func (b BaseCallback) OnCreated(room string, self PeerID) {
	b.Log.Info().Str("room", room).Str("self", string(self)).Msg("room created")
}

func (b BaseCallback) OnJoined(room string, self PeerID) {
	b.Log.Info().Str("room", room).Str("self", string(self)).Msg("room joined")
}

func (b BaseCallback) OnFull(room string) {
	b.Log.Warn().Str("room", room).Msg("room full")
}

func (b BaseCallback) OnPeerJoined(peer PeerID) {
	b.Log.Debug().Str("peer", string(peer)).Msg("peer joined")
}

func (b BaseCallback) OnPeerLeft(peer PeerID, reason string) {
	b.Log.Debug().Str("peer", string(peer)).Str("reason", reason).Msg("peer left")
}

func (b BaseCallback) OnOffer(env *Envelope) {
	b.Log.Debug().Str("from", string(env.From)).Msg("offer")
}

func (b BaseCallback) OnAnswer(env *Envelope) {
	b.Log.Debug().Str("from", string(env.From)).Msg("answer")
}

func (b BaseCallback) OnCandidate(env *Envelope) {
	b.Log.Debug().Str("from", string(env.From)).Msg("candidate")
}

func (b BaseCallback) OnLog(lines []string) {
	b.Log.Debug().Strs("server", lines).Msg("server log")
}
