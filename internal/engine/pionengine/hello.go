package pionengine

import (
	"github.com/monkey1992/XyWebRTC/internal/engine"
	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	helloLabel     = "hello"
	helloChannelID = uint16(0)

	messageHello = "hello"
)

// message is the data channel envelope.
type message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

type helloPayload struct {
	Name     string `msgpack:"name"`
	Version  string `msgpack:"version"`
	Platform string `msgpack:"platform"`
}

func newMessage(t string, payload any) ([]byte, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(message{Type: t, Payload: b})
}

func (m message) decodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// openHello creates the pre-negotiated hello channel. Both sides create it
// with the same id, so no in-band announcement is needed; each side sends
// its PeerInfo once the channel opens.
func (c *connection) openHello(self engine.PeerInfo) error {
	negotiated := true
	id := helloChannelID
	dc, err := c.pc.CreateDataChannel(helloLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		return err
	}

	dc.OnOpen(func() {
		b, err := newMessage(messageHello, helloPayload{
			Name:     self.Name,
			Version:  self.Version,
			Platform: self.Platform,
		})
		if err != nil {
			c.log.Error().Err(err).Msg("encode hello")
			return
		}
		if err := dc.Send(b); err != nil {
			c.log.Warn().Err(err).Msg("send hello")
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		var m message
		if err := msgpack.Unmarshal(msg.Data, &m); err != nil {
			c.log.Warn().Err(err).Msg("bad data channel message")
			return
		}
		if m.Type != messageHello {
			c.log.Debug().Str("type", m.Type).Msg("ignoring data channel message")
			return
		}

		var h helloPayload
		if err := m.decodePayload(&h); err != nil {
			c.log.Warn().Err(err).Msg("bad hello payload")
			return
		}
		info := engine.PeerInfo{Name: h.Name, Version: h.Version, Platform: h.Platform}
		c.log.Info().Str("name", info.Name).Str("version", info.Version).Str("platform", info.Platform).Msg("peer hello")

		if po, ok := c.obs.(engine.PeerInfoObserver); ok {
			c.events.Push(func() { po.OnPeerInfo(info) })
		}
	})

	return nil
}
