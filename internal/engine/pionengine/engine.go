// Package pionengine implements engine.Engine on top of pion/webrtc.
package pionengine

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/monkey1992/XyWebRTC/internal/engine"
	"github.com/monkey1992/XyWebRTC/internal/logging"
	"github.com/monkey1992/XyWebRTC/internal/source"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Options configures the engine.
type Options struct {
	Logger zerolog.Logger

	// Video receives the video track of every local stream. Nil leaves the
	// local video track silent.
	Video *source.Fanout

	// Hello is sent to each peer over a pre-negotiated data channel.
	// Nil disables the channel.
	Hello *engine.PeerInfo

	// ForceRelay restricts ICE to relay candidates when a TURN server is
	// configured. Relay is also forced automatically on VPN/CGNAT networks.
	ForceRelay bool

	// Loopback gathers loopback host candidates. Only useful for peers on
	// the same machine.
	Loopback bool
}

type Engine struct {
	api  *webrtc.API
	opts Options
	log  zerolog.Logger

	nextID atomic.Uint64
}

// New builds the pion API shared by all connections: default codecs and
// interceptors, with pion's own logs routed to zerolog.
func New(opts Options) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = logging.NewPionFactory(opts.Logger)
	if opts.Loopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	return &Engine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		),
		opts: opts,
		log:  logging.Module(opts.Logger, "engine"),
	}, nil
}

// NewLocalStream allocates one VP8 video and one Opus audio track.
func (e *Engine) NewLocalStream(label string) (engine.LocalStream, error) {
	s, err := newLocalStream(label, e.opts.Video)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewConnection creates a peer connection reporting to obs.
func (e *Engine) NewConnection(servers []engine.ICEServer, obs engine.Observer) (engine.Connection, error) {
	cfg := webrtc.Configuration{
		ICEServers:         toPionServers(servers),
		ICETransportPolicy: e.transportPolicy(servers),
	}

	pc, err := e.api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	id := e.nextID.Add(1)
	c := newConnection(pc, obs, e.log.With().Uint64("conn", id).Logger())

	if e.opts.Hello != nil {
		if err := c.openHello(*e.opts.Hello); err != nil {
			c.Close()
			return nil, fmt.Errorf("create hello channel: %w", err)
		}
	}
	return c, nil
}

func (e *Engine) transportPolicy(servers []engine.ICEServer) webrtc.ICETransportPolicy {
	hasTURN := false
	for _, s := range servers {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				hasTURN = true
			}
		}
	}
	if hasTURN && (e.opts.ForceRelay || relayOnlyNetwork()) {
		e.log.Info().Msg("forcing relay candidates")
		return webrtc.ICETransportPolicyRelay
	}
	return webrtc.ICETransportPolicyAll
}

func toPionServers(servers []engine.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}
