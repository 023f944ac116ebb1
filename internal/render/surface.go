package render

import (
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/monkey1992/XyWebRTC/internal/engine"
	"github.com/rs/zerolog"
)

// KeyFrameInterval is how often an attached track is asked for a key frame.
const KeyFrameInterval = 3 * time.Second

// Surface maps peers to the sink showing their video. Attach, Detach and
// Close must only be called on the render Context; the packet pumps run on
// their own goroutines.
type Surface struct {
	factory SinkFactory
	log     zerolog.Logger

	attached map[string]*attachment
}

type attachment struct {
	track engine.RemoteTrack
	done  chan struct{}

	mu     sync.Mutex
	sink   Sink
	closed bool
}

func NewSurface(factory SinkFactory, log zerolog.Logger) *Surface {
	if factory == nil {
		factory = DiscardSinks
	}
	return &Surface{
		factory:  factory,
		log:      log,
		attached: make(map[string]*attachment),
	}
}

// Attach provisions a sink for peer and starts pumping track into it. A peer
// keeps its first track; later calls report false.
func (s *Surface) Attach(peer string, track engine.RemoteTrack) bool {
	if _, ok := s.attached[peer]; ok {
		return false
	}
	sink, err := s.factory(peer, track.MimeType())
	if err != nil {
		s.log.Error().Err(err).Str("peer", peer).Msg("create sink")
		return false
	}

	a := &attachment{track: track, sink: sink, done: make(chan struct{})}
	s.attached[peer] = a
	s.log.Info().Str("peer", peer).Str("track", track.ID()).Str("codec", track.MimeType()).Msg("video attached")

	go a.pump(s.log.With().Str("peer", peer).Logger())
	go a.requestKeyFrames()
	return true
}

// Detach releases the sink of peer, if any.
func (s *Surface) Detach(peer string) {
	a, ok := s.attached[peer]
	if !ok {
		return
	}
	delete(s.attached, peer)
	if err := a.close(); err != nil {
		s.log.Warn().Err(err).Str("peer", peer).Msg("close sink")
	}
	s.log.Info().Str("peer", peer).Msg("video detached")
}

func (s *Surface) Attached(peer string) bool {
	_, ok := s.attached[peer]
	return ok
}

// Peers returns the attached peers, sorted.
func (s *Surface) Peers() []string {
	out := make([]string, 0, len(s.attached))
	for p := range s.attached {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Close detaches every peer.
func (s *Surface) Close() {
	for _, p := range s.Peers() {
		s.Detach(p)
	}
}

func (a *attachment) pump(log zerolog.Logger) {
	for {
		pkt, err := a.track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Msg("track read stopped")
			}
			return
		}

		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return
		}
		err = a.sink.WriteRTP(pkt)
		a.mu.Unlock()
		if err != nil {
			log.Warn().Err(err).Msg("sink write")
			return
		}
	}
}

func (a *attachment) requestKeyFrames() {
	if err := a.track.RequestKeyFrame(); err != nil {
		return
	}
	ticker := time.NewTicker(KeyFrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			if err := a.track.RequestKeyFrame(); err != nil {
				return
			}
		}
	}
}

func (a *attachment) close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.done)
	return a.sink.Close()
}
