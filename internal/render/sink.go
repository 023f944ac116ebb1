package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
)

// Sink consumes the RTP packets of one remote video track.
type Sink interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// SinkFactory provisions a sink for a peer's track.
type SinkFactory func(peer, mimeType string) (Sink, error)

// Discard drops every packet.
type Discard struct{}

func (Discard) WriteRTP(*rtp.Packet) error { return nil }
func (Discard) Close() error               { return nil }

// DiscardSinks is a SinkFactory returning Discard.
func DiscardSinks(string, string) (Sink, error) {
	return Discard{}, nil
}

// IVFSinks writes VP8 tracks to dir/<peer>.ivf. Other codecs are discarded.
// An empty dir discards everything.
func IVFSinks(dir string) SinkFactory {
	if dir == "" {
		return DiscardSinks
	}
	return func(peer, mimeType string) (Sink, error) {
		if !strings.EqualFold(mimeType, webrtc.MimeTypeVP8) {
			return Discard{}, nil
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create record dir: %w", err)
		}
		w, err := ivfwriter.New(filepath.Join(dir, sanitize(peer)+".ivf"))
		if err != nil {
			return nil, fmt.Errorf("create ivf writer: %w", err)
		}
		return w, nil
	}
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
