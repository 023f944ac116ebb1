package pionengine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/monkey1992/XyWebRTC/internal/source"
	"github.com/pion/webrtc/v4"
)

// LocalStream is a video and an audio track sharing one stream id.
type LocalStream struct {
	id    string
	Video *webrtc.TrackLocalStaticSample
	Audio *webrtc.TrackLocalStaticSample

	release func()
	once    sync.Once
}

func newLocalStream(label string, video *source.Fanout) (*LocalStream, error) {
	streamID := label + "-" + uuid.NewString()

	v, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	a, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	s := &LocalStream{id: streamID, Video: v, Audio: a}
	if video != nil {
		s.release = video.Add(v)
	}
	return s, nil
}

func (s *LocalStream) ID() string { return s.id }

// Close detaches the stream from the local video source.
func (s *LocalStream) Close() error {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
	return nil
}

func (s *LocalStream) tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.Video, s.Audio}
}
