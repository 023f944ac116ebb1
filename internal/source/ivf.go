package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/rs/zerolog"
)

var ErrUnsupportedCodec = errors.New("unsupported ivf codec")

const defaultFrameDuration = time.Second / 30

// PlayIVF loops a VP8 IVF file into w at the file's frame rate until ctx is
// cancelled.
func PlayIVF(ctx context.Context, path string, w SampleWriter, log zerolog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open video file: %w", err)
	}
	defer f.Close()

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("read ivf header: %w", err)
	}
	if header.FourCC != "VP80" {
		return fmt.Errorf("%w: %s", ErrUnsupportedCodec, header.FourCC)
	}

	frameDuration := defaultFrameDuration
	if header.TimebaseDenominator != 0 && header.TimebaseNumerator != 0 {
		frameDuration = time.Duration(int64(time.Second) * int64(header.TimebaseNumerator) / int64(header.TimebaseDenominator))
	}

	log.Info().
		Str("file", path).
		Uint16("width", header.Width).
		Uint16("height", header.Height).
		Dur("frame", frameDuration).
		Msg("playing local video")

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewind video file: %w", err)
			}
			if reader, _, err = ivfreader.NewWith(f); err != nil {
				return fmt.Errorf("read ivf header: %w", err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("read ivf frame: %w", err)
		}

		if err := w.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			log.Debug().Err(err).Msg("write local sample")
		}
	}
}
