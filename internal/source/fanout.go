// Package source feeds local media samples into the outbound tracks of every
// live connection.
package source

import (
	"errors"
	"io"
	"sync"

	"github.com/pion/webrtc/v4/pkg/media"
)

// SampleWriter accepts encoded media samples, typically a
// *webrtc.TrackLocalStaticSample.
type SampleWriter interface {
	WriteSample(media.Sample) error
}

// Fanout copies every sample to all registered writers.
type Fanout struct {
	mu      sync.RWMutex
	writers map[int]SampleWriter
	next    int
}

func NewFanout() *Fanout {
	return &Fanout{writers: make(map[int]SampleWriter)}
}

// Add registers w and returns a func that unregisters it.
func (f *Fanout) Add(w SampleWriter) (remove func()) {
	f.mu.Lock()
	id := f.next
	f.next++
	f.writers[id] = w
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.writers, id)
			f.mu.Unlock()
		})
	}
}

func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.writers)
}

// WriteSample writes s to every writer. A writer whose track is no longer
// bound to a connection is not an error.
func (f *Fanout) WriteSample(s media.Sample) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var errs []error
	for _, w := range f.writers {
		if err := w.WriteSample(s); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
