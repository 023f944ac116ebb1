package render

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/monkey1992/XyWebRTC/internal/engine/enginetest"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu      sync.Mutex
	packets []*rtp.Packet
	closed  bool
}

func (m *memorySink) WriteRTP(p *rtp.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packets = append(m.packets, p)
	return nil
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.packets)
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(stopped)
	}()

	var got []int
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	require.True(t, l.Post(func() { close(done) }))
	<-done
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)

	cancel()
	<-stopped
	assert.False(t, l.Post(func() {}))
}

func TestSurfaceAttachPumpsPackets(t *testing.T) {
	sinks := map[string]*memorySink{}
	s := NewSurface(func(peer, _ string) (Sink, error) {
		m := &memorySink{}
		sinks[peer] = m
		return m, nil
	}, zerolog.Nop())

	track := enginetest.NewVideoTrack("v", "s",
		&rtp.Packet{Header: rtp.Header{SequenceNumber: 1}},
		&rtp.Packet{Header: rtp.Header{SequenceNumber: 2}},
	)
	require.True(t, s.Attach("peer-a", track))
	assert.False(t, s.Attach("peer-a", enginetest.NewVideoTrack("v2", "s")), "first track wins")
	assert.True(t, s.Attached("peer-a"))
	assert.Equal(t, []string{"peer-a"}, s.Peers())

	assert.Eventually(t, func() bool { return sinks["peer-a"].count() == 2 }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return track.KeyFrameRequests() >= 1 }, time.Second, 10*time.Millisecond)

	s.Detach("peer-a")
	assert.False(t, s.Attached("peer-a"))
	assert.True(t, sinks["peer-a"].closed)
	s.Detach("peer-a")
}

func TestSurfaceClose(t *testing.T) {
	s := NewSurface(nil, zerolog.Nop())
	require.True(t, s.Attach("a", enginetest.NewVideoTrack("1", "s")))
	require.True(t, s.Attach("b", enginetest.NewVideoTrack("2", "s")))
	s.Close()
	assert.Empty(t, s.Peers())
}

func TestIVFSinks(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rec")
	factory := IVFSinks(dir)

	sink, err := factory("peer/1", "video/VP8")
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	b, err := os.ReadFile(filepath.Join(dir, "peer_1.ivf"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(b), 4)
	assert.Equal(t, "DKIF", string(b[:4]))

	sink, err = factory("peer-2", "audio/opus")
	require.NoError(t, err)
	assert.IsType(t, Discard{}, sink)

	sink, err = IVFSinks("")("peer-3", "video/VP8")
	require.NoError(t, err)
	assert.IsType(t, Discard{}, sink)
}
