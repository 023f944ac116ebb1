package session

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/monkey1992/XyWebRTC/internal/config"
	"github.com/monkey1992/XyWebRTC/internal/engine"
	"github.com/monkey1992/XyWebRTC/internal/orchestrator"
	"github.com/monkey1992/XyWebRTC/internal/rendezvous"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRendezvous(t *testing.T, capacity int) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := rendezvous.NewHub(capacity, zerolog.Nop())
	go hub.Run(ctx)
	srv := httptest.NewServer(rendezvous.NewRouter(hub))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func testConfig(server string) *config.Config {
	return &config.Config{
		Server:  server,
		Room:    "OldPlace",
		TLSMode: config.TLSVerify,
	}
}

func newHeadless(t *testing.T, cfg *config.Config, name string, out *bytes.Buffer) *Session {
	t.Helper()
	s, err := New(cfg, Options{Logger: zerolog.Nop(), Out: out, Headless: true, Loopback: true, Name: name})
	require.NoError(t, err)
	return s
}

func connected(s *Session) bool {
	snap := s.Snapshot()
	if len(snap) != 1 {
		return false
	}
	ps := snap[0]
	return ps.State == orchestrator.Stable && (ps.ICE == engine.ICEConnected || ps.ICE == engine.ICECompleted)
}

func TestTwoSessionsConnect(t *testing.T) {
	server := startRendezvous(t, 2)
	ctx := context.Background()

	var outA, outB bytes.Buffer
	a := newHeadless(t, testConfig(server), "alice", &outA)
	require.NoError(t, a.Start(ctx))
	b := newHeadless(t, testConfig(server), "bob", &outB)
	require.NoError(t, b.Start(ctx))

	require.Eventually(t, func() bool { return connected(a) && connected(b) }, 20*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool {
		snap := a.Snapshot()
		return len(snap) == 1 && snap[0].Info.Name == "bob"
	}, 20*time.Second, 50*time.Millisecond)

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool { return len(a.Snapshot()) == 0 }, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, a.Close())

	assert.Contains(t, outA.String(), "Room Created")
	assert.Contains(t, outB.String(), "Room Joined")
	assert.Contains(t, outA.String(), "bob")
}

func TestFullRoomEndsSession(t *testing.T) {
	server := startRendezvous(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	a := newHeadless(t, testConfig(server), "alice", &out)
	require.NoError(t, a.Start(ctx))
	defer a.Close()

	b := newHeadless(t, testConfig(server), "bob", &out)
	require.NoError(t, b.Start(ctx))
	defer b.Close()

	err := b.Wait(ctx)
	require.ErrorIs(t, err, ErrRoomFull)
	var serr *Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "join room", serr.Op)
}

func TestJoinFailure(t *testing.T) {
	s := newHeadless(t, testConfig("ws://127.0.0.1:1/ws"), "x", &bytes.Buffer{})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "join room")
}

func TestServerGoneEndsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := rendezvous.NewHub(2, zerolog.Nop())
	go hub.Run(ctx)
	srv := httptest.NewServer(rendezvous.NewRouter(hub))
	defer srv.Close()

	s := newHeadless(t, testConfig("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws"), "x", &bytes.Buffer{})
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()
	require.Eventually(t, func() bool {
		self, _ := s.orch.Self()
		return self != ""
	}, 5*time.Second, 10*time.Millisecond)

	// Stopping the hub closes every member's send channel, which ends the
	// websocket from the server side.
	cancel()

	wctx, wcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer wcancel()
	assert.ErrorIs(t, s.Wait(wctx), ErrServerClosed)
}
