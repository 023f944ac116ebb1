// Package session wires one room membership together: configuration,
// signaling client, media engine, orchestrator and display.
package session

import (
	"context"
	"errors"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/monkey1992/XyWebRTC/internal/config"
	"github.com/monkey1992/XyWebRTC/internal/dns"
	"github.com/monkey1992/XyWebRTC/internal/engine"
	"github.com/monkey1992/XyWebRTC/internal/engine/pionengine"
	"github.com/monkey1992/XyWebRTC/internal/logging"
	"github.com/monkey1992/XyWebRTC/internal/orchestrator"
	"github.com/monkey1992/XyWebRTC/internal/render"
	"github.com/monkey1992/XyWebRTC/internal/signaling"
	"github.com/monkey1992/XyWebRTC/internal/source"
	"github.com/monkey1992/XyWebRTC/internal/ui"
	"github.com/monkey1992/XyWebRTC/internal/version"
	"github.com/rs/zerolog"
)

type Options struct {
	Logger zerolog.Logger

	// Out receives the room banner and the exit summary. Nil discards them.
	Out io.Writer

	// Headless replaces the terminal status view with a plain render loop.
	Headless bool

	// Loopback gathers loopback candidates, for peers on one machine.
	Loopback bool

	// Name announced to peers. Defaults to the hostname.
	Name string
}

// Session is one membership of one room.
type Session struct {
	cfg  *config.Config
	opts Options
	log  zerolog.Logger

	video  *source.Fanout
	orch   *orchestrator.Orchestrator
	client *signaling.Client

	surface *render.Surface
	status  *ui.Status
	loop    *render.Loop
	stop    context.CancelFunc
	stopped chan struct{}

	full    chan string
	started time.Time
	once    sync.Once
}

// New builds a session. Nothing touches the network until Start.
func New(cfg *config.Config, opts Options) (*Session, error) {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Name == "" {
		opts.Name, _ = os.Hostname()
	}
	s := &Session{
		cfg:   cfg,
		opts:  opts,
		log:   logging.Module(opts.Logger, "session"),
		video: source.NewFanout(),
		full:  make(chan string, 1),
	}

	eng, err := pionengine.New(pionengine.Options{
		Logger: opts.Logger,
		Video:  s.video,
		Hello: &engine.PeerInfo{
			Name:     opts.Name,
			Version:  version.Version,
			Platform: runtime.GOOS + "/" + runtime.GOARCH,
		},
		ForceRelay: cfg.ForceRelay,
		Loopback:   opts.Loopback,
	})
	if err != nil {
		return nil, NewError("create media engine", err)
	}

	var rc render.Context
	var onChange func(orchestrator.PeerState)
	if opts.Headless {
		s.loop = render.NewLoop()
		rc = s.loop
	} else {
		s.status = ui.NewStatus(cfg.Room)
		rc = s.status
		onChange = s.status.Peer
	}
	s.surface = render.NewSurface(render.IVFSinks(cfg.RecordDir), logging.Module(opts.Logger, "render"))

	s.orch, err = orchestrator.New(orchestrator.Options{
		Engine: eng,
		Signaling: orchestrator.SenderFunc(func(env signaling.Envelope) error {
			return s.client.Send(env)
		}),
		ICEServers: cfg.ICEServers(),
		Render:     rc,
		Surface:    s.surface,
		Logger:     opts.Logger,
		OnChange:   onChange,
	})
	if err != nil {
		return nil, NewError("create orchestrator", err)
	}

	s.client = signaling.NewClient(signaling.Options{
		URL:      cfg.Server,
		Insecure: cfg.TLSMode == config.TLSInsecure,
		CAFile:   cfg.CAFile,
		Resolver: dns.NewResolver(),
		Logger:   opts.Logger,
	}, &roomEvents{Orchestrator: s.orch, s: s})
	return s, nil
}

// Start begins the display, the local video source and the room join.
func (s *Session) Start(ctx context.Context) error {
	s.started = time.Now()

	rctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.stopped = make(chan struct{})
	if s.loop != nil {
		go func() {
			defer close(s.stopped)
			s.loop.Run(rctx)
		}()
	} else {
		s.status.Start()
		go func() {
			defer close(s.stopped)
			select {
			case <-rctx.Done():
				s.status.Stop()
			case <-s.status.Done():
			}
		}()
	}

	if s.cfg.VideoFile != "" {
		go func() {
			err := source.PlayIVF(rctx, s.cfg.VideoFile, s.video, s.log)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error().Err(err).Str("file", s.cfg.VideoFile).Msg("local video stopped")
			}
		}()
	}

	if err := s.client.Join(ctx, s.cfg.Room); err != nil {
		return WrapError("join room", err, s.cfg.Server)
	}
	return nil
}

// Wait blocks until ctx ends, the user quits, the room is full or the
// server goes away.
func (s *Session) Wait(ctx context.Context) error {
	var quit <-chan struct{}
	if s.status != nil {
		quit = s.status.Done()
	}
	select {
	case <-ctx.Done():
		return nil
	case <-quit:
		return nil
	case room := <-s.full:
		return WrapError("join room", ErrRoomFull, room)
	case <-s.client.Done():
		return NewError("signaling", ErrServerClosed)
	}
}

// Close leaves the room, releases every peer and prints the summary.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		if lerr := s.client.Leave(); lerr != nil {
			s.log.Debug().Err(lerr).Msg("leave")
		}
		err = s.orch.Close()

		if s.stop != nil {
			s.stop()
			<-s.stopped
		}
		// The render context is gone; the surface is ours now.
		s.surface.Close()

		var d time.Duration
		if !s.started.IsZero() {
			d = time.Since(s.started)
		}
		self, room := s.orch.Self()
		ui.RenderSummary(s.opts.Out, ui.SessionSummary{
			Room:     room,
			Self:     string(self),
			Duration: d,
			Peers:    s.orch.History(),
		})
	})
	return err
}

// Snapshot lists the live peers.
func (s *Session) Snapshot() []orchestrator.PeerState {
	return s.orch.Snapshot()
}

// Run starts a session and blocks until it ends.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	s, err := New(cfg, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.Wait(ctx)
}

// roomEvents adds session reactions on top of the orchestrator.
type roomEvents struct {
	*orchestrator.Orchestrator
	s *Session
}

func (r *roomEvents) OnCreated(room string, self signaling.PeerID) {
	r.Orchestrator.OnCreated(room, self)
	r.announce(room, self, true)
}

func (r *roomEvents) OnJoined(room string, self signaling.PeerID) {
	r.Orchestrator.OnJoined(room, self)
	r.announce(room, self, false)
}

func (r *roomEvents) announce(room string, self signaling.PeerID, created bool) {
	if st := r.s.status; st != nil {
		st.SetRoom(room, self)
		if created {
			st.SetState("Room created, waiting for peers")
		} else {
			st.SetState("Joined room")
		}
		return
	}
	io.WriteString(r.s.opts.Out, ui.RoomBox(room, string(self), created)+"\n")
}

func (r *roomEvents) OnFull(room string) {
	r.Orchestrator.OnFull(room)
	select {
	case r.s.full <- room:
	default:
	}
}

func (r *roomEvents) OnLog(lines []string) {
	r.Orchestrator.OnLog(lines)
	if st := r.s.status; st != nil && len(lines) > 0 {
		st.SetState(lines[len(lines)-1])
	}
}
