package ui

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/monkey1992/XyWebRTC/internal/engine"
	"github.com/monkey1992/XyWebRTC/internal/orchestrator"
	"github.com/monkey1992/XyWebRTC/internal/signaling"
)

// Status is the live room view. It doubles as the render context: posted
// tasks run inside the program's Update, on its single goroutine.
type Status struct {
	program *tea.Program
	model   *statusModel
	updates chan tea.Msg
	started chan struct{}
	done    chan struct{}
	once    sync.Once
}

type (
	taskMsg  func()
	peerMsg  orchestrator.PeerState
	stateMsg string
	roomMsg  struct {
		room string
		self signaling.PeerID
	}
)

type statusModel struct {
	room    string
	self    signaling.PeerID
	state   string
	peers   map[signaling.PeerID]orchestrator.PeerState
	spinner spinner.Model
	started time.Time

	quitting bool
}

// NewStatus builds the status program. Options are passed to bubbletea, so
// tests can run it without a terminal.
func NewStatus(room string, opts ...tea.ProgramOption) *Status {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	m := &statusModel{
		room:    room,
		state:   "Connecting...",
		peers:   make(map[signaling.PeerID]orchestrator.PeerState),
		spinner: s,
		started: time.Now(),
	}
	return &Status{
		program: tea.NewProgram(m, opts...),
		model:   m,
		updates: make(chan tea.Msg, 256),
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs the program in a goroutine.
func (s *Status) Start() {
	go func() {
		defer close(s.done)
		close(s.started)
		if _, err := s.program.Run(); err != nil {
			PrintErrorf("UI error: %v", err)
		}
	}()
	go s.forward()
}

// forward delivers display updates in order without blocking their senders.
func (s *Status) forward() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.updates:
			s.program.Send(msg)
		}
	}
}

// Done is closed when the program exits, including when the user quits.
func (s *Status) Done() <-chan struct{} {
	return s.done
}

// Post implements render.Context.
func (s *Status) Post(f func()) bool {
	return s.send(taskMsg(f))
}

// Peer records a peer's new state. It never blocks; updates are dropped
// when the display falls far behind.
func (s *Status) Peer(ps orchestrator.PeerState) {
	s.update(peerMsg(ps))
}

func (s *Status) SetRoom(room string, self signaling.PeerID) {
	s.update(roomMsg{room: room, self: self})
}

func (s *Status) SetState(state string) {
	s.update(stateMsg(state))
}

func (s *Status) update(msg tea.Msg) {
	select {
	case s.updates <- msg:
	default:
	}
}

// Stop quits the program and waits for it to exit.
func (s *Status) Stop() {
	s.once.Do(func() {
		select {
		case <-s.started:
			s.program.Quit()
			<-s.done
		default:
		}
	})
}

func (s *Status) send(msg tea.Msg) bool {
	select {
	case <-s.started:
	default:
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	s.program.Send(msg)
	return true
}

func (m *statusModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	case taskMsg:
		msg()
	case peerMsg:
		m.peers[msg.Peer] = orchestrator.PeerState(msg)
	case roomMsg:
		m.room, m.self = msg.room, msg.self
	case stateMsg:
		m.state = string(msg)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *statusModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s %s  %s\n", IconRoom, TitleStyle.Render(m.room), MutedStyle.Render(string(m.self)))
	fmt.Fprintf(&b, "%s %s\n\n", m.spinner.View(), m.state)

	if len(m.peers) == 0 {
		b.WriteString(MutedStyle.Render(IconWaiting+" Waiting for peers") + "\n")
	}
	ids := make([]signaling.PeerID, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		ps := m.peers[id]
		name := string(id)
		if ps.Info.Name != "" {
			name = ps.Info.Name
		}
		fmt.Fprintf(&b, "  %s %-24s %-16s %s\n", peerIcon(ps), name, ps.State, iceStyle(ps.ICE))
		if ps.Err != nil {
			fmt.Fprintf(&b, "      %s\n", ErrorStyle.Render(ps.Err.Error()))
		}
	}

	fmt.Fprintf(&b, "\n%s", MutedStyle.Render(fmt.Sprintf("%s elapsed · press q to leave", time.Since(m.started).Round(time.Second))))
	return b.String()
}

func peerIcon(ps orchestrator.PeerState) string {
	switch {
	case ps.Err != nil:
		return IconError
	case ps.State == orchestrator.Leaving:
		return "○"
	case ps.State == orchestrator.Stable:
		return IconSuccess
	default:
		return IconConnect
	}
}

func iceStyle(s engine.ICEConnectionState) string {
	switch s {
	case engine.ICEConnected, engine.ICECompleted:
		return SuccessStyle.Render(string(s))
	case engine.ICEFailed:
		return ErrorStyle.Render(string(s))
	case engine.ICEDisconnected:
		return WarningStyle.Render(string(s))
	default:
		return MutedStyle.Render(string(s))
	}
}
