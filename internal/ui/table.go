package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/monkey1992/XyWebRTC/internal/orchestrator"
)

// SessionSummary is printed when a room session ends.
type SessionSummary struct {
	Room     string
	Self     string
	Duration time.Duration
	Peers    []orchestrator.PeerState
}

func SummaryView(s SessionSummary) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.SetTitle(fmt.Sprintf("Room %s (%s)", s.Room, s.Duration.Round(time.Second)))
	t.AppendHeader(table.Row{"#", "Peer", "Name", "Platform", "State", "ICE", "Error"})

	for i, ps := range s.Peers {
		errMsg := ""
		if ps.Err != nil {
			errMsg = text.Trim(ps.Err.Error(), 40)
		}
		t.AppendRow(table.Row{
			i + 1,
			ps.Peer,
			ps.Info.Name,
			ps.Info.Platform,
			ps.State.String(),
			string(ps.ICE),
			errMsg,
		})
	}
	if len(s.Peers) == 0 {
		t.AppendRow(table.Row{"", "no peers", "", "", "", "", ""})
	}
	t.AppendFooter(table.Row{"", "self", s.Self})
	return t.Render()
}

func RenderSummary(w io.Writer, s SessionSummary) {
	fmt.Fprintln(w, SummaryView(s))
}
