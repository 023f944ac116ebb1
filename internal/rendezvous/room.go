package rendezvous

import (
	"sort"
	"time"

	"github.com/monkey1992/XyWebRTC/internal/signaling"
)

// Room is a named group of peers relaying negotiation messages to each other.
type Room struct {
	Name    string
	Created time.Time

	members map[signaling.PeerID]*Client
}

func newRoom(name string) *Room {
	return &Room{
		Name:    name,
		Created: time.Now(),
		members: make(map[signaling.PeerID]*Client),
	}
}

func (r *Room) add(c *Client) {
	r.members[c.ID] = c
	c.Room = r.Name
}

func (r *Room) remove(c *Client) {
	delete(r.members, c.ID)
	c.Room = ""
}

func (r *Room) size() int { return len(r.members) }

// others returns every member except id, in stable order.
func (r *Room) others(id signaling.PeerID) []*Client {
	out := make([]*Client, 0, len(r.members))
	for pid, c := range r.members {
		if pid != id {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RoomInfo is the public view of a room.
type RoomInfo struct {
	Name    string             `json:"name"`
	Peers   []signaling.PeerID `json:"peers"`
	Created time.Time          `json:"created"`
}

func (r *Room) info() RoomInfo {
	peers := make([]signaling.PeerID, 0, len(r.members))
	for id := range r.members {
		peers = append(peers, id)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return RoomInfo{Name: r.Name, Peers: peers, Created: r.Created}
}
