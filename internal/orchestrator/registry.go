package orchestrator

import (
	"sort"
	"sync"

	"github.com/monkey1992/XyWebRTC/internal/signaling"
)

// Registry maps peers to their records. It is the only place a record is
// looked up from.
type Registry struct {
	mu      sync.Mutex
	records map[signaling.PeerID]*Record
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[signaling.PeerID]*Record)}
}

// GetOrCreate returns the record of peer, calling create under the registry
// lock when there is none. Concurrent calls for one peer create at most one
// record. A create error leaves the registry unchanged.
func (r *Registry) GetOrCreate(peer signaling.PeerID, create func() (*Record, error)) (*Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[peer]; ok {
		return rec, false, nil
	}
	rec, err := create()
	if err != nil {
		return nil, false, err
	}
	r.records[peer] = rec
	return rec, true, nil
}

// Get looks up the record of peer without creating one.
func (r *Registry) Get(peer signaling.PeerID) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[peer]
	return rec, ok
}

// Contains reports whether rec is still the registered record of its peer.
func (r *Registry) Contains(rec *Record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[rec.Peer] == rec
}

// Remove unregisters the record of peer and returns it. The caller owns
// releasing its connection and stream.
func (r *Registry) Remove(peer signaling.PeerID) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[peer]
	if ok {
		delete(r.records, peer)
	}
	return rec, ok
}

// Len returns the number of registered records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Drain removes and returns every record.
func (r *Registry) Drain() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	r.records = make(map[signaling.PeerID]*Record)
	return out
}

// Snapshot returns the state of every record, sorted by peer.
func (r *Registry) Snapshot() []PeerState {
	r.mu.Lock()
	recs := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.Unlock()

	out := make([]PeerState, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}
