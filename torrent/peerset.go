// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package torrent

import (
	"sync"

	"github.com/yoep/torrent-engine/core"
	"github.com/yoep/torrent-engine/peer"
)

// PeerSet tracks every connected peer session for one torrent. Reads (stats
// snapshots, iteration for piece selection) vastly outnumber writes (a
// session opening or closing), so it is guarded by a read-mostly lock
// rather than serialized through a single owner goroutine.
type PeerSet struct {
	mu    sync.RWMutex
	peers map[core.PeerID]*peer.Session
}

// NewPeerSet returns an empty set.
func NewPeerSet() *PeerSet {
	return &PeerSet{peers: make(map[core.PeerID]*peer.Session)}
}

// Add registers s under its remote peer id, replacing any prior session for
// the same id.
func (p *PeerSet) Add(s *peer.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peers[s.RemotePeerID()] = s
}

// Remove drops id from the set. A no-op if id isn't present.
func (p *PeerSet) Remove(id core.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.peers, id)
}

// Get returns the session for id, if connected.
func (p *PeerSet) Get(id core.PeerID) (*peer.Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.peers[id]
	return s, ok
}

// Len returns the number of connected peers.
func (p *PeerSet) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.peers)
}

// Range calls f for every connected session, in no particular order. f must
// not call back into the PeerSet.
func (p *PeerSet) Range(f func(s *peer.Session)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.peers {
		f(s)
	}
}

// Snapshot returns the peer ids currently connected.
func (p *PeerSet) Snapshot() []core.PeerID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]core.PeerID, 0, len(p.peers))
	for id := range p.peers {
		ids = append(ids, id)
	}
	return ids
}
