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

// Package pex implements BEP11 peer exchange: the "ut_pex" LTEP message
// that periodically tells each connected peer which addresses have been
// added or dropped since the last exchange.
package pex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/yoep/torrent-engine/bencode"
)

// gossipInterval is the minimum spacing between ut_pex messages sent to a
// single peer, per BEP11's "no more often than once per minute" guidance.
const gossipInterval = 60 * time.Second

// maxPeersPerMessage caps how many added/dropped peers are sent in a
// single exchange, matching common client behavior.
const maxPeersPerMessage = 50

// flagPrefersEncryption and flagIsSeed are ut_pex's per-peer flag bits,
// carried in the parallel "added.f" byte string.
const (
	flagPrefersEncryption byte = 1 << 0
	flagIsSeed            byte = 1 << 1
)

// Peer is a single gossiped peer contact and its advertised flags.
type Peer struct {
	Addr      *net.TCPAddr
	Seed      bool
	Encrypted bool
}

// wireMessage is the bencoded ut_pex payload (BEP11).
type wireMessage struct {
	Added      string `bencode:"added"`
	AddedFlags string `bencode:"added.f,omitempty"`
	Dropped    string `bencode:"dropped,omitempty"`
}

// EncodeMessage builds the bencoded ut_pex payload for added/dropped peer
// sets, both truncated to maxPeersPerMessage.
func EncodeMessage(added, dropped []Peer) ([]byte, error) {
	if len(added) > maxPeersPerMessage {
		added = added[:maxPeersPerMessage]
	}
	if len(dropped) > maxPeersPerMessage {
		dropped = dropped[:maxPeersPerMessage]
	}

	w := wireMessage{
		Added:      encodeCompactPeers(added),
		AddedFlags: encodeFlags(added),
		Dropped:    encodeCompactPeers(dropped),
	}

	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, w); err != nil {
		return nil, fmt.Errorf("pex: encode message: %s", err)
	}
	return buf.Bytes(), nil
}

// DecodeMessage parses a received ut_pex payload into added/dropped peer
// lists.
func DecodeMessage(raw []byte) (added, dropped []Peer, err error) {
	var w wireMessage
	if err := bencode.Unmarshal(bytes.NewReader(raw), &w); err != nil {
		return nil, nil, fmt.Errorf("pex: decode message: %s", err)
	}

	added, err = decodeCompactPeers(w.Added, w.AddedFlags)
	if err != nil {
		return nil, nil, fmt.Errorf("pex: decode added peers: %s", err)
	}
	dropped, err = decodeCompactPeers(w.Dropped, "")
	if err != nil {
		return nil, nil, fmt.Errorf("pex: decode dropped peers: %s", err)
	}
	return added, dropped, nil
}

func encodeCompactPeers(peers []Peer) string {
	buf := make([]byte, 0, len(peers)*6)
	for _, p := range peers {
		ip4 := p.Addr.IP.To4()
		if ip4 == nil {
			continue
		}
		buf = append(buf, ip4...)
		var portBuf [2]byte
		binary.BigEndian.PutUint16(portBuf[:], uint16(p.Addr.Port))
		buf = append(buf, portBuf[:]...)
	}
	return string(buf)
}

func encodeFlags(peers []Peer) string {
	buf := make([]byte, 0, len(peers))
	for _, p := range peers {
		var f byte
		if p.Encrypted {
			f |= flagPrefersEncryption
		}
		if p.Seed {
			f |= flagIsSeed
		}
		buf = append(buf, f)
	}
	return string(buf)
}

func decodeCompactPeers(addrs, flags string) ([]Peer, error) {
	const entryLen = 6
	b := []byte(addrs)
	if len(b)%entryLen != 0 {
		return nil, fmt.Errorf("compact peers length %d not a multiple of %d", len(b), entryLen)
	}

	f := []byte(flags)
	peers := make([]Peer, 0, len(b)/entryLen)
	for i := 0; i*entryLen < len(b); i++ {
		off := i * entryLen
		ip := net.IPv4(b[off], b[off+1], b[off+2], b[off+3])
		port := binary.BigEndian.Uint16(b[off+4 : off+6])
		p := Peer{Addr: &net.TCPAddr{IP: ip, Port: int(port)}}
		if i < len(f) {
			p.Encrypted = f[i]&flagPrefersEncryption != 0
			p.Seed = f[i]&flagIsSeed != 0
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// peerKey returns a dedup key for a peer address, hashed with murmur3 to
// keep the tracker's seen-set cheap for swarms with many short-lived
// connections.
func peerKey(addr *net.TCPAddr) uint32 {
	return murmur3.Sum32([]byte(addr.String()))
}

// Tracker maintains, for a single torrent, the set of peer addresses most
// recently gossiped. The set is shared by all connected peers, not kept per
// peer. Diff uses it to compute the added/dropped sets an exchange carries.
type Tracker struct {
	known map[uint32]Peer
}

// NewTracker builds an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{known: make(map[uint32]Peer)}
}

// Diff compares the current swarm membership against what was last
// gossiped and returns the added/dropped sets, updating internal state
// to match current.
func (t *Tracker) Diff(current []Peer) (added, dropped []Peer) {
	seen := make(map[uint32]bool, len(current))
	for _, p := range current {
		key := peerKey(p.Addr)
		seen[key] = true
		if _, ok := t.known[key]; !ok {
			added = append(added, p)
		}
		t.known[key] = p
	}

	for key, p := range t.known {
		if !seen[key] {
			dropped = append(dropped, p)
			delete(t.known, key)
		}
	}

	return added, dropped
}

// GossipInterval returns the minimum spacing BEP11 recommends between
// exchanges with a single peer.
func GossipInterval() time.Duration { return gossipInterval }
