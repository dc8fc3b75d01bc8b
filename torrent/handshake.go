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
	"context"
	"io"
	"net"
	"time"

	"github.com/yoep/torrent-engine/peer"
	"github.com/yoep/torrent-engine/transport"
	"github.com/yoep/torrent-engine/wire"
)

// dialPeer opens an outbound connection to addr, completes the handshake,
// and hands the resulting session (or metadata-exchange connection) off to
// the event loop. Runs on its own goroutine per attempt so a slow or dead
// peer never blocks the torrent's other dialing.
func (t *Torrent) dialPeer(addr string) {
	if t.peers.Len() >= t.config.MaxPeers {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.config.HandshakeTimeout)
	defer cancel()

	conn, err := t.dialer.DialRace(ctx, addr)
	if err != nil {
		t.logger.Debugf("dial %s: %s", addr, err)
		return
	}

	remoteHS, err := t.exchangeHandshake(conn)
	if err != nil {
		t.logger.Debugf("handshake %s: %s", addr, err)
		conn.Close()
		return
	}

	t.onHandshakeComplete(conn, remoteHS)
}

// AcceptIncoming completes the handshake side of an inbound connection
// already matched to this torrent's info hash by the owning Session, and
// hands the resulting peer session (or metadata-exchange connection) off to
// the event loop.
func (t *Torrent) AcceptIncoming(conn transport.Conn, remoteHS wire.Handshake) {
	local := wire.NewHandshake(t.infoHash, t.local, wire.ExtensionFlags(0).WithLTEP())
	conn.SetDeadline(t.clk.Now().Add(t.config.HandshakeTimeout))
	if err := local.Encode(conn); err != nil {
		conn.Close()
		return
	}
	conn.SetDeadline(time.Time{})

	if err := peer.ValidateHandshake(local, remoteHS); err != nil {
		t.logger.Debugf("incoming handshake from %s rejected: %s", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	t.onHandshakeComplete(conn, remoteHS)
}

// exchangeHandshake sends this torrent's handshake and reads the peer's,
// bounding the whole exchange by the configured handshake timeout.
func (t *Torrent) exchangeHandshake(conn net.Conn) (wire.Handshake, error) {
	conn.SetDeadline(t.clk.Now().Add(t.config.HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	local := wire.NewHandshake(t.infoHash, t.local, wire.ExtensionFlags(0).WithLTEP())
	if err := local.Encode(conn); err != nil {
		return wire.Handshake{}, err
	}
	remote, err := wire.DecodeHandshake(conn)
	if err != nil {
		return wire.Handshake{}, err
	}
	if err := peer.ValidateHandshake(local, remote); err != nil {
		return wire.Handshake{}, err
	}
	return remote, nil
}

// onHandshakeComplete routes a freshly handshaken connection: straight into
// a peer.Session if metadata is already known, otherwise into the BEP9
// metadata-exchange path.
func (t *Torrent) onHandshakeComplete(conn io.ReadWriteCloser, remoteHS wire.Handshake) {
	engine := t.engineRef()
	if engine == nil {
		if !remoteHS.Extensions.SupportsLTEP() {
			conn.Close()
			return
		}
		t.startMetadataPeer(conn, remoteHS)
		return
	}

	nc, ok := conn.(net.Conn)
	if !ok {
		conn.Close()
		return
	}

	s := peer.New(t.config.Peer, nc, t.local, remoteHS.PeerID, t.infoHash,
		engine.Meta().NumPieces(), engine, t.bandwidth, t.clk, t, t.logger)
	t.loop.send(peerConnectedEvent{session: s})
}
