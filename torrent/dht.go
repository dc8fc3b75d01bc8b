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
	"net"
	"time"

	"github.com/yoep/torrent-engine/core"
	"github.com/yoep/torrent-engine/discovery/dht"
	"github.com/yoep/torrent-engine/discovery/tracker"
)

// dhtAlpha is the number of nodes queried in parallel at each step of the
// iterative lookup, the standard Kademlia concurrency factor.
const dhtAlpha = 3

// dhtLookupRounds bounds how many rounds of querying-closer-nodes a single
// announce cycle performs, trading lookup thoroughness for a predictable
// upper bound on DHT traffic per torrent.
const dhtLookupRounds = 4

// dhtAnnounceInterval is how often this torrent re-runs the DHT lookup and
// re-announces itself as a source.
const dhtAnnounceInterval = 10 * time.Minute

// dhtAnnounceLoop periodically performs an iterative DHT lookup for this
// torrent's info hash, feeding discovered peers into the same dial path as
// tracker announces, and announces this node as a peer for the info hash to
// whichever nodes it found along the way.
func (t *Torrent) dhtAnnounceLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := t.clk.Ticker(dhtAnnounceInterval)
	defer ticker.Stop()

	t.runDHTLookup(ctx)
	for {
		select {
		case <-ticker.C:
			t.runDHTLookup(ctx)
		case <-t.done:
			return
		}
	}
}

func (t *Torrent) runDHTLookup(ctx context.Context) {
	target := dht.NodeID(t.infoHash.Short())

	visited := make(map[dht.NodeID]bool)
	frontier := t.dhtServer.RoutingTable().Closest(target, dhtAlpha)

	var peerAddrs []*net.UDPAddr
	var announceTo []struct {
		addr  *net.UDPAddr
		token string
	}

	for round := 0; round < dhtLookupRounds && len(frontier) > 0; round++ {
		var next []dht.Node
		for _, n := range frontier {
			if visited[n.ID] {
				continue
			}
			visited[n.ID] = true

			qctx, cancel := context.WithTimeout(ctx, 8*time.Second)
			addrs, closer, token, err := t.dhtServer.GetPeers(qctx, n.Addr, target)
			cancel()
			if err != nil {
				continue
			}
			peerAddrs = append(peerAddrs, addrs...)
			if token != "" {
				announceTo = append(announceTo, struct {
					addr  *net.UDPAddr
					token string
				}{n.Addr, token})
			}
			next = append(next, closer...)
		}
		frontier = next
	}

	if len(peerAddrs) > 0 {
		update := tracker.PeerUpdate{TrackerURL: "dht"}
		for _, a := range peerAddrs {
			update.Peers = append(update.Peers, &core.AnnouncePeer{IP: a.IP.String(), Port: int64(a.Port)})
		}
		t.loop.send(trackerUpdateEvent{update: update})
	}

	for _, a := range announceTo {
		qctx, cancel := context.WithTimeout(ctx, 8*time.Second)
		t.dhtServer.AnnouncePeer(qctx, a.addr, target, t.listenPort, a.token)
		cancel()
	}
}
