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
	"net"
	"sync"
	"testing"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yoep/torrent-engine/core"
	"github.com/yoep/torrent-engine/peer"
)

func sessionFixture(remote core.PeerID) *peer.Session {
	client, _ := net.Pipe()
	return peer.New(
		peer.Config{},
		client,
		core.PeerIDFixture(),
		remote,
		core.InfoHashFixture(),
		16,
		nil,
		peer.NewBandwidthLimiter(peer.BandwidthConfig{}),
		clock.New(),
		nil,
		zap.NewNop().Sugar())
}

func TestPeerSetAddGetRemove(t *testing.T) {
	require := require.New(t)

	ps := NewPeerSet()
	id := core.PeerIDFixture()
	s := sessionFixture(id)

	ps.Add(s)
	require.Equal(1, ps.Len())

	got, ok := ps.Get(id)
	require.True(ok)
	require.Equal(s, got)

	ps.Remove(id)
	require.Equal(0, ps.Len())

	_, ok = ps.Get(id)
	require.False(ok)
}

func TestPeerSetSnapshotAndRange(t *testing.T) {
	require := require.New(t)

	ps := NewPeerSet()
	ids := []core.PeerID{core.PeerIDFixture(), core.PeerIDFixture(), core.PeerIDFixture()}
	for _, id := range ids {
		ps.Add(sessionFixture(id))
	}

	require.Len(ps.Snapshot(), 3)

	var visited int
	ps.Range(func(s *peer.Session) { visited++ })
	require.Equal(3, visited)
}

func TestPeerSetConcurrentAccess(t *testing.T) {
	ps := NewPeerSet()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := core.PeerIDFixture()
			ps.Add(sessionFixture(id))
			ps.Get(id)
			ps.Len()
			ps.Snapshot()
			ps.Remove(id)
		}()
	}
	wg.Wait()

	require.Equal(t, 0, ps.Len())
}
