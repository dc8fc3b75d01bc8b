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
package dht

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(Config{ListenAddr: "127.0.0.1:0"}, NewNodeID(), clock.New(), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestServerPing(t *testing.T) {
	require := require.New(t)

	a := newTestServer(t)
	b := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := a.Ping(ctx, b.Addr().(*net.UDPAddr))
	require.NoError(err)

	_, ok := a.table.Find(b.ID())
	require.True(ok)

	_, ok = b.table.Find(a.ID())
	require.True(ok)
}

func TestServerFindNode(t *testing.T) {
	require := require.New(t)

	a := newTestServer(t)
	b := newTestServer(t)
	c := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(b.Ping(ctx, c.Addr().(*net.UDPAddr)))

	nodes, err := a.FindNode(ctx, b.Addr().(*net.UDPAddr), c.ID())
	require.NoError(err)
	require.NotEmpty(nodes)
}

func TestServerGetPeersAndAnnounce(t *testing.T) {
	require := require.New(t)

	a := newTestServer(t)
	b := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var infoHash NodeID
	infoHash[0] = 0xAB

	_, _, token, err := a.GetPeers(ctx, b.Addr().(*net.UDPAddr), infoHash)
	require.NoError(err)
	require.NotEmpty(token)

	require.NoError(a.AnnouncePeer(ctx, b.Addr().(*net.UDPAddr), infoHash, 6881, token))

	peers, _, _, err := a.GetPeers(ctx, b.Addr().(*net.UDPAddr), infoHash)
	require.NoError(err)
	require.Len(peers, 1)
	require.EqualValues(6881, peers[0].Port)
}

func TestServerAnnouncePeerRejectsBadToken(t *testing.T) {
	require := require.New(t)

	a := newTestServer(t)
	b := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var infoHash NodeID
	err := a.AnnouncePeer(ctx, b.Addr().(*net.UDPAddr), infoHash, 6881, "not-a-real-token")
	require.Error(err)
}

func TestPing_InvalidAddress(t *testing.T) {
	require := require.New(t)

	a := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := a.Ping(ctx, &net.UDPAddr{IP: net.IPv4zero, Port: 6881})
	require.Error(err)
}
