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
package pex

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func peerAt(ip string, port int, seed bool) Peer {
	return Peer{Addr: &net.TCPAddr{IP: net.ParseIP(ip), Port: port}, Seed: seed}
}

func TestEncodeDecodeMessageRoundTrip(t *testing.T) {
	require := require.New(t)

	added := []Peer{peerAt("10.0.0.1", 6881, true), peerAt("10.0.0.2", 6882, false)}
	dropped := []Peer{peerAt("10.0.0.3", 6883, false)}

	raw, err := EncodeMessage(added, dropped)
	require.NoError(err)

	gotAdded, gotDropped, err := DecodeMessage(raw)
	require.NoError(err)
	require.Len(gotAdded, 2)
	require.True(gotAdded[0].Seed)
	require.False(gotAdded[1].Seed)
	require.Len(gotDropped, 1)
	require.Equal("10.0.0.3", gotDropped[0].Addr.IP.String())
	require.Equal(6883, gotDropped[0].Addr.Port)
}

func TestEncodeMessageTruncatesToMax(t *testing.T) {
	require := require.New(t)

	added := make([]Peer, maxPeersPerMessage+10)
	for i := range added {
		added[i] = peerAt("10.0.0.1", 6881+i, false)
	}

	raw, err := EncodeMessage(added, nil)
	require.NoError(err)

	gotAdded, _, err := DecodeMessage(raw)
	require.NoError(err)
	require.Len(gotAdded, maxPeersPerMessage)
}

func TestTrackerDiffAddedAndDropped(t *testing.T) {
	require := require.New(t)

	tr := NewTracker()

	added, dropped := tr.Diff([]Peer{peerAt("10.0.0.1", 1, false), peerAt("10.0.0.2", 2, false)})
	require.Len(added, 2)
	require.Empty(dropped)

	added, dropped = tr.Diff([]Peer{peerAt("10.0.0.1", 1, false), peerAt("10.0.0.3", 3, false)})
	require.Len(added, 1)
	require.Equal("10.0.0.3", added[0].Addr.IP.String())
	require.Len(dropped, 1)
	require.Equal("10.0.0.2", dropped[0].Addr.IP.String())
}

func TestTrackerDiffNoChange(t *testing.T) {
	require := require.New(t)

	tr := NewTracker()
	tr.Diff([]Peer{peerAt("10.0.0.1", 1, false)})

	added, dropped := tr.Diff([]Peer{peerAt("10.0.0.1", 1, false)})
	require.Empty(added)
	require.Empty(dropped)
}
