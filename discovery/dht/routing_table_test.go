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
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func nodeAt(b byte, port int) Node {
	var id NodeID
	for i := range id {
		id[i] = b
	}
	return Node{ID: id, Addr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}}
}

func TestRoutingTableAddFindRemove(t *testing.T) {
	require := require.New(t)

	var self NodeID
	rt := NewRoutingTable(self)

	n := nodeAt(0xFF, 6881)
	require.True(rt.Add(n))
	require.False(rt.Add(n)) // already present

	found, ok := rt.Find(n.ID)
	require.True(ok)
	require.Equal(n.Addr.Port, found.Addr.Port)

	rt.Remove(n.ID)
	_, ok = rt.Find(n.ID)
	require.False(ok)
}

func TestRoutingTableIgnoresSelf(t *testing.T) {
	require := require.New(t)

	self := nodeAt(0x01, 1).ID
	rt := NewRoutingTable(self)
	require.False(rt.Add(Node{ID: self, Addr: &net.UDPAddr{Port: 1}}))
	require.Equal(0, rt.Len())
}

func TestRoutingTableBucketEviction(t *testing.T) {
	require := require.New(t)

	var self NodeID
	rt := NewRoutingTable(self)

	for i := 0; i < bucketSize+2; i++ {
		var id NodeID
		id[19] = byte(i + 1)
		id[0] = 0x80 // force all into the same high bucket
		rt.Add(Node{ID: id, Addr: &net.UDPAddr{Port: 1000 + i}})
	}
	require.LessOrEqual(rt.Len(), bucketSize)
}

func TestRoutingTableClosestOrdering(t *testing.T) {
	require := require.New(t)

	var self NodeID
	rt := NewRoutingTable(self)

	far := nodeAt(0xFF, 1)
	near := nodeAt(0x01, 2)
	rt.Add(far)
	rt.Add(near)

	closest := rt.Closest(self, 2)
	require.Len(closest, 2)
	require.Equal(near.ID, closest[0].ID)
}
