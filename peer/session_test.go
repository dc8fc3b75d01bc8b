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
package peer

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/willf/bitset"
	"go.uber.org/zap"

	"github.com/yoep/torrent-engine/core"
	"github.com/yoep/torrent-engine/wire"
)

type fakePieceSource struct {
	mu       sync.Mutex
	bitfield *bitset.BitSet
	queue    []wire.BlockRequest
	blocks   map[blockKey][]byte
	received []wire.Block
}

func newFakePieceSource(bf *bitset.BitSet) *fakePieceSource {
	return &fakePieceSource{bitfield: bf, blocks: make(map[blockKey][]byte)}
}

func (f *fakePieceSource) Bitfield() *bitset.BitSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bitfield.Copy()
}

func (f *fakePieceSource) NextBlockFor(peerID core.PeerID, have *bitset.BitSet) (wire.BlockRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.queue {
		if have.Test(uint(r.PieceIndex)) {
			f.queue = append(f.queue[:i], f.queue[i+1:]...)
			return r, true
		}
	}
	return wire.BlockRequest{}, false
}

func (f *fakePieceSource) CancelBlock(peerID core.PeerID, req wire.BlockRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, req)
}

func (f *fakePieceSource) HandleBlock(peerID core.PeerID, block wire.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, block)
	return nil
}

func (f *fakePieceSource) ReadBlock(req wire.BlockRequest) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blocks[blockKey{piece: req.PieceIndex, begin: req.Begin}]
	if !ok {
		return nil, fmt.Errorf("no such block: %+v", req)
	}
	return b, nil
}

func testInfoHash() core.InfoHash {
	ih, err := core.NewInfoHashFromV1Bytes(make([]byte, 20))
	if err != nil {
		panic(err)
	}
	return ih
}

func newTestSessionPair(t *testing.T) (sessA, sessB *Session, srcA, srcB *fakePieceSource) {
	t.Helper()

	clk := clock.New()
	logger := zap.NewNop().Sugar()
	bw := NewBandwidthLimiter(BandwidthConfig{Disable: true})

	connA, connB := net.Pipe()

	bfA := bitset.New(4)
	bfB := bitset.New(4).Set(0).Set(1)

	srcA = newFakePieceSource(bfA)
	srcB = newFakePieceSource(bfB)

	peerA, err := core.RandomPeerID()
	require.NoError(t, err)
	peerB, err := core.RandomPeerID()
	require.NoError(t, err)

	infoHash := testInfoHash()

	sessA = New(Config{}, connA, peerA, peerB, infoHash, 4, srcA, bw, clk, nil, logger)
	sessB = New(Config{}, connB, peerB, peerA, infoHash, 4, srcB, bw, clk, nil, logger)

	t.Cleanup(func() {
		sessA.Close()
		sessB.Close()
	})

	sessA.Start()
	sessB.Start()

	return sessA, sessB, srcA, srcB
}

func TestSessionExchangesBitfieldsAndComputesInterest(t *testing.T) {
	require := require.New(t)

	sessA, sessB, _, _ := newTestSessionPair(t)

	require.Eventually(func() bool {
		return sessA.AmInterested()
	}, time.Second, 5*time.Millisecond, "A should become interested in B's pieces")

	require.Never(func() bool {
		return sessB.AmInterested()
	}, 100*time.Millisecond, 10*time.Millisecond, "B already has everything A advertised")
}

func TestSessionRequestPipelineDeliversBlock(t *testing.T) {
	require := require.New(t)

	sessA, sessB, srcA, srcB := newTestSessionPair(t)

	req := wire.BlockRequest{PieceIndex: 0, Begin: 0, Length: 5}
	srcA.mu.Lock()
	srcA.queue = append(srcA.queue, req)
	srcA.mu.Unlock()

	srcB.mu.Lock()
	srcB.blocks[blockKey{piece: 0, begin: 0}] = []byte("hello")
	srcB.mu.Unlock()

	require.Eventually(func() bool {
		return sessA.AmInterested()
	}, time.Second, 5*time.Millisecond)

	require.NoError(sessB.Unchoke())

	require.Eventually(func() bool {
		srcA.mu.Lock()
		defer srcA.mu.Unlock()
		return len(srcA.received) == 1
	}, time.Second, 5*time.Millisecond, "A should receive the requested block")

	srcA.mu.Lock()
	defer srcA.mu.Unlock()
	require.Equal([]byte("hello"), srcA.received[0].Data)
}

func TestSessionChokeReleasesInFlightRequests(t *testing.T) {
	require := require.New(t)

	sessA, sessB, srcA, _ := newTestSessionPair(t)

	srcA.mu.Lock()
	srcA.queue = append(srcA.queue, wire.BlockRequest{PieceIndex: 0, Begin: 0, Length: 5})
	srcA.mu.Unlock()

	require.Eventually(func() bool { return sessA.AmInterested() }, time.Second, 5*time.Millisecond)
	require.NoError(sessB.Unchoke())

	require.Eventually(func() bool {
		sessA.mu.Lock()
		defer sessA.mu.Unlock()
		return len(sessA.inFlight) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(sessB.Choke())

	require.Eventually(func() bool {
		sessA.mu.Lock()
		defer sessA.mu.Unlock()
		return len(sessA.inFlight) == 0
	}, time.Second, 5*time.Millisecond)
}
