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
package piece

import (
	"bytes"
	"io/ioutil"
	"os"
	"sync"
	"testing"

	"github.com/willf/bitset"
	"github.com/stretchr/testify/require"

	"github.com/yoep/torrent-engine/core"
	"github.com/yoep/torrent-engine/piece/storage"
	"github.com/yoep/torrent-engine/wire"
)

type fakeEvents struct {
	mu        sync.Mutex
	completed []int
	penalized []core.PeerID
	canceled  []core.PeerID
}

func (e *fakeEvents) PieceCompleted(i int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed = append(e.completed, i)
}

func (e *fakeEvents) PeerPenalized(id core.PeerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.penalized = append(e.penalized, id)
}

func (e *fakeEvents) BlockCanceled(id core.PeerID, req wire.BlockRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.canceled = append(e.canceled, id)
}

func newTestEngine(t *testing.T, blob []byte, pieceLength int64) (*Engine, *fakeEvents, func()) {
	t.Helper()
	require := require.New(t)

	meta, err := core.NewSingleFileMetadata("movie.mp4", bytes.NewReader(blob), pieceLength)
	require.NoError(err)

	dir, err := ioutil.TempDir("", "piece-engine")
	require.NoError(err)

	layout := storage.NewLayout(dir, meta)
	require.NoError(layout.Prepare())

	events := &fakeEvents{}
	e := NewEngine(meta, layout, NewPriorityIndex(meta.NumPieces()), events)
	return e, events, func() {
		layout.Close()
		os.RemoveAll(dir)
	}
}

func fullBitfield(n int) *bitset.BitSet {
	bs := bitset.New(uint(n))
	for i := 0; i < n; i++ {
		bs.Set(uint(i))
	}
	return bs
}

func TestEngineDownloadsAndVerifiesAllPieces(t *testing.T) {
	require := require.New(t)

	blob := bytes.Repeat([]byte("a"), 40)
	e, events, cleanup := newTestEngine(t, blob, 16)
	defer cleanup()

	var peerID core.PeerID
	peerID[0] = 1

	have := fullBitfield(e.meta.NumPieces())
	for !e.Complete() {
		req, ok := e.NextBlockFor(peerID, have)
		require.True(ok)
		data := blob[int64(req.PieceIndex)*16+int64(req.Begin) : int64(req.PieceIndex)*16+int64(req.Begin)+int64(req.Length)]
		require.NoError(e.HandleBlock(peerID, wire.Block{
			PieceIndex: req.PieceIndex,
			Begin:      req.Begin,
			Data:       data,
		}))
	}

	require.True(e.Complete())
	require.Len(events.completed, e.meta.NumPieces())

	for i := 0; i < e.meta.NumPieces(); i++ {
		got, err := e.ReadBlock(wire.BlockRequest{
			PieceIndex: uint32(i),
			Begin:      0,
			Length:     uint32(e.meta.GetPieceLength(i)),
		})
		require.NoError(err)
		n := e.meta.GetPieceLength(i)
		require.Equal(blob[int64(i)*16:int64(i)*16+n], got)
	}
}

func TestEngineRejectsCorruptPieceAndStrikesPeer(t *testing.T) {
	require := require.New(t)

	blob := bytes.Repeat([]byte("b"), 16)
	e, events, cleanup := newTestEngine(t, blob, 16)
	defer cleanup()

	var peerID core.PeerID
	peerID[0] = 2

	have := fullBitfield(e.meta.NumPieces())
	req, ok := e.NextBlockFor(peerID, have)
	require.True(ok)

	err := e.HandleBlock(peerID, wire.Block{
		PieceIndex: req.PieceIndex,
		Begin:      req.Begin,
		Data:       bytes.Repeat([]byte("z"), int(req.Length)),
	})
	require.Error(err)
	require.False(e.Complete())
	require.Equal(e.meta.GetPieceLength(int(req.PieceIndex)), e.Wasted())

	// The piece reverted to missing, so it's immediately requestable again.
	req2, ok := e.NextBlockFor(peerID, have)
	require.True(ok)
	require.Equal(req.PieceIndex, req2.PieceIndex)
	require.Len(events.penalized, 0)
}

func TestEnginePeerExhaustedAfterMaxStrikes(t *testing.T) {
	require := require.New(t)

	blob := bytes.Repeat([]byte("c"), 16)
	e, events, cleanup := newTestEngine(t, blob, 16)
	defer cleanup()

	var peerID core.PeerID
	peerID[0] = 3

	have := fullBitfield(e.meta.NumPieces())
	for i := 0; i < maxStrikes; i++ {
		req, ok := e.NextBlockFor(peerID, have)
		require.True(ok)
		require.Error(e.HandleBlock(peerID, wire.Block{
			PieceIndex: req.PieceIndex,
			Begin:      req.Begin,
			Data:       bytes.Repeat([]byte("z"), int(req.Length)),
		}))
	}
	require.Len(events.penalized, 1)
	require.Equal(peerID, events.penalized[0])
}

func TestEngineCancelBlockReleasesReservation(t *testing.T) {
	require := require.New(t)

	// More pieces than the endgame threshold, so the engine isn't in
	// endgame mode and a single in-flight block can't be double-claimed.
	blob := bytes.Repeat([]byte("d"), (defaultEndgameThreshold+1)*16)
	e, _, cleanup := newTestEngine(t, blob, 16)
	defer cleanup()

	var peerA, peerB core.PeerID
	peerA[0], peerB[0] = 1, 2

	have := fullBitfield(e.meta.NumPieces())
	req, ok := e.NextBlockFor(peerA, have)
	require.True(ok)

	// Outside endgame, a second peer can't claim the same in-flight block.
	// peerB advertises only that block's piece, so no other piece can be
	// picked for it instead.
	only := bitset.New(uint(e.meta.NumPieces())).Set(uint(req.PieceIndex))
	_, ok = e.NextBlockFor(peerB, only)
	require.False(ok)

	e.CancelBlock(peerA, req)

	req2, ok := e.NextBlockFor(peerB, only)
	require.True(ok)
	require.Equal(req, req2)
}

func TestEngineEndgameDuplicateRequestAndLoserCancel(t *testing.T) {
	require := require.New(t)

	// A single-piece torrent is always below the endgame threshold.
	blob := bytes.Repeat([]byte("f"), 16)
	e, events, cleanup := newTestEngine(t, blob, 16)
	defer cleanup()

	var peerA, peerB core.PeerID
	peerA[0], peerB[0] = 1, 2

	have := fullBitfield(e.meta.NumPieces())
	reqA, ok := e.NextBlockFor(peerA, have)
	require.True(ok)

	// In endgame, a second peer can duplicate-request the same block.
	reqB, ok := e.NextBlockFor(peerB, have)
	require.True(ok)
	require.Equal(reqA, reqB)

	require.NoError(e.HandleBlock(peerA, wire.Block{
		PieceIndex: reqA.PieceIndex,
		Begin:      reqA.Begin,
		Data:       blob,
	}))

	require.Len(events.canceled, 1)
	require.Equal(peerB, events.canceled[0])
}

func TestEngineAvailabilityTracking(t *testing.T) {
	require := require.New(t)

	blob := bytes.Repeat([]byte("e"), 16)
	e, _, cleanup := newTestEngine(t, blob, 16)
	defer cleanup()

	e.PeerHasPiece(0)
	e.PeerHasPiece(0)
	require.Equal(2, e.availability.Get(0))
	e.PeerLostPiece(0)
	require.Equal(1, e.availability.Get(0))
}
