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
	"context"
	"fmt"
	"sync"

	"github.com/willf/bitset"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"

	"github.com/yoep/torrent-engine/core"
	"github.com/yoep/torrent-engine/piece/storage"
	"github.com/yoep/torrent-engine/utils/syncutil"
	"github.com/yoep/torrent-engine/wire"
)

// blockSize is the fixed request granularity, per BEP3.
const blockSize = 16 * 1024

// defaultEndgameThreshold is the number of missing pieces at or below which
// the engine starts issuing duplicate block requests across peers.
const defaultEndgameThreshold = 20

// maxStrikes is the number of failed-verification strikes a peer accrues
// before the engine asks the caller to drop it.
const maxStrikes = 3

// maxConcurrentPieceWrites bounds how many completed pieces may be
// hash-verified and written to disk at once. Peer session reader goroutines
// call into HandleBlock directly and block on this semaphore rather than on
// a dedicated goroutine pool, so disk I/O stays bounded without decoupling
// HandleBlock's synchronous error return (which a peer session relies on to
// strike and disconnect a bad peer immediately).
const maxConcurrentPieceWrites = 4

type pieceStatus int

const (
	statusMissing pieceStatus = iota
	statusPartial
	statusVerified
)

type pieceState struct {
	mu       sync.Mutex
	status   pieceStatus
	length   int64
	buf      []byte
	received *bitset.BitSet // by block index within the piece
}

func numBlocks(length int64) uint {
	return uint((length + blockSize - 1) / blockSize)
}

func (ps *pieceState) ensureBuf() {
	if ps.buf == nil {
		ps.buf = make([]byte, ps.length)
		ps.received = bitset.New(numBlocks(ps.length))
	}
}

func (ps *pieceState) reset() {
	ps.status = statusMissing
	ps.buf = nil
	ps.received = nil
}

type blockKey struct {
	piece, begin uint32
}

// Events notifies a torrent's owner of piece-engine outcomes it cannot
// observe on its own.
type Events interface {
	// PieceCompleted fires once piece i has been verified and written to
	// disk. The caller is expected to broadcast Have to connected peers.
	PieceCompleted(i int)
	// PeerPenalized fires when peerID has been disconnected for supplying
	// maxStrikes pieces that failed hash verification.
	PeerPenalized(peerID core.PeerID)
	// BlockCanceled fires when another peer's in-flight request for req
	// lost the endgame race to peerID; the caller sends that peer a wire
	// Cancel.
	BlockCanceled(peerID core.PeerID, req wire.BlockRequest)
}

// Engine is a torrent's piece-selection and assembly state machine. It
// implements peer.PieceSource, and is the single point of contention
// between a torrent's concurrent peer sessions.
type Engine struct {
	meta       *core.Metadata
	layout     *storage.Layout
	priorities *PriorityIndex
	events     Events

	mu               sync.Mutex
	pieces           []*pieceState
	bitfield         *bitset.BitSet
	availability     syncutil.Counters
	inFlight         map[blockKey]map[core.PeerID]bool
	strikes          map[core.PeerID]int
	endgameThreshold int
	endgame          bool

	wasted  atomic.Int64
	diskSem *semaphore.Weighted
}

// NewEngine builds an Engine for a torrent described by meta, persisting
// verified pieces through layout.
func NewEngine(meta *core.Metadata, layout *storage.Layout, priorities *PriorityIndex, events Events) *Engine {
	n := meta.NumPieces()
	pieces := make([]*pieceState, n)
	for i := range pieces {
		pieces[i] = &pieceState{length: meta.GetPieceLength(i)}
	}
	e := &Engine{
		meta:             meta,
		layout:           layout,
		priorities:       priorities,
		events:           events,
		pieces:           pieces,
		bitfield:         bitset.New(uint(n)),
		availability:     syncutil.NewCounters(n),
		inFlight:         make(map[blockKey]map[core.PeerID]bool),
		strikes:          make(map[core.PeerID]int),
		endgameThreshold: defaultEndgameThreshold,
		diskSem:          semaphore.NewWeighted(maxConcurrentPieceWrites),
	}
	e.mu.Lock()
	e.recomputeEndgameLocked()
	e.mu.Unlock()
	return e
}

// LoadVerified marks piece i as already present on disk, e.g. during
// resume, without re-writing or re-verifying it.
func (e *Engine) LoadVerified(i int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pieces[i].mu.Lock()
	e.pieces[i].status = statusVerified
	e.pieces[i].mu.Unlock()
	e.bitfield.Set(uint(i))
	e.priorities.MarkArrived(i)
	e.recomputeEndgameLocked()
}

// Meta returns the torrent metadata this engine was built from.
func (e *Engine) Meta() *core.Metadata { return e.meta }

// Wasted returns the cumulative number of bytes discarded to failed piece
// verification: every time a completed piece fails its hash check, its full
// length is added here before the piece returns to Missing.
func (e *Engine) Wasted() int64 { return e.wasted.Load() }

// Bitfield returns a snapshot of the pieces this torrent has verified.
func (e *Engine) Bitfield() *bitset.BitSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bitfield.Copy()
}

// Complete reports whether every piece has been verified.
func (e *Engine) Complete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int(e.bitfield.Count()) == len(e.pieces)
}

// PeerHasPiece records that a connected peer has piece i, used to weigh
// rarest-first selection.
func (e *Engine) PeerHasPiece(i int) {
	e.availability.Increment(i)
}

// PeerLostPiece undoes a prior PeerHasPiece, e.g. on disconnect.
func (e *Engine) PeerLostPiece(i int) {
	e.availability.Decrement(i)
}

// PeerDisconnected releases every piece a peer was credited with having,
// given its last known bitfield.
func (e *Engine) PeerDisconnected(bf *bitset.BitSet) {
	if bf == nil {
		return
	}
	for i, ok := bf.NextSet(0); ok; i, ok = bf.NextSet(i + 1) {
		e.availability.Decrement(int(i))
	}
}

// NextBlockFor selects the next block this torrent wants from a peer known
// to have the pieces set in have, or reports ok=false if nothing is
// eligible right now (peer has nothing we need, or we're fully pipelined
// to it outside endgame).
func (e *Engine) NextBlockFor(peerID core.PeerID, have *bitset.BitSet) (wire.BlockRequest, bool) {
	local := e.Bitfield()
	candidates := have.Intersection(local.Complement())

	e.mu.Lock()
	endgame := e.endgame
	e.mu.Unlock()

	valid := func(i int) bool { return e.hasOpenBlock(i, peerID, endgame) }
	picked := SelectPieces(8, valid, candidates, e.priorities.Priority, &e.availability)
	for _, pi := range picked {
		if req, ok := e.reserveBlock(pi, peerID, endgame); ok {
			return req, true
		}
	}
	return wire.BlockRequest{}, false
}

// hasOpenBlock and reserveBlock always take pieces[i].mu and e.mu
// sequentially, never nested, so their lock order never conflicts with
// recomputeEndgameLocked's e.mu-then-ps.mu nesting.
func (e *Engine) hasOpenBlock(i int, peerID core.PeerID, endgame bool) bool {
	ps := e.pieces[i]
	ps.mu.Lock()
	if ps.status == statusVerified {
		ps.mu.Unlock()
		return false
	}
	n := numBlocks(ps.length)
	received := ps.received
	ps.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	for b := uint(0); b < n; b++ {
		if received != nil && received.Test(b) {
			continue
		}
		key := blockKey{uint32(i), uint32(b) * blockSize}
		holders := e.inFlight[key]
		if len(holders) == 0 {
			return true
		}
		if endgame && !holders[peerID] {
			return true
		}
	}
	return false
}

func (e *Engine) reserveBlock(i int, peerID core.PeerID, endgame bool) (wire.BlockRequest, bool) {
	ps := e.pieces[i]
	ps.mu.Lock()
	length := ps.length
	n := numBlocks(length)
	received := ps.received
	ps.mu.Unlock()

	e.mu.Lock()
	var chosen uint = n
	for b := uint(0); b < n; b++ {
		if received != nil && received.Test(b) {
			continue
		}
		key := blockKey{uint32(i), uint32(b) * blockSize}
		holders := e.inFlight[key]
		taken := holders[peerID]
		if len(holders) == 0 || (endgame && !taken) {
			chosen = b
			break
		}
	}
	if chosen == n {
		e.mu.Unlock()
		return wire.BlockRequest{}, false
	}

	begin := int64(chosen) * blockSize
	reqLen := blockSize
	if begin+int64(reqLen) > length {
		reqLen = int(length - begin)
	}
	key := blockKey{uint32(i), uint32(begin)}
	if e.inFlight[key] == nil {
		e.inFlight[key] = make(map[core.PeerID]bool)
	}
	e.inFlight[key][peerID] = true
	e.mu.Unlock()

	return wire.BlockRequest{PieceIndex: uint32(i), Begin: uint32(begin), Length: uint32(reqLen)}, true
}

// CancelBlock releases peerID's reservation on req, e.g. because the peer
// choked us or disconnected, so another peer may claim it.
func (e *Engine) CancelBlock(peerID core.PeerID, req wire.BlockRequest) {
	key := blockKey{req.PieceIndex, req.Begin}
	e.mu.Lock()
	defer e.mu.Unlock()
	if holders := e.inFlight[key]; holders != nil {
		delete(holders, peerID)
		if len(holders) == 0 {
			delete(e.inFlight, key)
		}
	}
}

// HandleBlock folds a downloaded block into its piece's assembly buffer,
// and on the piece's last block, verifies and persists it. A hash mismatch
// resets the piece to missing and strikes peerID, the block's supplier.
func (e *Engine) HandleBlock(peerID core.PeerID, block wire.Block) error {
	key := blockKey{block.PieceIndex, block.Begin}
	req := wire.BlockRequest{PieceIndex: block.PieceIndex, Begin: block.Begin, Length: uint32(len(block.Data))}

	e.mu.Lock()
	losers := e.inFlight[key]
	delete(e.inFlight, key)
	e.mu.Unlock()

	// In endgame, other peers may still have this same block in flight;
	// the caller is expected to send them a wire Cancel.
	if e.events != nil {
		for holder := range losers {
			if holder != peerID {
				e.events.BlockCanceled(holder, req)
			}
		}
	}

	i := int(block.PieceIndex)
	if i < 0 || i >= len(e.pieces) {
		return fmt.Errorf("piece: block for out-of-range piece %d", i)
	}
	ps := e.pieces[i]

	ps.mu.Lock()
	if ps.status == statusVerified {
		ps.mu.Unlock()
		return nil
	}
	ps.ensureBuf()
	ps.status = statusPartial
	end := int64(block.Begin) + int64(len(block.Data))
	if end > ps.length {
		ps.mu.Unlock()
		return fmt.Errorf("piece: block overruns piece %d bounds", i)
	}
	copy(ps.buf[block.Begin:end], block.Data)
	ps.received.Set(uint(block.Begin) / blockSize)
	complete := ps.received.Count() == uint64(numBlocks(ps.length))
	var data []byte
	if complete {
		data = ps.buf
	}
	ps.mu.Unlock()

	if !complete {
		return nil
	}

	e.diskSem.Acquire(context.Background(), 1)
	err := e.layout.WritePiece(i, data)
	e.diskSem.Release(1)
	if err != nil {
		ps.mu.Lock()
		wasted := ps.length
		ps.reset()
		ps.mu.Unlock()
		e.wasted.Add(wasted)
		e.strike(peerID)
		return fmt.Errorf("piece: %s", err)
	}

	ps.mu.Lock()
	ps.status = statusVerified
	ps.buf = nil
	ps.received = nil
	ps.mu.Unlock()

	e.mu.Lock()
	e.bitfield.Set(uint(i))
	e.recomputeEndgameLocked()
	for k := range e.inFlight {
		if int(k.piece) == i {
			delete(e.inFlight, k)
		}
	}
	e.mu.Unlock()

	e.priorities.MarkArrived(i)
	if e.events != nil {
		e.events.PieceCompleted(i)
	}
	return nil
}

// ReadBlock returns the bytes requested by req, which must name an already
// verified piece.
func (e *Engine) ReadBlock(req wire.BlockRequest) ([]byte, error) {
	i := int(req.PieceIndex)
	if i < 0 || i >= len(e.pieces) {
		return nil, fmt.Errorf("piece: request for out-of-range piece %d", i)
	}
	e.pieces[i].mu.Lock()
	status := e.pieces[i].status
	e.pieces[i].mu.Unlock()
	if status != statusVerified {
		return nil, fmt.Errorf("piece: %d is not yet verified", i)
	}
	return e.layout.ReadBlock(i, int64(req.Begin), int64(req.Length))
}

func (e *Engine) strike(peerID core.PeerID) {
	e.mu.Lock()
	e.strikes[peerID]++
	drop := e.strikes[peerID] >= maxStrikes
	if drop {
		delete(e.strikes, peerID)
	}
	e.mu.Unlock()
	if drop && e.events != nil {
		e.events.PeerPenalized(peerID)
	}
}

// recomputeEndgameLocked must be called with e.mu held.
func (e *Engine) recomputeEndgameLocked() {
	missing := 0
	for _, ps := range e.pieces {
		ps.mu.Lock()
		verified := ps.status == statusVerified
		ps.mu.Unlock()
		if !verified {
			missing++
		}
	}
	e.endgame = missing > 0 && missing <= e.endgameThreshold
}
