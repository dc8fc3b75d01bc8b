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

// Package piece selects which pieces to request next, tracks the per-block
// request pipeline, and verifies and persists completed pieces.
package piece

import "sync"

// Priority is a piece's eligibility tier for selection. Levels are totally
// ordered: None < Normal < High < Readahead < Next < Now.
type Priority int

// Priority levels, lowest to highest.
const (
	PriorityNone Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityReadahead
	PriorityNext
	PriorityNow
)

// readaheadPieces is how far ahead of a stream's cursor pieces are still
// considered within its readahead horizon.
const readaheadPieces = 16

// prefetchFraction is the portion of pieces, at both the start and the end
// of the torrent, pre-fetched at High priority so media containers can
// resolve headers and indices before playback begins.
const prefetchFraction = 0.08

// StreamWindow is one active stream's position within a torrent, expressed
// in piece indices.
type StreamWindow struct {
	// Cursor is the piece containing the very next bytes the stream will
	// serve; it always resolves to PriorityNow.
	Cursor int
}

// PriorityIndex computes the effective Priority of every piece in a
// torrent by combining pinned per-piece overrides, active stream windows,
// and the startup prefetch window.
type PriorityIndex struct {
	mu        sync.Mutex
	numPieces int
	pinned    map[int]Priority
	prefetch  map[int]bool
	streams   map[int]StreamWindow
}

// NewPriorityIndex builds a PriorityIndex for a torrent of numPieces
// pieces, seeding the first/last prefetchFraction of pieces as High.
func NewPriorityIndex(numPieces int) *PriorityIndex {
	p := &PriorityIndex{
		numPieces: numPieces,
		pinned:    make(map[int]Priority),
		prefetch:  make(map[int]bool),
		streams:   make(map[int]StreamWindow),
	}
	window := int(float64(numPieces) * prefetchFraction)
	for i := 0; i < window; i++ {
		p.prefetch[i] = true
		p.prefetch[numPieces-1-i] = true
	}
	return p
}

// SetPinned pins piece i to a user-chosen priority, overriding computed
// priority for it except when a stream's Cursor also names it Now.
func (p *PriorityIndex) SetPinned(i int, prio Priority) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinned[i] = prio
}

// ClearPinned removes any pin on piece i, reverting it to computed priority.
func (p *PriorityIndex) ClearPinned(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pinned, i)
}

// SetStream registers or updates the window for stream id.
func (p *PriorityIndex) SetStream(id int, w StreamWindow) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streams[id] = w
}

// ClearStream removes stream id's window, e.g. when playback stops.
func (p *PriorityIndex) ClearStream(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.streams, id)
}

// MarkArrived shrinks the startup prefetch window as piece i arrives, so
// already-verified pieces stop being treated as prefetch candidates.
func (p *PriorityIndex) MarkArrived(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.prefetch, i)
}

// Priority returns the current effective priority of piece i.
func (p *PriorityIndex) Priority(i int) Priority {
	p.mu.Lock()
	defer p.mu.Unlock()

	computed := PriorityNormal
	if p.prefetch[i] {
		computed = PriorityHigh
	}

	for _, w := range p.streams {
		switch {
		case i == w.Cursor:
			// Now always wins, even over a pin.
			return PriorityNow
		case i == w.Cursor+1:
			if PriorityNext > computed {
				computed = PriorityNext
			}
		case i > w.Cursor+1 && i <= w.Cursor+readaheadPieces:
			if PriorityReadahead > computed {
				computed = PriorityReadahead
			}
		}
	}

	if pinned, ok := p.pinned[i]; ok {
		return pinned
	}
	return computed
}
