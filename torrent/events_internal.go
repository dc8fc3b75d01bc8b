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
	"github.com/yoep/torrent-engine/core"
	"github.com/yoep/torrent-engine/discovery/tracker"
	"github.com/yoep/torrent-engine/peer"
	"github.com/yoep/torrent-engine/piece"
	"github.com/yoep/torrent-engine/wire"
)

// internalEvent mutates Torrent state. While an event is applying, it is
// guaranteed to be the only accessor of that state: every mutation runs
// serially inside Torrent.runEventLoop.
type internalEvent interface {
	apply(t *Torrent)
}

// eventLoop is a serialized queue of internalEvents. send blocks the caller
// until the loop goroutine dequeues the event, mirroring the handoff used
// throughout the peer and discovery packages.
type eventLoop struct {
	events chan internalEvent
	done   chan struct{}
}

func newEventLoop() *eventLoop {
	return &eventLoop{
		events: make(chan internalEvent),
		done:   make(chan struct{}),
	}
}

// send enqueues e, or returns false if the loop has already stopped. Must
// never be called by the loop's own goroutine.
func (l *eventLoop) send(e internalEvent) bool {
	select {
	case l.events <- e:
		return true
	case <-l.done:
		return false
	}
}

func (l *eventLoop) stop() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}

type peerConnectedEvent struct{ session *peer.Session }

func (e peerConnectedEvent) apply(t *Torrent) { t.handlePeerConnected(e.session) }

type peerDisconnectedEvent struct{ peerID core.PeerID }

func (e peerDisconnectedEvent) apply(t *Torrent) { t.handlePeerDisconnected(e.peerID) }

type pieceCompletedEvent struct{ index int }

func (e pieceCompletedEvent) apply(t *Torrent) { t.handlePieceCompleted(e.index) }

type peerPenalizedEvent struct{ peerID core.PeerID }

func (e peerPenalizedEvent) apply(t *Torrent) { t.handlePeerPenalized(e.peerID) }

type blockCanceledEvent struct {
	peerID core.PeerID
	req    wire.BlockRequest
}

func (e blockCanceledEvent) apply(t *Torrent) { t.handleBlockCanceled(e.peerID, e.req) }

type trackerUpdateEvent struct{ update tracker.PeerUpdate }

func (e trackerUpdateEvent) apply(t *Torrent) { t.handleTrackerUpdate(e.update) }

type statsTickEvent struct{}

func (e statsTickEvent) apply(t *Torrent) { t.handleStatsTick() }

type pauseEvent struct{}

func (e pauseEvent) apply(t *Torrent) { t.handlePause() }

type resumeEvent struct{}

func (e resumeEvent) apply(t *Torrent) { t.handleResume() }

type prioritizeFilesEvent struct {
	priorities map[string]piece.Priority
}

func (e prioritizeFilesEvent) apply(t *Torrent) { t.handlePrioritizeFiles(e.priorities) }

type metadataReadyEvent struct{ meta *core.Metadata }

func (e metadataReadyEvent) apply(t *Torrent) { t.handleMetadataReady(e.meta) }
