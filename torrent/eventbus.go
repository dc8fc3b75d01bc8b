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
	"sync"

	"github.com/yoep/torrent-engine/core"
)

// StateChanged reports a lifecycle transition.
type StateChanged struct {
	State State
}

// MetadataChanged reports that the torrent's info dictionary is now known,
// either supplied up front or recovered through BEP9 metadata exchange.
type MetadataChanged struct {
	Name   string
	Length int64
}

// PeerConnected reports a newly established, post-handshake peer session.
type PeerConnected struct {
	PeerID core.PeerID
}

// PeerDisconnected reports a peer session tearing down.
type PeerDisconnected struct {
	PeerID core.PeerID
}

// PiecesChanged reports the total piece count becoming known, once metadata
// is available.
type PiecesChanged struct {
	Total int
}

// PieceCompleted reports a single piece finishing hash verification.
type PieceCompleted struct {
	Index int
}

// PiecePrioritiesChanged reports that file or stream priorities shifted
// enough to change piece selection order.
type PiecePrioritiesChanged struct{}

// FilesChanged reports the torrent's file list becoming known or
// re-prioritized.
type FilesChanged struct {
	Files []core.FileEntry
}

// Stats is a point-in-time snapshot, as returned by Torrent.Stats.
type Stats struct {
	Snapshot StatsSnapshot
}

// subscriberQueueSize is the fixed capacity of a subscriber's event
// channel; events beyond it wait in the subscriber's unbounded pending
// queue, which a forwarding goroutine drains, so a slow subscriber can never
// stall a producer.
const subscriberQueueSize = 32

// Subscription is a single subscriber's view of an EventBus: a channel of
// events in publish order, closed when the bus itself is closed.
type Subscription struct {
	events chan interface{}
	cancel func()
}

// Events returns the channel this subscription receives bus events on.
func (s *Subscription) Events() <-chan interface{} { return s.events }

// Close detaches this subscription from its bus. Safe to call more than
// once.
func (s *Subscription) Close() { s.cancel() }

// subscriber pairs a bounded delivery channel with an unbounded pending
// queue, so Publish never blocks on a slow reader: a forwarding goroutine
// drains the pending queue into the channel at the subscriber's own pace.
type subscriber struct {
	sub *Subscription

	mu      sync.Mutex
	pending []interface{}
	notify  chan struct{}
	closed  bool
}

func newSubscriber() *subscriber {
	s := &subscriber{
		sub:    &Subscription{events: make(chan interface{}, subscriberQueueSize)},
		notify: make(chan struct{}, 1),
	}
	s.sub.cancel = s.close
	go s.forward()
	return s
}

func (s *subscriber) push(e interface{}) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// forward drains the pending queue into the bounded channel, so an
// arbitrarily large backlog never blocks the publisher goroutine.
func (s *subscriber) forward() {
	for range s.notify {
		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			e := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()

			s.sub.events <- e
		}
	}
	close(s.sub.events)
}

func (s *subscriber) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.notify)
}

// EventBus fans out torrent lifecycle events to any number of subscribers.
// Each subscriber gets its own queue, so one slow consumer never delays
// delivery to the others or blocks Publish.
type EventBus struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool
}

// NewEventBus returns an empty, ready-to-use bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[*subscriber]struct{})}
}

// Subscribe registers a new subscriber and returns its handle. Call
// Subscription.Close when done to release the subscriber's goroutine.
func (b *EventBus) Subscribe() *Subscription {
	s := newSubscriber()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.close()
		return s.sub
	}
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()

	orig := s.sub.cancel
	s.sub.cancel = func() {
		b.mu.Lock()
		delete(b.subscribers, s)
		b.mu.Unlock()
		orig()
	}
	return s.sub
}

// Publish delivers e to every current subscriber. Never blocks regardless
// of how far behind any individual subscriber has fallen.
func (b *EventBus) Publish(e interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subscribers {
		s.push(e)
	}
}

// Close detaches and closes every subscriber's channel. The bus cannot be
// reused afterward.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subscribers {
		s.close()
	}
	b.subscribers = make(map[*subscriber]struct{})
}
