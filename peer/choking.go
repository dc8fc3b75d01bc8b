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
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"

	"github.com/yoep/torrent-engine/core"
)

// numRegularUnchokes is the count of top downloaders kept unchoked as
// "regulars" on every regular rotation.
const numRegularUnchokes = 4

// regularInterval and optimisticInterval are how often the choking
// algorithm re-evaluates regular and optimistic unchokes, respectively.
const (
	regularInterval    = 10 * time.Second
	optimisticInterval = 30 * time.Second
)

// Choker runs the seed-side choking algorithm across every session attached
// to one torrent: the top numRegularUnchokes downloaders by rolling upload
// rate stay unchoked, plus one optimistic unchoke rotated among the rest.
type Choker struct {
	clk    clock.Clock
	logger *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[core.PeerID]*Session

	done chan struct{}
	once sync.Once
}

// NewChoker creates a Choker. Call Start to begin its rotation loops.
func NewChoker(clk clock.Clock, logger *zap.SugaredLogger) *Choker {
	return &Choker{
		clk:      clk,
		logger:   logger,
		sessions: make(map[core.PeerID]*Session),
		done:     make(chan struct{}),
	}
}

// AddSession registers s with the choking rotation. s starts choked until
// the next regular or optimistic rotation picks it.
func (c *Choker) AddSession(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[s.RemotePeerID()] = s
}

// RemoveSession unregisters a session, e.g. on disconnect.
func (c *Choker) RemoveSession(peerID core.PeerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, peerID)
}

// Start launches the regular and optimistic rotation loops.
func (c *Choker) Start() {
	go c.loop(regularInterval, c.runRegularRotation)
	go c.loop(optimisticInterval, c.runOptimisticRotation)
}

// Stop halts both rotation loops.
func (c *Choker) Stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *Choker) loop(interval time.Duration, tick func()) {
	ticker := c.clk.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tick()
		case <-c.done:
			return
		}
	}
}

// runRegularRotation unchokes the top numRegularUnchokes interested peers by
// upload rate and chokes every other peer that is currently unchoked. The
// peer unchoked by the optimistic rotation is not exempted: unless it is
// among the regulars, it is choked here too.
func (c *Choker) runRegularRotation() {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	interested := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		if s.PeerInterested() {
			interested = append(interested, s)
		}
	}

	sort.Slice(interested, func(i, j int) bool {
		return interested[i].BytesInRate() > interested[j].BytesInRate()
	})

	regulars := make(map[core.PeerID]bool, numRegularUnchokes)
	for i := 0; i < len(interested) && i < numRegularUnchokes; i++ {
		regulars[interested[i].RemotePeerID()] = true
	}

	for _, s := range sessions {
		if regulars[s.RemotePeerID()] {
			if err := s.Unchoke(); err != nil {
				c.logger.Debugf("Failed to unchoke %s: %s", s.RemotePeerID(), err)
			}
			continue
		}
		// Already choked; nothing to send.
		if s.AmChoking() {
			continue
		}
		if err := s.Choke(); err != nil {
			c.logger.Debugf("Failed to choke %s: %s", s.RemotePeerID(), err)
		}
	}
}

// runOptimisticRotation picks one choked, interested peer uniformly at
// random and unchokes it, giving new or slow peers a chance to prove
// themselves without waiting for a regular-rotation slot.
func (c *Choker) runOptimisticRotation() {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	candidates := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		if s.AmChoking() && s.PeerInterested() {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return
	}

	chosen := candidates[rand.Intn(len(candidates))]
	if err := chosen.Unchoke(); err != nil {
		c.logger.Debugf("Failed optimistic unchoke of %s: %s", chosen.RemotePeerID(), err)
	}
}
