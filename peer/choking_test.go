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
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestChokerUnchokesTopDownloaders(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	c := NewChoker(clk, zap.NewNop().Sugar())

	var sessions []*Session
	var srcs []*fakePieceSource
	for i := 0; i < 6; i++ {
		sessA, _, srcA, _ := newTestSessionPair(t)
		sessions = append(sessions, sessA)
		srcs = append(srcs, srcA)
		c.AddSession(sessA)

		// Fabricate an interested state and a distinguishing download rate
		// without waiting on real traffic, since this test only exercises
		// Choker's selection logic.
		sessA.mu.Lock()
		sessA.peerInterested = true
		sessA.mu.Unlock()
		sessA.inRate.rate = float64(1000 * (i + 1))
		sessA.inRate.lastSeen = time.Now()
	}

	c.runRegularRotation()

	// The 4 fastest (highest index) sessions should be unchoked; the rest choked.
	for i, s := range sessions {
		if i >= 2 {
			require.False(s.AmChoking(), "session %d should be unchoked", i)
		} else {
			require.True(s.AmChoking(), "session %d should remain choked", i)
		}
	}
	_ = srcs
}

func TestChokerOptimisticUnchokePicksAChokedInterestedPeer(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	c := NewChoker(clk, zap.NewNop().Sugar())

	sessA, _, _, _ := newTestSessionPair(t)
	c.AddSession(sessA)

	sessA.mu.Lock()
	sessA.peerInterested = true
	sessA.mu.Unlock()

	c.runOptimisticRotation()

	require.False(sessA.AmChoking())
}

func TestChokerRemoveSession(t *testing.T) {
	require := require.New(t)

	clk := clock.New()
	c := NewChoker(clk, zap.NewNop().Sugar())

	sessA, _, _, _ := newTestSessionPair(t)
	c.AddSession(sessA)
	c.RemoveSession(sessA.RemotePeerID())

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(c.sessions, 0)
}
