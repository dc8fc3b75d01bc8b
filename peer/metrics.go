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
	"math"
	"sync"
	"time"
)

// ewmaWindow is the decay window used for bytes-in/bytes-out rate metrics,
// per the 4-second smoothing window peer sessions report to the choking
// algorithm and the UI.
const ewmaWindow = 4 * time.Second

// rateMeter tracks a decaying bytes-per-second estimate for one direction of
// traffic on a single peer session. Samples recorded within the same second
// are coalesced before being folded into the average, so a burst of small
// block reads doesn't over-weight the most recent sample.
type rateMeter struct {
	mu        sync.Mutex
	rate      float64
	lastSeen  time.Time
	pending   int64
	pendingAt time.Time
}

func newRateMeter() *rateMeter {
	return &rateMeter{}
}

// Record folds n newly transferred bytes into the rolling rate estimate.
func (m *rateMeter) Record(now time.Time, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pendingAt.IsZero() {
		// A new window starts where the previous one was folded, so these
		// bytes are spread over the time since then.
		m.pendingAt = m.lastSeen
		if m.pendingAt.IsZero() {
			m.pendingAt = now
		}
	}
	m.pending += n

	elapsed := now.Sub(m.pendingAt)
	if elapsed < time.Second {
		return
	}
	m.foldLocked(now)
}

// Rate returns the current smoothed bytes-per-second estimate, folding in
// any pending samples first.
func (m *rateMeter) Rate(now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.pendingAt.IsZero() {
		m.foldLocked(now)
	}
	if m.lastSeen.IsZero() {
		return 0
	}
	// Decay towards zero the longer nothing has been recorded.
	idle := now.Sub(m.lastSeen)
	if idle <= 0 {
		return m.rate
	}
	decay := math.Exp(-idle.Seconds() / ewmaWindow.Seconds())
	return m.rate * decay
}

func (m *rateMeter) foldLocked(now time.Time) {
	elapsed := now.Sub(m.pendingAt)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	sample := float64(m.pending) / elapsed.Seconds()

	if m.lastSeen.IsZero() {
		m.rate = sample
	} else {
		alpha := 1 - math.Exp(-elapsed.Seconds()/ewmaWindow.Seconds())
		m.rate += alpha * (sample - m.rate)
	}
	m.lastSeen = now
	m.pending = 0
	m.pendingAt = time.Time{}
}
