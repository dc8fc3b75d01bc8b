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
package utp

import "time"

// LEDBAT (BEP29, RFC 6817) tuning constants.
const (
	// targetDelay is the one-way queuing delay LEDBAT tries to maintain.
	targetDelay = 100 * time.Millisecond

	// minCwnd is the smallest congestion window this implementation will
	// shrink to, matching the minimum allowed packet burst of one packet.
	minCwnd = maxPacketSize

	// maxCwndIncreasePerRTT caps how fast the window may grow in a single
	// round-trip, per BEP29's gain formula.
	maxCwndIncreasePerRTT = maxPacketSize
)

// MaxPacketPayload bounds a single µTP packet's payload, keeping packets
// under typical path MTUs without fragmentation. Exported for callers
// (transport.UTPConn) that need to size their own send chunks.
const MaxPacketPayload = 1400

// maxPacketSize is the package-internal alias used by the congestion math
// above.
const maxPacketSize = MaxPacketPayload

// CongestionController implements LEDBAT's delay-based window control. It
// is not safe for concurrent use; the owning Conn serializes access.
type CongestionController struct {
	cwnd          int64
	baseDelay     time.Duration
	haveBaseDelay bool
	rttEstimate   time.Duration
	rttVar        time.Duration
	haveRTT       bool
}

// NewCongestionController returns a controller starting at a single
// packet's worth of window, per BEP29's slow-start behavior.
func NewCongestionController() *CongestionController {
	return &CongestionController{cwnd: maxPacketSize}
}

// Cwnd returns the current congestion window in bytes.
func (c *CongestionController) Cwnd() int64 {
	return c.cwnd
}

// RTO returns the current retransmission timeout, derived from the RTT
// estimate independently of the one-way LEDBAT delay, per Jacobson/Karels.
func (c *CongestionController) RTO() time.Duration {
	if !c.haveRTT {
		return time.Second
	}
	rto := c.rttEstimate + 4*c.rttVar
	if rto < 100*time.Millisecond {
		rto = 100 * time.Millisecond
	}
	return rto
}

// OnDelaySample updates the congestion window from a delay sample compared
// against targetDelay. transport.UTPConn passes the acked packet's measured
// round-trip time; the header's timestamp-difference field is not used, so
// no separate one-way delay is measured.
func (c *CongestionController) OnDelaySample(delay time.Duration, bytesAcked int64) {
	if !c.haveBaseDelay || delay < c.baseDelay {
		c.baseDelay = delay
		c.haveBaseDelay = true
	}

	offTarget := float64(targetDelay-delay) / float64(targetDelay)
	gain := int64(offTarget * float64(maxCwndIncreasePerRTT) * float64(bytesAcked) / float64(c.cwnd))

	c.cwnd += gain
	if c.cwnd < minCwnd {
		c.cwnd = minCwnd
	}
}

// OnRTTSample updates the smoothed round-trip time and its variance from a
// fresh measurement, used only for RTO scheduling.
func (c *CongestionController) OnRTTSample(sample time.Duration) {
	if !c.haveRTT {
		c.rttEstimate = sample
		c.rttVar = sample / 2
		c.haveRTT = true
		return
	}
	delta := c.rttEstimate - sample
	if delta < 0 {
		delta = -delta
	}
	c.rttVar = c.rttVar + (delta-c.rttVar)/4
	c.rttEstimate = c.rttEstimate + (sample-c.rttEstimate)/8
}

// OnTimeout halves the window in response to a retransmission timeout,
// mirroring TCP-style loss response since LEDBAT still backs off hard on
// an actual drop rather than just a delay signal.
func (c *CongestionController) OnTimeout() {
	c.cwnd /= 2
	if c.cwnd < minCwnd {
		c.cwnd = minCwnd
	}
}
