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
package transport

import "time"

// retransmitTick is how often a connection checks its unacked packets
// against the current RTO.
const retransmitTick = 50 * time.Millisecond

// runRetransmitLoop resends any packet that has outlived the congestion
// controller's RTO, backing off the window on each timeout. It exits once
// the connection closes.
func (c *UTPConn) runRetransmitLoop() {
	ticker := c.clk.Ticker(retransmitTick)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		if c.state == stateClosed {
			c.mu.Unlock()
			return
		}
		rto := c.cong.RTO()
		now := c.clk.Now()
		var stale []*outPacket
		for _, op := range c.unacked {
			if now.Sub(op.sentAt) >= rto {
				stale = append(stale, op)
			}
		}
		if len(stale) > 0 {
			c.cong.OnTimeout()
		}
		addr := c.remoteAddr
		c.mu.Unlock()

		for _, op := range stale {
			op.sentAt = now
			c.socket.send(op.packet, addr)
		}
	}
}
