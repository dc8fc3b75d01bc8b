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

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCongestionControllerStartsAtOnePacket(t *testing.T) {
	c := NewCongestionController()
	require.EqualValues(t, maxPacketSize, c.Cwnd())
}

func TestCongestionControllerGrowsBelowTarget(t *testing.T) {
	require := require.New(t)
	c := NewCongestionController()

	before := c.Cwnd()
	c.OnDelaySample(20*time.Millisecond, maxPacketSize)
	require.Greater(c.Cwnd(), before)
}

func TestCongestionControllerShrinksAboveTarget(t *testing.T) {
	require := require.New(t)
	c := NewCongestionController()
	c.cwnd = maxPacketSize * 10

	before := c.Cwnd()
	c.OnDelaySample(300*time.Millisecond, maxPacketSize)
	require.Less(c.Cwnd(), before)
}

func TestCongestionControllerNeverBelowMin(t *testing.T) {
	require := require.New(t)
	c := NewCongestionController()

	for i := 0; i < 100; i++ {
		c.OnDelaySample(time.Second, maxPacketSize)
	}
	require.GreaterOrEqual(c.Cwnd(), int64(minCwnd))
}

func TestCongestionControllerOnTimeoutHalvesWindow(t *testing.T) {
	require := require.New(t)
	c := NewCongestionController()
	c.cwnd = maxPacketSize * 10

	c.OnTimeout()
	require.EqualValues(maxPacketSize*5, c.Cwnd())
}

func TestCongestionControllerRTODefaultsWithoutSample(t *testing.T) {
	c := NewCongestionController()
	require.Equal(t, time.Second, c.RTO())
}

func TestCongestionControllerRTOTracksSamples(t *testing.T) {
	require := require.New(t)
	c := NewCongestionController()

	c.OnRTTSample(50 * time.Millisecond)
	c.OnRTTSample(60 * time.Millisecond)
	c.OnRTTSample(55 * time.Millisecond)

	require.Greater(c.RTO(), 50*time.Millisecond)
}
