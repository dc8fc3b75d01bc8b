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

	"github.com/stretchr/testify/require"
)

func TestRateMeterZeroBeforeAnySample(t *testing.T) {
	require := require.New(t)

	m := newRateMeter()
	require.Equal(float64(0), m.Rate(time.Now()))
}

func TestRateMeterTracksSteadyThroughput(t *testing.T) {
	require := require.New(t)

	m := newRateMeter()
	now := time.Now()

	for i := 0; i < 20; i++ {
		now = now.Add(time.Second)
		m.Record(now, 1000)
	}

	// Should converge close to 1000 bytes/sec.
	rate := m.Rate(now)
	require.InDelta(1000, rate, 50)
}

func TestRateMeterDecaysWhenIdle(t *testing.T) {
	require := require.New(t)

	m := newRateMeter()
	now := time.Now()
	for i := 0; i < 20; i++ {
		now = now.Add(time.Second)
		m.Record(now, 1000)
	}
	before := m.Rate(now)

	later := now.Add(30 * time.Second)
	after := m.Rate(later)

	require.Less(after, before)
}
