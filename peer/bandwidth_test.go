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

func TestBandwidthLimiterDisabled(t *testing.T) {
	require := require.New(t)

	l := NewBandwidthLimiter(BandwidthConfig{Disable: true})

	start := time.Now()
	require.NoError(l.ReserveEgress(1 << 30))
	require.Less(time.Since(start), 100*time.Millisecond)
}

func TestBandwidthLimiterShapesThroughput(t *testing.T) {
	require := require.New(t)

	l := NewBandwidthLimiter(BandwidthConfig{
		EgressBitsPerSec: 80, // 10 bytes/sec
		TokenSize:        8,  // 1 token per byte
	})

	// Drains the full burst immediately.
	require.NoError(l.ReserveEgress(10))

	// The bucket is now empty; reserving a full burst again must wait for
	// it to refill at the configured rate.
	start := time.Now()
	require.NoError(l.ReserveEgress(10))
	require.GreaterOrEqual(time.Since(start), 800*time.Millisecond)
}

func TestBandwidthLimiterZeroBytes(t *testing.T) {
	require := require.New(t)

	l := NewBandwidthLimiter(BandwidthConfig{EgressBitsPerSec: 8000, TokenSize: 8})
	require.NoError(l.ReserveEgress(0))
}
