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
package piece

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPriorityIndexDefaultsToNormal(t *testing.T) {
	require := require.New(t)

	p := NewPriorityIndex(1000)
	require.Equal(PriorityNormal, p.Priority(500))
}

func TestPriorityIndexPrefetchWindow(t *testing.T) {
	require := require.New(t)

	p := NewPriorityIndex(100)
	require.Equal(PriorityHigh, p.Priority(0))
	require.Equal(PriorityHigh, p.Priority(99))
	require.Equal(PriorityNormal, p.Priority(50))
}

func TestPriorityIndexPrefetchShrinksOnArrival(t *testing.T) {
	require := require.New(t)

	p := NewPriorityIndex(100)
	require.Equal(PriorityHigh, p.Priority(0))
	p.MarkArrived(0)
	require.Equal(PriorityNormal, p.Priority(0))
}

func TestPriorityIndexStreamWindow(t *testing.T) {
	require := require.New(t)

	p := NewPriorityIndex(1000)
	p.SetStream(1, StreamWindow{Cursor: 500})

	require.Equal(PriorityNow, p.Priority(500))
	require.Equal(PriorityNext, p.Priority(501))
	require.Equal(PriorityReadahead, p.Priority(502))
	require.Equal(PriorityReadahead, p.Priority(500+readaheadPieces))
	require.Equal(PriorityNormal, p.Priority(500+readaheadPieces+1))
}

func TestPriorityIndexPinnedOverridesComputed(t *testing.T) {
	require := require.New(t)

	p := NewPriorityIndex(1000)
	p.SetPinned(500, PriorityHigh)
	require.Equal(PriorityHigh, p.Priority(500))
}

func TestPriorityIndexNowAlwaysWinsOverPinned(t *testing.T) {
	require := require.New(t)

	p := NewPriorityIndex(1000)
	p.SetPinned(500, PriorityNone)
	p.SetStream(1, StreamWindow{Cursor: 500})
	require.Equal(PriorityNow, p.Priority(500))
}

func TestPriorityIndexClearStream(t *testing.T) {
	require := require.New(t)

	p := NewPriorityIndex(1000)
	p.SetStream(1, StreamWindow{Cursor: 500})
	p.ClearStream(1)
	require.Equal(PriorityNormal, p.Priority(500))
}
