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
	"github.com/willf/bitset"

	"github.com/yoep/torrent-engine/utils/heap"
	"github.com/yoep/torrent-engine/utils/syncutil"
)

// priorityWeight spaces priority tiers far enough apart in the combined
// sort key that rarity, which only ever adds a small positive offset,
// can never make a lower tier outrank a higher one.
const priorityWeight = 1 << 20

// SelectPieces returns up to limit piece indices drawn from candidates,
// ordered highest priority first and, within a priority tier, rarest
// first (fewest peers reported to have the piece). Pieces for which
// valid returns false, or whose priority is PriorityNone, are excluded.
func SelectPieces(
	limit int,
	valid func(i int) bool,
	candidates *bitset.BitSet,
	priority func(i int) Priority,
	rarity *syncutil.Counters,
) []int {
	if limit <= 0 || candidates == nil {
		return nil
	}

	pq := heap.NewPriorityQueue()
	for i, ok := candidates.NextSet(0); ok; i, ok = candidates.NextSet(i + 1) {
		idx := int(i)
		if !valid(idx) {
			continue
		}
		p := priority(idx)
		if p == PriorityNone {
			continue
		}
		key := -(int(p) * priorityWeight)
		if idx < rarity.Len() {
			key += rarity.Get(idx)
		}
		pq.Push(&heap.Item{Value: idx, Priority: key})
	}

	pieces := make([]int, 0, limit)
	for len(pieces) < limit && pq.Len() > 0 {
		item, err := pq.Pop()
		if err != nil {
			break
		}
		pieces = append(pieces, item.Value.(int))
	}
	return pieces
}
