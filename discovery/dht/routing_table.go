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
package dht

import (
	"sort"
	"sync"
)

// bucketCount is one bucket per possible common-prefix length with the
// table's own id (idLen*8 bits), the standard Kademlia layout.
const bucketCount = idLen * 8

// bucketSize is k, the max nodes held per bucket.
const bucketSize = 8

// RoutingTable is a k-bucket Kademlia routing table keyed by XOR distance
// from a fixed local node id.
type RoutingTable struct {
	self NodeID

	mu      sync.Mutex
	buckets [bucketCount][]Node
}

// NewRoutingTable builds an empty table centered on self.
func NewRoutingTable(self NodeID) *RoutingTable {
	return &RoutingTable{self: self}
}

func (rt *RoutingTable) bucketIndex(id NodeID) int {
	i := rt.self.Distance(id).leadingZeroBits()
	if i >= bucketCount {
		i = bucketCount - 1
	}
	return i
}

// Add inserts n into its bucket, evicting the oldest entry if the bucket
// is full. Returns true if n was newly added (not already present).
func (rt *RoutingTable) Add(n Node) bool {
	if n.ID == rt.self {
		return false
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	i := rt.bucketIndex(n.ID)
	bucket := rt.buckets[i]
	for j, existing := range bucket {
		if existing.ID == n.ID {
			bucket[j] = n
			return false
		}
	}

	if len(bucket) >= bucketSize {
		bucket = bucket[1:]
	}
	rt.buckets[i] = append(bucket, n)
	return true
}

// Remove deletes id from the table, if present.
func (rt *RoutingTable) Remove(id NodeID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	i := rt.bucketIndex(id)
	bucket := rt.buckets[i]
	for j, existing := range bucket {
		if existing.ID == id {
			rt.buckets[i] = append(bucket[:j], bucket[j+1:]...)
			return
		}
	}
}

// Find returns the node for id, if known.
func (rt *RoutingTable) Find(id NodeID) (Node, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	i := rt.bucketIndex(id)
	for _, n := range rt.buckets[i] {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Closest returns up to count nodes sorted by ascending XOR distance from
// target, searched across all buckets.
func (rt *RoutingTable) Closest(target NodeID, count int) []Node {
	rt.mu.Lock()
	all := make([]Node, 0, bucketSize*4)
	for _, bucket := range rt.buckets {
		all = append(all, bucket...)
	}
	rt.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		di := target.Distance(all[i].ID)
		dj := target.Distance(all[j].ID)
		return di.Less(dj)
	})

	if len(all) > count {
		all = all[:count]
	}
	return all
}

// Len returns the total number of nodes held across all buckets.
func (rt *RoutingTable) Len() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	n := 0
	for _, bucket := range rt.buckets {
		n += len(bucket)
	}
	return n
}

// NonEmptyBuckets returns the index of every bucket currently holding at
// least one node, used to drive per-bucket refresh queries.
func (rt *RoutingTable) NonEmptyBuckets() []int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var idx []int
	for i, bucket := range rt.buckets {
		if len(bucket) > 0 {
			idx = append(idx, i)
		}
	}
	return idx
}
