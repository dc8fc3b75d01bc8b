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
	"context"
	"net"
	"sync"
	"time"
)

// cleanupTick is how often expired peer entries are swept, independent of
// config.PeerTTL.
const cleanupTick = 2 * time.Second

// bootstrap pings every configured bootstrap node and, on success, asks
// it for nodes near this server's own id to seed the routing table.
func (s *Server) bootstrap() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, host := range s.config.BootstrapNodes {
		addr, err := net.ResolveUDPAddr("udp", host)
		if err != nil {
			s.logger.Warnf("dht: failed to resolve bootstrap node %s: %s", host, err)
			continue
		}
		wg.Add(1)
		go func(addr *net.UDPAddr) {
			defer wg.Done()
			if err := s.Ping(ctx, addr); err != nil {
				return
			}
			s.FindNode(ctx, addr, s.id)
		}(addr)
	}
	wg.Wait()

	s.logger.Infof("dht: bootstrap complete, routing table has %d nodes", s.table.Len())
}

// refreshLoop periodically sends a find_node for this server's own id to
// each of the (up to bucketCount) known nodes closest to it, refreshing
// their entries and discovering new ones along the way.
func (s *Server) refreshLoop() {
	ticker := s.clk.Ticker(s.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeCh:
			return
		case <-ticker.C:
			s.refreshRoutingTable()
		}
	}
}

func (s *Server) refreshRoutingTable() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.QueryTimeout)
	defer cancel()

	nodes := s.table.Closest(s.id, bucketCount)
	for _, n := range nodes {
		s.FindNode(ctx, n.Addr, s.id)
	}
}

// cleanupLoop expires peer announcements past their TTL. Pending queries
// are not swept here; their timeout is the per-query context in query().
func (s *Server) cleanupLoop() {
	ticker := s.clk.Ticker(cleanupTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeCh:
			return
		case <-ticker.C:
			s.expirePeers()
		}
	}
}

func (s *Server) expirePeers() {
	now := s.clk.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for ih, entries := range s.peers {
		fresh := entries[:0]
		for _, e := range entries {
			if now.Before(e.expiresAt) {
				fresh = append(fresh, e)
			}
		}
		if len(fresh) == 0 {
			delete(s.peers, ih)
		} else {
			s.peers[ih] = fresh
		}
	}
}
