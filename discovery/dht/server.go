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
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
)

// maxPacketSize bounds a single incoming KRPC datagram.
const maxPacketSize = 65535

type transactionKey struct {
	id   uint16
	addr string
}

type pendingQuery struct {
	replyCh chan queryReply
	sentAt  time.Time
}

type queryReply struct {
	msg message
	err error
}

type peerEntry struct {
	addr      *net.UDPAddr
	expiresAt time.Time
}

// Server is a single BEP5 DHT node: one UDP socket, a routing table, and
// an in-memory peer store for announce_peer/get_peers.
type Server struct {
	id     NodeID
	conn   *net.UDPConn
	table  *RoutingTable
	config Config
	clk    clock.Clock
	logger *zap.SugaredLogger

	secret []byte

	mu      sync.Mutex
	pending map[transactionKey]*pendingQuery
	peers   map[NodeID][]peerEntry

	txCounter uint32

	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewServer binds a UDP socket at config.ListenAddr and starts its read,
// refresh, and cleanup loops.
func NewServer(config Config, id NodeID, clk clock.Clock, logger *zap.SugaredLogger) (*Server, error) {
	config = config.applyDefaults()

	udpAddr, err := net.ResolveUDPAddr("udp", config.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve dht listen addr: %s", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen dht udp: %s", err)
	}

	secret := make([]byte, 8)
	if _, err := crand.Read(secret); err != nil {
		conn.Close()
		return nil, fmt.Errorf("generate token secret: %s", err)
	}

	s := &Server{
		id:      id,
		conn:    conn,
		table:   NewRoutingTable(id),
		config:  config,
		clk:     clk,
		logger:  logger,
		secret:  secret,
		pending: make(map[transactionKey]*pendingQuery),
		peers:   make(map[NodeID][]peerEntry),
		closeCh: make(chan struct{}),
	}

	go s.readLoop()
	go s.refreshLoop()
	go s.cleanupLoop()
	if len(config.BootstrapNodes) > 0 {
		go s.bootstrap()
	}

	return s, nil
}

// ID returns the server's own node id.
func (s *Server) ID() NodeID { return s.id }

// Addr returns the bound local UDP address.
func (s *Server) Addr() net.Addr { return s.conn.LocalAddr() }

// RoutingTable exposes the underlying table for stats and tests.
func (s *Server) RoutingTable() *RoutingTable { return s.table }

// Close shuts the server down: it stops the background loops and closes the
// socket. In-flight queries are not interrupted; each still ends at its own
// context deadline or the query timeout.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.closeCh) })
	return s.conn.Close()
}

func (s *Server) readLoop() {
	buf := make([]byte, maxPacketSize)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
				s.logger.Warnf("dht: read error: %s", err)
				return
			}
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		go s.handlePacket(raw, addr)
	}
}

func (s *Server) handlePacket(raw []byte, addr *net.UDPAddr) {
	m, err := decodeMessage(raw)
	if err != nil {
		s.logger.Debugf("dht: malformed packet from %s: %s", addr, err)
		return
	}

	switch m.Y {
	case "q":
		s.handleQuery(m, addr)
	case "r":
		s.resolve(m, addr, queryReply{msg: m})
	case "e":
		s.resolve(m, addr, queryReply{err: fmt.Errorf("dht: remote error %v", m.E)})
	}
}

func (s *Server) resolve(m message, addr *net.UDPAddr, reply queryReply) {
	txID, err := parseTransactionID(m.T)
	if err != nil {
		return
	}
	key := transactionKey{id: txID, addr: addr.String()}

	s.mu.Lock()
	pq, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	pq.replyCh <- reply
}

func (s *Server) handleQuery(m message, addr *net.UDPAddr) {
	if m.A == nil {
		return
	}
	fromID, err := decodeNodeID(m.A.ID)
	if err == nil {
		s.table.Add(Node{ID: fromID, Addr: addr})
	}

	switch m.Q {
	case queryPing:
		s.reply(m.T, addr, &replyValue{ID: encodeNodeID(s.id)})

	case queryFindNode:
		target, err := decodeNodeID(m.A.Target)
		if err != nil {
			return
		}
		nodes := s.table.Closest(target, bucketSize)
		s.reply(m.T, addr, &replyValue{ID: encodeNodeID(s.id), Nodes: encodeCompactNodes(nodes)})

	case queryGetPeers:
		s.handleGetPeers(m, addr)

	case queryAnnouncePeer:
		s.handleAnnouncePeer(m, addr)
	}
}

func (s *Server) handleGetPeers(m message, addr *net.UDPAddr) {
	target, err := decodeNodeID(m.A.InfoHash)
	if err != nil {
		return
	}

	s.mu.Lock()
	entries := s.peers[target]
	s.mu.Unlock()

	rv := &replyValue{ID: encodeNodeID(s.id), Token: s.makeToken(addr)}
	if len(entries) > 0 {
		for _, e := range entries {
			rv.Values = append(rv.Values, encodeCompactPeer(e.addr))
		}
	} else {
		rv.Nodes = encodeCompactNodes(s.table.Closest(target, bucketSize))
	}
	s.reply(m.T, addr, rv)
}

func (s *Server) handleAnnouncePeer(m message, addr *net.UDPAddr) {
	if !s.validToken(addr, m.A.Token) {
		s.replyError(m.T, addr, 203, "bad token")
		return
	}
	infoHash, err := decodeNodeID(m.A.InfoHash)
	if err != nil {
		return
	}

	port := addr.Port
	if m.A.ImpliedPort == 0 && m.A.Port != 0 {
		port = int(m.A.Port)
	}
	peerAddr := &net.UDPAddr{IP: addr.IP, Port: port}

	s.mu.Lock()
	s.peers[infoHash] = append(s.peers[infoHash], peerEntry{
		addr:      peerAddr,
		expiresAt: s.clk.Now().Add(s.config.PeerTTL),
	})
	s.mu.Unlock()

	s.reply(m.T, addr, &replyValue{ID: encodeNodeID(s.id)})
}

func (s *Server) reply(t string, addr *net.UDPAddr, r *replyValue) {
	s.send(message{T: t, Y: "r", R: r}, addr)
}

func (s *Server) replyError(t string, addr *net.UDPAddr, code int, msg string) {
	s.send(message{T: t, Y: "e", E: []interface{}{int64(code), msg}}, addr)
}

func (s *Server) send(m message, addr *net.UDPAddr) error {
	raw, err := encodeMessage(m)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(raw, addr)
	return err
}

func (s *Server) nextTransactionID() uint16 {
	return uint16(atomic.AddUint32(&s.txCounter, 1))
}

// query sends a KRPC query and blocks until a matching response/error
// arrives, ctx is cancelled, or config.QueryTimeout elapses.
func (s *Server) query(ctx context.Context, q string, args queryArgs, addr *net.UDPAddr) (message, error) {
	if addr.IP.IsUnspecified() || addr.Port == 0 {
		return message{}, fmt.Errorf("dht: invalid remote address %s", addr)
	}

	txID := s.nextTransactionID()
	key := transactionKey{id: txID, addr: addr.String()}
	pq := &pendingQuery{replyCh: make(chan queryReply, 1), sentAt: s.clk.Now()}

	s.mu.Lock()
	s.pending[key] = pq
	s.mu.Unlock()

	args.ID = encodeNodeID(s.id)
	m := message{T: encodeTransactionID(txID), Y: "q", Q: q, A: &args}
	if err := s.send(m, addr); err != nil {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
		return message{}, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	select {
	case reply := <-pq.replyCh:
		return reply.msg, reply.err
	case <-timeoutCtx.Done():
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
		return message{}, timeoutCtx.Err()
	}
}

// Ping queries addr and, on success, records it in the routing table.
func (s *Server) Ping(ctx context.Context, addr *net.UDPAddr) error {
	reply, err := s.query(ctx, queryPing, queryArgs{}, addr)
	if err != nil {
		return err
	}
	if reply.R == nil {
		return fmt.Errorf("dht: ping reply missing id")
	}
	id, err := decodeNodeID(reply.R.ID)
	if err != nil {
		return err
	}
	s.table.Add(Node{ID: id, Addr: addr})
	return nil
}

// FindNode asks addr for the nodes closest to target.
func (s *Server) FindNode(ctx context.Context, addr *net.UDPAddr, target NodeID) ([]Node, error) {
	reply, err := s.query(ctx, queryFindNode, queryArgs{Target: encodeNodeID(target)}, addr)
	if err != nil {
		return nil, err
	}
	if reply.R == nil {
		return nil, fmt.Errorf("dht: find_node reply missing values")
	}
	nodes, err := decodeCompactNodes(reply.R.Nodes)
	if err != nil {
		return nil, err
	}
	s.table.Add(Node{ID: mustNodeID(reply.R.ID), Addr: addr})
	for _, n := range nodes {
		s.table.Add(n)
	}
	return nodes, nil
}

// GetPeers asks addr for peers on infoHash, returning any peer contacts
// it knows directly, any closer nodes to continue the search at, and the
// token required for a subsequent AnnouncePeer to addr.
func (s *Server) GetPeers(ctx context.Context, addr *net.UDPAddr, infoHash NodeID) ([]*net.UDPAddr, []Node, string, error) {
	reply, err := s.query(ctx, queryGetPeers, queryArgs{InfoHash: encodeNodeID(infoHash)}, addr)
	if err != nil {
		return nil, nil, "", err
	}
	if reply.R == nil {
		return nil, nil, "", fmt.Errorf("dht: get_peers reply missing values")
	}

	var peers []*net.UDPAddr
	for _, v := range reply.R.Values {
		p, err := decodeCompactPeer(v)
		if err == nil {
			peers = append(peers, p)
		}
	}

	var nodes []Node
	if reply.R.Nodes != "" {
		nodes, _ = decodeCompactNodes(reply.R.Nodes)
	}

	return peers, nodes, reply.R.Token, nil
}

// AnnouncePeer tells addr that this node is downloading infoHash on port,
// using a token obtained from a prior GetPeers call to addr.
func (s *Server) AnnouncePeer(ctx context.Context, addr *net.UDPAddr, infoHash NodeID, port int, token string) error {
	_, err := s.query(ctx, queryAnnouncePeer, queryArgs{
		InfoHash:    encodeNodeID(infoHash),
		Port:        int64(port),
		ImpliedPort: 0,
		Token:       token,
	}, addr)
	return err
}

func (s *Server) makeToken(addr *net.UDPAddr) string {
	h := murmur3.New32WithSeed(0)
	h.Write(s.secret)
	h.Write([]byte(addr.IP.String()))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Server) validToken(addr *net.UDPAddr, token string) bool {
	return token != "" && token == s.makeToken(addr)
}

func parseTransactionID(t string) (uint16, error) {
	if len(t) != 2 {
		return 0, fmt.Errorf("dht: transaction id has length %d, want 2", len(t))
	}
	return uint16(t[0])<<8 | uint16(t[1]), nil
}

func encodeTransactionID(id uint16) string {
	return string([]byte{byte(id >> 8), byte(id)})
}

func mustNodeID(s string) NodeID {
	id, _ := decodeNodeID(s)
	return id
}
