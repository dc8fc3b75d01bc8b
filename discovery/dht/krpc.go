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
	"bytes"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/yoep/torrent-engine/bencode"
)

// Query names for the four KRPC methods this server supports.
const (
	queryPing         = "ping"
	queryFindNode     = "find_node"
	queryGetPeers     = "get_peers"
	queryAnnouncePeer = "announce_peer"
)

// message is the wire shape of every KRPC packet: a query, a response, or
// an error, distinguished by the "y" field.
type message struct {
	T string      `bencode:"t"`
	Y string      `bencode:"y"`
	Q string      `bencode:"q,omitempty"`
	A *queryArgs  `bencode:"a,omitempty"`
	R *replyValue `bencode:"r,omitempty"`
	E []interface{} `bencode:"e,omitempty"`
}

type queryArgs struct {
	ID          string `bencode:"id"`
	Target      string `bencode:"target,omitempty"`
	InfoHash    string `bencode:"info_hash,omitempty"`
	Port        int64  `bencode:"port,omitempty"`
	ImpliedPort int64  `bencode:"implied_port,omitempty"`
	Token       string `bencode:"token,omitempty"`
}

type replyValue struct {
	ID     string   `bencode:"id"`
	Nodes  string   `bencode:"nodes,omitempty"`
	Token  string   `bencode:"token,omitempty"`
	Values []string `bencode:"values,omitempty"`
}

func encodeNodeID(id NodeID) string { return string(id[:]) }

func decodeNodeID(s string) (NodeID, error) {
	var id NodeID
	if len(s) != idLen {
		return id, fmt.Errorf("dht: node id has length %d, want %d", len(s), idLen)
	}
	copy(id[:], s)
	return id, nil
}

// encodeCompactNodes packs nodes as BEP5's 26-byte (20 id + 4 ipv4 + 2
// port) compact node info entries.
func encodeCompactNodes(nodes []Node) string {
	buf := make([]byte, 0, len(nodes)*26)
	for _, n := range nodes {
		if n.Addr == nil || n.Addr.IP.To4() == nil {
			continue
		}
		buf = append(buf, n.ID[:]...)
		buf = append(buf, n.Addr.IP.To4()...)
		var portBuf [2]byte
		binary.BigEndian.PutUint16(portBuf[:], uint16(n.Addr.Port))
		buf = append(buf, portBuf[:]...)
	}
	return string(buf)
}

func decodeCompactNodes(s string) ([]Node, error) {
	const entryLen = 26
	b := []byte(s)
	if len(b)%entryLen != 0 {
		return nil, fmt.Errorf("dht: compact nodes length %d not a multiple of %d", len(b), entryLen)
	}
	nodes := make([]Node, 0, len(b)/entryLen)
	for i := 0; i < len(b); i += entryLen {
		var id NodeID
		copy(id[:], b[i:i+idLen])
		ip := net.IPv4(b[i+20], b[i+21], b[i+22], b[i+23])
		port := binary.BigEndian.Uint16(b[i+24 : i+26])
		nodes = append(nodes, Node{ID: id, Addr: &net.UDPAddr{IP: ip, Port: int(port)}})
	}
	return nodes, nil
}

// encodeCompactPeer packs a single peer contact as BEP3's 6-byte compact
// peer entry, reused by get_peers responses.
func encodeCompactPeer(addr *net.UDPAddr) string {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return ""
	}
	buf := make([]byte, 6)
	copy(buf, ip4)
	binary.BigEndian.PutUint16(buf[4:6], uint16(addr.Port))
	return string(buf)
}

func decodeCompactPeer(s string) (*net.UDPAddr, error) {
	b := []byte(s)
	if len(b) != 6 {
		return nil, fmt.Errorf("dht: compact peer length %d, want 6", len(b))
	}
	ip := net.IPv4(b[0], b[1], b[2], b[3])
	port := binary.BigEndian.Uint16(b[4:6])
	return &net.UDPAddr{IP: ip, Port: int(port)}, nil
}

func encodeMessage(m message) ([]byte, error) {
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeMessage(raw []byte) (message, error) {
	var m message
	if err := bencode.Unmarshal(bytes.NewReader(raw), &m); err != nil {
		return message{}, err
	}
	return m, nil
}
