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
package tracker

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/yoep/torrent-engine/core"
)

// udpProtocolMagic is BEP15's fixed connect-request magic constant.
const udpProtocolMagic uint64 = 0x41727101980

// UDP tracker action codes (BEP15).
const (
	udpActionConnect  int32 = 0
	udpActionAnnounce int32 = 1
	udpActionScrape   int32 = 2
	udpActionError    int32 = 3
)

// udpMaxReplySize bounds a single UDP tracker reply.
const udpMaxReplySize = 16 * 1024

// udpConnIDTTL is how long a connection id returned by connect() remains
// valid for subsequent announce/scrape requests, per BEP15.
const udpConnIDTTL = time.Minute

// udpClient is a BEP15 UDP tracker client.
type udpClient struct {
	rawURL string
	addr   *net.UDPAddr

	mu        sync.Mutex
	conn      *net.UDPConn
	connID    uint64
	connIDSet time.Time
}

// NewUDPClient builds a Client for a "udp://host:port/announce" tracker URL.
func NewUDPClient(rawURL string) (Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse udp tracker url: %s", err)
	}
	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("resolve udp tracker addr: %s", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp tracker: %s", err)
	}
	return &udpClient{rawURL: rawURL, addr: addr, conn: conn}, nil
}

func (c *udpClient) URL() string { return c.rawURL }

func (c *udpClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// connectionID returns a cached connection id, reconnecting if it has
// expired or was never established.
func (c *udpClient) connectionID() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connID != 0 && time.Since(c.connIDSet) < udpConnIDTTL {
		return c.connID, nil
	}

	txID := rand.Uint32()
	req := make([]byte, 16)
	binary.BigEndian.PutUint64(req[0:8], udpProtocolMagic)
	binary.BigEndian.PutUint32(req[8:12], uint32(udpActionConnect))
	binary.BigEndian.PutUint32(req[12:16], txID)

	resp, err := c.roundTripLocked(req, 16)
	if err != nil {
		return 0, fmt.Errorf("connect: %s", err)
	}
	if err := checkUDPResponse(resp, udpActionConnect, txID); err != nil {
		return 0, err
	}

	c.connID = binary.BigEndian.Uint64(resp[8:16])
	c.connIDSet = time.Now()
	return c.connID, nil
}

// roundTripLocked writes req and reads a reply of at least minLen bytes.
// Callers must hold c.mu.
func (c *udpClient) roundTripLocked(req []byte, minLen int) ([]byte, error) {
	if _, err := c.conn.Write(req); err != nil {
		return nil, fmt.Errorf("write: %s", err)
	}
	c.conn.SetReadDeadline(time.Now().Add(15 * time.Second))

	buf := make([]byte, udpMaxReplySize)
	n, err := c.conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read: %s", err)
	}
	if n < minLen {
		return nil, fmt.Errorf("short reply: %d bytes", n)
	}
	return buf[:n], nil
}

func checkUDPResponse(resp []byte, wantAction int32, wantTxID uint32) error {
	action := int32(binary.BigEndian.Uint32(resp[0:4]))
	txID := binary.BigEndian.Uint32(resp[4:8])
	if txID != wantTxID {
		return fmt.Errorf("transaction id mismatch")
	}
	if action == udpActionError {
		return fmt.Errorf("tracker error: %s", string(resp[8:]))
	}
	if action != wantAction {
		return fmt.Errorf("unexpected action %d, wanted %d", action, wantAction)
	}
	return nil
}

func (c *udpClient) Announce(ctx context.Context, req AnnounceRequest) (*core.AnnounceResponse, error) {
	connID, err := c.connectionID()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	txID := rand.Uint32()
	ih := req.InfoHash.Short()

	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, connID)
	binary.Write(&buf, binary.BigEndian, udpActionAnnounce)
	binary.Write(&buf, binary.BigEndian, txID)
	buf.Write(ih[:])
	buf.Write(req.PeerID[:])
	binary.Write(&buf, binary.BigEndian, req.Downloaded)
	binary.Write(&buf, binary.BigEndian, req.Left)
	binary.Write(&buf, binary.BigEndian, req.Uploaded)
	binary.Write(&buf, binary.BigEndian, udpAnnounceEvent(req.Event))
	binary.Write(&buf, binary.BigEndian, uint32(0)) // ip address: 0 = tracker should use sender's
	binary.Write(&buf, binary.BigEndian, rand.Uint32())
	numWant := int32(-1)
	if req.NumWant > 0 {
		numWant = int32(req.NumWant)
	}
	binary.Write(&buf, binary.BigEndian, numWant)
	binary.Write(&buf, binary.BigEndian, uint16(req.Port))

	resp, err := c.roundTripLocked(buf.Bytes(), 20)
	if err != nil {
		return nil, fmt.Errorf("announce: %s", err)
	}
	if err := checkUDPResponse(resp, udpActionAnnounce, txID); err != nil {
		return nil, err
	}

	interval := int64(binary.BigEndian.Uint32(resp[8:12]))
	incomplete := int64(binary.BigEndian.Uint32(resp[12:16]))
	complete := int64(binary.BigEndian.Uint32(resp[16:20]))

	peers, err := decodeCompactPeers(resp[20:])
	if err != nil {
		return nil, fmt.Errorf("decode peers: %s", err)
	}

	return &core.AnnounceResponse{
		Interval:   interval,
		Complete:   complete,
		Incomplete: incomplete,
		Peers:      peers,
	}, nil
}

func udpAnnounceEvent(e Event) int32 {
	switch e {
	case EventCompleted:
		return 1
	case EventStarted:
		return 2
	case EventStopped:
		return 3
	default:
		return 0
	}
}

func (c *udpClient) Scrape(ctx context.Context, infoHashes []core.InfoHash) (map[core.InfoHash]*ScrapeResult, error) {
	connID, err := c.connectionID()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	txID := rand.Uint32()

	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, connID)
	binary.Write(&buf, binary.BigEndian, udpActionScrape)
	binary.Write(&buf, binary.BigEndian, txID)
	for _, ih := range infoHashes {
		short := ih.Short()
		buf.Write(short[:])
	}

	resp, err := c.roundTripLocked(buf.Bytes(), 8)
	if err != nil {
		return nil, fmt.Errorf("scrape: %s", err)
	}
	if err := checkUDPResponse(resp, udpActionScrape, txID); err != nil {
		return nil, err
	}

	results := make(map[core.InfoHash]*ScrapeResult, len(infoHashes))
	body := resp[8:]
	for i, ih := range infoHashes {
		off := i * 12
		if off+12 > len(body) {
			break
		}
		results[ih] = &ScrapeResult{
			Complete:   int64(binary.BigEndian.Uint32(body[off : off+4])),
			Downloaded: int64(binary.BigEndian.Uint32(body[off+4 : off+8])),
			Incomplete: int64(binary.BigEndian.Uint32(body[off+8 : off+12])),
		}
	}
	return results, nil
}
