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
package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"

	"github.com/yoep/torrent-engine/wire/utp"
)

// ErrSocketClosed is returned by Accept/Dial after the socket has closed.
var ErrSocketClosed = errors.New("utp: socket closed")

// UTPSocket demultiplexes many µTP streams over a single UDP socket by
// 16-bit connection id.
type UTPSocket struct {
	pconn  net.PacketConn
	clk    clock.Clock
	logger *zap.SugaredLogger

	mu       sync.Mutex
	conns    map[uint16]*UTPConn
	closed   bool
	acceptCh chan *UTPConn
	closeCh  chan struct{}
}

// NewUTPSocket wraps pconn and starts demultiplexing incoming packets.
func NewUTPSocket(pconn net.PacketConn, clk clock.Clock, logger *zap.SugaredLogger) *UTPSocket {
	s := &UTPSocket{
		pconn:    pconn,
		clk:      clk,
		logger:   logger,
		conns:    make(map[uint16]*UTPConn),
		acceptCh: make(chan *UTPConn, 128),
		closeCh:  make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// Close shuts down the underlying UDP socket and all open connections.
func (s *UTPSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	conns := make([]*UTPConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return s.pconn.Close()
}

func (s *UTPSocket) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := s.pconn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
				s.logger.Errorf("utp socket read: %s", err)
				return
			}
		}
		p, err := utp.DecodePacket(buf[:n])
		if err != nil {
			s.logger.Warnf("utp socket: dropping malformed packet from %s: %s", addr, err)
			continue
		}
		s.dispatch(p, addr)
	}
}

func (s *UTPSocket) dispatch(p utp.Packet, addr net.Addr) {
	s.mu.Lock()
	c, ok := s.conns[p.ConnID]
	if !ok && p.Type == utp.StSyn {
		recvID := p.ConnID + 1
		c = newUTPConn(s, addr, recvID, p.ConnID, s.clk, s.logger)
		c.ackNr = p.SeqNr
		s.conns[recvID] = c
		s.mu.Unlock()

		select {
		case s.acceptCh <- c:
		default:
			s.logger.Warnf("utp socket: accept backlog full, dropping SYN from %s", addr)
			return
		}

		c.mu.Lock()
		c.state = stateConnected
		c.mu.Unlock()
		c.sendAck()
		go c.runRetransmitLoop()
		return
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	c.handlePacket(p)
}

// Accept waits for an inbound SYN to establish a new connection.
func (s *UTPSocket) Accept(ctx context.Context) (*UTPConn, error) {
	select {
	case c := <-s.acceptCh:
		return c, nil
	case <-s.closeCh:
		return nil, ErrSocketClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dial opens a new µTP connection to addr.
func (s *UTPSocket) Dial(ctx context.Context, addr net.Addr) (*UTPConn, error) {
	recvID := uint16(rand.Intn(1 << 16))
	sendID := recvID + 1

	c := newUTPConn(s, addr, recvID, sendID, s.clk, s.logger)
	c.state = stateSynSent

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSocketClosed
	}
	s.conns[recvID] = c
	s.mu.Unlock()

	syn := utp.Packet{
		Type:   utp.StSyn,
		ConnID: recvID,
		SeqNr:  1,
	}
	c.seqNr = 2
	if err := s.send(syn, addr); err != nil {
		s.forget(recvID)
		return nil, fmt.Errorf("send syn: %s", err)
	}

	select {
	case <-connectedSignal(c):
		go c.runRetransmitLoop()
		return c, nil
	case <-ctx.Done():
		s.forget(recvID)
		return nil, ctx.Err()
	}
}

// connectedSignal returns a channel that closes once c leaves SynSent.
// µTP acceptors ack the SYN with a State packet, which handlePacket treats
// as a cumulative ack and flips the conn to Connected on first arrival.
func connectedSignal(c *UTPConn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		c.mu.Lock()
		for c.state == stateSynSent {
			c.cond.Wait()
		}
		c.mu.Unlock()
		close(done)
	}()
	return done
}

func (s *UTPSocket) send(p utp.Packet, addr net.Addr) error {
	_, err := s.pconn.WriteTo(p.Encode(), addr)
	return err
}

func (s *UTPSocket) forget(recvID uint16) {
	s.mu.Lock()
	delete(s.conns, recvID)
	s.mu.Unlock()
}
