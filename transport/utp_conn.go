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
	"bytes"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"

	"github.com/yoep/torrent-engine/wire/utp"
)

// connState models the µTP stream states.
type connState int32

const (
	stateIdle connState = iota
	stateSynSent
	stateConnected
	stateFinSent
	stateClosed
)

// maxInFlightPackets bounds how many unacked packets a UTPConn keeps, as a
// backstop independent of the congestion window.
const maxInFlightPackets = 256

// ErrConnClosed is returned by Read/Write after the connection has closed.
var ErrConnClosed = errors.New("utp: connection closed")

// ErrConnReset is returned when the remote peer sends a Reset packet.
var ErrConnReset = errors.New("utp: connection reset by peer")

type outPacket struct {
	packet utp.Packet
	sentAt time.Time
}

// UTPConn is a single µTP stream multiplexed over a shared UDP socket. It
// implements net.Conn.
type UTPConn struct {
	socket     *UTPSocket
	remoteAddr net.Addr
	recvID     uint16
	sendID     uint16
	clk        clock.Clock
	logger     *zap.SugaredLogger

	mu    sync.Mutex
	cond  *sync.Cond
	state connState

	seqNr uint16 // next sequence number this side will assign
	ackNr uint16 // last in-order remote sequence number delivered

	cong *utp.CongestionController

	unacked     map[uint16]*outPacket
	pendingRecv map[uint16][]byte
	readBuf     bytes.Buffer
	gotFin      bool
	finSeq      uint16

	closeErr error

	readDeadline  time.Time
	writeDeadline time.Time
}

func newUTPConn(socket *UTPSocket, remoteAddr net.Addr, recvID, sendID uint16, clk clock.Clock, logger *zap.SugaredLogger) *UTPConn {
	c := &UTPConn{
		socket:      socket,
		remoteAddr:  remoteAddr,
		recvID:      recvID,
		sendID:      sendID,
		clk:         clk,
		logger:      logger,
		cong:        utp.NewCongestionController(),
		unacked:     make(map[uint16]*outPacket),
		pendingRecv: make(map[uint16][]byte),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// LocalAddr returns the shared socket's local address.
func (c *UTPConn) LocalAddr() net.Addr { return c.socket.pconn.LocalAddr() }

// RemoteAddr returns the peer's UDP address.
func (c *UTPConn) RemoteAddr() net.Addr { return c.remoteAddr }

// SetDeadline sets both read and write deadlines.
func (c *UTPConn) SetDeadline(t time.Time) error {
	c.SetReadDeadline(t)
	c.SetWriteDeadline(t)
	return nil
}

// SetReadDeadline sets the deadline for future Read calls.
func (c *UTPConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	c.cond.Broadcast()
	return nil
}

// SetWriteDeadline sets the deadline for future Write calls.
func (c *UTPConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.writeDeadline = t
	c.mu.Unlock()
	c.cond.Broadcast()
	return nil
}

// Read blocks until in-order payload bytes are available, the remote side
// has sent Fin and all preceding data was delivered, or the connection
// closes.
func (c *UTPConn) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.readBuf.Len() == 0 {
		if c.state == stateClosed {
			if c.closeErr != nil {
				return 0, c.closeErr
			}
			return 0, ErrConnClosed
		}
		if c.gotFin && c.ackNr == c.finSeq {
			return 0, nil
		}
		if !c.readDeadline.IsZero() && !c.clk.Now().Before(c.readDeadline) {
			return 0, errTimeout{}
		}
		c.cond.Wait()
	}
	return c.readBuf.Read(b)
}

// Write splits b into µTP Data packets bounded by the current congestion
// window and sends them, blocking until window space frees up.
func (c *UTPConn) Write(b []byte) (int, error) {
	written := 0
	for written < len(b) {
		chunk := b[written:]
		if len(chunk) > utp.MaxPacketPayload {
			chunk = chunk[:utp.MaxPacketPayload]
		}

		c.mu.Lock()
		for c.windowFullLocked() {
			if c.state == stateClosed {
				c.mu.Unlock()
				return written, ErrConnClosed
			}
			c.cond.Wait()
		}
		if c.state == stateClosed {
			c.mu.Unlock()
			return written, ErrConnClosed
		}

		seq := c.seqNr
		c.seqNr++
		p := utp.Packet{
			Type:                  utp.StData,
			ConnID:                c.sendID,
			TimestampMicroseconds: uint32(c.clk.Now().UnixNano() / 1000),
			WindowSize:            uint32(c.cong.Cwnd()),
			SeqNr:                 seq,
			AckNr:                 c.ackNr,
			Payload:               append([]byte(nil), chunk...),
		}
		c.unacked[seq] = &outPacket{packet: p, sentAt: c.clk.Now()}
		c.mu.Unlock()

		if err := c.socket.send(p, c.remoteAddr); err != nil {
			return written, err
		}
		written += len(chunk)
	}
	return written, nil
}

// windowFullLocked reports whether the in-flight byte count has reached
// either the congestion window or the hard packet-count backstop. Must be
// called with c.mu held.
func (c *UTPConn) windowFullLocked() bool {
	if len(c.unacked) == 0 {
		return false
	}
	if len(c.unacked) >= maxInFlightPackets {
		return true
	}
	inFlight := int64(len(c.unacked)) * utp.MaxPacketPayload
	return inFlight >= c.cong.Cwnd()
}

// Close sends a Fin packet and releases this connection's slot in the
// owning socket.
func (c *UTPConn) Close() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	seq := c.seqNr
	c.seqNr++
	c.state = stateFinSent
	c.mu.Unlock()

	p := utp.Packet{
		Type:       utp.StFin,
		ConnID:     c.sendID,
		SeqNr:      seq,
		AckNr:      c.ackNr,
		WindowSize: 0,
	}
	err := c.socket.send(p, c.remoteAddr)

	c.mu.Lock()
	c.state = stateClosed
	c.mu.Unlock()
	c.cond.Broadcast()

	c.socket.forget(c.recvID)
	return err
}

// handlePacket applies an incoming packet already addressed to this
// connection's recvID. Called from the socket's read loop.
func (c *UTPConn) handlePacket(p utp.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateSynSent {
		c.state = stateConnected
	}

	switch p.Type {
	case utp.StState:
		c.ackUpTo(p.AckNr)
	case utp.StData:
		c.pendingRecv[p.SeqNr] = p.Payload
		c.drainPendingLocked()
		c.mu.Unlock()
		c.sendAck()
		c.mu.Lock()
	case utp.StFin:
		c.gotFin = true
		c.finSeq = p.SeqNr
		c.pendingRecv[p.SeqNr] = nil
		c.drainPendingLocked()
	case utp.StReset:
		c.closeErr = ErrConnReset
		c.state = stateClosed
	case utp.StSyn:
		// handled by the socket before a UTPConn exists; ignored here.
	}
	c.cond.Broadcast()
}

// drainPendingLocked moves contiguous, in-order received payloads from
// pendingRecv into readBuf. Must be called with c.mu held.
func (c *UTPConn) drainPendingLocked() {
	for {
		next := c.ackNr + 1
		payload, ok := c.pendingRecv[next]
		if !ok {
			break
		}
		delete(c.pendingRecv, next)
		c.ackNr = next
		if len(payload) > 0 {
			c.readBuf.Write(payload)
		}
	}
}

// ackUpTo removes cumulatively acknowledged packets from the unacked set
// and feeds the measured round-trip time to the congestion controller as
// both its RTT sample and its delay sample.
func (c *UTPConn) ackUpTo(ack uint16) {
	op, ok := c.unacked[ack]
	if !ok {
		return
	}
	rtt := c.clk.Now().Sub(op.sentAt)
	c.cong.OnRTTSample(rtt)
	c.cong.OnDelaySample(rtt, int64(len(op.packet.Payload)))
	for seq := range c.unacked {
		if seq <= ack {
			delete(c.unacked, seq)
		}
	}
}

func (c *UTPConn) sendAck() {
	c.mu.Lock()
	p := utp.Packet{
		Type:       utp.StState,
		ConnID:     c.sendID,
		AckNr:      c.ackNr,
		WindowSize: uint32(c.cong.Cwnd()),
	}
	c.mu.Unlock()
	c.socket.send(p, c.remoteAddr)
}

// errTimeout satisfies net.Error for deadline expirations.
type errTimeout struct{}

func (errTimeout) Error() string   { return "utp: i/o timeout" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }
