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

// Package peer runs one cooperative session per connected remote peer: an
// ordered send/receive message loop, the choke/interest state machine, the
// outstanding request pipeline, and the metrics the choking algorithm and UI
// read from.
package peer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/willf/bitset"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/yoep/torrent-engine/core"
	"github.com/yoep/torrent-engine/wire"
)

// ErrHandshakeMismatch is returned when the local and remote handshakes
// advertise incompatible hash types: exactly one side set the v2-upgrade bit
// over an info hash the other side cannot serve.
var ErrHandshakeMismatch = errors.New("peer: handshake hash type mismatch")

// ValidateHandshake checks that local and remote handshakes agree on which
// info hash form (v1, v2 or hybrid) this connection will use, per BEP52: a
// peer that only offers a v2 hash cannot talk to one that only offers v1.
func ValidateHandshake(local, remote wire.Handshake) error {
	if !local.InfoHash.Equal(remote.InfoHash) {
		// Different torrents entirely; not a hash-type mismatch, but still fatal.
		return fmt.Errorf("peer: info hash mismatch")
	}
	localV2 := local.Extensions.SupportsV2()
	remoteV2 := remote.Extensions.SupportsV2()
	if localV2 != remoteV2 && (!local.InfoHash.HasV2() || !remote.InfoHash.HasV2()) {
		return ErrHandshakeMismatch
	}
	return nil
}

// PieceSource is the piece engine's view as seen by a Session: selecting
// the next block to request, accepting delivered blocks, and serving reads
// for blocks the remote peer requests. Implemented by the piece package.
type PieceSource interface {
	// Bitfield returns the local side's current piece availability.
	Bitfield() *bitset.BitSet
	// NextBlockFor returns the next block peerID should request given the
	// pieces it has advertised, or ok=false if nothing is eligible right now.
	NextBlockFor(peerID core.PeerID, have *bitset.BitSet) (req wire.BlockRequest, ok bool)
	// CancelBlock releases a reservation made by NextBlockFor, e.g. because
	// the peer that owned it disconnected or was choked.
	CancelBlock(peerID core.PeerID, req wire.BlockRequest)
	// HandleBlock delivers a received block to the engine.
	HandleBlock(peerID core.PeerID, block wire.Block) error
	// ReadBlock returns the bytes of a block the remote peer requested.
	ReadBlock(req wire.BlockRequest) ([]byte, error)
}

// Config controls per-session timing and pipeline behavior.
type Config struct {
	PipelineDepth     int           `yaml:"pipeline_depth"`
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	SendBufferSize    int           `yaml:"send_buffer_size"`
	RecvBufferSize    int           `yaml:"recv_buffer_size"`
}

func (c Config) applyDefaults() Config {
	if c.PipelineDepth == 0 {
		c.PipelineDepth = 16
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 2 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.SendBufferSize == 0 {
		c.SendBufferSize = 100
	}
	if c.RecvBufferSize == 0 {
		c.RecvBufferSize = 100
	}
	return c
}

// Events notifies the owner (the torrent orchestrator) of session lifecycle
// changes it must react to.
type Events interface {
	SessionClosed(s *Session)
}

// Session owns one peer connection after the handshake has completed. All
// sends and receives for this peer flow through it in order; callers never
// touch the underlying net.Conn directly again.
type Session struct {
	config    Config
	conn      net.Conn
	local     core.PeerID
	remote    core.PeerID
	infoHash  core.InfoHash
	pieces    PieceSource
	bandwidth *BandwidthLimiter
	clk       clock.Clock
	logger    *zap.SugaredLogger
	events    Events

	sendCh chan wire.Message
	recvCh chan wire.Message
	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup
	once   sync.Once

	mu             sync.Mutex
	peerBitfield   *bitset.BitSet
	amChoking      bool
	amInterested   bool
	peerChoking    bool
	peerInterested bool
	inFlight       map[blockKey]wire.BlockRequest
	lastSendAt     time.Time
	lastRecvAt     time.Time

	inRate  *rateMeter
	outRate *rateMeter
}

type blockKey struct {
	piece uint32
	begin uint32
}

// New constructs a Session for an established, post-handshake connection.
// numPieces sizes the peer's initially-empty bitfield; it is replaced
// wholesale if the peer sends its own Bitfield message.
func New(
	config Config,
	conn net.Conn,
	local, remote core.PeerID,
	infoHash core.InfoHash,
	numPieces int,
	pieces PieceSource,
	bandwidth *BandwidthLimiter,
	clk clock.Clock,
	events Events,
	logger *zap.SugaredLogger) *Session {

	config = config.applyDefaults()
	now := clk.Now()

	return &Session{
		config:       config,
		conn:         conn,
		local:        local,
		remote:       remote,
		infoHash:     infoHash,
		pieces:       pieces,
		bandwidth:    bandwidth,
		clk:          clk,
		logger:       logger.With("peer", remote, "info_hash", infoHash),
		events:       events,
		sendCh:       make(chan wire.Message, config.SendBufferSize),
		recvCh:       make(chan wire.Message, config.RecvBufferSize),
		done:         make(chan struct{}),
		peerBitfield: bitset.New(uint(numPieces)),
		amChoking:    true,
		peerChoking:  true,
		inFlight:     make(map[blockKey]wire.BlockRequest),
		lastSendAt:   now,
		lastRecvAt:   now,
		inRate:       newRateMeter(),
		outRate:      newRateMeter(),
	}
}

// Start launches the session's reader, writer and keepalive goroutines. It
// is idempotent; only the first call has an effect.
func (s *Session) Start() {
	s.once.Do(func() {
		s.wg.Add(3)
		go s.readLoop()
		go s.writeLoop()
		go s.keepAliveLoop()

		if err := s.sendBitfield(); err != nil {
			s.logger.Warnf("Failed to send initial bitfield: %s", err)
		}
	})
}

// Send enqueues msg for delivery to the remote peer, preserving send order.
// Returns an error without blocking if the session is closed or its send
// buffer is full (a slow or stalled peer).
func (s *Session) Send(msg wire.Message) error {
	if s.closed.Load() {
		return errors.New("peer: session closed")
	}
	select {
	case s.sendCh <- msg:
		return nil
	default:
		return errors.New("peer: send buffer full")
	}
}

// Close tears down the connection and both loop goroutines. Safe to call
// multiple times and from multiple goroutines.
func (s *Session) Close() {
	if !s.closed.CAS(false, true) {
		return
	}
	close(s.done)
	s.conn.Close()
	s.wg.Wait()
	if s.events != nil {
		s.events.SessionClosed(s)
	}
}

// RemotePeerID returns the remote peer's id.
func (s *Session) RemotePeerID() core.PeerID { return s.remote }

// Bitfield returns a copy of the peer's last-known piece availability.
func (s *Session) Bitfield() *bitset.BitSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerBitfield.Copy()
}

// AvailablePieces returns how many pieces the peer has advertised.
func (s *Session) AvailablePieces() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.peerBitfield.Count())
}

// AmChoking, AmInterested, PeerChoking and PeerInterested expose the four
// choke/interest flags the choking algorithm and UI read.
func (s *Session) AmChoking() bool      { s.mu.Lock(); defer s.mu.Unlock(); return s.amChoking }
func (s *Session) AmInterested() bool   { s.mu.Lock(); defer s.mu.Unlock(); return s.amInterested }
func (s *Session) PeerChoking() bool    { s.mu.Lock(); defer s.mu.Unlock(); return s.peerChoking }
func (s *Session) PeerInterested() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.peerInterested }

// BytesInRate and BytesOutRate report the current smoothed transfer rates,
// in bytes per second, over the EWMA window.
func (s *Session) BytesInRate() float64  { return s.inRate.Rate(s.clk.Now()) }
func (s *Session) BytesOutRate() float64 { return s.outRate.Rate(s.clk.Now()) }

// Choke sets the local choke state towards the peer, sending a Choke message
// only if the transition is a change. Requests the peer sends while choked
// are dropped by handleRequest.
func (s *Session) Choke() error {
	s.mu.Lock()
	changed := !s.amChoking
	s.amChoking = true
	s.mu.Unlock()
	if !changed {
		return nil
	}
	return s.Send(wire.Message{Type: wire.Choke})
}

// Unchoke sets the local choke state to unchoked, sending an Unchoke
// message if the transition is a change.
func (s *Session) Unchoke() error {
	s.mu.Lock()
	changed := s.amChoking
	s.amChoking = false
	s.mu.Unlock()
	if !changed {
		return nil
	}
	return s.Send(wire.Message{Type: wire.Unchoke})
}

// AnnounceHave tells the peer that piece i is now available locally, and
// re-evaluates interest since it may have just become uninteresting.
func (s *Session) AnnounceHave(i int) error {
	if err := s.Send(wire.Message{Type: wire.Have, Have: uint32(i)}); err != nil {
		return err
	}
	return s.updateInterest()
}

func (s *Session) sendBitfield() error {
	return s.Send(wire.Message{Type: wire.Bitfield, Bitfield: s.pieces.Bitfield().Copy()})
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	defer s.Close()

	for {
		msg, n, err := s.readMessage()
		if err != nil {
			if err != io.EOF {
				s.logger.Debugf("Read error: %s", err)
			}
			return
		}

		now := s.clk.Now()
		s.mu.Lock()
		s.lastRecvAt = now
		s.mu.Unlock()
		if n > 0 {
			s.inRate.Record(now, int64(n))
		}

		select {
		case <-s.done:
			return
		default:
		}

		if err := s.dispatch(msg); err != nil {
			s.logger.Errorf("Error dispatching %s message: %s", msg.Type, err)
		}
	}
}

// readMessage reads one length-prefixed frame, decodes it, and for piece
// payloads gates the read behind the shared ingress bandwidth limiter. It
// returns the payload byte count read for rate accounting.
func (s *Session) readMessage() (wire.Message, int, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(s.conn, lenBuf[:]); err != nil {
		return wire.Message{}, 0, err
	}
	length := int(lenBuf[0])<<24 | int(lenBuf[1])<<16 | int(lenBuf[2])<<8 | int(lenBuf[3])
	if length == 0 {
		return wire.Message{}, 0, nil // keep-alive
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(s.conn, payload); err != nil {
		return wire.Message{}, 0, err
	}

	if wire.MessageType(payload[0]) == wire.PieceMsg && s.bandwidth != nil {
		if err := s.bandwidth.ReserveIngress(int64(len(payload))); err != nil {
			return wire.Message{}, 0, err
		}
	}

	msg, err := wire.DecodeMessage(payload)
	if err != nil {
		return wire.Message{}, 0, err
	}
	return msg, len(payload), nil
}

func (s *Session) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case msg, ok := <-s.sendCh:
			if !ok {
				return
			}
			if err := s.writeMessage(msg); err != nil {
				s.logger.Debugf("Write error: %s", err)
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) writeMessage(msg wire.Message) error {
	if msg.Type == wire.PieceMsg && s.bandwidth != nil {
		if err := s.bandwidth.ReserveEgress(int64(len(msg.Piece.Data))); err != nil {
			return err
		}
	}

	b, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	if _, err := s.conn.Write(b); err != nil {
		return err
	}

	now := s.clk.Now()
	s.mu.Lock()
	s.lastSendAt = now
	s.mu.Unlock()
	if msg.Type == wire.PieceMsg {
		s.outRate.Record(now, int64(len(msg.Piece.Data)))
	}
	return nil
}

func (s *Session) keepAliveLoop() {
	defer s.wg.Done()

	ticker := s.clk.Ticker(s.config.KeepAliveInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := s.clk.Now()

			s.mu.Lock()
			idleSend := now.Sub(s.lastSendAt)
			idleRecv := now.Sub(s.lastRecvAt)
			s.mu.Unlock()

			if idleRecv >= s.config.IdleTimeout {
				s.logger.Infof("Closing idle connection (silent for %s)", idleRecv)
				s.Close()
				return
			}
			if idleSend >= s.config.KeepAliveInterval {
				select {
				case s.sendCh <- wire.Message{}:
				default:
				}
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) dispatch(msg wire.Message) error {
	switch msg.Type {
	case wire.Choke:
		return s.handleChoke()
	case wire.Unchoke:
		return s.handleUnchoke()
	case wire.Interested:
		s.mu.Lock()
		s.peerInterested = true
		s.mu.Unlock()
		return nil
	case wire.NotInterested:
		s.mu.Lock()
		s.peerInterested = false
		s.mu.Unlock()
		return nil
	case wire.Have:
		return s.handleHave(msg)
	case wire.Bitfield:
		return s.handleBitfield(msg)
	case wire.Request:
		return s.handleRequest(msg)
	case wire.PieceMsg:
		return s.handlePiece(msg)
	case wire.Cancel:
		return nil // requests are served synchronously; nothing to cancel.
	default:
		return nil
	}
}

func (s *Session) handleChoke() error {
	s.mu.Lock()
	s.peerChoking = true
	inFlight := make([]wire.BlockRequest, 0, len(s.inFlight))
	for _, r := range s.inFlight {
		inFlight = append(inFlight, r)
	}
	s.inFlight = make(map[blockKey]wire.BlockRequest)
	s.mu.Unlock()

	for _, r := range inFlight {
		s.pieces.CancelBlock(s.remote, r)
	}
	return nil
}

func (s *Session) handleUnchoke() error {
	s.mu.Lock()
	s.peerChoking = false
	s.mu.Unlock()
	return s.fillPipeline()
}

func (s *Session) handleHave(msg wire.Message) error {
	s.mu.Lock()
	s.peerBitfield.Set(uint(msg.Have), true)
	s.mu.Unlock()
	if err := s.updateInterest(); err != nil {
		return err
	}
	return s.fillPipeline()
}

func (s *Session) handleBitfield(msg wire.Message) error {
	s.mu.Lock()
	s.peerBitfield = msg.Bitfield.Copy()
	s.mu.Unlock()
	if err := s.updateInterest(); err != nil {
		return err
	}
	return s.fillPipeline()
}

func (s *Session) handleRequest(msg wire.Message) error {
	s.mu.Lock()
	choking := s.amChoking
	s.mu.Unlock()
	if choking {
		return nil
	}

	data, err := s.pieces.ReadBlock(msg.Request)
	if err != nil {
		return err
	}
	return s.Send(wire.Message{
		Type: wire.PieceMsg,
		Piece: wire.Block{
			PieceIndex: msg.Request.PieceIndex,
			Begin:      msg.Request.Begin,
			Data:       data,
		},
	})
}

func (s *Session) handlePiece(msg wire.Message) error {
	key := blockKey{piece: msg.Piece.PieceIndex, begin: msg.Piece.Begin}
	s.mu.Lock()
	delete(s.inFlight, key)
	s.mu.Unlock()

	if err := s.pieces.HandleBlock(s.remote, msg.Piece); err != nil {
		return err
	}
	return s.fillPipeline()
}

// updateInterest recomputes whether the local side is interested in this
// peer: interested iff the peer has at least one piece not yet held
// locally. State is only sent on change.
func (s *Session) updateInterest() error {
	local := s.pieces.Bitfield()

	s.mu.Lock()
	wanted := s.peerBitfield.Intersection(local.Complement())
	interested := wanted.Count() > 0
	changed := interested != s.amInterested
	s.amInterested = interested
	s.mu.Unlock()

	if !changed {
		return nil
	}
	t := wire.NotInterested
	if interested {
		t = wire.Interested
	}
	return s.Send(wire.Message{Type: t})
}

// fillPipeline tops up the outstanding request set towards PipelineDepth,
// provided the peer has unchoked us and we are interested.
func (s *Session) fillPipeline() error {
	s.mu.Lock()
	if s.peerChoking || !s.amInterested {
		s.mu.Unlock()
		return nil
	}
	have := s.peerBitfield.Copy()
	slots := s.config.PipelineDepth - len(s.inFlight)
	s.mu.Unlock()

	for i := 0; i < slots; i++ {
		req, ok := s.pieces.NextBlockFor(s.remote, have)
		if !ok {
			break
		}

		s.mu.Lock()
		s.inFlight[blockKey{piece: req.PieceIndex, begin: req.Begin}] = req
		s.mu.Unlock()

		if err := s.Send(wire.Message{Type: wire.Request, Request: req}); err != nil {
			s.mu.Lock()
			delete(s.inFlight, blockKey{piece: req.PieceIndex, begin: req.Begin})
			s.mu.Unlock()
			s.pieces.CancelBlock(s.remote, req)
			return err
		}
	}
	return nil
}
