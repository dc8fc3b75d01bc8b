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
	"net"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"
)

// ErrListenerClosed is returned by Accept once the Listener has closed.
var ErrListenerClosed = errors.New("transport: listener closed")

// Listener binds a single address that serves both TCP and µTP, forwarding
// accepted streams to callers tagged with their originating protocol, per
// below.
type Listener struct {
	config    Config
	tcpLn     net.Listener
	pconn     net.PacketConn
	utpSocket *UTPSocket
	logger    *zap.SugaredLogger

	acceptCh chan Conn
	closeCh  chan struct{}
}

// Listen binds config.ListenAddr for both a TCP listener and a µTP
// endpoint sharing one UDP socket.
func Listen(config Config, clk clock.Clock, logger *zap.SugaredLogger) (*Listener, error) {
	config = config.applyDefaults()

	tcpLn, err := net.Listen("tcp", config.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp: %s", err)
	}
	pconn, err := net.ListenPacket("udp", config.ListenAddr)
	if err != nil {
		tcpLn.Close()
		return nil, fmt.Errorf("listen udp: %s", err)
	}

	l := &Listener{
		config:    config,
		tcpLn:     tcpLn,
		pconn:     pconn,
		utpSocket: NewUTPSocket(pconn, clk, logger),
		logger:    logger,
		acceptCh:  make(chan Conn, config.AcceptBacklog),
		closeCh:   make(chan struct{}),
	}
	go l.acceptTCPLoop()
	go l.acceptUTPLoop()
	return l, nil
}

// Addr returns the bound address shared by both transports.
func (l *Listener) Addr() net.Addr {
	return l.tcpLn.Addr()
}

// Accept returns the next inbound connection from either transport.
func (l *Listener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.acceptCh:
		return c, nil
	case <-l.closeCh:
		return Conn{}, ErrListenerClosed
	case <-ctx.Done():
		return Conn{}, ctx.Err()
	}
}

// Close shuts down both the TCP listener and the µTP socket.
func (l *Listener) Close() error {
	select {
	case <-l.closeCh:
		return nil
	default:
		close(l.closeCh)
	}
	tcpErr := l.tcpLn.Close()
	utpErr := l.utpSocket.Close()
	if tcpErr != nil {
		return tcpErr
	}
	return utpErr
}

func (l *Listener) acceptTCPLoop() {
	for {
		nc, err := l.tcpLn.Accept()
		if err != nil {
			select {
			case <-l.closeCh:
				return
			default:
				l.logger.Errorf("tcp accept: %s", err)
				return
			}
		}
		l.forward(Conn{Conn: nc, Protocol: TCP})
	}
}

func (l *Listener) acceptUTPLoop() {
	for {
		c, err := l.utpSocket.Accept(context.Background())
		if err != nil {
			return
		}
		l.forward(Conn{Conn: c, Protocol: UTP})
	}
}

func (l *Listener) forward(c Conn) {
	select {
	case l.acceptCh <- c:
	case <-l.closeCh:
		c.Close()
	default:
		l.logger.Warnf("transport: accept backlog full, dropping %s connection from %s", c.Protocol, c.RemoteAddr())
		c.Close()
	}
}
