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
	"net"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLoopbackSocket(t *testing.T) *UTPSocket {
	pconn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	return NewUTPSocket(pconn, clock.New(), zap.NewNop().Sugar())
}

func TestUTPSocketDialAcceptHandshake(t *testing.T) {
	require := require.New(t)

	server := newLoopbackSocket(t)
	defer server.Close()
	client := newLoopbackSocket(t)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	acceptResult := make(chan *UTPConn, 1)
	go func() {
		c, err := server.Accept(ctx)
		require.NoError(err)
		acceptResult <- c
	}()

	clientConn, err := client.Dial(ctx, server.pconn.LocalAddr())
	require.NoError(err)
	defer clientConn.Close()

	serverConn := <-acceptResult
	defer serverConn.Close()

	require.Equal(clientConn.sendID, serverConn.recvID)
	require.Equal(serverConn.sendID, clientConn.recvID)
}

func TestUTPConnWriteReadRoundTrip(t *testing.T) {
	require := require.New(t)

	server := newLoopbackSocket(t)
	defer server.Close()
	client := newLoopbackSocket(t)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	acceptResult := make(chan *UTPConn, 1)
	go func() {
		c, err := server.Accept(ctx)
		require.NoError(err)
		acceptResult <- c
	}()

	clientConn, err := client.Dial(ctx, server.pconn.LocalAddr())
	require.NoError(err)
	defer clientConn.Close()

	serverConn := <-acceptResult
	defer serverConn.Close()

	msg := []byte("hello over utp")
	_, err = clientConn.Write(msg)
	require.NoError(err)

	buf := make([]byte, len(msg))
	serverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := serverConn.Read(buf)
	require.NoError(err)
	require.Equal(msg, buf[:n])
}
