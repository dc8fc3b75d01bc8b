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
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeUDPTracker answers exactly one connect and one announce request,
// enough to exercise udpClient's wire framing.
func fakeUDPTracker(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	go func() {
		buf := make([]byte, 2048)
		for i := 0; i < 2; i++ {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			action := int32(binary.BigEndian.Uint32(buf[8:12]))
			txID := binary.BigEndian.Uint32(buf[12:16])

			switch action {
			case udpActionConnect:
				resp := make([]byte, 16)
				binary.BigEndian.PutUint32(resp[0:4], uint32(udpActionConnect))
				binary.BigEndian.PutUint32(resp[4:8], txID)
				binary.BigEndian.PutUint64(resp[8:16], 0xdeadbeef)
				conn.WriteToUDP(resp, addr)
			case udpActionAnnounce:
				resp := make([]byte, 26)
				binary.BigEndian.PutUint32(resp[0:4], uint32(udpActionAnnounce))
				binary.BigEndian.PutUint32(resp[4:8], txID)
				binary.BigEndian.PutUint32(resp[8:12], 1800)
				binary.BigEndian.PutUint32(resp[12:16], 4)
				binary.BigEndian.PutUint32(resp[16:20], 2)
				copy(resp[20:24], []byte{10, 0, 0, 1})
				binary.BigEndian.PutUint16(resp[24:26], 6881)
				conn.WriteToUDP(resp, addr)
			}
			_ = n
		}
	}()

	return conn
}

func TestUDPClientConnectAndAnnounce(t *testing.T) {
	require := require.New(t)

	srv := fakeUDPTracker(t)
	defer srv.Close()

	c, err := NewUDPClient(fmt.Sprintf("udp://%s/announce", srv.LocalAddr().String()))
	require.NoError(err)
	defer c.Close()

	resp, err := c.Announce(context.Background(), AnnounceRequest{
		InfoHash: testInfoHash(0x42),
		PeerID:   testPeerID(),
		Port:     6881,
		Left:     1000,
	})
	require.NoError(err)
	require.EqualValues(1800, resp.Interval)
	require.EqualValues(2, resp.Complete)
	require.EqualValues(4, resp.Incomplete)
	require.Len(resp.Peers, 1)
	require.Equal("10.0.0.1", resp.Peers[0].IP)
	require.EqualValues(6881, resp.Peers[0].Port)
}
