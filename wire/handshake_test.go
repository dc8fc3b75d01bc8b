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
package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/yoep/torrent-engine/core"
)

func TestHandshakeRoundTrip(t *testing.T) {
	require := require.New(t)

	ih := core.InfoHashFixture()
	peerID := core.PeerIDFixture()
	h := NewHandshake(ih, peerID, ExtensionFlags(0).WithLTEP().WithDHT())

	var buf bytes.Buffer
	require.NoError(h.Encode(&buf))
	require.Equal(handshakeLen, buf.Len())

	result, err := DecodeHandshake(&buf)
	require.NoError(err)
	require.Equal(ih.Short(), result.InfoHash.Short())
	require.Equal(peerID, result.PeerID)
	require.True(result.Extensions.SupportsLTEP())
	require.True(result.Extensions.SupportsDHT())
	require.False(result.Extensions.SupportsFast())
}

func TestHandshakeSetsV2BitForHybridInfoHash(t *testing.T) {
	require := require.New(t)

	var v1 [20]byte
	var v2 [32]byte
	ih := core.NewHybridInfoHash(v1, v2)

	h := NewHandshake(ih, core.PeerIDFixture(), 0)
	require.True(h.Extensions.SupportsV2())
}

func TestDecodeHandshakeBadProtocol(t *testing.T) {
	buf := make([]byte, handshakeLen)
	buf[0] = byte(len(Protocol))
	copy(buf[1:], "Not BitTorrent proto")

	_, err := DecodeHandshake(bytes.NewReader(buf))
	require.Error(t, err)
}

func TestDecodeHandshakeShortRead(t *testing.T) {
	_, err := DecodeHandshake(bytes.NewReader(make([]byte, 10)))
	require.Error(t, err)
}
