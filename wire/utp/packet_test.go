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
package utp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketEncodeDecodeRoundTrip(t *testing.T) {
	require := require.New(t)

	p := Packet{
		Type:                      StData,
		Extension:                 ExtNone,
		ConnID:                    4242,
		TimestampMicroseconds:     123456,
		TimestampDiffMicroseconds: 789,
		WindowSize:                350000,
		SeqNr:                     7,
		AckNr:                     6,
		Payload:                   []byte("hello"),
	}

	raw := p.Encode()
	require.Len(raw, headerLen+5)

	result, err := DecodePacket(raw)
	require.NoError(err)
	require.Equal(p, result)
}

func TestPacketEncodeHeaderLayout(t *testing.T) {
	require := require.New(t)

	p := Packet{Type: StSyn, Extension: ExtSelectiveAck, ConnID: 1}
	raw := p.Encode()

	require.EqualValues(StSyn, raw[0]>>4)
	require.EqualValues(protocolVersion, raw[0]&0x0f)
	require.EqualValues(ExtSelectiveAck, raw[1])
}

func TestDecodePacketTruncated(t *testing.T) {
	_, err := DecodePacket(make([]byte, 10))
	require.ErrorIs(t, err, ErrTruncatedPacket)
}

func TestDecodePacketBadVersion(t *testing.T) {
	raw := make([]byte, headerLen)
	raw[0] = byte(StData)<<4 | 7

	_, err := DecodePacket(raw)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestPacketStateTypeString(t *testing.T) {
	require := require.New(t)

	require.Equal("syn", StSyn.String())
	require.Equal("fin", StFin.String())
	require.Contains(StateType(99).String(), "unknown")
}
