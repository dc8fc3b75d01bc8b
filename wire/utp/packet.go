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

// Package utp implements BEP29's µTP packet framing and LEDBAT congestion
// control, layered over a net.PacketConn by the transport package.
package utp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// headerLen is the fixed 20-byte µTP packet header.
const headerLen = 20

// protocolVersion is the only version this implementation understands.
const protocolVersion = 1

// StateType identifies the kind of a µTP packet, per BEP29.
type StateType uint8

// Packet state types.
const (
	StData  StateType = 0
	StFin   StateType = 1
	StState StateType = 2
	StReset StateType = 3
	StSyn   StateType = 4
)

func (t StateType) String() string {
	switch t {
	case StData:
		return "data"
	case StFin:
		return "fin"
	case StState:
		return "state"
	case StReset:
		return "reset"
	case StSyn:
		return "syn"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ExtensionType identifies a µTP header extension.
type ExtensionType uint8

// Known extension types.
const (
	ExtNone         ExtensionType = 0
	ExtSelectiveAck ExtensionType = 1
)

// ErrUnsupportedVersion is returned for a packet whose low nibble is not 1.
var ErrUnsupportedVersion = errors.New("utp: unsupported packet version")

// ErrTruncatedPacket is returned for a buffer shorter than the fixed header.
var ErrTruncatedPacket = errors.New("utp: truncated packet")

// Packet is a decoded µTP packet (BEP29 §3).
type Packet struct {
	Type                     StateType
	Extension                ExtensionType
	ConnID                   uint16
	TimestampMicroseconds    uint32
	TimestampDiffMicroseconds uint32
	WindowSize               uint32
	SeqNr                    uint16
	AckNr                    uint16
	Payload                  []byte
}

// Encode serializes p into its wire form.
func (p Packet) Encode() []byte {
	buf := make([]byte, headerLen+len(p.Payload))
	buf[0] = byte(p.Type)<<4 | protocolVersion
	buf[1] = byte(p.Extension)
	binary.BigEndian.PutUint16(buf[2:4], p.ConnID)
	binary.BigEndian.PutUint32(buf[4:8], p.TimestampMicroseconds)
	binary.BigEndian.PutUint32(buf[8:12], p.TimestampDiffMicroseconds)
	binary.BigEndian.PutUint32(buf[12:16], p.WindowSize)
	binary.BigEndian.PutUint16(buf[16:18], p.SeqNr)
	binary.BigEndian.PutUint16(buf[18:20], p.AckNr)
	copy(buf[headerLen:], p.Payload)
	return buf
}

// DecodePacket parses a µTP packet from raw wire bytes.
func DecodePacket(raw []byte) (Packet, error) {
	if len(raw) < headerLen {
		return Packet{}, ErrTruncatedPacket
	}
	version := raw[0] & 0x0f
	if version != protocolVersion {
		return Packet{}, fmt.Errorf("%w: got %d", ErrUnsupportedVersion, version)
	}
	payload := make([]byte, len(raw)-headerLen)
	copy(payload, raw[headerLen:])
	return Packet{
		Type:                      StateType(raw[0] >> 4),
		Extension:                 ExtensionType(raw[1]),
		ConnID:                    binary.BigEndian.Uint16(raw[2:4]),
		TimestampMicroseconds:     binary.BigEndian.Uint32(raw[4:8]),
		TimestampDiffMicroseconds: binary.BigEndian.Uint32(raw[8:12]),
		WindowSize:                binary.BigEndian.Uint32(raw[12:16]),
		SeqNr:                     binary.BigEndian.Uint16(raw[16:18]),
		AckNr:                     binary.BigEndian.Uint16(raw[18:20]),
		Payload:                   payload,
	}, nil
}
