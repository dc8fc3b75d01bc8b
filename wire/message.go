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
	"encoding/binary"
	"fmt"

	"github.com/willf/bitset"
)

// MessageType identifies the kind of a length-prefixed peer message. It is
// always the first byte of a non-empty message payload.
type MessageType uint8

// Message type ids, per BEP3, BEP5, BEP6 and BEP10.
const (
	Choke         MessageType = 0
	Unchoke       MessageType = 1
	Interested    MessageType = 2
	NotInterested MessageType = 3
	Have          MessageType = 4
	Bitfield      MessageType = 5
	Request       MessageType = 6
	PieceMsg      MessageType = 7
	Cancel        MessageType = 8
	Port          MessageType = 9  // BEP5 DHT port announcement.
	Suggest       MessageType = 13 // BEP6 fast extension.
	HaveAll       MessageType = 14
	HaveNone      MessageType = 15
	RejectRequest MessageType = 16
	AllowedFast   MessageType = 17
	Extended      MessageType = 20 // BEP10.
	HashRequest   MessageType = 21 // BEP52.
	Hashes        MessageType = 22
	HashReject    MessageType = 23
)

func (t MessageType) String() string {
	switch t {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case PieceMsg:
		return "piece"
	case Cancel:
		return "cancel"
	case Port:
		return "port"
	case Suggest:
		return "suggest"
	case HaveAll:
		return "have_all"
	case HaveNone:
		return "have_none"
	case RejectRequest:
		return "reject"
	case AllowedFast:
		return "allowed_fast"
	case Extended:
		return "extended"
	case HashRequest:
		return "hash_request"
	case Hashes:
		return "hashes"
	case HashReject:
		return "hash_reject"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// BlockRequest is the payload shared by the request, piece and cancel
// messages: a byte range within a single piece.
type BlockRequest struct {
	PieceIndex uint32
	Begin      uint32
	Length     uint32
}

// Block carries the downloaded bytes for a BlockRequest.
type Block struct {
	PieceIndex uint32
	Begin      uint32
	Data       []byte
}

// Message is a decoded peer wire message. The typed field matching Type is
// populated (Request also serves Suggest, AllowedFast and RejectRequest); a
// decoded Cancel carries its range in both Request and Cancel.
type Message struct {
	Type MessageType

	Have          uint32
	Bitfield      *bitset.BitSet
	Request       BlockRequest
	Piece         Block
	Cancel        BlockRequest
	Port          uint16
	ExtendedID    uint8 // 0 means this is the extended handshake itself.
	ExtendedBytes []byte
}

// ErrUnsupportedMessage is returned for a message type id this implementation
// does not understand.
type ErrUnsupportedMessage uint8

func (e ErrUnsupportedMessage) Error() string {
	return fmt.Sprintf("unsupported message type id %d", uint8(e))
}

// Encode serializes m into the length-prefixed wire frame
// (4-byte big-endian length, then payload). The zero Message has Type Choke
// and encodes as a Choke; a keep-alive frame comes from EncodeKeepAlive.
func Encode(m Message) ([]byte, error) {
	var payload []byte
	switch m.Type {
	case Choke, Unchoke, Interested, NotInterested, HaveAll, HaveNone:
		payload = []byte{byte(m.Type)}
	case Have:
		payload = make([]byte, 5)
		payload[0] = byte(Have)
		binary.BigEndian.PutUint32(payload[1:], m.Have)
	case Bitfield:
		b, err := m.Bitfield.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal bitfield: %s", err)
		}
		payload = append([]byte{byte(Bitfield)}, b...)
	case Request, Cancel, Suggest, AllowedFast, RejectRequest:
		r := m.Request
		if m.Type == Cancel {
			r = m.Cancel
		}
		payload = make([]byte, 13)
		payload[0] = byte(m.Type)
		binary.BigEndian.PutUint32(payload[1:5], r.PieceIndex)
		binary.BigEndian.PutUint32(payload[5:9], r.Begin)
		binary.BigEndian.PutUint32(payload[9:13], r.Length)
	case PieceMsg:
		payload = make([]byte, 9+len(m.Piece.Data))
		payload[0] = byte(PieceMsg)
		binary.BigEndian.PutUint32(payload[1:5], m.Piece.PieceIndex)
		binary.BigEndian.PutUint32(payload[5:9], m.Piece.Begin)
		copy(payload[9:], m.Piece.Data)
	case Port:
		payload = make([]byte, 3)
		payload[0] = byte(Port)
		binary.BigEndian.PutUint16(payload[1:], m.Port)
	case Extended:
		payload = append([]byte{byte(Extended), m.ExtendedID}, m.ExtendedBytes...)
	default:
		return nil, ErrUnsupportedMessage(m.Type)
	}

	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out, nil
}

// EncodeKeepAlive returns the wire bytes of a keep-alive: a bare zero length
// prefix with no message type or payload.
func EncodeKeepAlive() []byte {
	return []byte{0, 0, 0, 0}
}

// DecodeMessage decodes a single message payload (the bytes following the
// 4-byte length prefix, already stripped by the caller). An empty payload
// (a keep-alive) is returned as an error; callers check for a zero length
// prefix before calling.
func DecodeMessage(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return Message{}, fmt.Errorf("empty payload: caller must handle keep-alive before decoding")
	}
	t := MessageType(payload[0])
	body := payload[1:]

	switch t {
	case Choke, Unchoke, Interested, NotInterested, HaveAll, HaveNone:
		return Message{Type: t}, nil
	case Have:
		if len(body) != 4 {
			return Message{}, fmt.Errorf("have: expected 4 bytes, got %d", len(body))
		}
		return Message{Type: t, Have: binary.BigEndian.Uint32(body)}, nil
	case Bitfield:
		bf := bitset.New(0)
		if err := bf.UnmarshalBinary(body); err != nil {
			return Message{}, fmt.Errorf("bitfield: %s", err)
		}
		return Message{Type: t, Bitfield: bf}, nil
	case Request, Cancel, Suggest, AllowedFast, RejectRequest:
		if len(body) != 12 {
			return Message{}, fmt.Errorf("%s: expected 12 bytes, got %d", t, len(body))
		}
		r := BlockRequest{
			PieceIndex: binary.BigEndian.Uint32(body[0:4]),
			Begin:      binary.BigEndian.Uint32(body[4:8]),
			Length:     binary.BigEndian.Uint32(body[8:12]),
		}
		m := Message{Type: t, Request: r}
		if t == Cancel {
			m.Cancel = r
		}
		return m, nil
	case PieceMsg:
		if len(body) < 8 {
			return Message{}, fmt.Errorf("piece: expected at least 8 bytes, got %d", len(body))
		}
		data := make([]byte, len(body)-8)
		copy(data, body[8:])
		return Message{Type: t, Piece: Block{
			PieceIndex: binary.BigEndian.Uint32(body[0:4]),
			Begin:      binary.BigEndian.Uint32(body[4:8]),
			Data:       data,
		}}, nil
	case Port:
		if len(body) != 2 {
			return Message{}, fmt.Errorf("port: expected 2 bytes, got %d", len(body))
		}
		return Message{Type: t, Port: binary.BigEndian.Uint16(body)}, nil
	case Extended:
		if len(body) < 1 {
			return Message{}, fmt.Errorf("extended: missing extension id")
		}
		extBytes := make([]byte, len(body)-1)
		copy(extBytes, body[1:])
		return Message{Type: t, ExtendedID: body[0], ExtendedBytes: extBytes}, nil
	default:
		return Message{}, ErrUnsupportedMessage(t)
	}
}
