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
package torrent

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/yoep/torrent-engine/bencode"
	"github.com/yoep/torrent-engine/core"
	"github.com/yoep/torrent-engine/wire"
)

// metadataBlockSize is the fixed BEP9 metadata piece size: every chunk of
// the info dictionary except the last is exactly this many bytes.
const metadataBlockSize = 16 * 1024

// ut_metadata message types (BEP9).
const (
	utMetadataRequest = 0
	utMetadataData    = 1
	utMetadataReject  = 2
)

type utMetadataHeader struct {
	MsgType   int `bencode:"msg_type"`
	Piece     int `bencode:"piece"`
	TotalSize int `bencode:"total_size,omitempty"`
}

// metadataExchange fetches the info dictionary from a single LTEP peer that
// advertised ut_metadata support, per BEP9. It runs on its own goroutine,
// independent of the event loop, since it owns a raw connection rather than
// any shared Torrent state.
type metadataExchange struct {
	t    *Torrent
	conn io.ReadWriteCloser

	peerUTMetadataID int64
	localUTMetadataID int64

	size    int
	buf     []byte
	pending map[int]bool
}

// startMetadataPeer sends our extended handshake and, once the peer's reply
// reveals a ut_metadata id and metadata_size, requests every 16-KiB chunk of
// the info dictionary in order. The connection is closed once metadata is
// fetched (successfully or not); ordinary piece exchange with this peer
// resumes later over a fresh connection once the torrent's engine exists.
func (t *Torrent) startMetadataPeer(conn io.ReadWriteCloser, remoteHS wire.Handshake) {
	m := &metadataExchange{t: t, conn: conn, localUTMetadataID: 1, pending: make(map[int]bool)}
	go m.run()
}

func (m *metadataExchange) run() {
	defer m.conn.Close()

	hs := wire.ExtendedHandshake{M: map[string]int64{wire.ExtensionUTMetadata: m.localUTMetadataID}}
	if err := m.sendExtended(0, hs); err != nil {
		return
	}

	for {
		msg, err := readFrame(m.conn)
		if err != nil {
			return
		}
		if msg.Type != wire.Extended {
			continue
		}
		if msg.ExtendedID == 0 {
			if err := m.handleHandshake(msg.ExtendedBytes); err != nil {
				return
			}
			continue
		}
		if m.handleUTMetadata(msg.ExtendedBytes) {
			return
		}
	}
}

func (m *metadataExchange) handleHandshake(payload []byte) error {
	hs, err := wire.DecodeExtendedHandshake(payload)
	if err != nil {
		return err
	}
	id, ok := hs.SupportedExtensionID(wire.ExtensionUTMetadata)
	if !ok || hs.MetadataSize <= 0 {
		return fmt.Errorf("torrent: peer does not serve ut_metadata")
	}
	m.peerUTMetadataID = id
	m.size = int(hs.MetadataSize)
	m.buf = make([]byte, m.size)

	n := (m.size + metadataBlockSize - 1) / metadataBlockSize
	for i := 0; i < n; i++ {
		m.pending[i] = true
		if err := m.sendExtended(uint8(m.peerUTMetadataID), utMetadataHeader{MsgType: utMetadataRequest, Piece: i}); err != nil {
			return err
		}
	}
	return nil
}

// handleUTMetadata processes one ut_metadata data/reject message, returning
// true once every chunk has arrived, whether or not the assembled
// dictionary then verifies against the torrent's info hash.
func (m *metadataExchange) handleUTMetadata(payload []byte) bool {
	r := bytes.NewReader(payload)
	var hdr utMetadataHeader
	if err := bencode.Unmarshal(r, &hdr); err != nil {
		return false
	}
	switch hdr.MsgType {
	case utMetadataReject:
		return false
	case utMetadataData:
		raw := payload[len(payload)-r.Len():]
		start := hdr.Piece * metadataBlockSize
		if start+len(raw) > len(m.buf) {
			return false
		}
		copy(m.buf[start:], raw)
		delete(m.pending, hdr.Piece)
	default:
		return false
	}
	if len(m.pending) > 0 {
		return false
	}
	return m.finish()
}

// finish verifies the assembled info dictionary against the torrent's
// known info hash and, on success, hands the decoded metadata to the event
// loop.
func (m *metadataExchange) finish() bool {
	sum := sha1.Sum(m.buf)
	want, ok := m.t.infoHash.V1()
	if !ok || sum != want {
		return true
	}
	meta, err := core.NewMetadataFromInfoDict(m.buf)
	if err != nil {
		m.t.logger.Warnf("decode fetched metadata: %s", err)
		return true
	}
	m.t.loop.send(metadataReadyEvent{meta: meta})
	return true
}

func (m *metadataExchange) sendExtended(id uint8, v interface{}) error {
	var b bytes.Buffer
	if err := bencode.Marshal(&b, v); err != nil {
		return err
	}
	enc, err := wire.Encode(wire.Message{Type: wire.Extended, ExtendedID: id, ExtendedBytes: b.Bytes()})
	if err != nil {
		return err
	}
	_, err = m.conn.Write(enc)
	return err
}

// readFrame reads a single length-prefixed peer wire message, mirroring the
// framing peer.Session uses internally.
func readFrame(r io.Reader) (wire.Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return wire.Message{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return wire.Message{}, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return wire.Message{}, err
	}
	return wire.DecodeMessage(payload)
}
