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
	"fmt"

	"github.com/yoep/torrent-engine/bencode"
)

// Well-known LTEP extension names (BEP9 metadata exchange, BEP11 peer
// exchange) this engine negotiates in the "m" dictionary.
const (
	ExtensionUTMetadata = "ut_metadata"
	ExtensionUTPex      = "ut_pex"
)

// ExtendedHandshake is the BEP10 "extended handshake" dictionary, sent as
// extension message id 0 immediately after the regular handshake when both
// peers advertise LTEP support.
type ExtendedHandshake struct {
	M            map[string]int64 `bencode:"m"`
	V            string           `bencode:"v,omitempty"`
	Reqq         int64            `bencode:"reqq,omitempty"`
	MetadataSize int64            `bencode:"metadata_size,omitempty"`
	Port         int64            `bencode:"p,omitempty"`
	YourIP       string           `bencode:"yourip,omitempty"`
}

// EncodeExtendedHandshake bencodes h.
func EncodeExtendedHandshake(h ExtendedHandshake) ([]byte, error) {
	var b bytes.Buffer
	if err := bencode.Marshal(&b, h); err != nil {
		return nil, fmt.Errorf("bencode extended handshake: %s", err)
	}
	return b.Bytes(), nil
}

// DecodeExtendedHandshake parses the bencoded payload of an extended
// handshake message (extension id 0).
func DecodeExtendedHandshake(payload []byte) (ExtendedHandshake, error) {
	var h ExtendedHandshake
	if err := bencode.Unmarshal(bytes.NewReader(payload), &h); err != nil {
		return ExtendedHandshake{}, fmt.Errorf("decode extended handshake: %s", err)
	}
	return h, nil
}

// SupportedExtensionID returns the peer-assigned id for name from h's "m"
// dictionary, and whether the peer advertised it at all. An id of 0 means
// the peer has the extension registered but disabled.
func (h ExtendedHandshake) SupportedExtensionID(name string) (int64, bool) {
	id, ok := h.M[name]
	return id, ok
}
