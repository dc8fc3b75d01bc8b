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

// Package wire implements the BitTorrent peer wire protocol: the BEP3/BEP4
// handshake, the fixed message set, and the BEP10 extended handshake.
package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/yoep/torrent-engine/core"
)

// Protocol is the fixed protocol identifier string exchanged in every
// handshake (BEP3).
const Protocol = "BitTorrent protocol"

// handshakeLen is the fixed wire length of a handshake: 1 + 19 + 8 + 20 + 20.
const handshakeLen = 68

// ExtensionFlags is the 8-byte reserved field of the handshake, a bitmask of
// the extensions the peer supports (BEP4).
type ExtensionFlags uint64

// Reserved-byte bit positions per BEP4/BEP10/BEP5/BEP6/BEP52. Byte index 0 is
// the first reserved byte on the wire; bitIndex below counts from the most
// significant bit of that byte, i.e. byte i, bit b lives at bitIndex i*8+b.
const (
	extBitAzureus  ExtensionFlags = 1 << (0*8 + 0) // byte 0, bit 0x80
	extBitLTEP     ExtensionFlags = 1 << (5*8 + 3) // byte 5, bit 0x10
	extBitENP      ExtensionFlags = 1 << (5*8 + 6) // byte 5, bit 0x02
	extBitFast     ExtensionFlags = 1 << (7*8 + 5) // byte 7, bit 0x04
	extBitNAT      ExtensionFlags = 1 << (7*8 + 4) // byte 7, bit 0x08
	extBitV2       ExtensionFlags = 1 << (7*8 + 3) // byte 7, bit 0x10
	extBitDHT      ExtensionFlags = 1 << (7*8 + 7) // byte 7, bit 0x01
	extBitXBTPex   ExtensionFlags = 1 << (7*8 + 6) // byte 7, bit 0x02
)

// Supports reports whether flags carries every bit in want.
func (f ExtensionFlags) Supports(want ExtensionFlags) bool {
	return f&want == want
}

// SupportsLTEP reports support for the libtorrent extension protocol
// (BEP10), the gate for the extended handshake.
func (f ExtensionFlags) SupportsLTEP() bool { return f.Supports(extBitLTEP) }

// SupportsDHT reports support for the BEP5 DHT.
func (f ExtensionFlags) SupportsDHT() bool { return f.Supports(extBitDHT) }

// SupportsFast reports support for the BEP6 fast extension.
func (f ExtensionFlags) SupportsFast() bool { return f.Supports(extBitFast) }

// SupportsV2 reports support for BEP52's hybrid v1/v2 upgrade bit.
func (f ExtensionFlags) SupportsV2() bool { return f.Supports(extBitV2) }

// WithLTEP, WithDHT and WithFast return f with the named bit set, used when
// building the local handshake's advertised extension set.
func (f ExtensionFlags) WithLTEP() ExtensionFlags { return f | extBitLTEP }
func (f ExtensionFlags) WithDHT() ExtensionFlags  { return f | extBitDHT }
func (f ExtensionFlags) WithFast() ExtensionFlags { return f | extBitFast }
func (f ExtensionFlags) WithV2() ExtensionFlags   { return f | extBitV2 }

// bytes renders f into the 8 reserved handshake bytes.
func (f ExtensionFlags) bytes() [8]byte {
	var b [8]byte
	for i := range b {
		for bit := 0; bit < 8; bit++ {
			if f&(1<<(i*8+bit)) != 0 {
				b[i] |= 1 << (7 - bit)
			}
		}
	}
	return b
}

// extensionFlagsFromBytes parses the 8 reserved handshake bytes into an
// ExtensionFlags bitmask.
func extensionFlagsFromBytes(b [8]byte) ExtensionFlags {
	var f ExtensionFlags
	for i, by := range b {
		for bit := 0; bit < 8; bit++ {
			if by&(1<<(7-bit)) != 0 {
				f |= 1 << (i*8 + bit)
			}
		}
	}
	return f
}

// Handshake is the fixed 68-byte message exchanged as the first thing on
// every peer connection (BEP3/BEP4).
type Handshake struct {
	Extensions ExtensionFlags
	InfoHash   core.InfoHash
	PeerID     core.PeerID
}

// ErrBadHandshake is returned when a peer's handshake bytes are malformed.
var ErrBadHandshake = errors.New("malformed handshake")

// NewHandshake builds a Handshake, automatically setting the v2-upgrade bit
// when infoHash carries a v2 form (per BEP52).
func NewHandshake(infoHash core.InfoHash, peerID core.PeerID, ext ExtensionFlags) Handshake {
	if infoHash.HasV2() {
		ext = ext.WithV2()
	}
	return Handshake{Extensions: ext, InfoHash: infoHash, PeerID: peerID}
}

// Encode writes h's wire form to w.
func (h Handshake) Encode(w io.Writer) error {
	buf := make([]byte, 0, handshakeLen)
	buf = append(buf, byte(len(Protocol)))
	buf = append(buf, Protocol...)
	reserved := h.Extensions.bytes()
	buf = append(buf, reserved[:]...)
	short := h.InfoHash.Short()
	buf = append(buf, short[:]...)
	buf = append(buf, h.PeerID[:]...)
	_, err := w.Write(buf)
	return err
}

// DecodeHandshake reads a Handshake from r. The returned InfoHash carries
// only the v1 (short) form; callers upgrade it to a hybrid InfoHash once
// they know which torrent it refers to.
func DecodeHandshake(r io.Reader) (Handshake, error) {
	var buf [handshakeLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Handshake{}, fmt.Errorf("read handshake: %s", err)
	}
	if buf[0] != byte(len(Protocol)) {
		return Handshake{}, fmt.Errorf("%w: protocol length %d", ErrBadHandshake, buf[0])
	}
	if string(buf[1:1+len(Protocol)]) != Protocol {
		return Handshake{}, fmt.Errorf("%w: protocol identifier %q", ErrBadHandshake, buf[1:1+len(Protocol)])
	}
	var reserved [8]byte
	copy(reserved[:], buf[20:28])
	ext := extensionFlagsFromBytes(reserved)

	var ihBytes [20]byte
	copy(ihBytes[:], buf[28:48])
	ih, err := core.NewInfoHashFromV1Bytes(ihBytes[:])
	if err != nil {
		return Handshake{}, err
	}

	var peerID core.PeerID
	copy(peerID[:], buf[48:68])

	return Handshake{Extensions: ext, InfoHash: ih, PeerID: peerID}, nil
}
