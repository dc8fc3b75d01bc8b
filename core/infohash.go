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
package core

import (
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
)

// InfoHash identifies a torrent. It carries a v1 SHA-1 form, a v2 SHA-256
// form, or both (a "hybrid" torrent); at least one form is always present.
type InfoHash struct {
	v1    [20]byte
	v2    [32]byte
	hasV1 bool
	hasV2 bool
}

// ErrInvalidInfoHash is returned when neither a v1 nor v2 form was supplied.
var ErrInvalidInfoHash = errors.New("info hash must carry a v1 or v2 form")

// NewInfoHashV1 builds an InfoHash carrying only a v1 (SHA-1) form.
func NewInfoHashV1(b [20]byte) InfoHash {
	return InfoHash{v1: b, hasV1: true}
}

// NewInfoHashV2 builds an InfoHash carrying only a v2 (SHA-256) form.
func NewInfoHashV2(b [32]byte) InfoHash {
	return InfoHash{v2: b, hasV2: true}
}

// NewHybridInfoHash builds an InfoHash carrying both forms.
func NewHybridInfoHash(v1 [20]byte, v2 [32]byte) InfoHash {
	return InfoHash{v1: v1, hasV1: true, v2: v2, hasV2: true}
}

// NewInfoHashFromHex parses a v1 40-char hex string, or a v2 64-char hex
// string prefixed with the BEP52 multihash tag "1220" (68 chars in total).
func NewInfoHashFromHex(s string) (InfoHash, error) {
	switch len(s) {
	case 40:
		b, err := hex.DecodeString(s)
		if err != nil {
			return InfoHash{}, fmt.Errorf("invalid hex: %s", err)
		}
		var v1 [20]byte
		copy(v1[:], b)
		return NewInfoHashV1(v1), nil
	case 68:
		if s[:4] != "1220" {
			return InfoHash{}, errors.New("v2 hex info hash must be prefixed with multihash tag 1220")
		}
		b, err := hex.DecodeString(s[4:])
		if err != nil {
			return InfoHash{}, fmt.Errorf("invalid hex: %s", err)
		}
		var v2 [32]byte
		copy(v2[:], b)
		return NewInfoHashV2(v2), nil
	default:
		return InfoHash{}, fmt.Errorf("invalid hash: expected 40 or 68 hex characters, got %d", len(s))
	}
}

// NewInfoHashFromBase32 parses the 32-character RFC4648 base32 v1 encoding
// some magnet producers emit for the btih urn.
func NewInfoHashFromBase32(s string) (InfoHash, error) {
	if len(s) != 32 {
		return InfoHash{}, fmt.Errorf("invalid base32 hash: expected 32 characters, got %d", len(s))
	}
	b, err := base32.StdEncoding.DecodeString(s)
	if err != nil {
		return InfoHash{}, fmt.Errorf("invalid base32: %s", err)
	}
	if len(b) != 20 {
		return InfoHash{}, fmt.Errorf("invariant violation: expected 20 bytes, got %d", len(b))
	}
	var v1 [20]byte
	copy(v1[:], b)
	return NewInfoHashV1(v1), nil
}

// NewInfoHashFromV1Bytes wraps a raw 20-byte v1 hash.
func NewInfoHashFromV1Bytes(b []byte) (InfoHash, error) {
	if len(b) != 20 {
		return InfoHash{}, fmt.Errorf("expected 20 bytes, got %d", len(b))
	}
	var v1 [20]byte
	copy(v1[:], b)
	return NewInfoHashV1(v1), nil
}

// HasV1 reports whether h carries a v1 (SHA-1) form.
func (h InfoHash) HasV1() bool { return h.hasV1 }

// HasV2 reports whether h carries a v2 (SHA-256) form.
func (h InfoHash) HasV2() bool { return h.hasV2 }

// V1 returns the v1 form and whether it is present.
func (h InfoHash) V1() ([20]byte, bool) { return h.v1, h.hasV1 }

// V2 returns the v2 form and whether it is present.
func (h InfoHash) V2() ([32]byte, bool) { return h.v2, h.hasV2 }

// Short returns the 20-byte form wire handshakes carry: the v1 hash when
// present, else the first 20 bytes of the v2 hash.
func (h InfoHash) Short() [20]byte {
	if h.hasV1 {
		return h.v1
	}
	var s [20]byte
	copy(s[:], h.v2[:20])
	return s
}

// Equal returns whether h and o are the same torrent identity: two info
// hashes are equal when every form they both carry is equal, so a v1-only
// hash and a hybrid hash sharing that same v1 form compare equal.
func (h InfoHash) Equal(o InfoHash) bool {
	if !h.hasV1 && !h.hasV2 {
		return false
	}
	if !o.hasV1 && !o.hasV2 {
		return false
	}
	if h.hasV1 && o.hasV1 && h.v1 != o.v1 {
		return false
	}
	if h.hasV2 && o.hasV2 && h.v2 != o.v2 {
		return false
	}
	return (h.hasV1 && o.hasV1) || (h.hasV2 && o.hasV2)
}

// Bytes returns the canonical byte representation: the v1 form when present,
// else the v2 form.
func (h InfoHash) Bytes() []byte {
	if h.hasV1 {
		return h.v1[:]
	}
	return h.v2[:]
}

// Hex returns the hexadecimal encoding of h's canonical form: the v1 form
// when present, else the v2 form prefixed with the BEP52 multihash tag.
func (h InfoHash) Hex() string {
	if h.hasV1 {
		return hex.EncodeToString(h.v1[:])
	}
	return "1220" + hex.EncodeToString(h.v2[:])
}

func (h InfoHash) String() string {
	return h.Hex()
}

// Base32 returns the RFC4648 base32 encoding of h's v1 form, the form BEP9
// magnet producers occasionally use for the btih urn instead of hex.
func (h InfoHash) Base32() string {
	v1 := h.Short()
	return base32.StdEncoding.EncodeToString(v1[:])
}
