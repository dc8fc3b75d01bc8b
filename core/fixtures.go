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
	"bytes"
	"fmt"
	"math/rand"
)

// randomIP returns a randomly generated IPv4 dotted-quad string, for tests
// that need a stand-in peer address.
func randomIP() string {
	return fmt.Sprintf("%d.%d.%d.%d", rand.Intn(256), rand.Intn(256), rand.Intn(256), rand.Intn(256))
}

// randomPort returns a random TCP port in the ephemeral range.
func randomPort() int {
	return 10000 + rand.Intn(50000)
}

// randomText returns n random lowercase letters, for tests that need
// filler content or a short random identifier.
func randomText(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}

// PeerIDFixture returns a randomly generated PeerID.
func PeerIDFixture() PeerID {
	p, err := RandomPeerID()
	if err != nil {
		panic(err)
	}
	return p
}

// PeerInfoFixture returns a randomly generated PeerInfo.
func PeerInfoFixture() *PeerInfo {
	return NewPeerInfo(PeerIDFixture(), randomIP(), randomPort(), false)
}

// CompletePeerInfoFixture returns a randomly generated PeerInfo marked
// complete (a seed).
func CompletePeerInfoFixture() *PeerInfo {
	return NewPeerInfo(PeerIDFixture(), randomIP(), randomPort(), true)
}

// PeerContextFixture returns a randomly generated PeerContext.
func PeerContextFixture() PeerContext {
	pctx, err := NewPeerContext(RandomPeerIDFactory, randomIP(), randomPort())
	if err != nil {
		panic(err)
	}
	return pctx
}

// MetadataFixture returns a randomly generated single-file Metadata.
func MetadataFixture(size uint64, pieceLength uint64) *Metadata {
	b := make([]byte, size)
	rand.Read(b)
	mi, err := NewSingleFileMetadata(randomText(8), bytes.NewReader(b), int64(pieceLength))
	if err != nil {
		panic(err)
	}
	return mi
}

// HybridMetadataFixture returns a randomly generated single-file Metadata
// carrying both v1 and v2 piece hashes.
func HybridMetadataFixture(size uint64, pieceLength uint64) *Metadata {
	b := make([]byte, size)
	rand.Read(b)
	mi, err := NewHybridSingleFileMetadata(randomText(8), bytes.NewReader(b), int64(pieceLength))
	if err != nil {
		panic(err)
	}
	return mi
}

// InfoHashFixture returns a randomly generated InfoHash.
func InfoHashFixture() InfoHash {
	return MetadataFixture(256, 8).InfoHash()
}
