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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewInfoHashFromHexV1(t *testing.T) {
	require := require.New(t)

	h, err := NewInfoHashFromHex("e3b0c44298fc1c149afbf4c8996fb92427ae41e4")
	require.NoError(err)
	require.Equal("e3b0c44298fc1c149afbf4c8996fb92427ae41e4", h.Hex())
	require.Equal("e3b0c44298fc1c149afbf4c8996fb92427ae41e4", h.String())
	require.True(h.HasV1())
	require.False(h.HasV2())
}

func TestNewInfoHashFromHexV2(t *testing.T) {
	require := require.New(t)

	hexV2 := "1220" + "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85" + "5"
	h, err := NewInfoHashFromHex(hexV2)
	require.NoError(err)
	require.True(h.HasV2())
	require.False(h.HasV1())
	require.Equal(hexV2, h.Hex())
}

func TestNewInfoHashFromHexErrors(t *testing.T) {
	tests := []struct {
		desc  string
		input string
	}{
		{"empty", ""},
		{"wrong length", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934"},
		{"invalid hex", "x3b0c44298fc1c149afbf4c8996fb92427ae41e4"},
		{"v2 without multihash tag", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			_, err := NewInfoHashFromHex(test.input)
			require.Error(t, err)
		})
	}
}

func TestNewInfoHashFromBase32RoundTrip(t *testing.T) {
	require := require.New(t)

	var v1 [20]byte
	for i := range v1 {
		v1[i] = byte(i)
	}
	h := NewInfoHashV1(v1)

	b32 := h.Base32()
	parsed, err := NewInfoHashFromBase32(b32)
	require.NoError(err)
	require.True(h.Equal(parsed))
}

func TestInfoHashHexRoundTrip(t *testing.T) {
	require := require.New(t)

	var v1 [20]byte
	for i := range v1 {
		v1[i] = byte(i * 3)
	}
	h := NewInfoHashV1(v1)

	parsed, err := NewInfoHashFromHex(h.Hex())
	require.NoError(err)
	require.True(h.Equal(parsed))
}

func TestInfoHashEquality(t *testing.T) {
	require := require.New(t)

	var v1 [20]byte
	var v2 [32]byte
	for i := range v1 {
		v1[i] = byte(i)
	}
	for i := range v2 {
		v2[i] = byte(i)
	}

	v1Only := NewInfoHashV1(v1)
	hybrid := NewHybridInfoHash(v1, v2)
	v2Only := NewInfoHashV2(v2)

	require.True(v1Only.Equal(hybrid))
	require.True(hybrid.Equal(v1Only))
	require.True(v2Only.Equal(hybrid))
	require.False(v1Only.Equal(v2Only)) // Share no common form.
}

func TestInfoHashShort(t *testing.T) {
	require := require.New(t)

	var v1 [20]byte
	var v2 [32]byte
	for i := range v2 {
		v2[i] = byte(i + 1)
	}

	require.Equal(v1, NewInfoHashV1(v1).Short())

	var want [20]byte
	copy(want[:], v2[:20])
	require.Equal(want, NewInfoHashV2(v2).Short())
}
