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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtendedHandshakeRoundTrip(t *testing.T) {
	require := require.New(t)

	h := ExtendedHandshake{
		M:            map[string]int64{ExtensionUTMetadata: 1, ExtensionUTPex: 2},
		V:            "torrent-engine 0.1",
		Reqq:         512,
		MetadataSize: 304838,
	}

	raw, err := EncodeExtendedHandshake(h)
	require.NoError(err)

	result, err := DecodeExtendedHandshake(raw)
	require.NoError(err)
	require.Equal(h.M, result.M)
	require.Equal(h.V, result.V)
	require.EqualValues(512, result.Reqq)
	require.EqualValues(304838, result.MetadataSize)
}

func TestSupportedExtensionID(t *testing.T) {
	require := require.New(t)

	h := ExtendedHandshake{M: map[string]int64{ExtensionUTPex: 2}}

	id, ok := h.SupportedExtensionID(ExtensionUTPex)
	require.True(ok)
	require.EqualValues(2, id)

	_, ok = h.SupportedExtensionID(ExtensionUTMetadata)
	require.False(ok)
}
