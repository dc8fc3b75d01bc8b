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
package bencode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractRawValueDict(t *testing.T) {
	require := require.New(t)

	data := []byte("d4:infod6:lengthi100e4:name4:spam12:piece lengthi16ee8:announce13:http://a.com/e")

	raw, err := ExtractRawValue(data, "info")
	require.NoError(err)
	require.Equal("d6:lengthi100e4:name4:spam12:piece lengthi16ee", string(raw))
}

func TestExtractRawValueMissingKey(t *testing.T) {
	data := []byte("d4:name4:spame")
	_, err := ExtractRawValue(data, "info")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestExtractRawValueList(t *testing.T) {
	require := require.New(t)

	data := []byte("d5:filesl d6:lengthi1eed6:lengthi2eee4:name4:spame")
	// Not valid bencode (spaces), swap to a correct list-in-dict test instead.
	data = []byte("d5:filesld6:lengthi1eed6:lengthi2eee4:name4:spame")

	raw, err := ExtractRawValue(data, "files")
	require.NoError(err)
	require.Equal("ld6:lengthi1eed6:lengthi2eee", string(raw))
}

func TestExtractRawValueNotDict(t *testing.T) {
	_, err := ExtractRawValue([]byte("i42e"), "info")
	require.Error(t, err)
}
