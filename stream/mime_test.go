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
package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentTypeKnownExtensions(t *testing.T) {
	require := require.New(t)
	require.Equal("video/mp4", contentType("movie.mp4"))
	require.Equal("video/x-matroska", contentType("movie.mkv"))
	require.Equal("text/vtt", contentType("subs.en.vtt"))
}

func TestContentTypeUnknownExtension(t *testing.T) {
	require.New(t).Equal("application/octet-stream", contentType("archive.rar"))
}

func TestContentTypeNoExtension(t *testing.T) {
	require.New(t).Equal("application/octet-stream", contentType("README"))
}

func TestContentTypeCaseInsensitive(t *testing.T) {
	require.New(t).Equal("video/mp4", contentType("MOVIE.MP4"))
}
