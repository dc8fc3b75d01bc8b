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
package storage

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yoep/torrent-engine/core"
)

func TestLayoutSingleFileWriteAndRead(t *testing.T) {
	require := require.New(t)

	blob := bytes.Repeat([]byte("x"), 40)
	meta, err := core.NewSingleFileMetadata("movie.mp4", bytes.NewReader(blob), 16)
	require.NoError(err)

	dir, err := ioutil.TempDir("", "layout-single")
	require.NoError(err)
	defer os.RemoveAll(dir)

	l := NewLayout(dir, meta)
	require.NoError(l.Prepare())
	defer l.Close()

	require.Equal(3, meta.NumPieces())

	for i := 0; i < meta.NumPieces(); i++ {
		n := meta.GetPieceLength(i)
		require.NoError(l.WritePiece(i, blob[int64(i)*16:int64(i)*16+n]))
	}

	for i := 0; i < meta.NumPieces(); i++ {
		r, err := l.ReadPiece(i)
		require.NoError(err)
		got, err := io.ReadAll(r)
		require.NoError(err)
		r.Close()

		n := meta.GetPieceLength(i)
		require.Equal(blob[int64(i)*16:int64(i)*16+n], got)
		require.Equal(int(n), r.Length())
	}

	body, err := ioutil.ReadFile(filepath.Join(dir, "movie.mp4"))
	require.NoError(err)
	require.Equal(blob, body)
}

func TestLayoutWritePieceRejectsHashMismatch(t *testing.T) {
	require := require.New(t)

	blob := bytes.Repeat([]byte("y"), 16)
	meta, err := core.NewSingleFileMetadata("f.bin", bytes.NewReader(blob), 16)
	require.NoError(err)

	dir, err := ioutil.TempDir("", "layout-badhash")
	require.NoError(err)
	defer os.RemoveAll(dir)

	l := NewLayout(dir, meta)
	require.NoError(l.Prepare())
	defer l.Close()

	err = l.WritePiece(0, bytes.Repeat([]byte("z"), 16))
	require.Error(err)
}

func TestLayoutHybridWritePieceVerifiesBothForms(t *testing.T) {
	require := require.New(t)

	blob := bytes.Repeat([]byte("h"), 32)
	meta, err := core.NewHybridSingleFileMetadata("f.bin", bytes.NewReader(blob), 16)
	require.NoError(err)
	require.True(meta.InfoHash().HasV1())
	require.True(meta.InfoHash().HasV2())

	dir, err := ioutil.TempDir("", "layout-hybrid")
	require.NoError(err)
	defer os.RemoveAll(dir)

	l := NewLayout(dir, meta)
	require.NoError(l.Prepare())
	defer l.Close()

	for i := 0; i < meta.NumPieces(); i++ {
		n := meta.GetPieceLength(i)
		require.NoError(l.WritePiece(i, blob[int64(i)*16:int64(i)*16+n]))
	}

	err = l.WritePiece(0, bytes.Repeat([]byte("z"), 16))
	require.Error(err)
}

func TestFileMapSegmentsSpanMultipleFiles(t *testing.T) {
	require := require.New(t)

	fm := &FileMap{
		root: "/torrents/x",
		files: []fileSpan{
			{relPath: "a.bin", offset: 0, length: 10},
			{relPath: "b.bin", offset: 10, length: 10},
		},
		total: 20,
	}

	segs := fm.Segments(5, 10)
	require.Len(segs, 2)
	require.Equal(filepath.Join("/torrents/x", "a.bin"), segs[0].absPath)
	require.EqualValues(5, segs[0].fileOffset)
	require.EqualValues(5, segs[0].length)
	require.Equal(filepath.Join("/torrents/x", "b.bin"), segs[1].absPath)
	require.EqualValues(0, segs[1].fileOffset)
	require.EqualValues(5, segs[1].length)
}
