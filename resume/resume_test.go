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
package resume

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/willf/bitset"

	"github.com/yoep/torrent-engine/core"
	"github.com/yoep/torrent-engine/piece"
)

func stateFixture() State {
	bf := bitset.New(10)
	bf.Set(0)
	bf.Set(3)
	bf.Set(9)
	return State{
		InfoHash:  core.InfoHashFixture(),
		Bitfield:  bf,
		NumPieces: 10,
		Files: []FilePriority{
			{Path: "a.txt", Priority: piece.PriorityNone},
			{Path: "b/c.mp4", Priority: piece.PriorityNormal},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	require := require.New(t)

	dir, err := ioutil.TempDir("", "resume_test")
	require.NoError(err)
	defer os.RemoveAll(dir)

	s := stateFixture()
	path := Path(dir, s.InfoHash)

	require.NoError(Save(path, s))

	got, err := Load(path)
	require.NoError(err)

	require.Equal(s.InfoHash, got.InfoHash)
	require.Equal(s.NumPieces, got.NumPieces)
	require.Equal(s.Files, got.Files)
	for i := 0; i < s.NumPieces; i++ {
		require.Equal(s.Bitfield.Test(uint(i)), got.Bitfield.Test(uint(i)), "bit %d", i)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	require := require.New(t)

	dir, err := ioutil.TempDir("", "resume_test")
	require.NoError(err)
	defer os.RemoveAll(dir)

	s := stateFixture()
	path := Path(dir, s.InfoHash)
	require.NoError(Save(path, s))

	s.Bitfield.Set(5)
	require.NoError(Save(path, s))

	got, err := Load(path)
	require.NoError(err)
	require.True(got.Bitfield.Test(5))
}

func TestSaveDoesNotLeaveTempFiles(t *testing.T) {
	require := require.New(t)

	dir, err := ioutil.TempDir("", "resume_test")
	require.NoError(err)
	defer os.RemoveAll(dir)

	s := stateFixture()
	require.NoError(Save(Path(dir, s.InfoHash), s))

	entries, err := ioutil.ReadDir(dir)
	require.NoError(err)
	require.Len(entries, 1)
	require.Equal(filepath.Base(Path(dir, s.InfoHash)), entries[0].Name())
}

func TestLoadRejectsBadMagic(t *testing.T) {
	require := require.New(t)

	dir, err := ioutil.TempDir("", "resume_test")
	require.NoError(err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "bad.resume")
	require.NoError(ioutil.WriteFile(path, []byte("NOPE0000000000000000000000"), 0644))

	_, err = Load(path)
	require.Equal(ErrBadMagic, err)
}

func TestLoadRejectsUnsupportedVersion(t *testing.T) {
	require := require.New(t)

	dir, err := ioutil.TempDir("", "resume_test")
	require.NoError(err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "newer.resume")
	data := append([]byte{}, magic[:]...)
	data = append(data, 99)
	require.NoError(ioutil.WriteFile(path, data, 0644))

	_, err = Load(path)
	require.Equal(ErrUnsupportedVersion, err)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	require := require.New(t)

	_, err := Load("/nonexistent/path.resume")
	require.Error(err)
}
