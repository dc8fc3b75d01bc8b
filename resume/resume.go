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

// Package resume persists and restores a single torrent's download
// progress: which pieces have verified and what per-file priorities were
// last set, so a restart doesn't have to re-verify or re-request data it
// already has.
package resume

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/willf/bitset"

	"github.com/yoep/torrent-engine/core"
	"github.com/yoep/torrent-engine/piece"
)

// magic identifies a resume file and its byte order; version allows the
// schema to change without silently misreading an old file.
var magic = [4]byte{'T', 'E', 'R', 'S'}

const version = 1

// ErrBadMagic is returned when a file doesn't start with the resume magic
// bytes.
var ErrBadMagic = errors.New("resume: not a resume file")

// ErrUnsupportedVersion is returned for a resume file written by a newer or
// otherwise incompatible schema version.
var ErrUnsupportedVersion = errors.New("resume: unsupported schema version")

// FilePriority is one entry of the persisted per-file priority table.
type FilePriority struct {
	Path     string
	Priority piece.Priority
}

// State is everything persisted for one torrent: which pieces have
// verified, and any pinned per-file priorities.
type State struct {
	InfoHash  core.InfoHash
	Bitfield  *bitset.BitSet
	NumPieces int
	Files     []FilePriority
}

// Path returns the conventional resume file location for infoHash within
// dir, one file per torrent.
func Path(dir string, infoHash core.InfoHash) string {
	return filepath.Join(dir, infoHash.Hex()+".resume")
}

// Save writes s to path atomically: the full contents are written to a
// temp file in the same directory, then renamed over path, so a crash
// mid-write never leaves a truncated resume file behind.
func Save(path string, s State) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("resume: mkdir %s: %s", dir, err)
	}

	tmp, err := ioutil.TempFile(dir, ".resume-*")
	if err != nil {
		return fmt.Errorf("resume: create temp file: %s", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := encode(tmp, s); err != nil {
		tmp.Close()
		return fmt.Errorf("resume: encode: %s", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("resume: sync: %s", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("resume: close temp file: %s", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("resume: rename into place: %s", err)
	}
	return nil
}

// Load reads and validates the resume file at path.
func Load(path string) (State, error) {
	f, err := os.Open(path)
	if err != nil {
		return State{}, err
	}
	defer f.Close()
	return decode(bufio.NewReader(f))
}

func encode(w io.Writer, s State) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint8(version)); err != nil {
		return err
	}

	v1, ok := s.InfoHash.V1()
	if !ok {
		return errors.New("resume: info hash has no v1 form")
	}
	if _, err := w.Write(v1[:]); err != nil {
		return err
	}

	if err := binary.Write(w, binary.BigEndian, uint32(s.NumPieces)); err != nil {
		return err
	}
	bitmap, err := s.Bitfield.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal bitfield: %s", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(bitmap))); err != nil {
		return err
	}
	if _, err := w.Write(bitmap); err != nil {
		return err
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(s.Files))); err != nil {
		return err
	}
	for _, f := range s.Files {
		if err := binary.Write(w, binary.BigEndian, uint16(len(f.Path))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, f.Path); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, uint8(f.Priority)); err != nil {
			return err
		}
	}
	return nil
}

func decode(r io.Reader) (State, error) {
	var got [4]byte
	if _, err := io.ReadFull(r, got[:]); err != nil {
		return State{}, fmt.Errorf("resume: read magic: %s", err)
	}
	if got != magic {
		return State{}, ErrBadMagic
	}

	var ver uint8
	if err := binary.Read(r, binary.BigEndian, &ver); err != nil {
		return State{}, fmt.Errorf("resume: read version: %s", err)
	}
	if ver != version {
		return State{}, ErrUnsupportedVersion
	}

	var v1 [20]byte
	if _, err := io.ReadFull(r, v1[:]); err != nil {
		return State{}, fmt.Errorf("resume: read info hash: %s", err)
	}

	var numPieces uint32
	if err := binary.Read(r, binary.BigEndian, &numPieces); err != nil {
		return State{}, fmt.Errorf("resume: read num pieces: %s", err)
	}

	var bitmapLen uint32
	if err := binary.Read(r, binary.BigEndian, &bitmapLen); err != nil {
		return State{}, fmt.Errorf("resume: read bitmap length: %s", err)
	}
	bitmap := make([]byte, bitmapLen)
	if _, err := io.ReadFull(r, bitmap); err != nil {
		return State{}, fmt.Errorf("resume: read bitmap: %s", err)
	}
	bs := &bitset.BitSet{}
	if err := bs.UnmarshalBinary(bitmap); err != nil {
		return State{}, fmt.Errorf("resume: unmarshal bitmap: %s", err)
	}

	var numFiles uint32
	if err := binary.Read(r, binary.BigEndian, &numFiles); err != nil {
		return State{}, fmt.Errorf("resume: read file table length: %s", err)
	}
	files := make([]FilePriority, 0, numFiles)
	for i := uint32(0); i < numFiles; i++ {
		var pathLen uint16
		if err := binary.Read(r, binary.BigEndian, &pathLen); err != nil {
			return State{}, fmt.Errorf("resume: read path length: %s", err)
		}
		pathBuf := make([]byte, pathLen)
		if _, err := io.ReadFull(r, pathBuf); err != nil {
			return State{}, fmt.Errorf("resume: read path: %s", err)
		}
		var prio uint8
		if err := binary.Read(r, binary.BigEndian, &prio); err != nil {
			return State{}, fmt.Errorf("resume: read priority: %s", err)
		}
		files = append(files, FilePriority{Path: string(pathBuf), Priority: piece.Priority(prio)})
	}

	return State{
		InfoHash:  core.NewInfoHashV1(v1),
		Bitfield:  bs,
		NumPieces: int(numPieces),
		Files:     files,
	}, nil
}
