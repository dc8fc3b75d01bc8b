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
	"path/filepath"

	"github.com/yoep/torrent-engine/core"
)

// fileSpan is one file's placement within a torrent's flat byte space.
type fileSpan struct {
	relPath string
	offset  int64
	length  int64
}

// FileMap translates offsets in a torrent's flat [0, Length()) byte space
// into the on-disk file(s) that back them, preserving multi-file path
// components and writing a single-file torrent as one file, per the
// storage layout spec.
type FileMap struct {
	root  string
	files []fileSpan
	total int64
}

// NewFileMap builds a FileMap rooted at dir for meta's file list.
func NewFileMap(dir string, meta *core.Metadata) *FileMap {
	var files []fileSpan
	var offset int64
	for _, f := range meta.Files() {
		files = append(files, fileSpan{
			relPath: filepath.Join(f.Path...),
			offset:  offset,
			length:  f.Length,
		})
		offset += f.Length
	}
	return &FileMap{root: dir, files: files, total: offset}
}

// Root returns the torrent's on-disk root directory.
func (m *FileMap) Root() string { return m.root }

// Paths returns the absolute path of every file in the torrent.
func (m *FileMap) Paths() []string {
	paths := make([]string, len(m.files))
	for i, f := range m.files {
		paths[i] = filepath.Join(m.root, f.relPath)
	}
	return paths
}

// segment is one file's contribution to a byte range spanning one or more
// files.
type segment struct {
	absPath    string
	fileOffset int64
	length     int64
}

// Segments returns, in order, the per-file byte ranges that the flat byte
// range [offset, offset+length) spans.
func (m *FileMap) Segments(offset, length int64) []segment {
	var segs []segment
	end := offset + length
	for _, f := range m.files {
		fEnd := f.offset + f.length
		if fEnd <= offset || f.offset >= end {
			continue
		}
		lo := max64(offset, f.offset)
		hi := min64(end, fEnd)
		segs = append(segs, segment{
			absPath:    filepath.Join(m.root, f.relPath),
			fileOffset: lo - f.offset,
			length:     hi - lo,
		})
	}
	return segs
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
