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

// Package stream serves a single file within a torrent over HTTP, by byte
// range, as pieces arrive.
package stream

import (
	"path/filepath"

	"github.com/yoep/torrent-engine/torrent"
)

// Resource is one streamable file: a byte span within a torrent's overall
// piece-addressed byte space.
type Resource struct {
	Torrent *torrent.Torrent
	Path    []string
	Offset  int64
	Length  int64
}

// Filename returns the resource's base name, the path component this
// resource is registered and requested under.
func (r *Resource) Filename() string {
	return filepath.Base(filepath.Join(r.Path...))
}

// ResourceForFile builds a Resource for one of t's files, by its path
// components as returned by Torrent.Files. Returns false if no such file
// exists.
func ResourceForFile(t *torrent.Torrent, path []string) (*Resource, bool) {
	var offset int64
	for _, f := range t.Files() {
		if samePath(f.Path, path) {
			return &Resource{Torrent: t, Path: f.Path, Offset: offset, Length: f.Length}, true
		}
		offset += f.Length
	}
	return nil, false
}

func samePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
