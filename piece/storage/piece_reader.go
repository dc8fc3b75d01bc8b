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

// Package storage lays a torrent's flat piece space out across the file(s)
// described by its metadata, and provides disk-backed reads/writes with
// hash verification at piece boundaries.
package storage

import (
	"bytes"
	"errors"
	"io"
)

// ErrPieceComplete reports that a piece has already been verified and
// written. Nothing in this package returns it: Layout.WritePiece verifies
// and writes a piece again even if it is already on disk.
var ErrPieceComplete = errors.New("storage: piece is already complete")

// PieceReader is a lazily-opened, length-aware reader for a single piece's
// bytes, read either straight off disk or from an in-memory buffer.
type PieceReader interface {
	io.ReadCloser
	Length() int
}

// BufferReader is a PieceReader backed by an in-memory byte slice, used for
// pieces that are already resident in memory (e.g. immediately after local
// hash verification, before the write to disk completes).
type BufferReader struct {
	reader *bytes.Reader
}

// NewBufferReader wraps b as a PieceReader.
func NewBufferReader(b []byte) *BufferReader {
	return &BufferReader{bytes.NewReader(b)}
}

// Read implements io.Reader.
func (b *BufferReader) Read(p []byte) (int, error) { return b.reader.Read(p) }

// Close is a no-op; there is nothing to release.
func (b *BufferReader) Close() error { return nil }

// Length returns the number of unread bytes remaining.
func (b *BufferReader) Length() int { return b.reader.Len() }

// multiReader chains several segment readers into a single PieceReader
// spanning a piece that crosses file boundaries in a multi-file torrent.
type multiReader struct {
	io.Reader
	length  int
	closers []io.Closer
}

func newMultiReader(length int, parts []io.Reader, closers []io.Closer) *multiReader {
	return &multiReader{Reader: io.MultiReader(parts...), length: length, closers: closers}
}

func (m *multiReader) Length() int { return m.length }

func (m *multiReader) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
