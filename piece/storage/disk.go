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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/yoep/torrent-engine/core"
)

// Layout owns the on-disk files backing one torrent and performs
// hash-verified piece writes and lazy piece reads across them.
type Layout struct {
	meta *core.Metadata
	fm   *FileMap

	mu      sync.Mutex
	handles map[string]*os.File
}

// NewLayout builds a Layout rooted at dir. The torrent orchestrator names
// dir by the torrent's metadata name, or its info hash if the name is empty
// or is not a single path element.
func NewLayout(dir string, meta *core.Metadata) *Layout {
	return &Layout{
		meta:    meta,
		fm:      NewFileMap(dir, meta),
		handles: make(map[string]*os.File),
	}
}

// Prepare creates every backing file (and parent directories) at its full
// length if it does not already exist. Existing files are left untouched,
// supporting resume.
func (l *Layout) Prepare() error {
	for _, f := range l.fm.files {
		abs := filepath.Join(l.fm.root, f.relPath)
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return fmt.Errorf("mkdir: %s", err)
		}
		if _, err := os.Stat(abs); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat %s: %s", abs, err)
		}
		file, err := os.Create(abs)
		if err != nil {
			return fmt.Errorf("create %s: %s", abs, err)
		}
		if err := file.Truncate(f.length); err != nil {
			file.Close()
			return fmt.Errorf("truncate %s: %s", abs, err)
		}
		file.Close()
	}
	return nil
}

// WritePiece hash-verifies data against the piece's expected hash(es) and, on
// match, writes it across whichever backing file(s) it spans, fsyncing each
// touched file once the whole piece has landed. A hash mismatch leaves disk
// state untouched and returns an error without writing anything. Which
// form(s) are checked follows the torrent's info hash: a v1 torrent checks
// SHA-1 only, a v2 torrent checks SHA-256 only, and a hybrid torrent checks
// both, per spec.
func (l *Layout) WritePiece(pi int, data []byte) error {
	if int64(len(data)) != l.meta.GetPieceLength(pi) {
		return fmt.Errorf("storage: piece %d: expected %d bytes, got %d",
			pi, l.meta.GetPieceLength(pi), len(data))
	}

	ih := l.meta.InfoHash()
	if ih.HasV1() {
		if !core.VerifyPieceV1(data, l.meta.PieceHash(pi)) {
			return fmt.Errorf("storage: piece %d: v1 hash mismatch", pi)
		}
	}
	if ih.HasV2() {
		wantV2, ok := l.meta.PieceHashV2(pi)
		if !ok {
			return fmt.Errorf("storage: piece %d: missing v2 piece hash", pi)
		}
		if !core.VerifyPieceV2(data, wantV2) {
			return fmt.Errorf("storage: piece %d: v2 hash mismatch", pi)
		}
	}

	offset := l.meta.PieceLength() * int64(pi)
	touched := make(map[string]bool)
	for _, seg := range l.fm.Segments(offset, int64(len(data))) {
		f, err := l.handle(seg.absPath, true)
		if err != nil {
			return err
		}
		segData := data[:seg.length]
		data = data[seg.length:]

		if _, err := f.WriteAt(segData, seg.fileOffset); err != nil {
			return fmt.Errorf("write %s: %s", seg.absPath, err)
		}
		touched[seg.absPath] = true
	}

	for path := range touched {
		l.mu.Lock()
		f := l.handles[path]
		l.mu.Unlock()
		if f != nil {
			if err := f.Sync(); err != nil {
				return fmt.Errorf("sync %s: %s", path, err)
			}
		}
	}
	return nil
}

// ReadPiece returns a lazily-read PieceReader over piece pi's bytes,
// spanning file boundaries transparently for multi-file torrents.
func (l *Layout) ReadPiece(pi int) (PieceReader, error) {
	offset := l.meta.PieceLength() * int64(pi)
	length := l.meta.GetPieceLength(pi)

	segs := l.fm.Segments(offset, length)
	parts := make([]io.Reader, 0, len(segs))
	closers := make([]io.Closer, 0, len(segs))
	for _, seg := range segs {
		f, err := os.Open(seg.absPath)
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return nil, fmt.Errorf("open %s: %s", seg.absPath, err)
		}
		parts = append(parts, io.NewSectionReader(f, seg.fileOffset, seg.length))
		closers = append(closers, f)
	}
	return newMultiReader(int(length), parts, closers), nil
}

// ReadBlock returns the length bytes of piece pi starting at begin, without
// reading any bytes outside the requested range.
func (l *Layout) ReadBlock(pi int, begin, length int64) ([]byte, error) {
	offset := l.meta.PieceLength()*int64(pi) + begin
	buf := make([]byte, length)
	remaining := buf
	for _, seg := range l.fm.Segments(offset, length) {
		f, err := os.Open(seg.absPath)
		if err != nil {
			return nil, fmt.Errorf("open %s: %s", seg.absPath, err)
		}
		n, err := f.ReadAt(remaining[:seg.length], seg.fileOffset)
		f.Close()
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("read %s: %s", seg.absPath, err)
		}
		remaining = remaining[int64(n):]
	}
	return buf, nil
}

// Close releases every cached write handle.
func (l *Layout) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var first error
	for path, f := range l.handles {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(l.handles, path)
	}
	return first
}

func (l *Layout) handle(path string, writable bool) (*os.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if f, ok := l.handles[path]; ok {
		return f, nil
	}
	flag := os.O_RDWR
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %s", path, err)
	}
	l.handles[path] = f
	return f, nil
}
