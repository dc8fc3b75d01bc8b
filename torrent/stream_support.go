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
package torrent

import (
	"context"
	"errors"

	"github.com/yoep/torrent-engine/piece"
)

// ErrMetadataUnknown is returned by the streaming read path when called
// before metadata (and therefore the piece engine) is known.
var ErrMetadataUnknown = errors.New("torrent: metadata not yet known")

// ErrStreamStopped is returned from WaitForPiece/ReadRange once the torrent
// leaves Downloading/Seeding while a stream is waiting on a piece.
var ErrStreamStopped = errors.New("torrent: no longer downloading or seeding")

// PieceLength returns the torrent's fixed piece length, or 0 before
// metadata is known.
func (t *Torrent) PieceLength() int64 {
	if m := t.Metadata(); m != nil {
		return m.PieceLength()
	}
	return 0
}

// Length returns the torrent's total byte length, or 0 before metadata is
// known.
func (t *Torrent) Length() int64 {
	if m := t.Metadata(); m != nil {
		return m.Length()
	}
	return 0
}

// SetStreamCursor pins streamID's position to the piece containing byte
// offset, boosting that piece (and its readahead window) to elevated
// selection priority. Every active HTTP response drives its own streamID so
// concurrent reads of the same torrent don't clobber each other's window.
func (t *Torrent) SetStreamCursor(streamID int, offset int64) {
	t.mu.RLock()
	idx := t.priorities
	pieceLen := int64(0)
	if t.meta != nil {
		pieceLen = t.meta.PieceLength()
	}
	t.mu.RUnlock()
	if idx == nil || pieceLen == 0 {
		return
	}
	idx.SetStream(streamID, piece.StreamWindow{Cursor: int(offset / pieceLen)})
}

// ClearStream releases streamID's priority window, e.g. once an HTTP
// response finishes or its connection closes.
func (t *Torrent) ClearStream(streamID int) {
	t.mu.RLock()
	idx := t.priorities
	t.mu.RUnlock()
	if idx != nil {
		idx.ClearStream(streamID)
	}
}

// WaitForPiece blocks, without holding any lock, until piece i has verified,
// ctx is canceled, or the torrent leaves Downloading/Seeding. It first
// raises i to Now priority via streamID's window so the piece engine
// requests it ahead of everything but another stream's own cursor.
func (t *Torrent) WaitForPiece(ctx context.Context, streamID, i int) error {
	t.SetStreamCursor(streamID, int64(i)*t.PieceLength())

	engine := t.engineRef()
	if engine == nil {
		return ErrMetadataUnknown
	}
	if engine.Bitfield().Test(uint(i)) {
		return nil
	}

	sub := t.Subscribe()
	defer sub.Close()

	if st := t.Stats().State; st != Downloading && st != Seeding {
		return ErrStreamStopped
	}
	if engine.Bitfield().Test(uint(i)) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-sub.Events():
			if !ok {
				return ErrStreamStopped
			}
			switch ev := e.(type) {
			case PieceCompleted:
				if ev.Index == i {
					return nil
				}
			case StateChanged:
				if ev.State != Downloading && ev.State != Seeding {
					return ErrStreamStopped
				}
			}
		}
	}
}

// ReadRange reads exactly len(p) bytes starting at absolute torrent byte
// offset, blocking on WaitForPiece for each piece it crosses. Every call
// uses streamID's priority window, so a sequential reader naturally keeps
// the piece engine focused just ahead of its cursor.
func (t *Torrent) ReadRange(ctx context.Context, streamID int, p []byte, offset int64) (int, error) {
	meta := t.Metadata()
	if meta == nil {
		return 0, ErrMetadataUnknown
	}
	engine := t.engineRef()
	if engine == nil {
		return 0, ErrMetadataUnknown
	}
	t.mu.RLock()
	layout := t.layout
	t.mu.RUnlock()

	pieceLen := meta.PieceLength()
	total := 0
	for total < len(p) {
		pos := offset + int64(total)
		pi := int(pos / pieceLen)
		begin := pos % pieceLen
		remain := int64(len(p) - total)
		avail := pieceLen - begin
		if avail > remain {
			avail = remain
		}

		if err := t.WaitForPiece(ctx, streamID, pi); err != nil {
			return total, err
		}
		block, err := layout.ReadBlock(pi, begin, avail)
		if err != nil {
			return total, err
		}
		copy(p[total:], block)
		total += len(block)
	}
	return total, nil
}
