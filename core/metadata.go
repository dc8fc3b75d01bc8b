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
package core

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/yoep/torrent-engine/bencode"
)

// FileEntry describes a single file within a multi-file torrent, per BEP3's
// "files" list.
type FileEntry struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// info is the bencoded "info" dictionary, the piece of torrent metadata whose
// SHA-1 (and, for v2/hybrid torrents, SHA-256) digest serves as the torrent's
// InfoHash.
type info struct {
	Name        string      `bencode:"name"`
	PieceLength int64       `bencode:"piece length"`
	Pieces      string      `bencode:"pieces,omitempty"`
	PiecesV2    string      `bencode:"pieces2,omitempty"`
	Length      int64       `bencode:"length,omitempty"`
	Files       []FileEntry `bencode:"files,omitempty"`
	Private     int64       `bencode:"private,omitempty"`
	MetaVersion int64       `bencode:"meta version,omitempty"`
}

func (i *info) isMultiFile() bool {
	return len(i.Files) > 0
}

// totalLength returns the sum of all file lengths described by i.
func (i *info) totalLength() int64 {
	if !i.isMultiFile() {
		return i.Length
	}
	var total int64
	for _, f := range i.Files {
		total += f.Length
	}
	return total
}

// hashV1 computes the BEP3 info hash: SHA-1 over the canonical bencoding of
// the info dictionary.
func (i *info) hashV1() ([20]byte, error) {
	var b bytes.Buffer
	if err := bencode.Marshal(&b, *i); err != nil {
		return [20]byte{}, fmt.Errorf("bencode info: %s", err)
	}
	return sha1.Sum(b.Bytes()), nil
}

// hashV2 computes the BEP52 info hash: SHA-256 over the same canonical
// bencoding, used whenever the info dictionary carries "meta version" 2.
func (i *info) hashV2() ([32]byte, error) {
	var b bytes.Buffer
	if err := bencode.Marshal(&b, *i); err != nil {
		return [32]byte{}, fmt.Errorf("bencode info: %s", err)
	}
	return sha256.Sum256(b.Bytes()), nil
}

// Metadata holds the full contents of a .torrent file: the info dictionary
// plus the tracker / provenance fields that sit alongside it, per BEP3.
type Metadata struct {
	info         info
	infoHash     InfoHash
	Announce     string   `bencode:"announce,omitempty"`
	AnnounceList [][]string `bencode:"announce-list,omitempty"`
	CreationDate int64    `bencode:"creation date,omitempty"`
	Comment      string   `bencode:"comment,omitempty"`
	CreatedBy    string   `bencode:"created by,omitempty"`
}

// metadataBencode mirrors Metadata's bencode layout; info is nested under a
// named sub-dictionary in the wire form, which Go's embedding can't express
// directly against jackpal/bencode-go.
type metadataBencode struct {
	Info         info       `bencode:"info"`
	Announce     string     `bencode:"announce,omitempty"`
	AnnounceList [][]string `bencode:"announce-list,omitempty"`
	CreationDate int64      `bencode:"creation date,omitempty"`
	Comment      string     `bencode:"comment,omitempty"`
	CreatedBy    string     `bencode:"created by,omitempty"`
}

// ErrNoPieceSums is returned when an info dictionary carries no usable piece
// hash data under either the v1 or v2 model.
var ErrNoPieceSums = errors.New("info dictionary carries no piece hashes")

// NewSingleFileMetadata builds Metadata for a single-file v1 torrent, hashing
// blob in pieceLength chunks to populate the v1 pieces string.
func NewSingleFileMetadata(name string, blob io.Reader, pieceLength int64) (*Metadata, error) {
	length, piecesV1, _, err := hashPieces(blob, pieceLength)
	if err != nil {
		return nil, err
	}
	i := info{
		Name:        name,
		PieceLength: pieceLength,
		Pieces:      string(piecesV1),
		Length:      length,
	}
	return newMetadata(i)
}

// NewHybridSingleFileMetadata builds Metadata for a single-file torrent
// carrying both the v1 (SHA-1) and v2 (SHA-256) per-piece hash sets, per
// BEP52's hybrid torrent model. Unlike a real BEP52 "piece layers" dict (a
// merkle tree per file), PiecesV2 here is a flat concatenation of one
// SHA-256 leaf digest per piece; that is sufficient to verify a single
// piece's bytes against its expected v2 hash, which is the only use this
// engine makes of it.
func NewHybridSingleFileMetadata(name string, blob io.Reader, pieceLength int64) (*Metadata, error) {
	length, piecesV1, piecesV2, err := hashPieces(blob, pieceLength)
	if err != nil {
		return nil, err
	}
	i := info{
		Name:        name,
		PieceLength: pieceLength,
		Pieces:      string(piecesV1),
		PiecesV2:    string(piecesV2),
		Length:      length,
		MetaVersion: 2,
	}
	return newMetadata(i)
}

func newMetadata(i info) (*Metadata, error) {
	v1, err := i.hashV1()
	if err != nil {
		return nil, err
	}
	ih := NewInfoHashV1(v1)
	if i.MetaVersion == 2 {
		v2, err := i.hashV2()
		if err != nil {
			return nil, err
		}
		ih = NewHybridInfoHash(v1, v2)
	}
	return &Metadata{info: i, infoHash: ih}, nil
}

// DecodeMetadata parses the bencoded contents of a .torrent file. The info
// hash is computed over the info dictionary's exact original bytes (via
// bencode.ExtractRawValue), not a re-encoding of the fields this package
// knows about, so torrents carrying info keys this model doesn't parse still
// hash correctly.
func DecodeMetadata(raw []byte) (*Metadata, error) {
	var b metadataBencode
	if err := bencode.Unmarshal(bytes.NewReader(raw), &b); err != nil {
		return nil, fmt.Errorf("bencode: %s", err)
	}

	rawInfo, err := bencode.ExtractRawValue(raw, "info")
	if err != nil {
		return nil, fmt.Errorf("extract info dict: %s", err)
	}
	v1 := sha1.Sum(rawInfo)
	ih := NewInfoHashV1(v1)
	if b.Info.MetaVersion == 2 {
		ih = NewHybridInfoHash(v1, sha256.Sum256(rawInfo))
	}

	return &Metadata{
		info:         b.Info,
		infoHash:     ih,
		Announce:     b.Announce,
		AnnounceList: b.AnnounceList,
		CreationDate: b.CreationDate,
		Comment:      b.Comment,
		CreatedBy:    b.CreatedBy,
	}, nil
}

// NewMetadataFromInfoDict builds Metadata from the bare info dictionary
// bytes exchanged over BEP9 metadata transfer, where no outer
// announce/info wrapper exists. The info hash is computed directly over
// raw, exactly as DecodeMetadata computes it over the "info" sub-dictionary
// of a .torrent file.
func NewMetadataFromInfoDict(raw []byte) (*Metadata, error) {
	var i info
	if err := bencode.Unmarshal(bytes.NewReader(raw), &i); err != nil {
		return nil, fmt.Errorf("bencode: %s", err)
	}
	v1 := sha1.Sum(raw)
	ih := NewInfoHashV1(v1)
	if i.MetaVersion == 2 {
		ih = NewHybridInfoHash(v1, sha256.Sum256(raw))
	}
	return &Metadata{info: i, infoHash: ih}, nil
}

// Encode serializes m back into its canonical .torrent bencoding.
func (m *Metadata) Encode(w io.Writer) error {
	b := metadataBencode{
		Info:         m.info,
		Announce:     m.Announce,
		AnnounceList: m.AnnounceList,
		CreationDate: m.CreationDate,
		Comment:      m.Comment,
		CreatedBy:    m.CreatedBy,
	}
	return bencode.Marshal(w, b)
}

// InfoHash returns the torrent's info hash.
func (m *Metadata) InfoHash() InfoHash {
	return m.infoHash
}

// Name returns the suggested save name: the single file's name, or the
// directory name for a multi-file torrent.
func (m *Metadata) Name() string {
	return m.info.Name
}

// Length returns the total length of all content described by m.
func (m *Metadata) Length() int64 {
	return m.info.totalLength()
}

// IsMultiFile reports whether m describes a multi-file torrent.
func (m *Metadata) IsMultiFile() bool {
	return m.info.isMultiFile()
}

// Files returns the file list. For a single-file torrent, this synthesizes a
// one-element list from the info dictionary's name and length.
func (m *Metadata) Files() []FileEntry {
	if m.info.isMultiFile() {
		return m.info.Files
	}
	return []FileEntry{{Length: m.info.Length, Path: []string{m.info.Name}}}
}

// Private reports whether the torrent is marked private (BEP27): clients
// must not use DHT or PEX to discover peers for a private torrent.
func (m *Metadata) Private() bool {
	return m.info.Private == 1
}

// PieceLength returns the configured piece length.
func (m *Metadata) PieceLength() int64 {
	return m.info.PieceLength
}

// NumPieces returns the number of pieces in the torrent.
func (m *Metadata) NumPieces() int {
	return len(m.info.Pieces) / sha1.Size
}

// GetPieceLength returns the length of piece i, accounting for a possibly
// shorter final piece.
func (m *Metadata) GetPieceLength(i int) int64 {
	n := m.NumPieces()
	if i < 0 || i >= n {
		return 0
	}
	if i == n-1 {
		return m.Length() - m.info.PieceLength*int64(i)
	}
	return m.info.PieceLength
}

// PieceHash returns the expected v1 SHA-1 hash of piece i. Does not check
// bounds.
func (m *Metadata) PieceHash(i int) [20]byte {
	var h [20]byte
	copy(h[:], m.info.Pieces[i*sha1.Size:(i+1)*sha1.Size])
	return h
}

// PieceHashV2 returns the expected v2 SHA-256 hash of piece i and whether m
// carries v2 piece hashes at all. A v1-only torrent always reports false.
func (m *Metadata) PieceHashV2(i int) ([32]byte, bool) {
	var h [32]byte
	if len(m.info.PiecesV2) != m.NumPieces()*sha256.Size {
		return h, false
	}
	copy(h[:], m.info.PiecesV2[i*sha256.Size:(i+1)*sha256.Size])
	return h, true
}

// hashPieces hashes blob content in pieceLength chunks, returning the total
// length read and the concatenated SHA-1 and SHA-256 sums, one pair of sums
// per piece.
func hashPieces(blob io.Reader, pieceLength int64) (length int64, piecesV1, piecesV2 []byte, err error) {
	if pieceLength <= 0 {
		return 0, nil, nil, errors.New("piece length must be positive")
	}
	buf := make([]byte, pieceLength)
	for {
		n, rerr := io.ReadFull(blob, buf)
		if rerr != nil && rerr != io.EOF && rerr != io.ErrUnexpectedEOF {
			return 0, nil, nil, fmt.Errorf("read blob: %s", rerr)
		}
		length += int64(n)
		if n == 0 {
			break
		}
		chunk := buf[:n]
		v1 := sha1.Sum(chunk)
		v2 := sha256.Sum256(chunk)
		piecesV1 = append(piecesV1, v1[:]...)
		piecesV2 = append(piecesV2, v2[:]...)
		if n < int(pieceLength) {
			break
		}
	}
	return length, piecesV1, piecesV2, nil
}
