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

// Package bencode wraps github.com/jackpal/bencode-go with the one piece of
// BEP3 machinery it doesn't provide: extracting the exact raw byte span of a
// dictionary value, rather than a Go value decoded from it. Torrent clients
// must hash the info dictionary over its original bytes, not a re-encoding of
// whatever subset of its keys their own struct happened to capture, or they
// compute the wrong info hash for any torrent carrying fields they don't
// know about.
package bencode

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	bencode "github.com/jackpal/bencode-go"
)

// Marshal bencodes v to w.
func Marshal(w io.Writer, v interface{}) error {
	return bencode.Marshal(w, v)
}

// Unmarshal decodes the bencoded value read from r into v.
func Unmarshal(r io.Reader, v interface{}) error {
	return bencode.Unmarshal(r, v)
}

// ErrKeyNotFound is returned by ExtractRawValue when the dictionary does not
// contain the requested key.
var ErrKeyNotFound = errors.New("bencode: key not found")

// ExtractRawValue returns the exact raw bencoded bytes of the value stored
// under key in the top-level dictionary encoded in data, without decoding it
// into any Go type.
func ExtractRawValue(data []byte, key string) ([]byte, error) {
	if len(data) == 0 || data[0] != 'd' {
		return nil, errors.New("bencode: not a dictionary")
	}
	pos := 1
	for pos < len(data) && data[pos] != 'e' {
		keyStr, next, err := decodeString(data, pos)
		if err != nil {
			return nil, fmt.Errorf("bencode: decode key: %s", err)
		}
		valStart := next
		valEnd, err := skipValue(data, valStart)
		if err != nil {
			return nil, fmt.Errorf("bencode: skip value for key %q: %s", keyStr, err)
		}
		if keyStr == key {
			return data[valStart:valEnd], nil
		}
		pos = valEnd
	}
	return nil, ErrKeyNotFound
}

// skipValue returns the index immediately after the bencoded value starting
// at pos.
func skipValue(data []byte, pos int) (int, error) {
	if pos >= len(data) {
		return 0, errors.New("unexpected end of input")
	}
	switch {
	case data[pos] == 'i':
		end := bytes.IndexByte(data[pos:], 'e')
		if end < 0 {
			return 0, errors.New("unterminated integer")
		}
		return pos + end + 1, nil
	case data[pos] == 'l':
		pos++
		for pos < len(data) && data[pos] != 'e' {
			var err error
			pos, err = skipValue(data, pos)
			if err != nil {
				return 0, err
			}
		}
		if pos >= len(data) {
			return 0, errors.New("unterminated list")
		}
		return pos + 1, nil
	case data[pos] == 'd':
		pos++
		for pos < len(data) && data[pos] != 'e' {
			_, next, err := decodeString(data, pos)
			if err != nil {
				return 0, err
			}
			pos, err = skipValue(data, next)
			if err != nil {
				return 0, err
			}
		}
		if pos >= len(data) {
			return 0, errors.New("unterminated dictionary")
		}
		return pos + 1, nil
	case data[pos] >= '0' && data[pos] <= '9':
		_, next, err := decodeString(data, pos)
		return next, err
	default:
		return 0, fmt.Errorf("unexpected token %q", data[pos])
	}
}

// decodeString decodes the length-prefixed byte string starting at pos,
// returning its value and the index immediately following it.
func decodeString(data []byte, pos int) (string, int, error) {
	colon := bytes.IndexByte(data[pos:], ':')
	if colon < 0 {
		return "", 0, errors.New("malformed string: no length delimiter")
	}
	colon += pos
	var length int
	for _, c := range data[pos:colon] {
		if c < '0' || c > '9' {
			return "", 0, fmt.Errorf("malformed string length %q", data[pos:colon])
		}
		length = length*10 + int(c-'0')
	}
	start := colon + 1
	end := start + length
	if end > len(data) {
		return "", 0, errors.New("string length exceeds input")
	}
	return string(data[start:end]), end, nil
}
