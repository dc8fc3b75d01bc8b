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
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// magnetScheme is the URI scheme identifying a magnet link (BEP9).
const magnetScheme = "magnet"

// Magnet represents a parsed magnet URI, the BEP9 metadata-less torrent
// reference exchanged in place of a .torrent file.
type Magnet struct {
	ExactTopics      []string
	DisplayName      string
	ExactLength      int64
	Trackers         []string
	WebSeeds         []string
	AcceptableSource []string
	ExactSource      string
	KeywordTopic     string
	ManifestTopic    string
	SelectOnly       string
	Peer             string
}

// ErrInvalidMagnet is returned when a magnet URI carries no exact topic.
var ErrInvalidMagnet = errors.New("magnet uri has no exact topic (xt)")

// ParseMagnet parses a magnet URI per BEP9.
func ParseMagnet(uri string) (*Magnet, error) {
	// Some producers HTML-escape the separator between query parameters.
	uri = strings.ReplaceAll(uri, "&amp;", "&")

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse magnet uri: %s", err)
	}
	if u.Scheme != magnetScheme {
		return nil, fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}

	m := &Magnet{}
	for key, values := range u.Query() {
		for _, v := range values {
			switch strings.ToLower(key) {
			case "xt":
				m.ExactTopics = append(m.ExactTopics, v)
			case "dn":
				m.DisplayName = v
			case "xl":
				n, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("xl is invalid: %s", err)
				}
				m.ExactLength = n
			case "tr":
				m.Trackers = append(m.Trackers, v)
			case "ws":
				m.WebSeeds = append(m.WebSeeds, v)
			case "as":
				m.AcceptableSource = append(m.AcceptableSource, v)
			case "xs":
				m.ExactSource = v
			case "kt":
				m.KeywordTopic = v
			case "mt":
				m.ManifestTopic = v
			case "so":
				m.SelectOnly = v
			case "x.pe":
				m.Peer = v
			}
		}
	}
	if len(m.ExactTopics) == 0 {
		return nil, ErrInvalidMagnet
	}
	return m, nil
}

// InfoHash extracts the InfoHash carried by the "urn:btih:" or "urn:btmh:"
// exact topic. BEP9 topics encode a v1 hash as 40-char hex or 32-char
// base32; BEP52 v2/hybrid topics use the "urn:btmh:" multihash form.
func (m *Magnet) InfoHash() (InfoHash, error) {
	for _, xt := range m.ExactTopics {
		switch {
		case strings.HasPrefix(xt, "urn:btih:"):
			s := xt[len("urn:btih:"):]
			if len(s) == 32 {
				return NewInfoHashFromBase32(strings.ToUpper(s))
			}
			return NewInfoHashFromHex(strings.ToLower(s))
		case strings.HasPrefix(xt, "urn:btmh:"):
			return NewInfoHashFromHex(strings.ToLower(xt[len("urn:btmh:"):]))
		}
	}
	return InfoHash{}, errors.New("no btih or btmh exact topic present")
}

// SelectedPieceIndices expands the "so" parameter (e.g. "0,2,4,6-8") into the
// list of file indices it selects.
func (m *Magnet) SelectedPieceIndices() ([]int, error) {
	if m.SelectOnly == "" {
		return nil, nil
	}
	var indices []int
	for _, section := range strings.Split(m.SelectOnly, ",") {
		if start, end, ok := strings.Cut(section, "-"); ok {
			s, err := strconv.Atoi(start)
			if err != nil {
				return nil, fmt.Errorf("invalid so range %q: %s", section, err)
			}
			e, err := strconv.Atoi(end)
			if err != nil {
				return nil, fmt.Errorf("invalid so range %q: %s", section, err)
			}
			for i := s; i <= e; i++ {
				indices = append(indices, i)
			}
		} else {
			i, err := strconv.Atoi(section)
			if err != nil {
				return nil, fmt.Errorf("invalid so value %q: %s", section, err)
			}
			indices = append(indices, i)
		}
	}
	return indices, nil
}

// String reconstructs the canonical magnet URI.
func (m *Magnet) String() string {
	v := url.Values{}
	for _, xt := range m.ExactTopics {
		v.Add("xt", xt)
	}
	if m.DisplayName != "" {
		v.Set("dn", m.DisplayName)
	}
	if m.ExactLength != 0 {
		v.Set("xl", strconv.FormatInt(m.ExactLength, 10))
	}
	for _, tr := range m.Trackers {
		v.Add("tr", tr)
	}
	for _, ws := range m.WebSeeds {
		v.Add("ws", ws)
	}
	for _, as := range m.AcceptableSource {
		v.Add("as", as)
	}
	if m.ExactSource != "" {
		v.Set("xs", m.ExactSource)
	}
	if m.KeywordTopic != "" {
		v.Set("kt", m.KeywordTopic)
	}
	if m.ManifestTopic != "" {
		v.Set("mt", m.ManifestTopic)
	}
	if m.SelectOnly != "" {
		v.Set("so", m.SelectOnly)
	}
	if m.Peer != "" {
		v.Set("x.pe", m.Peer)
	}
	return magnetScheme + ":?" + v.Encode()
}
