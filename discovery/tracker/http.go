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
package tracker

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/yoep/torrent-engine/bencode"
	"github.com/yoep/torrent-engine/core"
	"github.com/yoep/torrent-engine/utils/httputil"
)

// wirePeer mirrors the dictionary model of a BEP3 peer list entry. HTTP
// trackers may instead return peers as a single packed "compact" byte
// string, handled separately in decodePeers.
type wirePeer struct {
	PeerID string `bencode:"peer id"`
	IP     string `bencode:"ip"`
	Port   int64  `bencode:"port"`
}

type wireAnnounceResponse struct {
	FailureReason string      `bencode:"failure reason,omitempty"`
	Interval      int64       `bencode:"interval"`
	MinInterval   int64       `bencode:"min interval,omitempty"`
	TrackerID     string      `bencode:"tracker id,omitempty"`
	Complete      int64       `bencode:"complete"`
	Incomplete    int64       `bencode:"incomplete"`
	Peers         interface{} `bencode:"peers"`
}

type wireScrapeResponse struct {
	Files map[string]struct {
		Complete   int64 `bencode:"complete"`
		Downloaded int64 `bencode:"downloaded"`
		Incomplete int64 `bencode:"incomplete"`
	} `bencode:"files"`
}

// httpClient is a BEP3 HTTP tracker client.
type httpClient struct {
	announceURL string
	scrapeURL   string
}

// NewHTTPClient builds a Client for an HTTP(S) tracker announce URL.
func NewHTTPClient(announceURL string) Client {
	return &httpClient{
		announceURL: announceURL,
		scrapeURL:   deriveScrapeURL(announceURL),
	}
}

// deriveScrapeURL applies the BEP48 convention of replacing the last path
// segment "announce" with "scrape". Trackers that don't follow this
// convention simply fail scrape requests, which callers treat as optional.
func deriveScrapeURL(announceURL string) string {
	u, err := url.Parse(announceURL)
	if err != nil {
		return ""
	}
	const suffix = "/announce"
	if len(u.Path) >= len(suffix) && u.Path[len(u.Path)-len(suffix):] == suffix {
		u.Path = u.Path[:len(u.Path)-len(suffix)] + "/scrape"
		return u.String()
	}
	return ""
}

func (c *httpClient) URL() string { return c.announceURL }

func (c *httpClient) Close() error { return nil }

func (c *httpClient) Announce(ctx context.Context, req AnnounceRequest) (*core.AnnounceResponse, error) {
	ih := req.InfoHash.Short()

	v := url.Values{}
	v.Set("info_hash", string(ih[:]))
	v.Set("peer_id", string(req.PeerID[:]))
	v.Set("port", strconv.Itoa(req.Port))
	v.Set("uploaded", strconv.FormatInt(req.Uploaded, 10))
	v.Set("downloaded", strconv.FormatInt(req.Downloaded, 10))
	v.Set("left", strconv.FormatInt(req.Left, 10))
	v.Set("compact", "1")
	if req.Event != EventNone {
		v.Set("event", req.Event.String())
	}
	if req.NumWant > 0 {
		v.Set("numwant", strconv.Itoa(req.NumWant))
	}

	resp, err := httputil.Get(
		fmt.Sprintf("%s?%s", c.announceURL, v.Encode()),
		httputil.SendHeaders(map[string]string{"Accept": "text/plain"}))
	if err != nil {
		return nil, fmt.Errorf("announce: %s", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read announce response: %s", err)
	}

	var w wireAnnounceResponse
	if err := bencode.Unmarshal(bytes.NewReader(body), &w); err != nil {
		return nil, fmt.Errorf("decode announce response: %s", err)
	}
	if w.FailureReason != "" {
		return nil, fmt.Errorf("tracker failure: %s", w.FailureReason)
	}

	peers, err := decodePeers(w.Peers)
	if err != nil {
		return nil, fmt.Errorf("decode peers: %s", err)
	}

	return &core.AnnounceResponse{
		Interval:    w.Interval,
		MinInterval: w.MinInterval,
		TrackerID:   w.TrackerID,
		Complete:    w.Complete,
		Incomplete:  w.Incomplete,
		Peers:       peers,
	}, nil
}

// decodePeers normalizes either the compact (packed 6-byte IPv4 entries)
// or dictionary peer list model into AnnouncePeer.
func decodePeers(raw interface{}) ([]*core.AnnouncePeer, error) {
	switch v := raw.(type) {
	case string:
		return decodeCompactPeers([]byte(v))
	case []byte:
		return decodeCompactPeers(v)
	case []interface{}:
		peers := make([]*core.AnnouncePeer, 0, len(v))
		for _, entry := range v {
			m, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			p := &core.AnnouncePeer{}
			if id, ok := m["peer id"].(string); ok {
				p.PeerID = id
			}
			if ip, ok := m["ip"].(string); ok {
				p.IP = ip
			}
			if port, ok := m["port"].(int64); ok {
				p.Port = port
			}
			peers = append(peers, p)
		}
		return peers, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported peers encoding: %T", raw)
	}
}

func decodeCompactPeers(b []byte) ([]*core.AnnouncePeer, error) {
	const entryLen = 6
	if len(b)%entryLen != 0 {
		return nil, fmt.Errorf("compact peers: length %d not a multiple of %d", len(b), entryLen)
	}
	peers := make([]*core.AnnouncePeer, 0, len(b)/entryLen)
	for i := 0; i < len(b); i += entryLen {
		ip := fmt.Sprintf("%d.%d.%d.%d", b[i], b[i+1], b[i+2], b[i+3])
		port := binary.BigEndian.Uint16(b[i+4 : i+6])
		peers = append(peers, &core.AnnouncePeer{IP: ip, Port: int64(port)})
	}
	return peers, nil
}

func (c *httpClient) Scrape(ctx context.Context, infoHashes []core.InfoHash) (map[core.InfoHash]*ScrapeResult, error) {
	if c.scrapeURL == "" {
		return nil, fmt.Errorf("tracker does not support scrape")
	}

	v := url.Values{}
	for _, ih := range infoHashes {
		short := ih.Short()
		v.Add("info_hash", string(short[:]))
	}

	resp, err := httputil.Get(fmt.Sprintf("%s?%s", c.scrapeURL, v.Encode()))
	if err != nil {
		return nil, fmt.Errorf("scrape: %s", err)
	}
	defer resp.Body.Close()

	var w wireScrapeResponse
	if err := bencode.Unmarshal(resp.Body, &w); err != nil {
		return nil, fmt.Errorf("decode scrape response: %s", err)
	}

	results := make(map[core.InfoHash]*ScrapeResult, len(infoHashes))
	for _, ih := range infoHashes {
		short := ih.Short()
		f, ok := w.Files[string(short[:])]
		if !ok {
			continue
		}
		results[ih] = &ScrapeResult{
			Complete:   f.Complete,
			Downloaded: f.Downloaded,
			Incomplete: f.Incomplete,
		}
	}
	return results, nil
}
