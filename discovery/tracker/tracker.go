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

// Package tracker implements BEP3 HTTP and BEP15 UDP tracker clients plus
// the tiered announce manager.
package tracker

import (
	"context"

	"github.com/yoep/torrent-engine/core"
)

// Event is the announce event sent with each tracker request.
type Event int

// Announce events.
const (
	EventNone Event = iota
	EventStarted
	EventCompleted
	EventStopped
	EventPaused
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return ""
	case EventStarted:
		return "started"
	case EventCompleted:
		return "completed"
	case EventStopped:
		return "stopped"
	case EventPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// AnnounceRequest carries the parameters required on every announce.
type AnnounceRequest struct {
	InfoHash   core.InfoHash
	PeerID     core.PeerID
	Port       int
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      Event
	NumWant    int
}

// ScrapeResult is a single info-hash's scrape data.
type ScrapeResult struct {
	Complete   int64
	Downloaded int64
	Incomplete int64
}

// Client announces to and scrapes a single tracker, over HTTP or UDP.
type Client interface {
	// Announce sends req to the tracker and returns the decoded response.
	Announce(ctx context.Context, req AnnounceRequest) (*core.AnnounceResponse, error)

	// Scrape requests swarm statistics for one or more info hashes.
	Scrape(ctx context.Context, infoHashes []core.InfoHash) (map[core.InfoHash]*ScrapeResult, error)

	// URL returns the tracker's announce URL, used for tiering and stats.
	URL() string

	// Close releases any resources (e.g. a UDP tracker's persistent
	// connection id cache).
	Close() error
}
