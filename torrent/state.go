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

// Package torrent implements the per-torrent orchestrator: it owns the
// piece engine, the peer set, discovery, and the metadata-exchange state
// machine, and exposes the lifecycle and event-subscription surface used
// by callers such as the stream server.
package torrent

// State is a torrent's coarse lifecycle stage.
type State int

// Lifecycle states. A torrent moves Initializing -> Downloading -> Seeding
// once all pieces verify, or into Paused/Error from any of those three.
const (
	Initializing State = iota
	Downloading
	Seeding
	Paused
	Error
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Downloading:
		return "downloading"
	case Seeding:
		return "seeding"
	case Paused:
		return "paused"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}
