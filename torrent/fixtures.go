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

import "go.uber.org/zap"

// StateFixture returns a minimal Torrent already in state s, for callers in
// other packages that only need a Torrent whose Stats().State is fixed to a
// particular value (e.g. the stream server's resource lifecycle checks).
func StateFixture(s State) *Torrent {
	return &Torrent{
		peers:  NewPeerSet(),
		logger: zap.NewNop().Sugar(),
		state:  s,
	}
}
