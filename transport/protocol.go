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
package transport

import "net"

// Protocol identifies which transport carried a Conn.
type Protocol int

// Supported transports.
const (
	TCP Protocol = iota
	UTP
)

func (p Protocol) String() string {
	switch p {
	case TCP:
		return "tcp"
	case UTP:
		return "utp"
	default:
		return "unknown"
	}
}

// Conn is a transport-level connection tagged with the protocol that
// carried it. Listeners hand these to the orchestrator before the
// BitTorrent handshake runs.
type Conn struct {
	net.Conn
	Protocol Protocol
}
