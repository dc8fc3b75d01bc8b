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

// Package transport provides the dual TCP/µTP listener and dial-racing
// logic that sits beneath the peer wire protocol.
package transport

import "time"

// Config configures a Listener and its outbound dialing behavior.
type Config struct {

	// ListenAddr is the address (host:port) shared by the TCP listener and
	// the µTP endpoint's UDP socket.
	ListenAddr string `yaml:"listen_addr"`

	// DialTimeout bounds a whole DialRace: the TCP and µTP attempts run in
	// parallel, and both are abandoned once it expires.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// HandshakeTimeout bounds how long the BitTorrent handshake exchange
	// may take once a transport-level connection is open.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// AcceptBacklog is the size of the channel buffering accepted
	// connections awaiting handshake by the orchestrator.
	AcceptBacklog int `yaml:"accept_backlog"`
}

func (c Config) applyDefaults() Config {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.AcceptBacklog == 0 {
		c.AcceptBacklog = 100
	}
	return c
}
