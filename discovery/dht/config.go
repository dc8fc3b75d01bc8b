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
package dht

import "time"

// DefaultBootstrapNodes mirrors the public bootstrap set well-known
// BitTorrent DHT implementations ship with.
var DefaultBootstrapNodes = []string{
	"router.utorrent.com:6881",
	"router.bittorrent.com:6881",
	"dht.transmissionbt.com:6881",
	"dht.aelitis.com:6881",
}

// Config configures a Server.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	BootstrapNodes  []string      `yaml:"bootstrap_nodes"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	PeerTTL         time.Duration `yaml:"peer_ttl"`
}

func (c Config) applyDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = ":0"
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 8 * time.Second
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 15 * time.Minute
	}
	if c.PeerTTL == 0 {
		c.PeerTTL = 30 * time.Minute
	}
	return c
}
