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

// Package config defines engined's on-disk configuration and loads it via
// utils/configutil.
package config

import (
	"go.uber.org/zap"

	"github.com/yoep/torrent-engine/core"
	"github.com/yoep/torrent-engine/metrics"
	"github.com/yoep/torrent-engine/torrent"
	"github.com/yoep/torrent-engine/utils/configutil"
)

// StreamConfig configures the HTTP byte-range server.
type StreamConfig struct {
	Addr string `yaml:"addr"`
}

func (c StreamConfig) applyDefaults() StreamConfig {
	if c.Addr == "" {
		c.Addr = ":9090"
	}
	return c
}

// Config is engined's complete configuration, loadable from YAML via Load.
type Config struct {
	ZapLogging    zap.Config            `yaml:"zap"`
	Metrics       metrics.Config        `yaml:"metrics"`
	PeerIDFactory core.PeerIDFactory    `yaml:"peer_id_factory"`
	Session       torrent.SessionConfig `yaml:"session"`
	Stream        StreamConfig          `yaml:"stream"`
}

// Default returns a Config with every field populated with a value
// sensible for running a single local engined instance. A loaded config
// file is merged on top of this, not in place of it.
func Default() Config {
	return Config{
		ZapLogging:    zap.NewProductionConfig(),
		PeerIDFactory: core.RandomPeerIDFactory,
		Session: torrent.SessionConfig{
			DataDir:   "/var/cache/engined",
			EnableDHT: true,
		},
		Stream: StreamConfig{}.applyDefaults(),
	}
}

// Load reads path (if non-empty) on top of Default, following any extends
// chain the file declares, and returns the merged, validated result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if err := configutil.Load(path, &cfg); err != nil {
		return Config{}, err
	}
	cfg.Stream = cfg.Stream.applyDefaults()
	return cfg, nil
}
