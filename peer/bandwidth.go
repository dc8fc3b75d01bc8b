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
package peer

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// BandwidthConfig controls the token-bucket rate limiters shared across all
// peer sessions of a single engine instance. Rates are expressed in bits per
// second and bytes are converted down to whole tokens at TokenSize
// granularity, so egress/ingress throughput is shaped without per-block
// allocation overhead.
type BandwidthConfig struct {
	EgressBitsPerSec  int64 `yaml:"egress_bits_per_sec"`
	IngressBitsPerSec int64 `yaml:"ingress_bits_per_sec"`
	TokenSize         int64 `yaml:"token_size"`
	Disable           bool  `yaml:"disable"`
}

func (c BandwidthConfig) applyDefaults() BandwidthConfig {
	if c.EgressBitsPerSec == 0 {
		c.EgressBitsPerSec = 200 * 1000 * 1000 // 200 Mbit/s
	}
	if c.IngressBitsPerSec == 0 {
		c.IngressBitsPerSec = 300 * 1000 * 1000 // 300 Mbit/s
	}
	if c.TokenSize == 0 {
		c.TokenSize = 1000 * 1000 // 1 Mbit per token
	}
	return c
}

// BandwidthLimiter shapes piece payload throughput across all peer sessions
// of one engine instance, separately for egress and ingress.
type BandwidthLimiter struct {
	config  BandwidthConfig
	egress  *rate.Limiter
	ingress *rate.Limiter
}

// NewBandwidthLimiter creates a BandwidthLimiter from config, applying
// defaults for any zero fields.
func NewBandwidthLimiter(config BandwidthConfig) *BandwidthLimiter {
	config = config.applyDefaults()

	etps := int(config.EgressBitsPerSec / config.TokenSize)
	itps := int(config.IngressBitsPerSec / config.TokenSize)

	return &BandwidthLimiter{
		config:  config,
		egress:  rate.NewLimiter(rate.Limit(etps), etps),
		ingress: rate.NewLimiter(rate.Limit(itps), itps),
	}
}

// ReserveEgress blocks until nbytes worth of egress tokens are available.
func (l *BandwidthLimiter) ReserveEgress(nbytes int64) error {
	return l.reserve(l.egress, nbytes)
}

// ReserveIngress blocks until nbytes worth of ingress tokens are available.
func (l *BandwidthLimiter) ReserveIngress(nbytes int64) error {
	return l.reserve(l.ingress, nbytes)
}

func (l *BandwidthLimiter) reserve(rl *rate.Limiter, nbytes int64) error {
	if l.config.Disable {
		return nil
	}
	tokens := int(uint64(nbytes*8) / uint64(l.config.TokenSize))
	if tokens == 0 {
		tokens = 1
	}
	r := rl.ReserveN(time.Now(), tokens)
	if !r.OK() {
		return fmt.Errorf(
			"bandwidth: cannot reserve %d bytes, max is %d bits/sec",
			nbytes, l.config.TokenSize*int64(rl.Burst()))
	}
	time.Sleep(r.Delay())
	return nil
}
