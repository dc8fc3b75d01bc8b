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
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/yoep/torrent-engine/core"
)

// maxConsecutiveFailures is the number of back-to-back failed announces
// after which a tracker is demoted to the lowest tier.
const maxConsecutiveFailures = 5

// defaultInterval is used until a tracker's first successful announce
// supplies a real one.
const defaultInterval = 30 * time.Minute

// stoppedAnnounceTimeout bounds the best-effort "stopped" broadcast run at
// torrent close.
const stoppedAnnounceTimeout = 5 * time.Second

// PeerUpdate reports peers discovered by a single tracker announce,
// attributed back to the tracker that found them for statistics.
type PeerUpdate struct {
	TrackerURL string
	Peers      []*core.AnnouncePeer
}

// entry tracks one tracker's tier, client, and announce history.
type entry struct {
	tier               int
	client             Client
	mu                 sync.Mutex
	interval           time.Duration
	consecutiveFailure int
	lastErr            error
}

// Manager runs the tiered announce loop: each
// tracker re-announces at its own interval, peer discoveries are
// attributed back to the announcing tracker, and a tracker that fails
// repeatedly is demoted to the lowest tier rather than dropped.
type Manager struct {
	infoHash core.InfoHash
	peerID   core.PeerID
	port     int
	clk      clock.Clock
	logger   *zap.SugaredLogger

	statsFunc func() (uploaded, downloaded, left int64)

	mu       sync.Mutex
	entries  []*entry
	updates  chan PeerUpdate
	cancel   context.CancelFunc
	stopped  chan struct{}
}

// NewManager builds a Manager over trackerURLs, where urls[i] belongs to
// tier tiers[i] (both slices the same length, smaller tier preferred).
// HTTP(S) URLs get an httpClient; "udp://" URLs get a udpClient.
func NewManager(
	infoHash core.InfoHash,
	peerID core.PeerID,
	port int,
	urls []string,
	tiers []int,
	statsFunc func() (uploaded, downloaded, left int64),
	clk clock.Clock,
	logger *zap.SugaredLogger,
) (*Manager, error) {
	if len(urls) != len(tiers) {
		return nil, fmt.Errorf("tracker: urls and tiers length mismatch")
	}

	m := &Manager{
		infoHash:  infoHash,
		peerID:    peerID,
		port:      port,
		clk:       clk,
		logger:    logger,
		statsFunc: statsFunc,
		updates:   make(chan PeerUpdate, 16),
	}

	for i, u := range urls {
		c, err := newClientForURL(u)
		if err != nil {
			logger.Warnf("tracker: skipping unsupported url %s: %s", u, err)
			continue
		}
		m.entries = append(m.entries, &entry{
			tier:     tiers[i],
			client:   c,
			interval: defaultInterval,
		})
	}

	return m, nil
}

func newClientForURL(rawURL string) (Client, error) {
	switch {
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		return NewHTTPClient(rawURL), nil
	case strings.HasPrefix(rawURL, "udp://"):
		return NewUDPClient(rawURL)
	default:
		return nil, fmt.Errorf("unrecognized tracker scheme: %s", rawURL)
	}
}

// Updates returns the channel on which discovered peers are published,
// each tagged with the tracker URL that found them.
func (m *Manager) Updates() <-chan PeerUpdate { return m.updates }

// Start launches one re-announce loop goroutine per tracker, each firing
// an initial "started" announce immediately.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.stopped = make(chan struct{})

	var wg sync.WaitGroup
	for _, e := range m.entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			m.runLoop(ctx, e)
		}(e)
	}

	go func() {
		wg.Wait()
		close(m.stopped)
	}()
}

func (m *Manager) runLoop(ctx context.Context, e *entry) {
	m.announce(ctx, e, EventStarted)

	for {
		e.mu.Lock()
		interval := e.interval
		e.mu.Unlock()

		timer := m.clk.Timer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			m.announce(ctx, e, EventNone)
		}
	}
}

func (m *Manager) announce(ctx context.Context, e *entry, ev Event) {
	uploaded, downloaded, left := m.statsFunc()

	req := AnnounceRequest{
		InfoHash:   m.infoHash,
		PeerID:     m.peerID,
		Port:       m.port,
		Uploaded:   uploaded,
		Downloaded: downloaded,
		Left:       left,
		Event:      ev,
		NumWant:    50,
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 1)
	var resp *core.AnnounceResponse
	err := backoff.Retry(func() error {
		r, err := e.client.Announce(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, backoff.WithContext(b, ctx))

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		e.consecutiveFailure++
		e.lastErr = err
		if e.consecutiveFailure >= maxConsecutiveFailures {
			m.demote(e)
		}
		m.logger.Warnf("tracker: announce to %s failed: %s", e.client.URL(), err)
		return
	}

	e.consecutiveFailure = 0
	e.lastErr = nil
	if resp.Interval > 0 {
		e.interval = time.Duration(resp.Interval) * time.Second
	}

	if len(resp.Peers) > 0 {
		select {
		case m.updates <- PeerUpdate{TrackerURL: e.client.URL(), Peers: resp.Peers}:
		case <-ctx.Done():
		}
	}
}

// demote moves e to the lowest (least preferred, numerically largest)
// current tier. Callers must hold e.mu.
func (m *Manager) demote(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lowest := e.tier
	for _, other := range m.entries {
		if other.tier > lowest {
			lowest = other.tier
		}
	}
	e.tier = lowest + 1
}

// Stop cancels all re-announce loops and performs a best-effort, timeout
// bounded "stopped" broadcast to every tracker before returning.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.stopped

	ctx, cancel := context.WithTimeout(context.Background(), stoppedAnnounceTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, e := range m.entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			uploaded, downloaded, left := m.statsFunc()
			e.client.Announce(ctx, AnnounceRequest{
				InfoHash:   m.infoHash,
				PeerID:     m.peerID,
				Port:       m.port,
				Uploaded:   uploaded,
				Downloaded: downloaded,
				Left:       left,
				Event:      EventStopped,
			})
			e.client.Close()
		}(e)
	}
	wg.Wait()
}
