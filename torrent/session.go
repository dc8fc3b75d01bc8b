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

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/yoep/torrent-engine/core"
	"github.com/yoep/torrent-engine/discovery/dht"
	"github.com/yoep/torrent-engine/discovery/pex"
	"github.com/yoep/torrent-engine/discovery/tracker"
	"github.com/yoep/torrent-engine/transport"
	"github.com/yoep/torrent-engine/wire"
)

// ErrTorrentNotFound is returned by Get/Remove for an unknown info hash.
var ErrTorrentNotFound = errors.New("torrent not found")

// ErrAlreadyAdded is returned by Add/AddMagnet when the info hash is already
// tracked by this Session.
var ErrAlreadyAdded = errors.New("torrent already added")

// SessionConfig configures the process-wide Session: the shared listener,
// DHT node, and defaults applied to every torrent it adds.
type SessionConfig struct {
	Transport    transport.Config `yaml:"transport"`
	DHT          dht.Config       `yaml:"dht"`
	Torrent      Config           `yaml:"torrent"`
	DataDir      string           `yaml:"data_dir"`
	TrackerURLs  []string         `yaml:"tracker_urls"`
	TrackerTiers []int            `yaml:"tracker_tiers"`
	EnableDHT    bool             `yaml:"enable_dht"`
}

// Session is the single top-level value holding every active torrent,
// keyed by info hash. It owns the process's one transport listener and one
// DHT node, shared across every Torrent it creates, and is the only place
// in this module that holds ambient, process-wide state.
type Session struct {
	config   SessionConfig
	local    core.PeerID
	listener *transport.Listener
	dht      *dht.Server
	clk      clock.Clock
	logger   *zap.SugaredLogger
	stats    tally.Scope

	mu       sync.RWMutex
	torrents map[core.InfoHash]*Torrent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession binds the shared listener (and, if enabled, DHT node) and
// returns a ready-to-use Session. Callers add torrents with Add or
// AddMagnet. stats may be nil, in which case metrics are discarded.
func NewSession(config SessionConfig, local core.PeerID, clk clock.Clock, logger *zap.SugaredLogger, stats tally.Scope) (*Session, error) {
	ln, err := transport.Listen(config.Transport, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("listen: %s", err)
	}

	var dhtServer *dht.Server
	if config.EnableDHT {
		id := dht.NewNodeID()
		dhtServer, err = dht.NewServer(config.DHT, id, clk, logger)
		if err != nil {
			ln.Close()
			return nil, fmt.Errorf("start dht: %s", err)
		}
	}

	if stats == nil {
		stats = tally.NoopScope
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		config:   config,
		local:    local,
		listener: ln,
		dht:      dhtServer,
		clk:      clk,
		logger:   logger,
		stats:    stats,
		torrents: make(map[core.InfoHash]*Torrent),
		ctx:      ctx,
		cancel:   cancel,
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return s, nil
}

// listenPort returns the TCP port this session's listener is bound to, the
// port advertised in tracker announces and DHT announce_peer calls.
func (s *Session) listenPort() int {
	_, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

// Add registers a torrent whose metadata is already known and starts its
// discovery and piece exchange immediately.
func (s *Session) Add(meta *core.Metadata) (*Torrent, error) {
	return s.add(meta.InfoHash(), meta)
}

// AddMagnet parses a BEP9 magnet URI and registers a torrent that fetches
// its metadata over the wire before piece exchange begins.
func (s *Session) AddMagnet(magnetURI string) (*Torrent, error) {
	m, err := core.ParseMagnet(magnetURI)
	if err != nil {
		return nil, fmt.Errorf("parse magnet: %s", err)
	}
	infoHash, err := m.InfoHash()
	if err != nil {
		return nil, fmt.Errorf("magnet info hash: %s", err)
	}

	urls := append(append([]string{}, s.config.TrackerURLs...), m.Trackers...)
	tiers := append(append([]int{}, s.config.TrackerTiers...), zeroTiers(len(m.Trackers))...)

	return s.addWithTrackers(infoHash, nil, urls, tiers)
}

func (s *Session) add(infoHash core.InfoHash, meta *core.Metadata) (*Torrent, error) {
	return s.addWithTrackers(infoHash, meta, s.config.TrackerURLs, s.config.TrackerTiers)
}

func (s *Session) addWithTrackers(infoHash core.InfoHash, meta *core.Metadata, urls []string, tiers []int) (*Torrent, error) {
	s.mu.Lock()
	if _, ok := s.torrents[infoHash]; ok {
		s.mu.Unlock()
		return nil, ErrAlreadyAdded
	}
	s.mu.Unlock()

	port := s.listenPort()
	var uploaded, downloaded, left int64
	statsFunc := func() (int64, int64, int64) { return uploaded, downloaded, left }

	trackerMgr, err := tracker.NewManager(infoHash, s.local, port, urls, tiers, statsFunc, s.clk, s.logger)
	if err != nil {
		return nil, fmt.Errorf("tracker manager: %s", err)
	}

	t := newTorrent(infoHash, meta, s.local, port, s.config.DataDir, s.config.Torrent,
		s.listener, trackerMgr, pex.NewTracker(), s.dht, s.clk, s.logger, s.stats)

	s.mu.Lock()
	s.torrents[infoHash] = t
	s.mu.Unlock()

	if err := t.Start(s.ctx); err != nil {
		s.mu.Lock()
		delete(s.torrents, infoHash)
		s.mu.Unlock()
		return nil, err
	}
	return t, nil
}

func zeroTiers(n int) []int {
	tiers := make([]int, n)
	for i := range tiers {
		tiers[i] = 1
	}
	return tiers
}

// Get returns the torrent for infoHash, if tracked.
func (s *Session) Get(infoHash core.InfoHash) (*Torrent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.torrents[infoHash]
	return t, ok
}

// List returns every currently tracked torrent.
func (s *Session) List() []*Torrent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Torrent, 0, len(s.torrents))
	for _, t := range s.torrents {
		out = append(out, t)
	}
	return out
}

// Remove stops and discards the torrent for infoHash.
func (s *Session) Remove(infoHash core.InfoHash) error {
	s.mu.Lock()
	t, ok := s.torrents[infoHash]
	if !ok {
		s.mu.Unlock()
		return ErrTorrentNotFound
	}
	delete(s.torrents, infoHash)
	s.mu.Unlock()

	t.Stop()
	return nil
}

// Close stops every tracked torrent and releases the shared listener and
// DHT node.
func (s *Session) Close() error {
	s.cancel()
	s.listener.Close()
	if s.dht != nil {
		s.dht.Close()
	}

	s.mu.Lock()
	torrents := make([]*Torrent, 0, len(s.torrents))
	for _, t := range s.torrents {
		torrents = append(torrents, t)
	}
	s.torrents = make(map[core.InfoHash]*Torrent)
	s.mu.Unlock()

	for _, t := range torrents {
		t.Stop()
	}
	s.wg.Wait()
	return nil
}

// acceptLoop demuxes inbound connections to the right torrent by reading
// the BitTorrent handshake's info hash, spawning one goroutine per
// connection so a slow or malicious peer can never stall other accepts.
func (s *Session) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept(s.ctx)
		if err != nil {
			return
		}
		go s.handleIncoming(conn)
	}
}

func (s *Session) handleIncoming(conn transport.Conn) {
	conn.SetDeadline(s.clk.Now().Add(s.config.Torrent.applyDefaults().HandshakeTimeout))
	hs, err := wire.DecodeHandshake(conn)
	if err != nil {
		conn.Close()
		return
	}
	conn.SetDeadline(time.Time{})

	t, ok := s.Get(hs.InfoHash)
	if !ok {
		conn.Close()
		return
	}
	t.AcceptIncoming(conn, hs)
}
