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
	"fmt"
	"net"
	"path/filepath"
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
	"github.com/yoep/torrent-engine/peer"
	"github.com/yoep/torrent-engine/piece"
	"github.com/yoep/torrent-engine/piece/storage"
	"github.com/yoep/torrent-engine/transport"
	"github.com/yoep/torrent-engine/wire"
)

// Dialer opens outbound transport connections, racing TCP against µTP. It is
// satisfied by *transport.Listener.
type Dialer interface {
	DialRace(ctx context.Context, addr string) (transport.Conn, error)
}

// Config controls a Torrent's timing and pipeline behavior.
type Config struct {
	Peer             peer.Config          `yaml:"peer"`
	Bandwidth        peer.BandwidthConfig `yaml:"bandwidth"`
	MaxPeers         int                  `yaml:"max_peers"`
	StatsInterval    time.Duration        `yaml:"stats_interval"`
	HandshakeTimeout time.Duration        `yaml:"handshake_timeout"`
	DialBackoff      time.Duration        `yaml:"dial_backoff"`
}

func (c Config) applyDefaults() Config {
	if c.MaxPeers == 0 {
		c.MaxPeers = 50
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = 5 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.DialBackoff == 0 {
		c.DialBackoff = 15 * time.Second
	}
	return c
}

// StatsSnapshot is a point-in-time readout of a Torrent's progress and
// transfer rates.
type StatsSnapshot struct {
	State           State
	Downloaded      int64
	Uploaded        int64
	Left            int64
	Wasted          int64
	NumPieces       int
	PiecesComplete  int
	NumPeers        int
	DownloadBitrate float64
	UploadBitrate   float64
}

// FilePriority pins a file's piece-selection priority above or below the
// default, by its path within the torrent.
type FilePriority struct {
	Path     string
	Priority piece.Priority
}

// Torrent orchestrates one info hash's discovery, peer sessions, and piece
// exchange. Every mutation to its state runs serially inside a single event
// loop goroutine, modeled on the scheduler composition root: peer sessions,
// the tracker manager, and the stats ticker all report through internalEvent
// values rather than touching Torrent fields directly.
type Torrent struct {
	infoHash   core.InfoHash
	local      core.PeerID
	listenPort int
	dataDir    string
	config     Config
	dialer     Dialer
	clk        clock.Clock
	logger     *zap.SugaredLogger
	stats      tally.Scope

	bus       *EventBus
	peers     *PeerSet
	choker    *peer.Choker
	bandwidth *peer.BandwidthLimiter

	trackerMgr *tracker.Manager
	pexTracker *pex.Tracker
	dhtServer  *dht.Server

	loop *eventLoop

	mu             sync.RWMutex
	state          State
	meta           *core.Metadata
	layout         *storage.Layout
	engine         *piece.Engine
	priorities     *piece.PriorityIndex
	filePriorities map[string]piece.Priority
	metaEx         *metadataExchange
	uploaded       int64
	downloaded     int64

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// newTorrent constructs a Torrent. meta may be nil, in which case the
// torrent starts in magnet mode and fetches its metadata over BEP9 from the
// first capable peer before any piece exchange begins.
func newTorrent(
	infoHash core.InfoHash,
	meta *core.Metadata,
	local core.PeerID,
	listenPort int,
	dataDir string,
	config Config,
	dialer Dialer,
	trackerMgr *tracker.Manager,
	pexTracker *pex.Tracker,
	dhtServer *dht.Server,
	clk clock.Clock,
	logger *zap.SugaredLogger,
	stats tally.Scope,
) *Torrent {
	config = config.applyDefaults()
	if stats == nil {
		stats = tally.NoopScope
	}

	t := &Torrent{
		infoHash:       infoHash,
		local:          local,
		listenPort:     listenPort,
		dataDir:        dataDir,
		config:         config,
		dialer:         dialer,
		clk:            clk,
		logger:         logger.With("info_hash", infoHash),
		stats:          stats.Tagged(map[string]string{"info_hash": infoHash.Hex()}),
		bus:            NewEventBus(),
		peers:          NewPeerSet(),
		bandwidth:      peer.NewBandwidthLimiter(config.Bandwidth),
		trackerMgr:     trackerMgr,
		pexTracker:     pexTracker,
		dhtServer:      dhtServer,
		loop:           newEventLoop(),
		state:          Initializing,
		meta:           meta,
		filePriorities: make(map[string]piece.Priority),
		done:           make(chan struct{}),
	}
	t.choker = peer.NewChoker(clk, logger)

	if meta != nil {
		t.initEngine(meta)
	}
	return t
}

// initEngine builds the piece engine and on-disk layout once metadata is
// known, called either at construction (direct add) or after a successful
// BEP9 metadata fetch.
func (t *Torrent) initEngine(meta *core.Metadata) {
	t.meta = meta
	dirName := meta.Name()
	if dirName == "" || dirName == "." || dirName == ".." || filepath.Base(dirName) != dirName {
		dirName = meta.InfoHash().Hex()
	}
	t.layout = storage.NewLayout(filepath.Join(t.dataDir, dirName), meta)
	t.priorities = piece.NewPriorityIndex(meta.NumPieces())
	t.engine = piece.NewEngine(meta, t.layout, t.priorities, t)
}

// Start prepares on-disk storage (if metadata is already known) and launches
// the torrent's background loops. Safe to call exactly once.
func (t *Torrent) Start(ctx context.Context) error {
	t.mu.Lock()
	engine := t.engine
	t.mu.Unlock()

	if engine != nil {
		if err := t.layout.Prepare(); err != nil {
			return fmt.Errorf("prepare storage: %s", err)
		}
		t.loadResume()
		t.setState(Downloading)
	}

	t.choker.Start()
	t.trackerMgr.Start(ctx)

	t.wg.Add(4)
	go t.runEventLoop()
	go t.trackerUpdateLoop()
	go t.statsTickLoop()
	go t.resumeSaveLoop()

	if t.dhtServer != nil {
		t.wg.Add(1)
		go t.dhtAnnounceLoop(ctx)
	}

	return nil
}

// Stop tears down every background loop, stops this torrent's choking
// rotation and tracker manager, saves resume state, closes the event bus,
// every peer session and the on-disk layout. Safe to call more than once.
func (t *Torrent) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		t.choker.Stop()
		t.trackerMgr.Stop()
		t.loop.stop()
		t.wg.Wait()
		t.saveResume()
		t.bus.Close()
		t.peers.Range(func(s *peer.Session) { s.Close() })
		if t.layout != nil {
			t.layout.Close()
		}
	})
}

func (t *Torrent) runEventLoop() {
	defer t.wg.Done()
	for {
		select {
		case e := <-t.loop.events:
			e.apply(t)
		case <-t.done:
			return
		}
	}
}

func (t *Torrent) trackerUpdateLoop() {
	defer t.wg.Done()
	for {
		select {
		case u, ok := <-t.trackerMgr.Updates():
			if !ok {
				return
			}
			t.loop.send(trackerUpdateEvent{u})
		case <-t.done:
			return
		}
	}
}

func (t *Torrent) statsTickLoop() {
	defer t.wg.Done()
	ticker := t.clk.Tick(t.config.StatsInterval)
	for {
		select {
		case <-ticker:
			t.loop.send(statsTickEvent{})
		case <-t.done:
			return
		}
	}
}

// setState updates the lifecycle state and publishes StateChanged, skipping
// the publish if the state did not actually change.
func (t *Torrent) setState(s State) {
	t.mu.Lock()
	changed := t.state != s
	t.state = s
	t.mu.Unlock()
	if changed {
		t.bus.Publish(StateChanged{State: s})
	}
}

// InfoHash returns the torrent's info hash.
func (t *Torrent) InfoHash() core.InfoHash { return t.infoHash }

// Metadata returns the torrent's info dictionary, or nil if it has not been
// resolved yet (a magnet-only torrent still fetching it over BEP9).
func (t *Torrent) Metadata() *core.Metadata {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.meta
}

// Files returns the torrent's file list, empty until metadata is known.
func (t *Torrent) Files() []core.FileEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.meta == nil {
		return nil
	}
	if !t.meta.IsMultiFile() {
		return []core.FileEntry{{Length: t.meta.Length(), Path: []string{t.meta.Name()}}}
	}
	return t.meta.Files()
}

// Pause suspends piece and peer exchange without discarding progress.
func (t *Torrent) Pause() { t.loop.send(pauseEvent{}) }

// Resume reverses a prior Pause.
func (t *Torrent) Resume() { t.loop.send(resumeEvent{}) }

// PrioritizeFiles pins per-file piece priorities, overriding the default
// rarest-first ordering except for the Now tier, which always wins.
func (t *Torrent) PrioritizeFiles(priorities []FilePriority) {
	m := make(map[string]piece.Priority, len(priorities))
	for _, p := range priorities {
		m[p.Path] = p.Priority
	}
	t.loop.send(prioritizeFilesEvent{priorities: m})
}

// Subscribe registers a new listener for this torrent's lifecycle events.
func (t *Torrent) Subscribe() *Subscription { return t.bus.Subscribe() }

// Stats returns a current snapshot of download/upload progress and peer
// count.
func (t *Torrent) Stats() StatsSnapshot {
	t.mu.RLock()
	meta := t.meta
	engine := t.engine
	uploaded := t.uploaded
	downloaded := t.downloaded
	state := t.state
	t.mu.RUnlock()

	snap := StatsSnapshot{State: state, Uploaded: uploaded, Downloaded: downloaded, NumPeers: t.peers.Len()}
	if meta != nil {
		snap.NumPieces = meta.NumPieces()
		snap.Left = meta.Length() - downloaded
		if snap.Left < 0 {
			snap.Left = 0
		}
	}
	if engine != nil {
		bf := engine.Bitfield()
		snap.PiecesComplete = int(bf.Count())
		snap.Wasted = engine.Wasted()
	}
	var in, out float64
	t.peers.Range(func(s *peer.Session) {
		in += s.BytesInRate()
		out += s.BytesOutRate()
	})
	snap.DownloadBitrate = in
	snap.UploadBitrate = out
	return snap
}

// engineRef returns the current piece engine, or nil before metadata is
// known. Safe for concurrent use.
func (t *Torrent) engineRef() *piece.Engine {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.engine
}

// --- internalEvent handlers, executed only on the event loop goroutine ---

func (t *Torrent) handlePeerConnected(s *peer.Session) {
	t.peers.Add(s)
	t.choker.AddSession(s)
	s.Start()
	t.bus.Publish(PeerConnected{PeerID: s.RemotePeerID()})
}

func (t *Torrent) handlePeerDisconnected(id core.PeerID) {
	if s, ok := t.peers.Get(id); ok {
		if engine := t.engineRef(); engine != nil {
			engine.PeerDisconnected(s.Bitfield())
		}
	}
	t.peers.Remove(id)
	t.choker.RemoveSession(id)
	t.bus.Publish(PeerDisconnected{PeerID: id})
}

// handlePieceCompleted runs the ordering guarantee that every subscriber
// observes PieceCompleted(n) before any peer is sent Have(n): the bus
// publish below happens-before the broadcast loop that follows it, and both
// run serially on this single goroutine.
func (t *Torrent) handlePieceCompleted(i int) {
	t.bus.Publish(PieceCompleted{Index: i})
	t.peers.Range(func(s *peer.Session) {
		if err := s.AnnounceHave(i); err != nil {
			t.logger.Debugf("announce have %d to %s: %s", i, s.RemotePeerID(), err)
		}
	})
	if engine := t.engineRef(); engine != nil && engine.Complete() {
		t.setState(Seeding)
	}
}

func (t *Torrent) handlePeerPenalized(id core.PeerID) {
	if s, ok := t.peers.Get(id); ok {
		s.Close()
	}
}

func (t *Torrent) handleBlockCanceled(id core.PeerID, req wire.BlockRequest) {
	if s, ok := t.peers.Get(id); ok {
		if err := s.Send(wire.Message{Type: wire.Cancel, Cancel: req}); err != nil {
			t.logger.Debugf("send cancel to %s: %s", id, err)
		}
	}
}

func (t *Torrent) handleTrackerUpdate(u tracker.PeerUpdate) {
	for _, p := range u.Peers {
		addr := net.JoinHostPort(p.IP, strconv.FormatInt(p.Port, 10))
		go t.dialPeer(addr)
	}
}

func (t *Torrent) handleStatsTick() {
	snap := t.Stats()
	t.stats.Gauge("downloaded").Update(float64(snap.Downloaded))
	t.stats.Gauge("uploaded").Update(float64(snap.Uploaded))
	t.stats.Gauge("wasted_bytes").Update(float64(snap.Wasted))
	t.stats.Gauge("pieces_complete").Update(float64(snap.PiecesComplete))
	t.stats.Gauge("num_peers").Update(float64(snap.NumPeers))
	t.bus.Publish(Stats{Snapshot: snap})
}

func (t *Torrent) handlePause() {
	t.setState(Paused)
	t.peers.Range(func(s *peer.Session) { s.Close() })
}

func (t *Torrent) handleResume() {
	if engine := t.engineRef(); engine != nil && engine.Complete() {
		t.setState(Seeding)
	} else {
		t.setState(Downloading)
	}
}

func (t *Torrent) handlePrioritizeFiles(priorities map[string]piece.Priority) {
	t.mu.Lock()
	t.filePriorities = priorities
	meta := t.meta
	idx := t.priorities
	t.mu.Unlock()
	if meta == nil || idx == nil {
		return
	}
	applyFilePriorities(meta, idx, priorities)
	t.bus.Publish(PiecePrioritiesChanged{})
}

// applyFilePriorities pins every piece overlapping a prioritized file.
func applyFilePriorities(meta *core.Metadata, idx *piece.PriorityIndex, priorities map[string]piece.Priority) {
	files := meta.Files()
	if !meta.IsMultiFile() {
		files = []core.FileEntry{{Length: meta.Length(), Path: []string{meta.Name()}}}
	}
	var offset int64
	for _, f := range files {
		path := filepath.Join(f.Path...)
		prio, ok := priorities[path]
		start := int(offset / meta.PieceLength())
		end := int((offset + f.Length - 1) / meta.PieceLength())
		offset += f.Length
		if !ok {
			continue
		}
		for i := start; i <= end && i < meta.NumPieces(); i++ {
			if prio == piece.PriorityNone {
				idx.ClearPinned(i)
			} else {
				idx.SetPinned(i, prio)
			}
		}
	}
}

func (t *Torrent) handleMetadataReady(meta *core.Metadata) {
	t.initEngine(meta)
	if err := t.layout.Prepare(); err != nil {
		t.logger.Errorf("prepare storage after metadata fetch: %s", err)
		t.setState(Error)
		return
	}
	t.loadResume()
	t.bus.Publish(MetadataChanged{Name: meta.Name(), Length: meta.Length()})
	t.bus.Publish(FilesChanged{Files: t.Files()})
	t.bus.Publish(PiecesChanged{Total: meta.NumPieces()})
	t.setState(Downloading)
}

// --- piece.Events ---

// PieceCompleted implements piece.Events.
func (t *Torrent) PieceCompleted(i int) { t.loop.send(pieceCompletedEvent{index: i}) }

// PeerPenalized implements piece.Events.
func (t *Torrent) PeerPenalized(id core.PeerID) { t.loop.send(peerPenalizedEvent{peerID: id}) }

// BlockCanceled implements piece.Events.
func (t *Torrent) BlockCanceled(id core.PeerID, req wire.BlockRequest) {
	t.loop.send(blockCanceledEvent{peerID: id, req: req})
}

// --- peer.Events ---

// SessionClosed implements peer.Events.
func (t *Torrent) SessionClosed(s *peer.Session) {
	t.loop.send(peerDisconnectedEvent{peerID: s.RemotePeerID()})
}
