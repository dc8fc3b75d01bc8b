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
	"errors"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yoep/torrent-engine/core"
	mocktracker "github.com/yoep/torrent-engine/mocks/discovery/tracker"
)

func newTestManager(client Client) *Manager {
	return &Manager{
		infoHash:  core.InfoHash{},
		peerID:    core.PeerID{},
		port:      6881,
		clk:       clock.New(),
		logger:    zap.NewNop().Sugar(),
		statsFunc: func() (int64, int64, int64) { return 0, 0, 1000 },
		updates:   make(chan PeerUpdate, 1),
		entries: []*entry{
			{tier: 0, client: client, interval: defaultInterval},
		},
	}
}

func TestManagerAnnouncePublishesDiscoveredPeers(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mocktracker.NewMockClient(ctrl)
	client.EXPECT().URL().Return("http://tracker.example/announce").AnyTimes()
	client.EXPECT().
		Announce(gomock.Any(), gomock.Any()).
		Return(&core.AnnounceResponse{
			Interval: 1800,
			Peers:    []*core.AnnouncePeer{{PeerID: "abcdefghij0123456789", IP: "10.0.0.1", Port: 6881}},
		}, nil)

	m := newTestManager(client)
	m.announce(context.Background(), m.entries[0], EventStarted)

	select {
	case u := <-m.Updates():
		require.Equal("http://tracker.example/announce", u.TrackerURL)
		require.Len(u.Peers, 1)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for peer update")
	}
	require.Equal(1800*time.Second, m.entries[0].interval)
	require.Equal(0, m.entries[0].consecutiveFailure)
}

func TestManagerAnnounceDemotesAfterRepeatedFailures(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mocktracker.NewMockClient(ctrl)
	client.EXPECT().URL().Return("udp://tracker.example:80").AnyTimes()
	// announce's internal backoff retries once per call, so a single
	// failing announce costs two Announce invocations.
	client.EXPECT().
		Announce(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("timeout")).
		Times(2)

	m := newTestManager(client)
	m.entries = append(m.entries, &entry{tier: 0, client: client, interval: defaultInterval})
	m.entries[0].consecutiveFailure = maxConsecutiveFailures - 1

	m.announce(context.Background(), m.entries[0], EventNone)

	require.Equal(maxConsecutiveFailures, m.entries[0].consecutiveFailure)
	require.True(m.entries[0].tier > m.entries[1].tier)
}
