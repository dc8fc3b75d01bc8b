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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/yoep/torrent-engine/core"
)

func testInfoHash(b byte) core.InfoHash {
	var raw [20]byte
	for i := range raw {
		raw[i] = b
	}
	ih, err := core.NewInfoHashFromV1Bytes(raw[:])
	if err != nil {
		panic(err)
	}
	return ih
}

func testPeerID() core.PeerID {
	id, err := core.RandomPeerID()
	if err != nil {
		panic(err)
	}
	return id
}

func TestHTTPClientAnnounceCompactPeers(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal("1", r.URL.Query().Get("compact"))
		w.Write([]byte("d8:intervali1800e8:completei2e10:incompletei3e5:peers6:\x01\x02\x03\x04\x1a\xe1e"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL + "/announce")
	resp, err := c.Announce(context.Background(), AnnounceRequest{
		InfoHash: testInfoHash(0xAB),
		PeerID:   testPeerID(),
		Port:     6881,
		Left:     100,
	})
	require.NoError(err)
	require.EqualValues(1800, resp.Interval)
	require.EqualValues(2, resp.Complete)
	require.EqualValues(3, resp.Incomplete)
	require.Len(resp.Peers, 1)
	require.Equal("1.2.3.4", resp.Peers[0].IP)
	require.EqualValues(6881, resp.Peers[0].Port)
}

func TestHTTPClientAnnounceDictionaryPeers(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("d8:intervali900e8:completei1e10:incompletei0e5:peersl" +
			"d7:peer id20:AAAAAAAAAAAAAAAAAAAA2:ip9:127.0.0.14:porti6882eeee"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL + "/announce")
	resp, err := c.Announce(context.Background(), AnnounceRequest{
		InfoHash: testInfoHash(0xCD),
		PeerID:   testPeerID(),
		Port:     6881,
	})
	require.NoError(err)
	require.Len(resp.Peers, 1)
	require.Equal("127.0.0.1", resp.Peers[0].IP)
	require.EqualValues(6882, resp.Peers[0].Port)
}

func TestHTTPClientAnnounceFailureReason(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("d14:failure reason17:unregistered torrente"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL + "/announce")
	_, err := c.Announce(context.Background(), AnnounceRequest{
		InfoHash: testInfoHash(0xEF),
		PeerID:   testPeerID(),
	})
	require.Error(err)
}

func TestHTTPClientScrape(t *testing.T) {
	require := require.New(t)

	ih := testInfoHash(0x11)
	short := ih.Short()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal("/scrape", r.URL.Path)
		w.Write([]byte("d5:filesd20:" + string(short[:]) + "d8:completei5e10:downloadedi42e10:incompletei1eeee"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL + "/announce")
	results, err := c.Scrape(context.Background(), []core.InfoHash{ih})
	require.NoError(err)
	require.Contains(results, ih)
	require.EqualValues(5, results[ih].Complete)
	require.EqualValues(42, results[ih].Downloaded)
}

func TestDeriveScrapeURL(t *testing.T) {
	require := require.New(t)
	require.Equal("http://tracker/scrape", deriveScrapeURL("http://tracker/announce"))
	require.Equal("", deriveScrapeURL("http://tracker/a"))
}
