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
package main

import (
	"encoding/json"
	"io/ioutil"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/yoep/torrent-engine/core"
	"github.com/yoep/torrent-engine/piece"
	"github.com/yoep/torrent-engine/stream"
	"github.com/yoep/torrent-engine/torrent"
)

// controlServer is engined's control-plane HTTP API: add/pause/resume a
// torrent, inspect its metadata/stats/files, adjust file priorities, and
// bridge one of its files into the stream server. It is a thin JSON
// wrapper around the Go methods Session/Torrent/Server already expose;
// external collaborators (a CLI, a subtitle service, a player) are
// expected to talk to this surface instead of importing the engine as a
// library.
type controlServer struct {
	session *torrent.Session
	streams *stream.Server
	logger  *zap.SugaredLogger
}

func newControlServer(session *torrent.Session, streams *stream.Server, logger *zap.SugaredLogger) *controlServer {
	return &controlServer{session: session, streams: streams, logger: logger}
}

func (c *controlServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/torrents", c.handleAdd).Methods(http.MethodPost)
	r.HandleFunc("/torrents", c.handleList).Methods(http.MethodGet)
	r.HandleFunc("/torrents/{hash}", c.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/torrents/{hash}", c.handleRemove).Methods(http.MethodDelete)
	r.HandleFunc("/torrents/{hash}/pause", c.handlePause).Methods(http.MethodPost)
	r.HandleFunc("/torrents/{hash}/resume", c.handleResume).Methods(http.MethodPost)
	r.HandleFunc("/torrents/{hash}/priorities", c.handlePriorities).Methods(http.MethodPost)
	r.HandleFunc("/torrents/{hash}/stream", c.handleStartStream).Methods(http.MethodPost)
	return r
}

type addRequest struct {
	Magnet      string `json:"magnet"`
	TorrentFile string `json:"torrent_file"`
}

type torrentView struct {
	InfoHash string                `json:"info_hash"`
	Name     string                `json:"name,omitempty"`
	Length   int64                 `json:"length,omitempty"`
	State    string                `json:"state"`
	Stats    torrent.StatsSnapshot `json:"stats"`
	Files    []core.FileEntry     `json:"files,omitempty"`
}

func viewOf(t *torrent.Torrent) torrentView {
	v := torrentView{
		InfoHash: t.InfoHash().String(),
		Stats:    t.Stats(),
		State:    t.Stats().State.String(),
		Files:    t.Files(),
	}
	if meta := t.Metadata(); meta != nil {
		v.Name = meta.Name()
		v.Length = meta.Length()
	}
	return v
}

func (c *controlServer) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var t *torrent.Torrent
	var err error
	switch {
	case req.Magnet != "":
		t, err = c.session.AddMagnet(req.Magnet)
	case req.TorrentFile != "":
		raw, rerr := ioutil.ReadFile(req.TorrentFile)
		if rerr != nil {
			http.Error(w, rerr.Error(), http.StatusBadRequest)
			return
		}
		meta, merr := core.DecodeMetadata(raw)
		if merr != nil {
			http.Error(w, merr.Error(), http.StatusBadRequest)
			return
		}
		t, err = c.session.Add(meta)
	default:
		http.Error(w, "must specify magnet or torrent_file", http.StatusBadRequest)
		return
	}
	if err != nil {
		c.logger.Warnf("add torrent: %s", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, viewOf(t))
}

func (c *controlServer) handleList(w http.ResponseWriter, r *http.Request) {
	views := make([]torrentView, 0)
	for _, t := range c.session.List() {
		views = append(views, viewOf(t))
	}
	writeJSON(w, http.StatusOK, views)
}

func (c *controlServer) lookup(w http.ResponseWriter, r *http.Request) (*torrent.Torrent, bool) {
	hash, err := core.NewInfoHashFromHex(mux.Vars(r)["hash"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	t, ok := c.session.Get(hash)
	if !ok {
		http.Error(w, "torrent not found", http.StatusNotFound)
		return nil, false
	}
	return t, true
}

func (c *controlServer) handleGet(w http.ResponseWriter, r *http.Request) {
	t, ok := c.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(t))
}

func (c *controlServer) handleRemove(w http.ResponseWriter, r *http.Request) {
	hash, err := core.NewInfoHashFromHex(mux.Vars(r)["hash"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := c.session.Remove(hash); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *controlServer) handlePause(w http.ResponseWriter, r *http.Request) {
	t, ok := c.lookup(w, r)
	if !ok {
		return
	}
	t.Pause()
	w.WriteHeader(http.StatusNoContent)
}

func (c *controlServer) handleResume(w http.ResponseWriter, r *http.Request) {
	t, ok := c.lookup(w, r)
	if !ok {
		return
	}
	t.Resume()
	w.WriteHeader(http.StatusNoContent)
}

type prioritiesRequest struct {
	Files map[string]piece.Priority `json:"files"`
}

func (c *controlServer) handlePriorities(w http.ResponseWriter, r *http.Request) {
	t, ok := c.lookup(w, r)
	if !ok {
		return
	}
	var req prioritiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	priorities := make([]torrent.FilePriority, 0, len(req.Files))
	for path, prio := range req.Files {
		priorities = append(priorities, torrent.FilePriority{Path: path, Priority: prio})
	}
	t.PrioritizeFiles(priorities)
	w.WriteHeader(http.StatusNoContent)
}

type streamRequest struct {
	File []string `json:"file"`
}

func (c *controlServer) handleStartStream(w http.ResponseWriter, r *http.Request) {
	t, ok := c.lookup(w, r)
	if !ok {
		return
	}
	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resource, ok := stream.ResourceForFile(t, req.File)
	if !ok {
		http.Error(w, "file not found in torrent", http.StatusNotFound)
		return
	}
	s, err := c.streams.StartStream(resource)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return
	}
}
