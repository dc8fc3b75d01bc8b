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
package stream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/yoep/torrent-engine/torrent"
)

// defaultChunkSize is how many bytes are read from the torrent per
// iteration of a response body's streaming loop, matching the size a piece
// engine requests blocks in.
const defaultChunkSize = 16 * 1024

// ErrAlreadyExists is returned by StartStream for a filename already
// registered.
var ErrAlreadyExists = errors.New("stream: filename already registered")

// ErrNotFound is returned by StopStream for a filename not currently
// registered.
var ErrNotFound = errors.New("stream: filename not registered")

// ServerStream is returned by StartStream: where the resource is now
// reachable and under what name.
type ServerStream struct {
	URL      string
	Filename string
}

// StreamStopped is published on the server's event bus when a resource
// stops being servable, whether by explicit StopStream or because its
// torrent stopped downloading.
type StreamStopped struct {
	Filename string
}

// Server is the single process-wide HTTP byte-range server: one listener,
// any number of concurrently registered file resources, each reachable at
// GET/HEAD /video/{filename}.
type Server struct {
	addr   string
	logger *zap.SugaredLogger
	bus    *torrent.EventBus

	mu        sync.RWMutex
	resources map[string]*Resource

	nextStreamID int32
}

// New returns a Server that will advertise resources under
// http://addr/video/{filename}. addr is used only to build StartStream's
// returned URL; the caller is responsible for actually listening and
// serving Handler().
func New(addr string, logger *zap.SugaredLogger) *Server {
	return &Server{
		addr:      addr,
		logger:    logger,
		bus:       torrent.NewEventBus(),
		resources: make(map[string]*Resource),
	}
}

// Handler returns the server's http.Handler, to be served by the caller's
// own listener.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/video/{filename}", wrap(s.handleGet)).Methods(http.MethodGet)
	r.HandleFunc("/video/{filename}", wrap(s.handleHead)).Methods(http.MethodHead)
	return r
}

// Subscribe registers a new listener for this server's lifecycle events
// (currently just StreamStopped).
func (s *Server) Subscribe() *torrent.Subscription { return s.bus.Subscribe() }

// StartStream registers resource under its filename, making it reachable
// for GET/HEAD.
func (s *Server) StartStream(resource *Resource) (ServerStream, error) {
	name := resource.Filename()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[name]; ok {
		return ServerStream{}, ErrAlreadyExists
	}
	s.resources[name] = resource

	return ServerStream{
		URL:      fmt.Sprintf("http://%s/video/%s", s.addr, name),
		Filename: name,
	}, nil
}

// StopStream unregisters filename, if present, and publishes StreamStopped.
// Responses already streaming that resource end on their next read once
// WaitForPiece observes the torrent leaving Downloading/Seeding, or when
// their connection is closed.
func (s *Server) StopStream(filename string) error {
	s.mu.Lock()
	if _, ok := s.resources[filename]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.resources, filename)
	s.mu.Unlock()

	s.bus.Publish(StreamStopped{Filename: filename})
	return nil
}

func (s *Server) lookup(filename string) (*Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[filename]
	return r, ok
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) error {
	resource, start, end, _, err := s.prepare(r)
	if err != nil {
		return err
	}
	writeStreamHeaders(w, resource.Filename(), start, end, resource.Length)
	w.WriteHeader(http.StatusOK)
	return nil
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) error {
	resource, start, end, status, err := s.prepare(r)
	if err != nil {
		return err
	}

	writeStreamHeaders(w, resource.Filename(), start, end, resource.Length)
	w.WriteHeader(status)

	streamID := int(atomic.AddInt32(&s.nextStreamID, 1))
	defer resource.Torrent.ClearStream(streamID)

	ctx := r.Context()
	buf := make([]byte, defaultChunkSize)
	offset := resource.Offset + start
	remaining := end - start + 1

	flusher, _ := w.(http.Flusher)
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, err := resource.Torrent.ReadRange(ctx, streamID, buf[:n], offset)
		if read > 0 {
			if _, werr := w.Write(buf[:read]); werr != nil {
				return nil
			}
			if flusher != nil {
				flusher.Flush()
			}
			offset += int64(read)
			remaining -= int64(read)
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Debugf("stream %s: %s", resource.Filename(), err)
			}
			return nil
		}
	}
	return nil
}

// prepare resolves the requested resource and its byte range, returning the
// response status (200 whenever the User-Agent is exactly "Java", whatever
// range was requested; 206 otherwise) alongside it.
func (s *Server) prepare(r *http.Request) (*Resource, int64, int64, int, error) {
	filename := mux.Vars(r)["filename"]
	resource, ok := s.lookup(filename)
	if !ok {
		return nil, 0, 0, 0, errorf("unknown resource %q", filename).Status(http.StatusNotFound)
	}
	if state := resource.Torrent.Stats().State; state == torrent.Error {
		return nil, 0, 0, 0, errorf("torrent for %q is in an error state", filename)
	}

	start, end, rerr := parseRange(r.Header.Get("Range"), resource.Length)
	if rerr != nil {
		return nil, 0, 0, 0, rerr
	}
	if start >= resource.Length || end >= resource.Length {
		return nil, 0, 0, 0, errorf("range %d-%d out of bounds for length %d", start, end, resource.Length).
			Status(http.StatusRequestedRangeNotSatisfiable)
	}

	status := http.StatusPartialContent
	if r.UserAgent() == "Java" {
		status = http.StatusOK
	}
	return resource, start, end, status, nil
}

// parseRange parses a single-range "bytes=a-b" header, defaulting to the
// full file when h is empty. Multipart ranges (containing a comma) are
// rejected, as is anything else malformed.
func parseRange(h string, size int64) (start, end int64, err *statusError) {
	if h == "" {
		return 0, size - 1, nil
	}
	if !strings.HasPrefix(h, "bytes=") {
		return 0, 0, errorf("unsupported range unit in %q", h).Status(http.StatusRequestedRangeNotSatisfiable)
	}
	spec := strings.TrimPrefix(h, "bytes=")
	if strings.Contains(spec, ",") {
		return 0, 0, errorf("multipart ranges not supported").Status(http.StatusRequestedRangeNotSatisfiable)
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, errorf("malformed range %q", h).Status(http.StatusRequestedRangeNotSatisfiable)
	}

	if parts[0] == "" {
		n, perr := strconv.ParseInt(parts[1], 10, 64)
		if perr != nil {
			return 0, 0, errorf("malformed range %q", h).Status(http.StatusRequestedRangeNotSatisfiable)
		}
		start = size - n
		if start < 0 {
			start = 0
		}
		return start, size - 1, nil
	}

	start, perr := strconv.ParseInt(parts[0], 10, 64)
	if perr != nil {
		return 0, 0, errorf("malformed range %q", h).Status(http.StatusRequestedRangeNotSatisfiable)
	}
	if parts[1] == "" {
		return start, size - 1, nil
	}
	end, perr = strconv.ParseInt(parts[1], 10, 64)
	if perr != nil {
		return 0, 0, errorf("malformed range %q", h).Status(http.StatusRequestedRangeNotSatisfiable)
	}
	return start, end, nil
}

// writeStreamHeaders sets every header a successful GET or HEAD response
// must carry.
func writeStreamHeaders(w http.ResponseWriter, filename string, start, end, size int64) {
	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	h.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	h.Set("Content-Type", contentType(filename))
	h.Set("Connection", "Keep-Alive")
	h.Set("transferMode.dlna.org", "Streaming")
	h.Set("realTimeInfo.dlna.org", "DLNA.ORG_TLAG=*")
	h.Set("contentFeatures.dlna.org", "DLNA.ORG_OP=01;DLNA.ORG_CI=0;DLNA.ORG_FLAGS=017000000000000000000000000000")
}
