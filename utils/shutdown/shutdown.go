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

// Package shutdown provides a cancellable context paired with an ordered
// list of cleanup functions, for a process that needs to run several
// independent teardown steps exactly once.
package shutdown

import (
	"context"
	"sync"
)

// Handler derives a cancellable context from a parent and collects cleanup
// functions to run, in LIFO order, the first time Shutdown is called.
type Handler struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	once    sync.Once
	cleanup []func() error
}

// New derives a Handler's context from parent.
func New(parent context.Context) *Handler {
	ctx, cancel := context.WithCancel(parent)
	return &Handler{ctx: ctx, cancel: cancel}
}

// Context returns the handler's context, canceled once Shutdown runs.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// AddCleanup registers f to run during Shutdown. Functions run in the
// reverse of the order they were added, so a resource can register its
// teardown right after acquiring it.
func (h *Handler) AddCleanup(f func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanup = append(h.cleanup, f)
}

// Shutdown cancels the handler's context and runs every registered cleanup
// function in LIFO order, continuing past any individual failure. Safe to
// call more than once; only the first call has any effect.
func (h *Handler) Shutdown() {
	h.once.Do(func() {
		h.cancel()

		h.mu.Lock()
		cleanup := h.cleanup
		h.mu.Unlock()

		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	})
}
