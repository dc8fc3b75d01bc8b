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
	"path/filepath"
	"time"

	"github.com/yoep/torrent-engine/piece"
	"github.com/yoep/torrent-engine/resume"
)

// resumeSaveInterval is how often a torrent's progress is checkpointed to
// disk, independent of a clean shutdown's final save.
const resumeSaveInterval = 60 * time.Second

// resumeDir returns the directory resume files for this torrent's data
// directory are kept in, alongside the downloaded data itself.
func (t *Torrent) resumeDir() string {
	return filepath.Join(t.dataDir, ".resume")
}

// loadResume restores a previously saved bitfield and file-priority table
// into a freshly built engine, skipping re-verification of pieces already
// known good.
func (t *Torrent) loadResume() {
	engine := t.engineRef()
	if engine == nil {
		return
	}
	path := resume.Path(t.resumeDir(), t.infoHash)
	state, err := resume.Load(path)
	if err != nil {
		return
	}
	for i := 0; i < state.NumPieces && i < engine.Meta().NumPieces(); i++ {
		if state.Bitfield.Test(uint(i)) {
			engine.LoadVerified(i)
		}
	}

	priorities := make(map[string]piece.Priority, len(state.Files))
	for _, f := range state.Files {
		priorities[f.Path] = f.Priority
	}
	t.mu.Lock()
	t.filePriorities = priorities
	t.mu.Unlock()
	if meta := t.Metadata(); meta != nil && t.priorities != nil {
		applyFilePriorities(meta, t.priorities, priorities)
	}
}

// saveResume checkpoints the current bitfield and file-priority table.
func (t *Torrent) saveResume() {
	engine := t.engineRef()
	if engine == nil {
		return
	}
	t.mu.RLock()
	prios := t.filePriorities
	t.mu.RUnlock()

	files := make([]resume.FilePriority, 0, len(prios))
	for path, p := range prios {
		files = append(files, resume.FilePriority{Path: path, Priority: p})
	}

	state := resume.State{
		InfoHash:  t.infoHash,
		Bitfield:  engine.Bitfield(),
		NumPieces: engine.Meta().NumPieces(),
		Files:     files,
	}
	path := resume.Path(t.resumeDir(), t.infoHash)
	if err := resume.Save(path, state); err != nil {
		t.logger.Warnf("save resume state: %s", err)
	}
}

func (t *Torrent) resumeSaveLoop() {
	defer t.wg.Done()
	ticker := t.clk.Ticker(resumeSaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.saveResume()
		case <-t.done:
			return
		}
	}
}
