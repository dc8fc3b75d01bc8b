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
package dht

import (
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sql driver
)

const nodeCacheSchema = `
CREATE TABLE IF NOT EXISTS dht_nodes (
	id TEXT PRIMARY KEY,
	addr TEXT NOT NULL,
	seen_at INTEGER NOT NULL
);`

type nodeCacheRow struct {
	ID     string `db:"id"`
	Addr   string `db:"addr"`
	SeenAt int64  `db:"seen_at"`
}

// NodeCache persists a routing table's nodes to a small SQLite table so a
// restarted engine can rejoin the DHT without a cold bootstrap, playing
// the same bootstrap-cache role kraken's originstore plays for origin
// metadata.
type NodeCache struct {
	db *sqlx.DB
}

// OpenNodeCache opens (creating if necessary) the SQLite file at path.
func OpenNodeCache(path string) (*NodeCache, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open dht node cache: %s", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(nodeCacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create dht node cache schema: %s", err)
	}
	return &NodeCache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *NodeCache) Close() error { return c.db.Close() }

// Save replaces the cache contents with table's current nodes.
func (c *NodeCache) Save(table *RoutingTable) error {
	tx, err := c.db.Beginx()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM dht_nodes"); err != nil {
		tx.Rollback()
		return err
	}

	now := time.Now().Unix()
	nodes := table.Closest(table.self, bucketCount*bucketSize)
	for _, n := range nodes {
		if n.Addr == nil {
			continue
		}
		_, err := tx.Exec("INSERT OR REPLACE INTO dht_nodes (id, addr, seen_at) VALUES (?, ?, ?)",
			hex.EncodeToString(n.ID[:]), n.Addr.String(), now)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Load returns every cached node, most recently seen first.
func (c *NodeCache) Load() ([]Node, error) {
	var rows []nodeCacheRow
	if err := c.db.Select(&rows, "SELECT id, addr, seen_at FROM dht_nodes ORDER BY seen_at DESC"); err != nil {
		return nil, fmt.Errorf("load dht node cache: %s", err)
	}

	nodes := make([]Node, 0, len(rows))
	for _, r := range rows {
		idBytes, err := hex.DecodeString(r.ID)
		if err != nil || len(idBytes) != idLen {
			continue
		}
		addr, err := net.ResolveUDPAddr("udp", r.Addr)
		if err != nil {
			continue
		}
		var id NodeID
		copy(id[:], idBytes)
		nodes = append(nodes, Node{ID: id, Addr: addr})
	}
	return nodes, nil
}
