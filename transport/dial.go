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
package transport

import (
	"context"
	"fmt"
	"net"
)

type dialResult struct {
	conn Conn
	err  error
}

// DialRace opens outbound connections to addr over both TCP and µTP
// simultaneously and returns whichever completes first, canceling the
// loser.
func (l *Listener) DialRace(ctx context.Context, addr string) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, l.config.DialTimeout)
	defer cancel()

	results := make(chan dialResult, 2)

	go func() {
		nc, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
		if err != nil {
			results <- dialResult{err: fmt.Errorf("dial tcp: %s", err)}
			return
		}
		results <- dialResult{conn: Conn{Conn: nc, Protocol: TCP}}
	}()

	go func() {
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			results <- dialResult{err: fmt.Errorf("resolve utp addr: %s", err)}
			return
		}
		c, err := l.utpSocket.Dial(ctx, udpAddr)
		if err != nil {
			results <- dialResult{err: fmt.Errorf("dial utp: %s", err)}
			return
		}
		results <- dialResult{conn: Conn{Conn: c, Protocol: UTP}}
	}()

	var firstErr error
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			if r.err != nil {
				if firstErr == nil {
					firstErr = r.err
				}
				continue
			}
			cancel()
			go drainAndClose(results)
			return r.conn, nil
		case <-ctx.Done():
			return Conn{}, ctx.Err()
		}
	}
	return Conn{}, firstErr
}

// drainAndClose consumes the loser of a dial race and closes its
// connection, since cancel() alone does not close an already-established
// net.Conn.
func drainAndClose(results chan dialResult) {
	r, ok := <-results
	if ok && r.err == nil {
		r.conn.Close()
	}
}
