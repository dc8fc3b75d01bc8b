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

// Command engined is the daemon entrypoint: it loads configuration, wires
// up a Session and a stream Server, and serves both the control API and
// the video stream over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/yoep/torrent-engine/config"
	"github.com/yoep/torrent-engine/metrics"
	"github.com/yoep/torrent-engine/stream"
	"github.com/yoep/torrent-engine/torrent"
	"github.com/yoep/torrent-engine/utils/netutil"
	"github.com/yoep/torrent-engine/utils/shutdown"
)

// flags defines engined's CLI flags.
type flags struct {
	configFile  string
	peerIP      string
	peerPort    int
	controlPort int
	cluster     string
}

func parseFlags() *flags {
	var f flags
	flag.StringVar(&f.configFile, "config", "", "configuration file path")
	flag.StringVar(&f.peerIP, "peer-ip", "", "ip which peers will dial back to")
	flag.IntVar(&f.peerPort, "peer-port", 6881, "port the transport listener binds")
	flag.IntVar(&f.controlPort, "control-port", 7001, "port the control API listens on")
	flag.StringVar(&f.cluster, "cluster", "", "cluster name, reported to metrics")
	flag.Parse()
	return &f
}

func main() {
	f := parseFlags()

	cfg, err := config.Load(f.configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %s\n", err)
		os.Exit(1)
	}

	zlog, err := cfg.ZapLogging.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configure logging: %s\n", err)
		os.Exit(1)
	}
	logger := zlog.Sugar()

	sd := shutdown.New(context.Background())
	sd.AddCleanup(zlog.Sync)

	stats, closer, err := metrics.New(cfg.Metrics, f.cluster)
	if err != nil {
		logger.Fatalf("init metrics: %s", err)
	}
	sd.AddCleanup(closer.Close)
	go metrics.EmitVersion(stats, logger)

	peerIP := f.peerIP
	if peerIP == "" {
		peerIP, err = netutil.GetLocalIP()
		if err != nil {
			logger.Fatalf("resolve local ip: %s", err)
		}
	}
	peerID, err := cfg.PeerIDFactory.GeneratePeerID(peerIP, f.peerPort)
	if err != nil {
		logger.Fatalf("generate peer id: %s", err)
	}

	sessionConfig := cfg.Session
	if sessionConfig.Transport.ListenAddr == "" {
		sessionConfig.Transport.ListenAddr = fmt.Sprintf(":%d", f.peerPort)
	}

	session, err := torrent.NewSession(sessionConfig, peerID, clock.New(), logger, stats)
	if err != nil {
		logger.Fatalf("create session: %s", err)
	}
	sd.AddCleanup(func() error {
		session.Close()
		return nil
	})

	streamAddr := net.JoinHostPort(peerIP, streamPort(cfg.Stream.Addr))
	streams := stream.New(streamAddr, logger)

	control := newControlServer(session, streams, logger)

	streamSrv := &http.Server{Addr: cfg.Stream.Addr, Handler: streams.Handler()}
	controlSrv := &http.Server{Addr: fmt.Sprintf(":%d", f.controlPort), Handler: control.Handler()}

	sd.AddCleanup(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return streamSrv.Shutdown(ctx)
	})
	sd.AddCleanup(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return controlSrv.Shutdown(ctx)
	})

	go func() {
		logger.Infof("stream server listening on %s", cfg.Stream.Addr)
		if err := streamSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("stream server error: %s", err)
		}
	}()
	go func() {
		logger.Infof("control server listening on :%d", f.controlPort)
		if err := controlSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("control server error: %s", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
		logger.Info("received shutdown signal")
	case <-sd.Context().Done():
	}

	logger.Info("shutting down")
	sd.Shutdown()
}

func streamPort(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "9090"
	}
	return port
}
