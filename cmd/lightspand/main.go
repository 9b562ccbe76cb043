// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lightspan/lightspand/gossip"
	"github.com/lightspan/lightspand/payment"
	"github.com/lightspan/lightspand/routerdb"
)

// dialFunc dials one peer address, possibly through the configured proxy.
type dialFunc func(network, addr string, timeout time.Duration) (net.Conn,
	error)

// transportFactory is registered by the Noise transport implementation
// linked into the binary. The sync and payment cores treat the encrypted
// transport as an external collaborator, so the daemon only carries the
// wiring point.
var transportFactory func(dial dialFunc) gossip.Transport

// pathFinderFactory is registered by the route-finding implementation
// linked into the binary.
var pathFinderFactory func(db *routerdb.DB) payment.PathFinder

func main() {
	cfg, _, err := loadConfig()
	if err != nil {
		os.Exit(1)
	}

	if err := initLogRotator(filepath.Join(cfg.LogDir,
		defaultLogFilename)); err != nil {
		os.Exit(1)
	}
	defer logRotator.Close()
	if err := setLogLevels(cfg.DebugLevel); err != nil {
		lspdLog.Errorf("%v", err)
		os.Exit(1)
	}

	db, err := routerdb.Open(filepath.Join(cfg.DataDir, "router"))
	if err != nil {
		lspdLog.Errorf("unable to open router db: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	if transportFactory == nil || pathFinderFactory == nil {
		lspdLog.Error("no transport or path-finder backend linked " +
			"into this build")
		os.Exit(1)
	}
	transport := transportFactory(cfg.dialer())
	pathFinder := pathFinderFactory(db)

	paymentMaster := payment.NewOutgoingPaymentMaster(cfg.paymentConfig(),
		pathFinder)
	defer paymentMaster.Stop()

	gossipCfg := cfg.gossipConfig()
	syncMaster := gossip.NewSyncMaster(gossipCfg, db, transport,
		gossip.Callbacks{
			OnChunkSyncComplete: func(pure *gossip.PureRoutingData) {
				if err := db.ApplyRoutingData(pure); err != nil {
					lspdLog.Errorf("snapshot apply: %v", err)
				}
			},
			OnTotalSyncComplete: func() {
				lspdLog.Info("gossip sync complete")
			},
		}, loadCandidatePeers(cfg), nil, nil)
	defer syncMaster.Stop()

	lspdLog.Infof("lightspand started, data dir %s", cfg.DataDir)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	lspdLog.Info("shutting down")
}

// loadCandidatePeers reads the candidate sync peers from the data
// directory. An empty pool degrades sync capacity but is not fatal.
func loadCandidatePeers(cfg *config) []gossip.RemoteNodeInfo {
	var peers []gossip.RemoteNodeInfo
	data, err := os.ReadFile(filepath.Join(cfg.DataDir, "peers.list"))
	if err != nil {
		lspdLog.Warnf("no candidate peer list: %v", err)
		return nil
	}
	for _, line := range splitLines(data) {
		info, err := parsePeerLine(line)
		if err != nil {
			lspdLog.Warnf("skipping peer line %q: %v", line, err)
			continue
		}
		peers = append(peers, info)
	}
	return peers
}

// parsePeerLine parses "nodeid@host:port".
func parsePeerLine(line string) (gossip.RemoteNodeInfo, error) {
	var info gossip.RemoteNodeInfo

	nodePart, addrPart, found := strings.Cut(line, "@")
	if !found || addrPart == "" {
		return info, fmt.Errorf("want nodeid@host:port")
	}
	raw, err := hex.DecodeString(nodePart)
	if err != nil || len(raw) != 33 {
		return info, fmt.Errorf("bad node id %q", nodePart)
	}
	copy(info.NodeID[:], raw)
	info.Address = addrPart
	return info, nil
}

// splitLines splits the file into trimmed, non-empty, non-comment lines.
func splitLines(data []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	return lines
}
