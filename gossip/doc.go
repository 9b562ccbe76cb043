// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package gossip implements discovery and validation of the public channel
topology from multiple untrusted peers.

A SyncMaster supervises a pool of per-peer SyncWorkers, each a
single-threaded actor driving one Noise session through the BOLT 7 gossip
query protocol. Every fact (channel announcement, channel update) is
admitted only once strictly more than a configured threshold of distinct
peers independently confirmed it; vetted facts are emitted in batched
PureRoutingData snapshots. A single-worker PHCSyncMaster variant collects
public hosted channels under their own admission rules.

Sync errors are never fatal: a misbehaving or dead peer is dropped and
replaced after a short delay, inheriting the remaining work.
*/
package gossip
