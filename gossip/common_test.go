// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gossip

import (
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/lightspan/lightspand/lnwire"
)

// listenEvent records one Transport.Listen call.
type listenEvent struct {
	listener ConnectionListener
	pair     PeerPair
	info     RemoteNodeInfo
}

// sentBatch records one Transport.SendMany call.
type sentBatch struct {
	peer lnwire.NodeID
	msgs []lnwire.Message
}

// fakeTransport satisfies Transport and surfaces every call on buffered
// channels the tests drain with timeouts.
type fakeTransport struct {
	mtx     sync.Mutex
	listens chan listenEvent
	sent    chan sentBatch
	forgot  chan PeerPair
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		listens: make(chan listenEvent, 64),
		sent:    make(chan sentBatch, 256),
		forgot:  make(chan PeerPair, 64),
	}
}

func (t *fakeTransport) Listen(listener ConnectionListener, pair PeerPair,
	info RemoteNodeInfo) {

	t.listens <- listenEvent{listener: listener, pair: pair, info: info}
}

func (t *fakeTransport) SendMany(msgs []lnwire.Message, pair PeerPair) {
	t.sent <- sentBatch{peer: pair.PeerID, msgs: msgs}
}

func (t *fakeTransport) Forget(pair PeerPair) {
	select {
	case t.forgot <- pair:
	default:
	}
}

// waitListen pops the next Listen call or fails the test.
func (t *fakeTransport) waitListen(tt *testing.T) listenEvent {
	tt.Helper()
	select {
	case ev := <-t.listens:
		return ev
	case <-time.After(5 * time.Second):
		tt.Fatal("no Listen call observed")
		return listenEvent{}
	}
}

// waitSent pops the next SendMany call or fails the test.
func (t *fakeTransport) waitSent(tt *testing.T) sentBatch {
	tt.Helper()
	select {
	case batch := <-t.sent:
		return batch
	case <-time.After(5 * time.Second):
		tt.Fatal("no SendMany call observed")
		return sentBatch{}
	}
}

// fakeRouter satisfies RouterView with a static channel digest map and
// adjacency counts.
type fakeRouter struct {
	digests   map[lnwire.ShortChannelID]UpdateDigestInfo
	adjacency map[lnwire.NodeID]int
}

func (r *fakeRouter) ChannelDigest(
	scid lnwire.ShortChannelID) (UpdateDigestInfo, bool) {

	info, ok := r.digests[scid]
	return info, ok
}

func (r *fakeRouter) NodeAdjacency(node lnwire.NodeID) int {
	return r.adjacency[node]
}

// extendedInit builds an Init advertising the extended range query feature.
func extendedInit() *lnwire.Init {
	return &lnwire.Init{
		Features: lnwire.NewRawFeatureVector(
			lnwire.ChannelRangeQueriesExOptional),
		GlobalFeatures: lnwire.NewRawFeatureVector(),
	}
}

// plainInit builds an Init without the extended range query feature.
func plainInit() *lnwire.Init {
	return &lnwire.Init{
		Features:       lnwire.NewRawFeatureVector(),
		GlobalFeatures: lnwire.NewRawFeatureVector(),
	}
}

// testConfig is the baseline sync configuration the tests tweak.
func testConfig() *Config {
	return &Config{
		MaxConnections:       4,
		AcceptThreshold:      2,
		MessagesToAsk:        100,
		ChunksToWait:         4,
		MinCapacity:          1000,
		MinPHCCapacity:       10_000,
		MaxPHCCapacity:       100_000_000,
		MaxPHCPerNode:        2,
		MinNormalChansForPHC: 5,
	}
}

// testNodeID fabricates a distinct node ID from a seed byte.
func testNodeID(seed byte) lnwire.NodeID {
	var id lnwire.NodeID
	id[0] = 2
	id[1] = seed
	return id
}

// signUpdate signs the channel update in place with the given key.
func signUpdate(t *testing.T, priv *btcec.PrivateKey,
	update *lnwire.ChannelUpdate) {

	t.Helper()
	digest, err := update.DataToSign()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	compact := ecdsa.SignCompact(priv, digest, true)
	copy(update.Signature[:], compact[1:])
}

// signNodeAnn signs the node announcement in place with the given key.
func signNodeAnn(t *testing.T, priv *btcec.PrivateKey,
	ann *lnwire.NodeAnnouncement) {

	t.Helper()
	digest, err := ann.DataToSign()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	compact := ecdsa.SignCompact(priv, digest, true)
	copy(ann.Signature[:], compact[1:])
}
