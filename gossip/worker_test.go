// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gossip

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/lightspan/lightspand/lnwire"
	"github.com/lightspan/lightspand/mailbox"
)

// collector is a mailbox that records everything a worker posts to its
// master.
type collector struct {
	mail *mailbox.Mailbox
	msgs chan interface{}
}

func newCollector() *collector {
	c := &collector{msgs: make(chan interface{}, 64)}
	c.mail = mailbox.New("collector", func(msg interface{}) {
		c.msgs <- msg
	})
	return c
}

func (c *collector) wait(t *testing.T) interface{} {
	t.Helper()
	select {
	case msg := <-c.msgs:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no master message observed")
		return nil
	}
}

// startWorker spawns a worker, completes the handshake, and returns it with
// its transport-facing listener side effects drained of the first send.
func startWorker(t *testing.T, cfg *Config, transport *fakeTransport,
	master *collector, phase interface{}) *SyncWorker {

	t.Helper()
	worker, err := newSyncWorker(cfg, transport, master.mail,
		RemoteNodeInfo{NodeID: testNodeID(0xEE)}, nil)
	require.NoError(t, err)
	transport.waitListen(t)

	worker.Process(phase)
	worker.OnOperational(PeerPair{}, extendedInit())
	return worker
}

// TestWorkerShortIDPhase checks reply accumulation order (newest first) and
// the completion trigger.
func TestWorkerShortIDPhase(t *testing.T) {
	transport := newFakeTransport()
	master := newCollector()
	worker := startWorker(t, testConfig(), transport, master,
		cmdStartShortIDSync{})

	batch := transport.waitSent(t)
	require.IsType(t, &lnwire.QueryChannelRange{}, batch.msgs[0])

	first := rangeReply(lnwire.NewShortChanIDFromInt(1))
	first.SyncComplete = false
	final := rangeReply(lnwire.NewShortChanIDFromInt(2))

	worker.OnMessage(PeerPair{}, first)
	worker.OnMessage(PeerPair{}, final)

	msg := master.wait(t)
	complete, ok := msg.(cmdShortIdsComplete)
	require.True(t, ok, "got %T", msg)
	require.Len(t, complete.ranges, 2)

	// Replies are prepended: the completing reply leads.
	require.True(t, complete.ranges[0].SyncComplete)
	require.False(t, complete.ranges[1].SyncComplete)
}

// TestWorkerGossipPhase drives two query batches through the filter rules:
// unproven SCIDs dropped, excluded updates split out, chunk boundaries
// reported, completion on queue drain.
func TestWorkerGossipPhase(t *testing.T) {
	transport := newFakeTransport()
	master := newCollector()
	cfg := testConfig()

	provenSCID := lnwire.NewShortChanIDFromInt(10)
	otherSCID := lnwire.NewShortChanIDFromInt(11)
	queue := []*lnwire.QueryShortChanIDs{
		{ShortChanIDs: []lnwire.ShortChannelID{provenSCID}},
		{ShortChanIDs: []lnwire.ShortChannelID{provenSCID}},
	}
	worker := startWorker(t, cfg, transport, master, cmdStartGossipSync{
		queue:  queue,
		proven: map[lnwire.ShortChannelID]struct{}{provenSCID: {}},
	})

	// First batch goes out.
	batch := transport.waitSent(t)
	require.IsType(t, &lnwire.QueryShortChanIDs{}, batch.msgs[0])

	// A proven announcement is kept in lite form; an unproven one is
	// dropped. A healthy update is kept, a capacity-starved one routed
	// to excluded.
	worker.OnMessage(PeerPair{}, &lnwire.ChannelAnnouncement{
		ShortChannelID: provenSCID, NodeID1: testNodeID(1),
		NodeID2: testNodeID(2),
	})
	worker.OnMessage(PeerPair{}, &lnwire.ChannelAnnouncement{
		ShortChannelID: otherSCID,
	})
	worker.OnMessage(PeerPair{}, &lnwire.ChannelUpdate{
		ShortChannelID:  provenSCID,
		MessageFlags:    lnwire.ChanUpdateOptionMaxHtlc,
		HtlcMinimumMsat: 1,
		HtlcMaximumMsat: 1_000_000,
	})
	worker.OnMessage(PeerPair{}, &lnwire.ChannelUpdate{
		ShortChannelID:  provenSCID,
		MessageFlags:    lnwire.ChanUpdateOptionMaxHtlc,
		HtlcMinimumMsat: 1,
		HtlcMaximumMsat: cfg.MinCapacity - 1,
	})
	worker.OnMessage(PeerPair{}, &lnwire.ReplyShortChanIDsEnd{})

	msg := master.wait(t)
	chunk, ok := msg.(cmdChunkComplete)
	require.True(t, ok, "got %T", msg)
	require.Len(t, chunk.chunk.announces, 1)
	require.Len(t, chunk.chunk.updates, 1)
	require.Len(t, chunk.chunk.excluded, 1)
	require.Equal(t, 1, chunk.chunk.queueLeft)

	// Second batch flows, then the drain completes the worker.
	transport.waitSent(t)
	worker.OnMessage(PeerPair{}, &lnwire.ReplyShortChanIDsEnd{})

	msg = master.wait(t)
	require.IsType(t, cmdChunkComplete{}, msg)
	msg = master.wait(t)
	require.IsType(t, cmdGossipComplete{}, msg)
}

// TestWorkerNodeAnnouncementFilter checks signature gating and the
// relayed-announcement dedup.
func TestWorkerNodeAnnouncementFilter(t *testing.T) {
	transport := newFakeTransport()
	master := newCollector()
	cfg := testConfig()

	forwarded := make(chan *lnwire.NodeAnnouncement, 4)
	worker, err := newSyncWorker(cfg, transport, master.mail,
		RemoteNodeInfo{NodeID: testNodeID(0xEE)},
		func(ann *lnwire.NodeAnnouncement) { forwarded <- ann })
	require.NoError(t, err)
	transport.waitListen(t)

	worker.Process(cmdStartGossipSync{
		queue:  []*lnwire.QueryShortChanIDs{{}},
		proven: map[lnwire.ShortChannelID]struct{}{},
	})
	worker.OnOperational(PeerPair{}, extendedInit())
	transport.waitSent(t)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	signed := &lnwire.NodeAnnouncement{
		Features:  lnwire.NewRawFeatureVector(),
		Timestamp: 1,
		NodeID:    lnwire.NewNodeID(priv.PubKey()),
	}
	signNodeAnn(t, priv, signed)

	unsigned := &lnwire.NodeAnnouncement{
		Features: lnwire.NewRawFeatureVector(),
		NodeID:   testNodeID(9),
	}

	worker.OnMessage(PeerPair{}, unsigned)
	worker.OnMessage(PeerPair{}, signed)
	worker.OnMessage(PeerPair{}, signed) // duplicate, deduped

	select {
	case ann := <-forwarded:
		require.Equal(t, signed.NodeID, ann.NodeID)
	case <-time.After(5 * time.Second):
		t.Fatal("signed announcement not forwarded")
	}
	select {
	case <-forwarded:
		t.Fatal("duplicate or unsigned announcement forwarded")
	case <-time.After(100 * time.Millisecond):
	}
}
