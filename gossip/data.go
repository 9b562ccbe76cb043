// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gossip

import (
	"github.com/lightspan/lightspand/lnwire"
)

// PureRoutingData is one vetted snapshot of gossip facts: every entry was
// independently confirmed by strictly more than AcceptThreshold peers.
type PureRoutingData struct {
	// Announces are the corroborated channel announcements.
	Announces []lnwire.ChannelAnnouncementLite

	// Updates are one representative (latest seen) update per
	// corroborated update core.
	Updates []lnwire.ChannelUpdateLite

	// Excluded are corroborated cores that fail the capacity criteria;
	// the router removes matching channels rather than storing them.
	Excluded []lnwire.UpdateCore

	// QueriesLeft is the number of query batches still pending across
	// all workers when the snapshot was distilled. Zero on the final
	// flush.
	QueriesLeft int
}

// IsEmpty reports whether the snapshot carries no facts at all.
func (d *PureRoutingData) IsEmpty() bool {
	return len(d.Announces) == 0 && len(d.Updates) == 0 &&
		len(d.Excluded) == 0
}

// CompleteHostedRoutingData is the terminal output of one hosted-channel
// sync: every accepted announcement together with its per-direction
// updates.
type CompleteHostedRoutingData struct {
	Announces []lnwire.ChannelAnnouncementLite
	Updates   []lnwire.ChannelUpdateLite
}

// gossipChunk is what a worker hands the master per completed query batch.
type gossipChunk struct {
	announces []lnwire.ChannelAnnouncementLite
	updates   []lnwire.ChannelUpdateLite
	excluded  []lnwire.UpdateCore

	// queueLeft is the number of query batches the worker still has
	// pending after this chunk.
	queueLeft int
}

// Commands the master injects into a worker to pick its phase, and the
// events a worker posts back. The master is addressed through its mailbox;
// back-references are messaging handles only.

// cmdStartShortIDSync moves a waiting worker into the short-id phase.
type cmdStartShortIDSync struct{}

// cmdStartGossipSync moves a worker into the gossip phase with its query
// queue and the proven-SCID view the batch filters consult.
type cmdStartGossipSync struct {
	queue  []*lnwire.QueryShortChanIDs
	proven map[lnwire.ShortChannelID]struct{}
}

// cmdStartPHCSync moves a worker into the hosted-channel phase.
type cmdStartPHCSync struct {
	// accept is the master-level pre-admission check.
	accept func(lnwire.ChannelAnnouncementLite) bool
}

// cmdShutdown terminates a worker. Terminal and idempotent.
type cmdShutdown struct{}

// Internal worker events mirroring the transport callbacks.
type workerOperational struct{ init *lnwire.Init }
type workerMessage struct{ msg lnwire.Message }
type workerHostedMessage struct{ msg lnwire.Message }
type workerDisconnected struct{}

// Worker-to-master events.

// cmdShortIdsComplete reports the accumulated ReplyChannelRange set once the
// peer signalled sync completion.
type cmdShortIdsComplete struct {
	worker *SyncWorker
	ranges []*lnwire.ReplyChannelRange
}

// cmdChunkComplete reports one finished query batch.
type cmdChunkComplete struct {
	worker *SyncWorker
	chunk  gossipChunk
}

// cmdGossipComplete reports that the worker drained its whole queue.
type cmdGossipComplete struct {
	worker *SyncWorker
}

// cmdPHCDataComplete reports the collected hosted-channel data.
type cmdPHCDataComplete struct {
	worker *SyncWorker
	data   CompleteHostedRoutingData
}

// cmdWorkerDisconnected reports a dead worker together with whatever gossip
// queue it still had, so a replacement can inherit it.
type cmdWorkerDisconnected struct {
	worker *SyncWorker

	// extendedSupported is false when the peer failed the handshake
	// guard; the master evicts such peers from the candidate pool.
	extendedSupported bool

	// remainingQueue is non-nil when the worker died mid-gossip.
	remainingQueue []*lnwire.QueryShortChanIDs
}

// cmdAddSync asks the master to spawn one replacement worker.
type cmdAddSync struct {
	// inheritQueue is handed to the new worker when the previous one
	// died during the gossip phase.
	inheritQueue []*lnwire.QueryShortChanIDs
}
