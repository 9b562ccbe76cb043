// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gossip

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/lru"

	"github.com/lightspan/lightspand/lnwire"
	"github.com/lightspan/lightspand/mailbox"
)

// relayedNodeAnnCacheSize bounds the per-worker cache of node announcements
// already forwarded upstream.
const relayedNodeAnnCacheSize = 500

// Worker phase data. The active phase is selected by which data object the
// master injects while the worker sits in the waiting state.
type workerState interface {
	phaseName() string
}

type stateWaiting struct{}

func (stateWaiting) phaseName() string { return "Waiting" }

type stateShortIDSync struct {
	sentQuery bool
	done      bool
	ranges    []*lnwire.ReplyChannelRange
}

func (*stateShortIDSync) phaseName() string { return "ShortIDSync" }

type stateGossipSync struct {
	started bool
	queue   []*lnwire.QueryShortChanIDs
	proven  map[lnwire.ShortChannelID]struct{}
	chunk   gossipChunk
}

func (*stateGossipSync) phaseName() string { return "GossipSync" }

type statePHCSync struct {
	started bool
	accept  func(lnwire.ChannelAnnouncementLite) bool

	announces map[lnwire.ShortChannelID]lnwire.ChannelAnnouncementLite
	updates   []lnwire.ChannelUpdateLite

	// expectedPositions tracks which directions of an accepted channel
	// still await their first update.
	expectedPositions map[lnwire.ShortChannelID]map[int]struct{}

	// nodeIDToShortIDs enforces the per-node hosted channel cap.
	nodeIDToShortIDs map[lnwire.NodeID]map[lnwire.ShortChannelID]struct{}
}

func (*statePHCSync) phaseName() string { return "PHCSync" }

type stateShutDown struct{}

func (stateShutDown) phaseName() string { return "ShutDown" }

// SyncWorker drives one peer through one phase of gossip sync. It is a
// single-threaded actor: transport callbacks and master commands are posted
// into its mailbox and handled strictly in order.
type SyncWorker struct {
	cfg       *Config
	transport Transport
	master    *mailbox.Mailbox

	pair PeerPair
	info RemoteNodeInfo

	// onNodeAnn receives signature-checked node announcements seen during
	// the gossip phase.
	onNodeAnn func(*lnwire.NodeAnnouncement)

	mail        *mailbox.Mailbox
	state       workerState
	operational bool

	relayedNodeAnns lru.Cache
}

// newSyncWorker creates the worker and attaches it to the transport. The
// ephemeral key of the pair must be fresh; the master guarantees it.
func newSyncWorker(cfg *Config, transport Transport, master *mailbox.Mailbox,
	info RemoteNodeInfo, onNodeAnn func(*lnwire.NodeAnnouncement)) (*SyncWorker, error) {

	ephemeral, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral key: %w", err)
	}

	w := &SyncWorker{
		cfg:       cfg,
		transport: transport,
		master:    master,
		pair: PeerPair{
			Ephemeral: ephemeral,
			PeerID:    info.NodeID,
		},
		info:            info,
		onNodeAnn:       onNodeAnn,
		state:           stateWaiting{},
		relayedNodeAnns: lru.NewCache(relayedNodeAnnCacheSize),
	}
	w.mail = mailbox.New("sync-worker/"+info.NodeID.String()[:8], w.process)

	transport.Listen(w, w.pair, info)
	return w, nil
}

// Process posts one message into the worker's mailbox.
func (w *SyncWorker) Process(msg interface{}) {
	w.mail.Post(msg)
}

// PeerID returns the remote peer's identity.
func (w *SyncWorker) PeerID() lnwire.NodeID {
	return w.pair.PeerID
}

// OnOperational implements ConnectionListener.
func (w *SyncWorker) OnOperational(_ PeerPair, init *lnwire.Init) {
	w.mail.Post(workerOperational{init: init})
}

// OnMessage implements ConnectionListener.
func (w *SyncWorker) OnMessage(_ PeerPair, msg lnwire.Message) {
	w.mail.Post(workerMessage{msg: msg})
}

// OnHostedMessage implements ConnectionListener.
func (w *SyncWorker) OnHostedMessage(_ PeerPair, msg lnwire.Message) {
	w.mail.Post(workerHostedMessage{msg: msg})
}

// OnDisconnect implements ConnectionListener.
func (w *SyncWorker) OnDisconnect(_ PeerPair) {
	w.mail.Post(workerDisconnected{})
}

func (w *SyncWorker) process(msg interface{}) {
	if _, down := w.state.(stateShutDown); down {
		return
	}

	switch m := msg.(type) {
	case workerOperational:
		// Handshake guard: peers without the extended range query
		// TLVs cannot serve the checksum-based sync at all.
		if !m.init.HasExtendedRangeQueries() {
			log.Debugf("peer %v lacks extended range queries, "+
				"evicting", w.pair.PeerID)
			w.master.Post(cmdWorkerDisconnected{
				worker:            w,
				extendedSupported: false,
			})
			w.shutdown()
			return
		}
		w.operational = true
		w.maybeStartPhase()

	case cmdStartShortIDSync:
		w.state = &stateShortIDSync{}
		w.maybeStartPhase()

	case cmdStartGossipSync:
		w.state = &stateGossipSync{
			queue:  m.queue,
			proven: m.proven,
		}
		w.maybeStartPhase()

	case cmdStartPHCSync:
		state := &statePHCSync{accept: m.accept}
		state.announces = make(
			map[lnwire.ShortChannelID]lnwire.ChannelAnnouncementLite)
		state.expectedPositions = make(
			map[lnwire.ShortChannelID]map[int]struct{})
		state.nodeIDToShortIDs = make(
			map[lnwire.NodeID]map[lnwire.ShortChannelID]struct{})
		w.state = state
		w.maybeStartPhase()

	case workerMessage:
		w.handleMessage(m.msg)

	case workerHostedMessage:
		w.handleHostedMessage(m.msg)

	case workerDisconnected:
		disc := cmdWorkerDisconnected{worker: w, extendedSupported: true}
		if gossip, ok := w.state.(*stateGossipSync); ok {
			disc.remainingQueue = gossip.queue
		}
		w.master.Post(disc)
		w.shutdown()

	case cmdShutdown:
		w.shutdown()
	}
}

// maybeStartPhase fires the phase's opening message once the connection is
// operational and a phase has been injected.
func (w *SyncWorker) maybeStartPhase() {
	if !w.operational {
		return
	}

	switch state := w.state.(type) {
	case *stateShortIDSync:
		if state.sentQuery {
			return
		}
		state.sentQuery = true
		query := lnwire.NewFullQueryChannelRange(w.cfg.ChainHash)
		w.transport.SendMany([]lnwire.Message{query}, w.pair)

	case *stateGossipSync:
		if state.started {
			return
		}
		state.started = true
		w.sendNextBatch(state)

	case *statePHCSync:
		if state.started {
			return
		}
		state.started = true
		query := &lnwire.QueryPublicHostedChannels{
			ChainHash: w.cfg.ChainHash,
		}
		w.transport.SendMany([]lnwire.Message{query}, w.pair)
	}
}

// sendNextBatch pushes the head of the gossip query queue, or reports
// completion when the queue has drained.
func (w *SyncWorker) sendNextBatch(state *stateGossipSync) {
	if len(state.queue) == 0 {
		w.master.Post(cmdGossipComplete{worker: w})
		w.shutdown()
		return
	}
	w.transport.SendMany([]lnwire.Message{state.queue[0]}, w.pair)
}

func (w *SyncWorker) handleMessage(msg lnwire.Message) {
	switch state := w.state.(type) {
	case *stateShortIDSync:
		reply, ok := msg.(*lnwire.ReplyChannelRange)
		if !ok || state.done {
			return
		}
		state.ranges = append([]*lnwire.ReplyChannelRange{reply},
			state.ranges...)
		if reply.SyncComplete {
			state.done = true
			w.master.Post(cmdShortIdsComplete{
				worker: w,
				ranges: state.ranges,
			})
		}

	case *stateGossipSync:
		w.handleGossipMessage(state, msg)
	}
}

func (w *SyncWorker) handleGossipMessage(state *stateGossipSync,
	msg lnwire.Message) {

	switch m := msg.(type) {
	case *lnwire.ChannelAnnouncement:
		if _, proven := state.proven[m.ShortChannelID]; !proven {
			return
		}
		state.chunk.announces = append(state.chunk.announces, m.Lite())

	case *lnwire.ChannelUpdate:
		if _, proven := state.proven[m.ShortChannelID]; !proven {
			return
		}
		if w.cfg.updateExcluded(m) {
			state.chunk.excluded = append(state.chunk.excluded,
				m.Core())
			return
		}
		state.chunk.updates = append(state.chunk.updates, m.Lite())

	case *lnwire.NodeAnnouncement:
		if !m.VerifySig() {
			return
		}
		key := struct {
			node      lnwire.NodeID
			timestamp uint32
		}{m.NodeID, m.Timestamp}
		if w.relayedNodeAnns.Contains(key) {
			return
		}
		w.relayedNodeAnns.Add(key)
		if w.onNodeAnn != nil {
			w.onNodeAnn(m)
		}

	case *lnwire.ReplyShortChanIDsEnd:
		state.queue = state.queue[1:]
		w.master.Post(cmdChunkComplete{
			worker: w,
			chunk: gossipChunk{
				announces: state.chunk.announces,
				updates:   state.chunk.updates,
				excluded:  state.chunk.excluded,
				queueLeft: len(state.queue),
			},
		})
		state.chunk = gossipChunk{}
		w.sendNextBatch(state)
	}
}

func (w *SyncWorker) handleHostedMessage(msg lnwire.Message) {
	state, ok := w.state.(*statePHCSync)
	if !ok {
		return
	}

	switch m := msg.(type) {
	case *lnwire.ChannelAnnouncement:
		lite := m.Lite()
		if !w.phcAnnounceAcceptable(state, lite) {
			return
		}
		state.announces[lite.ShortChannelID] = lite
		state.expectedPositions[lite.ShortChannelID] = map[int]struct{}{
			0: {}, 1: {},
		}
		for _, node := range []lnwire.NodeID{lite.NodeID1, lite.NodeID2} {
			ids := state.nodeIDToShortIDs[node]
			if ids == nil {
				ids = make(map[lnwire.ShortChannelID]struct{})
				state.nodeIDToShortIDs[node] = ids
			}
			ids[lite.ShortChannelID] = struct{}{}
		}

	case *lnwire.ChannelUpdate:
		if !w.phcUpdateAcceptable(state, m) {
			return
		}
		delete(state.expectedPositions[m.ShortChannelID], m.Position())
		state.updates = append(state.updates, m.Lite())

	case *lnwire.ReplyPublicHostedChannelsEnd:
		data := CompleteHostedRoutingData{
			Updates: state.updates,
		}
		for _, ann := range state.announces {
			data.Announces = append(data.Announces, ann)
		}
		w.master.Post(cmdPHCDataComplete{worker: w, data: data})
		w.shutdown()
	}
}

// phcAnnounceAcceptable applies the hosted-channel announcement gate: the
// SCID must equal the deterministic endpoint hash, neither endpoint may
// exceed the per-node cap, and the master-level acceptance must pass.
func (w *SyncWorker) phcAnnounceAcceptable(state *statePHCSync,
	lite lnwire.ChannelAnnouncementLite) bool {

	if !lite.IsHosted() {
		return false
	}
	if _, seen := state.announces[lite.ShortChannelID]; seen {
		return false
	}
	if len(state.nodeIDToShortIDs[lite.NodeID1]) >= w.cfg.MaxPHCPerNode ||
		len(state.nodeIDToShortIDs[lite.NodeID2]) >= w.cfg.MaxPHCPerNode {
		return false
	}
	return state.accept == nil || state.accept(lite)
}

// phcUpdateAcceptable applies the hosted-channel update gate: capacity in
// the configured window and above the channel's own minimum, signed by the
// side-specific endpoint, and this direction not yet seen.
func (w *SyncWorker) phcUpdateAcceptable(state *statePHCSync,
	update *lnwire.ChannelUpdate) bool {

	ann, known := state.announces[update.ShortChannelID]
	if !known {
		return false
	}

	capacity := update.HtlcMaximumMsat
	if !update.HasMaxHtlc() ||
		capacity < w.cfg.MinPHCCapacity ||
		capacity > w.cfg.MaxPHCCapacity ||
		capacity <= update.HtlcMinimumMsat {

		return false
	}

	remaining := state.expectedPositions[update.ShortChannelID]
	if _, expected := remaining[update.Position()]; !expected {
		return false
	}

	signer := ann.NodeID1
	if update.Position() == 1 {
		signer = ann.NodeID2
	}
	return update.VerifySig(signer)
}

// updateExcluded is the capacity exclusion criterion: an update advertising
// a maximum below MinCapacity, or no larger than its own minimum, is routed
// to the excluded set. Updates lacking the max-htlc field entirely count as
// excluded too.
func (cfg *Config) updateExcluded(u *lnwire.ChannelUpdate) bool {
	if !u.HasMaxHtlc() {
		return true
	}
	return u.HtlcMaximumMsat < cfg.MinCapacity ||
		u.HtlcMaximumMsat <= u.HtlcMinimumMsat
}

// shutdown clears local state, detaches from the transport, and stops the
// mailbox. Idempotent through the top-of-process guard.
func (w *SyncWorker) shutdown() {
	w.state = stateShutDown{}
	w.operational = false
	w.transport.Forget(w.pair)
	w.mail.Stop()
}
