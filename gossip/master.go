// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gossip

import (
	"time"

	"github.com/lightspan/lightspand/lnwire"
	"github.com/lightspan/lightspand/mailbox"
)

// workerReplaceDelay is how long the master waits before replacing a
// disconnected worker. A variable so tests can shrink it.
var workerReplaceDelay = 5 * time.Second

// Callbacks are the master's upstream notification hooks. They are invoked
// from the master's own goroutine and must not block.
type Callbacks struct {
	// OnChunkSyncComplete receives every distilled routing snapshot.
	OnChunkSyncComplete func(*PureRoutingData)

	// OnTotalSyncComplete fires once after the final snapshot flush.
	OnTotalSyncComplete func()

	// OnNodeAnnouncement receives signature-checked node announcements
	// as workers encounter them.
	OnNodeAnnouncement func(*lnwire.NodeAnnouncement)
}

// masterPhase is the master's own sub-state machine.
type masterPhase int

const (
	phaseShortIDSync masterPhase = iota
	phaseGossipSync
	phaseShutDown
)

// updateAgg accumulates confirmations of one update core together with the
// newest representative seen.
type updateAgg struct {
	latest    lnwire.ChannelUpdateLite
	reporters map[lnwire.NodeID]struct{}
}

// SyncMaster supervises MaxConnections sync workers, cross-validates their
// gossip by K-of-N agreement, and emits vetted routing snapshots in batches.
// It is a single-threaded actor.
type SyncMaster struct {
	cfg       *Config
	router    RouterView
	transport Transport
	calls     Callbacks

	// excluded are SCIDs the caller already knows to be unusable; no
	// queries are derived for them.
	excluded map[lnwire.ShortChannelID]struct{}

	// requestNodeAnnounce are SCIDs whose endpoints' node announcements
	// should be fetched alongside the channel data.
	requestNodeAnnounce map[lnwire.ShortChannelID]struct{}

	mail *mailbox.Mailbox

	phase      masterPhase
	candidates []RemoteNodeInfo
	usedPeers  map[lnwire.NodeID]struct{}
	workers    map[*SyncWorker]struct{}

	// Short-id phase accumulation, keyed by reporting peer.
	ranges map[lnwire.NodeID][]*lnwire.ReplyChannelRange

	// provenShortIds is set once, before any query derivation; the query
	// builder consults it.
	provenShortIds map[lnwire.ShortChannelID]struct{}
	queries        []*lnwire.QueryShortChanIDs

	// Gossip phase accumulators. These maps never escape the actor.
	confirmedChanAnnounces map[lnwire.ChannelAnnouncementLite]map[lnwire.NodeID]struct{}
	confirmedChanUpdates   map[lnwire.UpdateCore]*updateAgg
	confirmedExcluded      map[lnwire.UpdateCore]map[lnwire.NodeID]struct{}

	chunksLeft int
	queueLeft  map[*SyncWorker]int
}

// NewSyncMaster creates the master and immediately spawns MaxConnections
// workers in the short-id phase, one per distinct candidate peer.
func NewSyncMaster(cfg *Config, router RouterView, transport Transport,
	calls Callbacks, candidates []RemoteNodeInfo,
	excluded, requestNodeAnnounce map[lnwire.ShortChannelID]struct{}) *SyncMaster {

	if excluded == nil {
		excluded = make(map[lnwire.ShortChannelID]struct{})
	}
	if requestNodeAnnounce == nil {
		requestNodeAnnounce = make(map[lnwire.ShortChannelID]struct{})
	}

	m := &SyncMaster{
		cfg:                 cfg,
		router:              router,
		transport:           transport,
		calls:               calls,
		excluded:            excluded,
		requestNodeAnnounce: requestNodeAnnounce,
		phase:               phaseShortIDSync,
		candidates:          candidates,
		usedPeers:           make(map[lnwire.NodeID]struct{}),
		workers:             make(map[*SyncWorker]struct{}),
		ranges:              make(map[lnwire.NodeID][]*lnwire.ReplyChannelRange),
		queueLeft:           make(map[*SyncWorker]int),
	}
	m.resetAccumulators()
	m.mail = mailbox.New("sync-master", m.process)

	for i := 0; i < cfg.MaxConnections; i++ {
		m.mail.Post(cmdAddSync{})
	}
	return m
}

// Process posts one message into the master's mailbox.
func (m *SyncMaster) Process(msg interface{}) {
	m.mail.Post(msg)
}

// Stop terminates the master and every live worker.
func (m *SyncMaster) Stop() {
	m.mail.Post(cmdShutdown{})
}

func (m *SyncMaster) resetAccumulators() {
	m.confirmedChanAnnounces = make(map[lnwire.ChannelAnnouncementLite]map[lnwire.NodeID]struct{})
	m.confirmedChanUpdates = make(map[lnwire.UpdateCore]*updateAgg)
	m.confirmedExcluded = make(map[lnwire.UpdateCore]map[lnwire.NodeID]struct{})
}

func (m *SyncMaster) process(msg interface{}) {
	if m.phase == phaseShutDown {
		return
	}

	switch event := msg.(type) {
	case cmdAddSync:
		m.spawnWorker(event.inheritQueue)

	case cmdShortIdsComplete:
		m.handleShortIdsComplete(event)

	case cmdChunkComplete:
		m.handleChunkComplete(event)

	case cmdGossipComplete:
		m.handleGossipComplete(event)

	case cmdWorkerDisconnected:
		m.handleWorkerDisconnected(event)

	case cmdShutdown:
		for worker := range m.workers {
			worker.Process(cmdShutdown{})
		}
		m.phase = phaseShutDown
		m.mail.Stop()
	}
}

// spawnWorker starts one worker against a previously-unused candidate peer.
// During the gossip phase, the worker either inherits a dead worker's queue
// or receives the full query list.
func (m *SyncMaster) spawnWorker(inheritQueue []*lnwire.QueryShortChanIDs) {
	info, ok := m.nextCandidate()
	if !ok {
		log.Warnf("sync capacity degraded: no unused candidate peers "+
			"left (%d workers live)", len(m.workers))
		return
	}

	worker, err := newSyncWorker(m.cfg, m.transport, m.mail, info,
		m.calls.OnNodeAnnouncement)
	if err != nil {
		log.Errorf("unable to spawn sync worker for %v: %v",
			info.NodeID, err)
		return
	}
	m.workers[worker] = struct{}{}

	switch m.phase {
	case phaseShortIDSync:
		worker.Process(cmdStartShortIDSync{})

	case phaseGossipSync:
		queue := inheritQueue
		if queue == nil {
			queue = append([]*lnwire.QueryShortChanIDs{}, m.queries...)
		}
		m.queueLeft[worker] = len(queue)
		worker.Process(cmdStartGossipSync{
			queue:  queue,
			proven: m.provenShortIds,
		})
	}
}

func (m *SyncMaster) nextCandidate() (RemoteNodeInfo, bool) {
	for _, info := range m.candidates {
		if _, used := m.usedPeers[info.NodeID]; used {
			continue
		}
		m.usedPeers[info.NodeID] = struct{}{}
		return info, true
	}
	return RemoteNodeInfo{}, false
}

func (m *SyncMaster) handleShortIdsComplete(event cmdShortIdsComplete) {
	if m.phase != phaseShortIDSync {
		return
	}
	m.ranges[event.worker.PeerID()] = event.ranges
	log.Debugf("peer %v reported %d channel ranges (%d/%d peers)",
		event.worker.PeerID(), len(event.ranges), len(m.ranges),
		m.cfg.MaxConnections)

	if len(m.ranges) != m.cfg.MaxConnections {
		return
	}

	// Every worker reported: discard non-holistic ranges, prove SCIDs by
	// K-of-N agreement, then derive the query list. provenShortIds must
	// be assigned before reply2Query runs because the builder consults
	// it.
	surviving := make(map[lnwire.NodeID][]*lnwire.ReplyChannelRange)
	for peer, peerRanges := range m.ranges {
		for _, r := range peerRanges {
			if r.IsHolistic() {
				surviving[peer] = append(surviving[peer], r)
			}
		}
	}

	tally := make(map[lnwire.ShortChannelID]int)
	for _, peerRanges := range surviving {
		seen := make(map[lnwire.ShortChannelID]struct{})
		for _, r := range peerRanges {
			for _, scid := range r.ShortChanIDs {
				if _, dup := seen[scid]; dup {
					continue
				}
				seen[scid] = struct{}{}
				tally[scid]++
			}
		}
	}

	m.provenShortIds = make(map[lnwire.ShortChannelID]struct{})
	for scid, count := range tally {
		if count > m.cfg.AcceptThreshold {
			m.provenShortIds[scid] = struct{}{}
		}
	}

	// The reply-set with the most SCIDs becomes the query template; among
	// equally large sets, the one carrying more proven SCIDs wins.
	var (
		template   []*lnwire.ReplyChannelRange
		bestSize   = -1
		bestProven = -1
	)
	for _, peerRanges := range surviving {
		size, proven := 0, 0
		for _, r := range peerRanges {
			size += len(r.ShortChanIDs)
			for _, scid := range r.ShortChanIDs {
				if _, ok := m.provenShortIds[scid]; ok {
					proven++
				}
			}
		}
		if size > bestSize || (size == bestSize && proven > bestProven) {
			bestSize, bestProven = size, proven
			template = peerRanges
		}
	}

	m.queries = m.reply2Query(template)
	m.chunksLeft = m.cfg.ChunksToWait
	m.phase = phaseGossipSync
	log.Infof("short-id sync complete: %d proven scids, %d query batches",
		len(m.provenShortIds), len(m.queries))

	for worker := range m.workers {
		queue := append([]*lnwire.QueryShortChanIDs{}, m.queries...)
		m.queueLeft[worker] = len(queue)
		worker.Process(cmdStartGossipSync{
			queue:  queue,
			proven: m.provenShortIds,
		})
	}
}

// reply2Query turns the template reply-set into the QueryShortChanIDs
// batches every worker will replay, filtered to proven, non-excluded SCIDs
// whose remote copy is worth fetching.
func (m *SyncMaster) reply2Query(
	template []*lnwire.ReplyChannelRange) []*lnwire.QueryShortChanIDs {

	type queryEntry struct {
		scid lnwire.ShortChannelID
		flag uint64
	}

	encoding := lnwire.EncodingSortedPlain
	if len(template) > 0 {
		encoding = template[0].Encoding
	}

	var entries []queryEntry
	for _, reply := range template {
		for i, scid := range reply.ShortChanIDs {
			if _, proven := m.provenShortIds[scid]; !proven {
				continue
			}
			if _, skip := m.excluded[scid]; skip {
				continue
			}

			var flag uint64
			digest, known := m.router.ChannelDigest(scid)
			if !known {
				flag = lnwire.QueryFlagAnnouncement |
					lnwire.QueryFlagUpdate1 |
					lnwire.QueryFlagUpdate2
			} else {
				theirs := reply.Timestamps[i]
				if theirs[0].ShouldRequest(digest.Digests[0]) {
					flag |= lnwire.QueryFlagUpdate1
				}
				if theirs[1].ShouldRequest(digest.Digests[1]) {
					flag |= lnwire.QueryFlagUpdate2
				}
			}

			if _, want := m.requestNodeAnnounce[scid]; want {
				flag |= lnwire.QueryFlagNodeAnn1 |
					lnwire.QueryFlagNodeAnn2
			}

			if flag != 0 {
				entries = append(entries, queryEntry{
					scid: scid,
					flag: flag,
				})
			}
		}
	}

	var queries []*lnwire.QueryShortChanIDs
	for start := 0; start < len(entries); start += m.cfg.MessagesToAsk {
		end := start + m.cfg.MessagesToAsk
		if end > len(entries) {
			end = len(entries)
		}
		query := &lnwire.QueryShortChanIDs{
			ChainHash: m.cfg.ChainHash,
			Encoding:  encoding,
		}
		for _, entry := range entries[start:end] {
			query.ShortChanIDs = append(query.ShortChanIDs, entry.scid)
			query.Flags = append(query.Flags, entry.flag)
		}
		queries = append(queries, query)
	}
	return queries
}

func (m *SyncMaster) handleChunkComplete(event cmdChunkComplete) {
	if m.phase != phaseGossipSync {
		return
	}
	reporter := event.worker.PeerID()
	m.queueLeft[event.worker] = event.chunk.queueLeft

	for _, ann := range event.chunk.announces {
		reporters := m.confirmedChanAnnounces[ann]
		if reporters == nil {
			reporters = make(map[lnwire.NodeID]struct{})
			m.confirmedChanAnnounces[ann] = reporters
		}
		reporters[reporter] = struct{}{}
	}

	for _, update := range event.chunk.updates {
		agg := m.confirmedChanUpdates[update.Core]
		if agg == nil {
			agg = &updateAgg{
				latest:    update,
				reporters: make(map[lnwire.NodeID]struct{}),
			}
			m.confirmedChanUpdates[update.Core] = agg
		}
		if update.Timestamp > agg.latest.Timestamp {
			agg.latest = update
		}
		agg.reporters[reporter] = struct{}{}
	}

	for _, core := range event.chunk.excluded {
		reporters := m.confirmedExcluded[core]
		if reporters == nil {
			reporters = make(map[lnwire.NodeID]struct{})
			m.confirmedExcluded[core] = reporters
		}
		reporters[reporter] = struct{}{}
	}

	m.chunksLeft--
	if m.chunksLeft <= 0 {
		m.emitSnapshot(m.pendingQueries())
		m.chunksLeft = m.cfg.ChunksToWait
	}
}

func (m *SyncMaster) pendingQueries() int {
	total := 0
	for _, left := range m.queueLeft {
		total += left
	}
	return total
}

// emitSnapshot distills the accumulators into one PureRoutingData, hands it
// upstream, and evicts exactly the emitted entries.
func (m *SyncMaster) emitSnapshot(queriesLeft int) {
	pure := &PureRoutingData{QueriesLeft: queriesLeft}

	for ann, reporters := range m.confirmedChanAnnounces {
		if len(reporters) > m.cfg.AcceptThreshold {
			pure.Announces = append(pure.Announces, ann)
			delete(m.confirmedChanAnnounces, ann)
		}
	}
	for core, agg := range m.confirmedChanUpdates {
		if len(agg.reporters) > m.cfg.AcceptThreshold {
			pure.Updates = append(pure.Updates, agg.latest)
			delete(m.confirmedChanUpdates, core)
		}
	}
	for core, reporters := range m.confirmedExcluded {
		if len(reporters) > m.cfg.AcceptThreshold {
			pure.Excluded = append(pure.Excluded, core)
			delete(m.confirmedExcluded, core)
		}
	}

	log.Debugf("emitting snapshot: %d announces, %d updates, %d excluded, "+
		"%d queries left", len(pure.Announces), len(pure.Updates),
		len(pure.Excluded), queriesLeft)
	if m.calls.OnChunkSyncComplete != nil {
		m.calls.OnChunkSyncComplete(pure)
	}
}

func (m *SyncMaster) handleGossipComplete(event cmdGossipComplete) {
	delete(m.workers, event.worker)
	delete(m.queueLeft, event.worker)

	if m.phase != phaseGossipSync || len(m.workers) > 0 {
		return
	}

	// Last worker done: flush whatever confirmations remain, then wind
	// down for good.
	m.emitSnapshot(0)
	m.resetAccumulators()
	if m.calls.OnTotalSyncComplete != nil {
		m.calls.OnTotalSyncComplete()
	}
	m.phase = phaseShutDown
	m.mail.Stop()
}

func (m *SyncMaster) handleWorkerDisconnected(event cmdWorkerDisconnected) {
	delete(m.workers, event.worker)
	delete(m.queueLeft, event.worker)

	if !event.extendedSupported {
		m.evictCandidate(event.worker.PeerID())
	}

	log.Debugf("worker for %v disconnected, replacing in %v",
		event.worker.PeerID(), workerReplaceDelay)
	m.mail.PostDelayed(cmdAddSync{
		inheritQueue: event.remainingQueue,
	}, workerReplaceDelay)
}

func (m *SyncMaster) evictCandidate(peer lnwire.NodeID) {
	kept := m.candidates[:0]
	for _, info := range m.candidates {
		if info.NodeID != peer {
			kept = append(kept, info)
		}
	}
	m.candidates = kept
}
