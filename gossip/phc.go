// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gossip

import (
	"github.com/lightspan/lightspand/lnwire"
	"github.com/lightspan/lightspand/mailbox"
)

// PHCSyncMaster is the single-worker variant of the sync master used for
// public hosted channels. It retries a bounded number of times on worker
// disconnects and terminates silently on exhaustion.
type PHCSyncMaster struct {
	cfg       *Config
	router    RouterView
	transport Transport

	// onSyncComplete receives the collected hosted routing data exactly
	// once.
	onSyncComplete func(CompleteHostedRoutingData)

	mail *mailbox.Mailbox

	candidates   []RemoteNodeInfo
	attempt      int
	attemptsLeft int
	worker       *SyncWorker
	done         bool
}

// NewPHCSyncMaster creates the master and spawns its first worker.
// attemptsLeft bounds how many worker disconnects are tolerated before the
// master gives up silently.
func NewPHCSyncMaster(cfg *Config, router RouterView, transport Transport,
	candidates []RemoteNodeInfo, attemptsLeft int,
	onSyncComplete func(CompleteHostedRoutingData)) *PHCSyncMaster {

	m := &PHCSyncMaster{
		cfg:            cfg,
		router:         router,
		transport:      transport,
		onSyncComplete: onSyncComplete,
		candidates:     candidates,
		attemptsLeft:   attemptsLeft,
	}
	m.mail = mailbox.New("phc-sync-master", m.process)
	m.mail.Post(cmdAddSync{})
	return m
}

// Process posts one message into the master's mailbox.
func (m *PHCSyncMaster) Process(msg interface{}) {
	m.mail.Post(msg)
}

// Stop terminates the master and its worker, if any.
func (m *PHCSyncMaster) Stop() {
	m.mail.Post(cmdShutdown{})
}

func (m *PHCSyncMaster) process(msg interface{}) {
	if m.done {
		return
	}

	switch event := msg.(type) {
	case cmdAddSync:
		m.spawnWorker()

	case cmdPHCDataComplete:
		log.Infof("hosted channel sync complete: %d announces, "+
			"%d updates", len(event.data.Announces),
			len(event.data.Updates))
		if m.onSyncComplete != nil {
			m.onSyncComplete(event.data)
		}
		m.shutdown()

	case cmdWorkerDisconnected:
		// Only live-session losses consume an attempt; the retry
		// timer itself does not.
		m.worker = nil
		m.attemptsLeft--
		if m.attemptsLeft <= 0 {
			log.Debugf("hosted channel sync attempts exhausted")
			m.shutdown()
			return
		}
		m.mail.PostDelayed(cmdAddSync{}, workerReplaceDelay)

	case cmdShutdown:
		m.shutdown()
	}
}

func (m *PHCSyncMaster) spawnWorker() {
	if len(m.candidates) == 0 {
		log.Warnf("no hosted channel sync candidates")
		m.shutdown()
		return
	}

	info := m.candidates[m.attempt%len(m.candidates)]
	m.attempt++

	worker, err := newSyncWorker(m.cfg, m.transport, m.mail, info, nil)
	if err != nil {
		log.Errorf("unable to spawn phc sync worker: %v", err)
		m.shutdown()
		return
	}
	m.worker = worker
	worker.Process(cmdStartPHCSync{accept: m.announceAcceptable})
}

// announceAcceptable is the master-level pre-admission check: both endpoints
// of a candidate hosted channel must already be established nodes in the
// local routing graph.
func (m *PHCSyncMaster) announceAcceptable(
	ann lnwire.ChannelAnnouncementLite) bool {

	return m.router.NodeAdjacency(ann.NodeID1) >= m.cfg.MinNormalChansForPHC &&
		m.router.NodeAdjacency(ann.NodeID2) >= m.cfg.MinNormalChansForPHC
}

func (m *PHCSyncMaster) shutdown() {
	if m.worker != nil {
		m.worker.Process(cmdShutdown{})
		m.worker = nil
	}
	m.done = true
	m.mail.Stop()
}
