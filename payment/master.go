// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package payment

import (
	"github.com/lightspan/lightspand/lnwire"
	"github.com/lightspan/lightspand/mailbox"
)

// masterState is the mutex over the path-finder: in waitingForRoute, every
// further RouteRequest is dropped.
type masterState int

const (
	expectingPayments masterState = iota
	waitingForRoute
)

// StampedChannelFailed is the empirical capacity ceiling observed for one
// channel direction, together with when it was observed. The ceiling
// recovers linearly toward capacity over FailedChanRecoveryMsec.
type StampedChannelFailed struct {
	AmountCanSend lnwire.MilliSatoshi
	Capacity      lnwire.MilliSatoshi
	Stamp         int64
}

// OutgoingPaymentMaster owns every in-flight payment, aggregates the global
// failure statistics, and serializes route requests to the path-finder. It
// is a single-threaded actor; the per-payment senders are state machines it
// drives synchronously, which keeps their part maps readable for the
// master's capacity accounting without any sharing.
type OutgoingPaymentMaster struct {
	cfg        *Config
	pathFinder PathFinder

	mail  *mailbox.Mailbox
	state masterState

	payments map[FullPaymentTag]*OutgoingPaymentSender

	// trampolines is the routing table of known trampoline peers.
	trampolines map[lnwire.NodeID]TrampolineParams

	// Failure statistics. The master is their only writer.
	chanFailedAtAmount   map[DirDesc]StampedChannelFailed
	nodeFailedTimes      map[lnwire.NodeID]int
	directionFailedTimes map[DirDesc]int
	chanNotRoutable      map[DirDesc]struct{}
}

// NewOutgoingPaymentMaster creates the master actor.
func NewOutgoingPaymentMaster(cfg *Config,
	pathFinder PathFinder) *OutgoingPaymentMaster {

	m := &OutgoingPaymentMaster{
		cfg:                  cfg,
		pathFinder:           pathFinder,
		state:                expectingPayments,
		payments:             make(map[FullPaymentTag]*OutgoingPaymentSender),
		trampolines:          make(map[lnwire.NodeID]TrampolineParams),
		chanFailedAtAmount:   make(map[DirDesc]StampedChannelFailed),
		nodeFailedTimes:      make(map[lnwire.NodeID]int),
		directionFailedTimes: make(map[DirDesc]int),
		chanNotRoutable:      make(map[DirDesc]struct{}),
	}
	m.mail = mailbox.New("payment-master", m.process)
	return m
}

// Process posts one message into the master's mailbox.
func (m *OutgoingPaymentMaster) Process(msg interface{}) {
	m.mail.Post(msg)
}

// Stop terminates the master actor.
func (m *OutgoingPaymentMaster) Stop() {
	m.mail.Stop()
}

// SetTrampolineParams records or refreshes one trampoline peer's terms.
func (m *OutgoingPaymentMaster) SetTrampolineParams(node lnwire.NodeID,
	params TrampolineParams) {

	m.mail.Post(setTrampolineParams{node: node, params: params})
}

type setTrampolineParams struct {
	node   lnwire.NodeID
	params TrampolineParams
}

func (m *OutgoingPaymentMaster) process(msg interface{}) {
	switch event := msg.(type) {
	case CreateSenderFSM:
		if _, ok := m.payments[event.Tag]; !ok {
			m.payments[event.Tag] = newSender(m, event.Tag,
				event.Listener)
		}

	case RemoveSenderFSM:
		if sender, ok := m.payments[event.Tag]; ok {
			sender.stopTimer()
			delete(m.payments, event.Tag)
		}

	case SendMultiPart:
		if event.ClearFailures {
			m.withFailuresReduced()
		}
		sender, ok := m.payments[event.Tag]
		if !ok {
			sender = newSender(m, event.Tag, Listener{})
			m.payments[event.Tag] = sender
		}
		sender.doProcess(event)
		m.mail.Post(CMDAskForRoute{})

	case setTrampolineParams:
		m.trampolines[event.node] = event.params

	case CMDAskForRoute:
		if m.state != expectingPayments {
			return
		}
		// Every sender decides for itself whether it has a shard
		// needing a route; the state mutex admits at most one
		// resulting request.
		for _, sender := range m.payments {
			sender.doProcess(event)
		}

	case RouteFound:
		m.state = expectingPayments
		if sender, ok := m.payments[event.Tag]; ok {
			sender.doProcess(event)
		}
		m.mail.Post(CMDAskForRoute{})

	case NoRouteAvailable:
		m.state = expectingPayments
		if sender, ok := m.payments[event.Tag]; ok {
			sender.doProcess(event)
		}
		m.mail.Post(CMDAskForRoute{})

	case CMDAbort:
		if sender, ok := m.payments[event.Tag]; ok {
			sender.doProcess(event)
		}

	case ChannelFailedAtAmount:
		m.recordChannelFailed(event.Desc)

	case NodeFailed:
		m.nodeFailedTimes[event.Node] += event.Increment

	case ChannelNotRoutable:
		m.chanNotRoutable[event.Desc] = struct{}{}

	case LocalReject:
		if sender, ok := m.payments[event.Add.Tag]; ok {
			sender.doProcess(event)
		}
		m.mail.Post(CMDAskForRoute{})

	case RemoteFulfill:
		if sender, ok := m.payments[event.Add.Tag]; ok {
			sender.doProcess(event)
		}

	case RemoteUpdateFail:
		if sender, ok := m.payments[event.Add.Tag]; ok {
			sender.doProcess(event)
		}
		m.mail.Post(CMDAskForRoute{})

	case RemoteUpdateMalform:
		if sender, ok := m.payments[event.Add.Tag]; ok {
			sender.doProcess(event)
		}
		m.mail.Post(CMDAskForRoute{})

	case InFlightPayments:
		for _, sender := range m.payments {
			sender.doProcess(event)
		}
	}
}

// recordChannelFailed clamps the channel's recorded sendable ceiling to its
// current in-flight usage and bumps the direction's penalty counter. The
// recorded amount is monotone non-increasing within one attempt.
func (m *OutgoingPaymentMaster) recordChannelFailed(desc DirDesc) {
	used := m.usedCapacities()[desc]

	amount := used
	if prev, ok := m.chanFailedAtAmount[desc]; ok &&
		prev.AmountCanSend < amount {
		amount = prev.AmountCanSend
	}

	capacity, ok := m.pathFinder.ChannelCapacity(desc.SCID)
	if !ok || capacity < amount {
		capacity = amount
	}

	m.chanFailedAtAmount[desc] = StampedChannelFailed{
		AmountCanSend: amount,
		Capacity:      capacity,
		Stamp:         m.cfg.now(),
	}
	m.directionFailedTimes[desc]++
}

// withFailuresReduced applies one decay step: penalty counters halve,
// failed-at amounts recover linearly toward capacity, and the hard
// exclusion set empties. A contraction: counters only decrease and amounts
// only move toward capacity.
func (m *OutgoingPaymentMaster) withFailuresReduced() {
	for node, count := range m.nodeFailedTimes {
		count /= 2
		if count == 0 {
			delete(m.nodeFailedTimes, node)
		} else {
			m.nodeFailedTimes[node] = count
		}
	}
	for desc, count := range m.directionFailedTimes {
		count /= 2
		if count == 0 {
			delete(m.directionFailedTimes, desc)
		} else {
			m.directionFailedTimes[desc] = count
		}
	}

	now := m.cfg.now()
	for desc, stamped := range m.chanFailedAtAmount {
		delta := now - stamped.Stamp
		if delta < 0 {
			delta = 0
		}
		recovered := stamped.AmountCanSend
		if m.cfg.FailedChanRecoveryMsec > 0 {
			headroom := float64(stamped.Capacity - stamped.AmountCanSend)
			ratio := float64(delta) / float64(m.cfg.FailedChanRecoveryMsec)
			recovered += lnwire.MilliSatoshi(headroom * ratio)
		}
		if recovered >= stamped.Capacity {
			delete(m.chanFailedAtAmount, desc)
			continue
		}
		stamped.AmountCanSend = recovered
		m.chanFailedAtAmount[desc] = stamped
	}

	m.chanNotRoutable = make(map[DirDesc]struct{})
}

// requestRoute is invoked synchronously by a sender during CMDAskForRoute
// handling. It dispatches to the path-finder only when no other request is
// outstanding; extra requests are dropped, the sender will be re-asked.
func (m *OutgoingPaymentMaster) requestRoute(req *RouteRequest) bool {
	if m.state != expectingPayments {
		return false
	}
	req.IgnoreDirections, req.IgnoreNodes = m.buildIgnores(req.Amount)
	m.state = waitingForRoute
	m.pathFinder.FindRoute(m.Process, req)
	return true
}

// buildIgnores derives the graph exclusions for one route search of the
// given amount.
func (m *OutgoingPaymentMaster) buildIgnores(
	amount lnwire.MilliSatoshi) (map[DirDesc]struct{},
	map[lnwire.NodeID]struct{}) {

	dirs := make(map[DirDesc]struct{}, len(m.chanNotRoutable))
	for desc := range m.chanNotRoutable {
		dirs[desc] = struct{}{}
	}

	for desc, count := range m.directionFailedTimes {
		if count >= m.cfg.MaxDirectionFailures {
			dirs[desc] = struct{}{}
		}
	}

	used := m.usedCapacities()

	// Channels too loaded to plausibly carry this amount on top of what
	// is already riding them, with a 1/32 headroom margin.
	for desc, inFlight := range used {
		capacity, ok := m.pathFinder.ChannelCapacity(desc.SCID)
		if !ok {
			continue
		}
		if inFlight+amount+amount/32 >= capacity {
			dirs[desc] = struct{}{}
		}
	}

	// Channels whose observed ceiling leaves no margin for this amount.
	for desc, stamped := range m.chanFailedAtAmount {
		if stamped.AmountCanSend <= amount+used[desc]+amount/8 {
			dirs[desc] = struct{}{}
		}
	}

	nodes := make(map[lnwire.NodeID]struct{})
	for node, count := range m.nodeFailedTimes {
		if count >= m.cfg.MaxStrangeNodeFailures {
			nodes[node] = struct{}{}
		}
	}
	return dirs, nodes
}

// usedCapacities sums the in-flight part amounts per graph edge across all
// senders.
func (m *OutgoingPaymentMaster) usedCapacities() map[DirDesc]lnwire.MilliSatoshi {
	used := make(map[DirDesc]lnwire.MilliSatoshi)
	for _, sender := range m.payments {
		for _, status := range sender.parts {
			wait, ok := status.(*waitForRouteOrInFlight)
			if !ok || wait.flight == nil {
				continue
			}
			route := wait.flight.Route
			for i := 1; i < len(route.Hops); i++ {
				if desc, ok := route.edgeInto(i); ok {
					used[desc] += wait.amount
				}
			}
		}
	}
	return used
}

// chanSendable pairs a channel with how much it can still take for one
// payment.
type chanSendable struct {
	channel  Channel
	sendable lnwire.MilliSatoshi
}

// sendableFor computes the per-channel sendable for one payment: available
// balance net of the fee reserve and of waiting parts the channel has not
// seen yet. In-flight parts already accepted by a channel are reflected in
// AvailableForSend, so subtracting them again would double count.
func (m *OutgoingPaymentMaster) sendableFor(chans []Channel,
	feeReserve lnwire.MilliSatoshi) []chanSendable {

	waiting := make(map[lnwire.ShortChannelID]lnwire.MilliSatoshi)
	for _, sender := range m.payments {
		for _, status := range sender.parts {
			wait, ok := status.(*waitForRouteOrInFlight)
			if !ok || wait.flight != nil {
				continue
			}
			waiting[wait.channel.ShortChannelID()] += wait.amount
		}
	}

	var out []chanSendable
	for _, channel := range chans {
		reserve := feeReserve + waiting[channel.ShortChannelID()]
		avail := channel.AvailableForSend()
		if avail <= reserve {
			continue
		}
		sendable := avail - reserve
		if cap := channel.MaxSendInFlight(); sendable > cap {
			sendable = cap
		}
		if sendable < channel.MinSendable() {
			continue
		}
		out = append(out, chanSendable{
			channel:  channel,
			sendable: sendable,
		})
	}
	return out
}
