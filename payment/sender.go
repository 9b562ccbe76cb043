// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package payment

import (
	"crypto/rand"
	"fmt"
	mrand "math/rand"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/lightspan/lightspand/lnwire"
	"github.com/lightspan/lightspand/onion"
)

// senderState is the lifecycle of one payment. INIT and PENDING may move
// forward; ABORTED and SUCCEEDED are absorbing.
type senderState int

const (
	stateInit senderState = iota
	statePending
	stateAborted
	stateSucceeded
)

// partStatus is the sum type of one MPP shard's condition.
type partStatus interface {
	amountMsat() lnwire.MilliSatoshi
}

// waitForChanOnline is a placeholder shard holding an amount no channel can
// currently carry, hoping a sleeping channel reconnects.
type waitForChanOnline struct {
	partID onion.PartID
	amount lnwire.MilliSatoshi
}

func (p *waitForChanOnline) amountMsat() lnwire.MilliSatoshi { return p.amount }

// waitForRouteOrInFlight is a shard assigned to a channel: first awaiting a
// route (flight nil), then riding an HTLC (flight set).
type waitForRouteOrInFlight struct {
	partID     onion.PartID
	amount     lnwire.MilliSatoshi
	channel    Channel
	sessionKey *btcec.PrivateKey

	flight *CmdAddHTLC

	remoteAttempts int
	localFailed    map[lnwire.ShortChannelID]struct{}
}

func (p *waitForRouteOrInFlight) amountMsat() lnwire.MilliSatoshi {
	return p.amount
}

// OutgoingPaymentSender is the per-payment state machine. It is driven
// synchronously by the payment master's actor and must never be touched
// from anywhere else.
type OutgoingPaymentSender struct {
	master   *OutgoingPaymentMaster
	tag      FullPaymentTag
	listener Listener

	state senderState
	cmd   *SendMultiPart
	parts map[onion.PartID]partStatus

	// failures is reverse chronological: newest first.
	failures []Failure

	cancelTimer   func()
	wholeNotified bool
}

func newSender(master *OutgoingPaymentMaster, tag FullPaymentTag,
	listener Listener) *OutgoingPaymentSender {

	return &OutgoingPaymentSender{
		master:   master,
		tag:      tag,
		listener: listener,
		state:    stateInit,
		parts:    make(map[onion.PartID]partStatus),
	}
}

// Failures returns the reverse-chronological failure record.
func (s *OutgoingPaymentSender) Failures() []Failure {
	return append([]Failure{}, s.failures...)
}

func (s *OutgoingPaymentSender) stopTimer() {
	if s.cancelTimer != nil {
		s.cancelTimer()
		s.cancelTimer = nil
	}
}

func (s *OutgoingPaymentSender) terminal() bool {
	return s.state == stateAborted || s.state == stateSucceeded
}

// doProcess runs one message. Called only from the master's actor.
func (s *OutgoingPaymentSender) doProcess(msg interface{}) {
	switch event := msg.(type) {
	case SendMultiPart:
		if s.terminal() {
			return
		}
		s.cmd = &event
		s.assignToChans(s.sendableNow(), event.TotalAmount)

	case CMDAskForRoute:
		s.maybeAskRoute()

	case RouteFound:
		s.handleRouteFound(event)

	case NoRouteAvailable:
		s.handleNoRoute(event)

	case CMDAbort:
		s.handleAbortTimer()

	case LocalReject:
		s.handleLocalReject(event)

	case RemoteFulfill:
		s.handleRemoteFulfill(event)

	case RemoteUpdateFail:
		s.handleRemoteFail(event)

	case RemoteUpdateMalform:
		s.handleRemoteMalform(event)

	case InFlightPayments:
		s.handleInFlightSnapshot(event)
	}
}

// sendableNow asks the master for the per-channel sendable across the
// currently operational allowed channels.
func (s *OutgoingPaymentSender) sendableNow() []chanSendable {
	var operational []Channel
	for _, channel := range s.cmd.AllowedChans {
		if channel.IsOperational() {
			operational = append(operational, channel)
		}
	}
	return s.master.sendableFor(operational, s.cmd.TotalFeeReserve)
}

// assignToChans splits an amount across channels: shuffled for balance,
// stable-sorted so channels straight to the payee go first, then greedily
// filled. If coverage fails but sleeping channels could cover the rest, a
// placeholder part waits for them; otherwise the payment aborts with
// not-enough-funds. Every call rewinds the abort timer.
func (s *OutgoingPaymentSender) assignToChans(sendables []chanSendable,
	amount lnwire.MilliSatoshi) {

	mrand.Shuffle(len(sendables), func(i, j int) {
		sendables[i], sendables[j] = sendables[j], sendables[i]
	})
	sort.SliceStable(sendables, func(i, j int) bool {
		return sendables[i].channel.PeerID() == s.cmd.Target &&
			sendables[j].channel.PeerID() != s.cmd.Target
	})

	leftover := amount
	var created []*waitForRouteOrInFlight
	for _, cs := range sendables {
		if leftover == 0 {
			break
		}
		take := leftover
		if cs.sendable < take {
			take = cs.sendable
		}
		if take == 0 {
			continue
		}

		part, err := s.newWaitPart(take, cs.channel, 0, nil)
		if err != nil {
			log.Errorf("payment %x: part key generation: %v",
				s.tag.PaymentHash[:8], err)
			continue
		}
		created = append(created, part)
		leftover -= take
	}

	switch {
	case leftover == 0:
		for _, part := range created {
			s.parts[part.partID] = part
		}
		s.state = statePending

	case s.sleepingSendableSum() >= leftover:
		// Enough capacity is merely asleep: commit what we have and
		// park the remainder on a reconnect.
		for _, part := range created {
			s.parts[part.partID] = part
		}
		placeholder := &waitForChanOnline{amount: leftover}
		if _, err := rand.Read(placeholder.partID[:]); err == nil {
			s.parts[placeholder.partID] = placeholder
		}
		s.state = statePending

	default:
		s.recordFailure(LocalFailure{
			Code:   FailNotEnoughFunds,
			Amount: amount,
		})
		s.abortAndNotify()
		return
	}

	s.stopTimer()
	s.cancelTimer = s.master.mail.PostDelayed(CMDAbort{Tag: s.tag},
		s.master.cfg.PaymentTimeout)
}

// newWaitPart creates a shard with a fresh random onion session key; the
// key's public form is the part id.
func (s *OutgoingPaymentSender) newWaitPart(amount lnwire.MilliSatoshi,
	channel Channel, attempts int,
	localFailed map[lnwire.ShortChannelID]struct{}) (*waitForRouteOrInFlight,
	error) {

	sessionKey, err := onion.NewSessionKey()
	if err != nil {
		return nil, err
	}
	if localFailed == nil {
		localFailed = make(map[lnwire.ShortChannelID]struct{})
	}
	return &waitForRouteOrInFlight{
		partID:         onion.SessionPartID(sessionKey),
		amount:         amount,
		channel:        channel,
		sessionKey:     sessionKey,
		remoteAttempts: attempts,
		localFailed:    localFailed,
	}, nil
}

// sleepingSendableSum is the capacity currently asleep among the allowed
// channels.
func (s *OutgoingPaymentSender) sleepingSendableSum() lnwire.MilliSatoshi {
	var total lnwire.MilliSatoshi
	for _, channel := range s.cmd.AllowedChans {
		if !channel.IsSleeping() {
			continue
		}
		avail := channel.AvailableForSend()
		if avail > s.cmd.TotalFeeReserve {
			total += avail - s.cmd.TotalFeeReserve
		}
	}
	return total
}

// totalSlotsLeft is how many more HTLCs the operational allowed channels
// can hold, per-channel capped by configuration.
func (s *OutgoingPaymentSender) totalSlotsLeft() int {
	total := 0
	for _, channel := range s.cmd.AllowedChans {
		if !channel.IsOperational() {
			continue
		}
		slots := channel.OutgoingHtlcSlotsLeft()
		if slots > s.master.cfg.MaxInChannelHtlcs {
			slots = s.master.cfg.MaxInChannelHtlcs
		}
		total += slots
	}
	return total
}

// maybeAskRoute requests one route for the largest shard still awaiting
// one. At most one request; the master's mutex drops the rest.
func (s *OutgoingPaymentSender) maybeAskRoute() {
	if s.state != statePending {
		return
	}

	var best *waitForRouteOrInFlight
	for _, status := range s.parts {
		wait, ok := status.(*waitForRouteOrInFlight)
		if !ok || wait.flight != nil {
			continue
		}
		if best == nil || wait.amount > best.amount {
			best = wait
		}
	}
	if best == nil {
		return
	}

	s.master.requestRoute(&RouteRequest{
		Tag:        s.tag,
		PartID:     best.partID,
		Source:     best.channel.PeerID(),
		Target:     s.routeTarget(),
		Amount:     best.amount,
		FeeReserve: s.cmd.TotalFeeReserve,
		CltvExpiry: s.cmd.CltvExpiry,
	})
}

// routeTarget is the node routes are searched toward: the trampoline peer
// when one is interposed, the payee otherwise.
func (s *OutgoingPaymentSender) routeTarget() lnwire.NodeID {
	if s.cmd.TrampolineVia != nil {
		return *s.cmd.TrampolineVia
	}
	return s.cmd.Target
}

func (s *OutgoingPaymentSender) findWait(
	partID onion.PartID) (*waitForRouteOrInFlight, bool) {

	wait, ok := s.parts[partID].(*waitForRouteOrInFlight)
	return wait, ok
}

func (s *OutgoingPaymentSender) handleRouteFound(event RouteFound) {
	wait, ok := s.findWait(event.PartID)
	if !ok || wait.flight != nil || s.state != statePending {
		return
	}

	cmd, err := s.buildAdd(wait, event.Route)
	if err != nil {
		log.Errorf("payment %x: onion build: %v",
			s.tag.PaymentHash[:8], err)
		s.recordFailure(LocalFailure{
			Code:   FailNotRetryingNoDetails,
			Amount: wait.amount,
		})
		s.abortAndNotify()
		return
	}

	wait.flight = cmd
	wait.channel.SendAdd(cmd)
}

// buildAdd seals the onion for one shard over the found route and wraps it
// into a channel command. With a trampoline interposed, an inner onion to
// the payee is embedded and the outer payment secret is freshly random so
// the trampoline never learns the invoice secret.
func (s *OutgoingPaymentSender) buildAdd(wait *waitForRouteOrInFlight,
	route *Route) (*CmdAddHTLC, error) {

	if len(route.Hops) == 0 {
		return nil, fmt.Errorf("empty route")
	}

	outerSecret := s.cmd.InvoiceSecret
	var trampolinePacket []byte
	if s.cmd.TrampolineVia != nil {
		if _, err := rand.Read(outerSecret[:]); err != nil {
			return nil, err
		}
		packet, err := s.buildTrampolineOnion(wait)
		if err != nil {
			return nil, err
		}
		trampolinePacket = packet
	}

	path := make([]*btcec.PublicKey, len(route.Hops))
	payloads := make([][]byte, len(route.Hops))
	for i, hop := range route.Hops {
		pub := hop.PubKey
		if pub == nil {
			parsed, err := hop.NodeID.ParsePubKey()
			if err != nil {
				return nil, fmt.Errorf("hop %d key: %w", i, err)
			}
			pub = parsed
		}
		path[i] = pub

		var payload lnwire.OnionPayload
		if i == len(route.Hops)-1 {
			payload.AddAmtToForward(wait.amount)
			payload.AddOutgoingCltv(s.cmd.CltvExpiry)
			payload.AddPaymentData(outerSecret, s.cmd.TotalAmount)
			if trampolinePacket != nil {
				payload.AddTrampolineOnion(trampolinePacket)
			}
		} else {
			payload.AddAmtToForward(wait.amount)
			payload.AddOutgoingCltv(s.cmd.CltvExpiry)
			payload.AddOutgoingChanID(route.Hops[i+1].SCID)
		}
		serialized, err := payload.Serialize()
		if err != nil {
			return nil, err
		}
		payloads[i] = serialized
	}

	packet, secrets, err := onion.NewPacket(wait.sessionKey, path,
		payloads, s.tag.PaymentHash[:], lnwire.PaymentOnionSize)
	if err != nil {
		return nil, err
	}

	return &CmdAddHTLC{
		Tag:           s.tag,
		PartID:        wait.partID,
		Amount:        wait.amount + route.TotalFee,
		CltvExpiry:    s.cmd.CltvExpiry,
		OnionBlob:     packet.Serialize(),
		SharedSecrets: secrets,
		Route:         route,
	}, nil
}

// buildTrampolineOnion seals the inner onion carrying the invoice secret
// from the trampoline peer to the payee.
func (s *OutgoingPaymentSender) buildTrampolineOnion(
	wait *waitForRouteOrInFlight) ([]byte, error) {

	trampoline := *s.cmd.TrampolineVia
	trampolineKey, err := trampoline.ParsePubKey()
	if err != nil {
		return nil, fmt.Errorf("trampoline key: %w", err)
	}
	targetKey, err := s.cmd.Target.ParsePubKey()
	if err != nil {
		return nil, fmt.Errorf("target key: %w", err)
	}

	params := s.master.trampolines[trampoline]

	var hopPayload lnwire.OnionPayload
	hopPayload.AddAmtToForward(wait.amount)
	hopPayload.AddOutgoingCltv(s.cmd.CltvExpiry + uint32(params.CltvDelta))
	hopPayload.AddRecord(lnwire.RecordOutgoingNodeID, s.cmd.Target[:])
	hopBytes, err := hopPayload.Serialize()
	if err != nil {
		return nil, err
	}

	var finalPayload lnwire.OnionPayload
	finalPayload.AddAmtToForward(wait.amount)
	finalPayload.AddOutgoingCltv(s.cmd.CltvExpiry)
	finalPayload.AddPaymentData(s.cmd.InvoiceSecret, s.cmd.TotalAmount)
	finalBytes, err := finalPayload.Serialize()
	if err != nil {
		return nil, err
	}

	innerKey, err := onion.NewSessionKey()
	if err != nil {
		return nil, err
	}
	packet, _, err := onion.NewPacket(innerKey,
		[]*btcec.PublicKey{trampolineKey, targetKey},
		[][]byte{hopBytes, finalBytes}, s.tag.PaymentHash[:],
		lnwire.TrampolineOnionSize)
	if err != nil {
		return nil, err
	}
	return packet.Serialize(), nil
}

func (s *OutgoingPaymentSender) handleNoRoute(event NoRouteAvailable) {
	wait, ok := s.findWait(event.PartID)
	if !ok || wait.flight != nil || s.state != statePending {
		return
	}

	// Another channel may still reach the target.
	if alt, ok := s.alternativeChannel(wait); ok {
		wait.channel = alt
		return
	}

	if s.totalSlotsLeft() >= 1 {
		delete(s.parts, wait.partID)
		s.cutIntoHalves(wait.amount)
		return
	}

	s.recordFailure(LocalFailure{
		Code:   FailNoRoutesFound,
		Amount: wait.amount,
	})
	s.abortAndNotify()
}

// alternativeChannel picks a currently-sendable channel other than the
// part's current one and outside its local failure history.
func (s *OutgoingPaymentSender) alternativeChannel(
	wait *waitForRouteOrInFlight) (Channel, bool) {

	for _, cs := range s.sendableNow() {
		scid := cs.channel.ShortChannelID()
		if scid == wait.channel.ShortChannelID() {
			continue
		}
		if _, failed := wait.localFailed[scid]; failed {
			continue
		}
		if cs.sendable >= wait.amount {
			return cs.channel, true
		}
	}
	return nil, false
}

// cutIntoHalves re-assigns an amount as two sequential halves so the second
// assignment observes the first one's reservations.
func (s *OutgoingPaymentSender) cutIntoHalves(amount lnwire.MilliSatoshi) {
	half := amount / 2
	s.assignToChans(s.sendableNow(), half)
	if s.state == statePending {
		s.assignToChans(s.sendableNow(), amount-half)
	}
}

// handleAbortTimer fires when the payment timer lapses: if any shard is
// still parked waiting for a channel, the whole payment times out. HTLCs
// already in channels are past the point of local cancellation.
func (s *OutgoingPaymentSender) handleAbortTimer() {
	if s.state != statePending {
		return
	}
	for _, status := range s.parts {
		if parked, ok := status.(*waitForChanOnline); ok {
			s.recordFailure(LocalFailure{
				Code:   FailTimedOut,
				Amount: parked.amount,
			})
			s.abortAndNotify()
			return
		}
	}
}

func (s *OutgoingPaymentSender) handleLocalReject(event LocalReject) {
	wait, ok := s.findWait(event.Add.PartID)
	if !ok || wait.flight == nil {
		return
	}
	if s.terminal() {
		// Terminal states only drain: the amount comes off the books.
		delete(s.parts, wait.partID)
		return
	}

	switch event.Reason {
	case RejectInPrincipleNotSendable:
		s.recordFailure(LocalFailure{
			Code:   FailPaymentNotSendable,
			Amount: wait.amount,
		})
		s.abortAndNotify()

	case RejectChannelOffline:
		delete(s.parts, wait.partID)
		s.assignToChans(s.sendableNow(), wait.amount)

	default:
		wait.localFailed[wait.channel.ShortChannelID()] = struct{}{}
		alt, ok := s.alternativeChannel(wait)
		if !ok {
			s.recordFailure(LocalFailure{
				Code:   FailRunOutOfCapableChans,
				Amount: wait.amount,
			})
			s.abortAndNotify()
			return
		}

		delete(s.parts, wait.partID)
		part, err := s.newWaitPart(wait.amount, alt,
			wait.remoteAttempts, wait.localFailed)
		if err != nil {
			s.recordFailure(LocalFailure{
				Code:   FailNotRetryingNoDetails,
				Amount: wait.amount,
			})
			s.abortAndNotify()
			return
		}
		s.parts[part.partID] = part
	}
}

func (s *OutgoingPaymentSender) handleRemoteFulfill(event RemoteFulfill) {
	if event.Add.Tag.PaymentHash != s.tag.PaymentHash {
		return
	}

	// The first fulfill wins the payment; terminality absorbs the rest.
	if s.state != stateSucceeded && s.state != stateAborted {
		s.state = stateSucceeded
		s.stopTimer()
		if s.listener.OnSuccess != nil {
			s.listener.OnSuccess(event)
		}
	}
	delete(s.parts, event.Add.PartID)
}

func (s *OutgoingPaymentSender) handleRemoteFail(event RemoteUpdateFail) {
	wait, ok := s.findWait(event.Add.PartID)
	if !ok || wait.flight == nil {
		return
	}
	if s.terminal() {
		delete(s.parts, wait.partID)
		return
	}

	route := wait.flight.Route
	decrypted, err := onion.DecryptFailure(wait.flight.SharedSecrets,
		event.Fail.Reason)
	if err != nil {
		s.recordFailure(UnreadableRemoteFailure{Route: route})
		s.punishRandomTransitNode(route)
		s.resolveRemoteFail(wait)
		return
	}

	failure := RemoteFailure{Decrypted: decrypted, Route: route}
	s.recordFailure(failure)

	if failure.isFinalRecipient() || failure.isPaymentTimeout() {
		s.abortAndNotify()
		return
	}

	s.punishForFailure(failure)
	s.resolveRemoteFail(wait)
}

// punishForFailure updates the master's failure statistics according to
// what the erring transit node claims.
func (s *OutgoingPaymentSender) punishForFailure(failure RemoteFailure) {
	var (
		m        = s.master
		cfg      = m.cfg
		route    = failure.Route
		hopIndex = failure.Decrypted.HopIndex
		origin   = failure.OriginNode()
		msg      = failure.Decrypted.Msg
	)

	switch {
	case msg.Code.IsUpdateClass() && msg.Update != nil:
		update := msg.Update
		if !update.VerifySig(origin) {
			// A forged update is the worst signal a node can send.
			m.nodeFailedTimes[origin] +=
				cfg.MaxStrangeNodeFailures * 32
			return
		}
		m.pathFinder.ApplyChannelUpdate(update)

		usedEdge, hasEdge := route.edgeFrom(hopIndex)
		refDesc := DirDesc{
			SCID:     update.ShortChannelID,
			Position: update.Position(),
		}

		switch {
		case hasEdge && update.ShortChannelID != usedEdge.SCID:
			// The node talks about a channel we never used:
			// distrust both.
			m.recordChannelFailed(usedEdge)
			m.recordChannelFailed(refDesc)

		case hasEdge && s.sameAsRouteUpdate(route, hopIndex, update):
			// Nothing new in the update means the real problem
			// is balance, not policy.
			m.recordChannelFailed(usedEdge)

		case update.IsDisabled():
			m.chanNotRoutable[refDesc] = struct{}{}

		default:
			// The update checks out, but oscillating peers can
			// weaponize endless policy refreshes.
			m.nodeFailedTimes[origin]++
		}

	case msg.Code.IsNodeClass():
		if m.nodeFailedTimes[origin] < cfg.MaxStrangeNodeFailures {
			m.nodeFailedTimes[origin] = cfg.MaxStrangeNodeFailures
		}

	default:
		if edge, ok := route.edgeFrom(hopIndex); ok {
			m.chanNotRoutable[edge] = struct{}{}
		} else if m.nodeFailedTimes[origin] < cfg.MaxStrangeNodeFailures {
			m.nodeFailedTimes[origin] = cfg.MaxStrangeNodeFailures
		}
	}
}

// sameAsRouteUpdate reports whether the returned update is byte-identical
// to the policy the route was built with for the erring hop's outgoing
// edge.
func (s *OutgoingPaymentSender) sameAsRouteUpdate(route *Route, hopIndex int,
	update *lnwire.ChannelUpdate) bool {

	if hopIndex+1 >= len(route.Hops) {
		return false
	}
	prev := route.Hops[hopIndex+1].Update
	if prev == nil {
		return false
	}
	return prev.Core() == update.Core() &&
		prev.Timestamp == update.Timestamp &&
		prev.Signature == update.Signature
}

// punishRandomTransitNode penalizes one uniformly chosen internal hop when
// a failure cannot be attributed: first and last hops are excluded.
func (s *OutgoingPaymentSender) punishRandomTransitNode(route *Route) {
	if len(route.Hops) < 3 {
		return
	}
	victim := route.Hops[1+mrand.Intn(len(route.Hops)-2)].NodeID
	if s.master.nodeFailedTimes[victim] < s.master.cfg.MaxStrangeNodeFailures {
		s.master.nodeFailedTimes[victim] =
			s.master.cfg.MaxStrangeNodeFailures
	}
}

// resolveRemoteFail retires the failed shard and retries it: on any
// currently-sendable channel (the failed one included) while the retry
// budget lasts, split in half when that fails but HTLC slots remain, and as
// a terminal failure otherwise.
func (s *OutgoingPaymentSender) resolveRemoteFail(
	wait *waitForRouteOrInFlight) {

	delete(s.parts, wait.partID)

	if wait.remoteAttempts < s.master.cfg.MaxRemoteAttempts {
		for _, cs := range s.sendableNow() {
			if cs.sendable < wait.amount {
				continue
			}
			part, err := s.newWaitPart(wait.amount, cs.channel,
				wait.remoteAttempts+1, nil)
			if err != nil {
				break
			}
			s.parts[part.partID] = part
			return
		}
	}

	if s.totalSlotsLeft() >= 1 {
		s.cutIntoHalves(wait.amount)
		return
	}

	s.recordFailure(LocalFailure{
		Code:   FailRunOutOfRetryAttempts,
		Amount: wait.amount,
	})
	s.abortAndNotify()
}

func (s *OutgoingPaymentSender) handleRemoteMalform(event RemoteUpdateMalform) {
	wait, ok := s.findWait(event.Add.PartID)
	if !ok || wait.flight == nil {
		return
	}
	if s.terminal() {
		delete(s.parts, wait.partID)
		return
	}

	s.recordFailure(LocalFailure{
		Code:   FailNodeCouldNotParseOnion,
		Amount: wait.amount,
	})
	s.resolveRemoteFail(wait)
}

// handleInFlightSnapshot finalizes a success: once nothing remains in any
// channel for this tag and no shard is still tracked, the listeners learn
// the whole payment settled.
func (s *OutgoingPaymentSender) handleInFlightSnapshot(event InFlightPayments) {
	if s.state != stateSucceeded || s.wholeNotified {
		return
	}
	for _, status := range s.parts {
		if wait, ok := status.(*waitForRouteOrInFlight); ok &&
			wait.flight != nil {
			return
		}
	}
	if len(event.Adds[s.tag]) > 0 {
		return
	}

	s.wholeNotified = true
	if s.listener.OnWholePaymentSucceeded != nil {
		s.listener.OnWholePaymentSucceeded(s.tag)
	}
}

// recordFailure prepends one failure to the reverse-chronological record.
func (s *OutgoingPaymentSender) recordFailure(failure Failure) {
	s.failures = append([]Failure{failure}, s.failures...)
}

// abortAndNotify moves to ABORTED and reports the failure record exactly
// once. Absorbing: a payment that already succeeded stays succeeded.
func (s *OutgoingPaymentSender) abortAndNotify() {
	if s.terminal() {
		return
	}
	s.state = stateAborted
	s.stopTimer()
	if s.listener.OnFailure != nil {
		s.listener.OnFailure(s.Failures())
	}
}
