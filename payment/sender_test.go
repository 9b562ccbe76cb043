// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package payment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lightspan/lightspand/lnwire"
	"github.com/lightspan/lightspand/onion"
)

// TestImbalanceFallbackSplit runs the seed scenario: two channels of
// 1_000_000 msat each, 10_000 fee reserve, paying 1_500_000. Two parts must
// cover the amount, each within one channel's capacity, with the
// direct-payee channel preferred.
func TestImbalanceFallbackSplit(t *testing.T) {
	clock := &fixedClock{}
	pf := &fakePathFinder{}
	m := newWiredMaster(t, clock, pf)

	_, target := newKeyedNode(t)
	_, otherPeer := newKeyedNode(t)
	direct := newFakeChannel(1, target, 1_000_000+10_000)
	indirect := newFakeChannel(2, otherPeer, 1_000_000+10_000)

	tag := testTag(1)
	m.process(CreateSenderFSM{Tag: tag})
	m.process(SendMultiPart{
		Tag:             tag,
		Target:          target,
		TotalAmount:     1_500_000,
		TotalFeeReserve: 10_000,
		CltvExpiry:      100,
		AllowedChans:    []Channel{indirect, direct},
	})

	sender := m.payments[tag]
	require.Equal(t, statePending, sender.state)
	require.Len(t, sender.parts, 2)

	var total lnwire.MilliSatoshi
	byChan := make(map[lnwire.ShortChannelID]lnwire.MilliSatoshi)
	for _, status := range sender.parts {
		wait := status.(*waitForRouteOrInFlight)
		require.LessOrEqual(t, uint64(wait.amount), uint64(1_000_000))
		total += wait.amount
		byChan[wait.channel.ShortChannelID()] = wait.amount
	}
	require.Equal(t, lnwire.MilliSatoshi(1_500_000), total)

	// Direct-payee channel is filled first and therefore fully.
	require.Equal(t, lnwire.MilliSatoshi(1_000_000), byChan[direct.scid])
	require.Equal(t, lnwire.MilliSatoshi(500_000), byChan[indirect.scid])
}

// TestNotEnoughFunds checks the hard abort when neither live nor sleeping
// capacity covers the amount.
func TestNotEnoughFunds(t *testing.T) {
	clock := &fixedClock{}
	pf := &fakePathFinder{}
	m := newWiredMaster(t, clock, pf)

	_, target := newKeyedNode(t)
	channel := newFakeChannel(1, target, 100_000)

	var failures []Failure
	tag := testTag(2)
	m.process(CreateSenderFSM{Tag: tag, Listener: Listener{
		OnFailure: func(fs []Failure) { failures = fs },
	}})
	m.process(SendMultiPart{
		Tag:          tag,
		Target:       target,
		TotalAmount:  1_000_000,
		AllowedChans: []Channel{channel},
	})

	require.Equal(t, stateAborted, m.payments[tag].state)
	require.NotEmpty(t, failures)
	local := failures[0].(LocalFailure)
	require.Equal(t, FailNotEnoughFunds, local.Code)
}

// TestSleepingChannelPlaceholder checks the wait-for-reconnect path and the
// timeout abort: a sleeping channel justifies a placeholder part, and the
// abort timer turns that placeholder into TIMED_OUT.
func TestSleepingChannelPlaceholder(t *testing.T) {
	clock := &fixedClock{}
	pf := &fakePathFinder{}
	m := newWiredMaster(t, clock, pf)

	_, target := newKeyedNode(t)
	live := newFakeChannel(1, target, 300_000)
	asleep := newFakeChannel(2, target, 900_000)
	asleep.operational = false
	asleep.sleeping = true

	var failures []Failure
	tag := testTag(3)
	m.process(CreateSenderFSM{Tag: tag, Listener: Listener{
		OnFailure: func(fs []Failure) { failures = fs },
	}})
	m.process(SendMultiPart{
		Tag:          tag,
		Target:       target,
		TotalAmount:  1_000_000,
		AllowedChans: []Channel{live, asleep},
	})

	sender := m.payments[tag]
	require.Equal(t, statePending, sender.state)

	parked := 0
	for _, status := range sender.parts {
		if _, ok := status.(*waitForChanOnline); ok {
			parked++
		}
	}
	require.Equal(t, 1, parked)

	// The timer fires while the placeholder still exists: whole payment
	// times out.
	m.process(CMDAbort{Tag: tag})
	require.Equal(t, stateAborted, sender.state)
	require.Equal(t, FailTimedOut, failures[0].(LocalFailure).Code)
}

// TestCutIntoHalves runs the seed scenario: a single 800_000 part receives
// NoRouteAvailable with no alternative channel and plentiful slots; it must
// be replaced by two 400_000 parts.
func TestCutIntoHalves(t *testing.T) {
	clock := &fixedClock{}
	pf := &fakePathFinder{}
	m := newWiredMaster(t, clock, pf)

	_, target := newKeyedNode(t)
	channel := newFakeChannel(1, target, 2_000_000)

	tag := testTag(4)
	m.process(CreateSenderFSM{Tag: tag})
	m.process(SendMultiPart{
		Tag:          tag,
		Target:       target,
		TotalAmount:  800_000,
		AllowedChans: []Channel{channel},
	})
	m.process(CMDAskForRoute{})

	req := pf.lastRequest(t)
	require.Equal(t, lnwire.MilliSatoshi(800_000), req.Amount)
	pf.reply(m, NoRouteAvailable{Tag: tag, PartID: req.PartID})

	sender := m.payments[tag]
	require.Equal(t, statePending, sender.state)
	require.Len(t, sender.parts, 2)
	for _, status := range sender.parts {
		wait := status.(*waitForRouteOrInFlight)
		require.Equal(t, lnwire.MilliSatoshi(400_000), wait.amount)
		require.Nil(t, wait.flight)
	}
}

// TestNoRouteAlternativeChannel checks that a part is simply re-homed when
// another sendable channel exists.
func TestNoRouteAlternativeChannel(t *testing.T) {
	clock := &fixedClock{}
	pf := &fakePathFinder{}
	m := newWiredMaster(t, clock, pf)

	_, target := newKeyedNode(t)
	chanA := newFakeChannel(1, target, 1_000_000)
	chanB := newFakeChannel(2, target, 1_000_000)

	tag := testTag(5)
	m.process(CreateSenderFSM{Tag: tag})
	m.process(SendMultiPart{
		Tag:          tag,
		Target:       target,
		TotalAmount:  500_000,
		AllowedChans: []Channel{chanA, chanB},
	})
	m.process(CMDAskForRoute{})

	req := pf.lastRequest(t)
	sender := m.payments[tag]
	previous := sender.parts[req.PartID].(*waitForRouteOrInFlight)
	previousChan := previous.channel.ShortChannelID()

	pf.reply(m, NoRouteAvailable{Tag: tag, PartID: req.PartID})

	wait := sender.parts[req.PartID].(*waitForRouteOrInFlight)
	require.NotEqual(t, previousChan, wait.channel.ShortChannelID())
	require.Len(t, sender.parts, 1)
}

// TestRemoteUpdateFailure runs seed scenario four in three variants: a
// valid update for the used edge feeds the path-finder; a disabled one also
// hard-excludes the edge; a byte-identical one records an imbalance
// ceiling.
func TestRemoteUpdateFailure(t *testing.T) {
	_, target := newKeyedNode(t)

	setup := func(t *testing.T) (*OutgoingPaymentMaster, *fakePathFinder,
		*fakeChannel, []routeNode, *Route, *CmdAddHTLC,
		FullPaymentTag) {

		clock := &fixedClock{}
		pf := &fakePathFinder{}
		m := newWiredMaster(t, clock, pf)
		channel := newFakeChannel(1, target, 2_000_000)
		nodes, route := makeRoute(t, 4)
		tag := testTag(6)
		add := launchPayment(t, m, pf, tag, channel, target, 600_000,
			route)
		return m, pf, channel, nodes, route, add, tag
	}

	t.Run("valid update", func(t *testing.T) {
		m, pf, _, nodes, route, add, tag := setup(t)

		// C (index 2) returns an update for the C->D edge it just
		// refused, validly signed.
		usedEdge, ok := route.edgeFrom(2)
		require.True(t, ok)
		update := signedUpdate(t, nodes[2].priv, usedEdge.SCID,
			usedEdge.Position, false)

		m.process(RemoteUpdateFail{Add: add, Fail: &lnwire.UpdateFailHTLC{
			Reason: failurePacketFrom(t, add, 2,
				&lnwire.FailureMessage{
					Code:   lnwire.CodeTemporaryChannelFailure,
					Update: update,
				}),
		}})

		require.Len(t, pf.applied, 1)
		require.Equal(t, usedEdge.SCID, pf.applied[0].ShortChannelID)
		require.Equal(t, 1, m.nodeFailedTimes[nodes[2].id])

		// The failed part was retried on the same channel.
		sender := m.payments[tag]
		require.Equal(t, statePending, sender.state)
		require.Len(t, sender.parts, 1)
	})

	t.Run("disabled update excludes edge", func(t *testing.T) {
		m, pf, _, nodes, route, add, _ := setup(t)

		usedEdge, _ := route.edgeFrom(2)
		update := signedUpdate(t, nodes[2].priv, usedEdge.SCID,
			usedEdge.Position, true)

		m.process(RemoteUpdateFail{Add: add, Fail: &lnwire.UpdateFailHTLC{
			Reason: failurePacketFrom(t, add, 2,
				&lnwire.FailureMessage{
					Code:   lnwire.CodeChannelDisabled,
					Update: update,
				}),
		}})

		require.Len(t, pf.applied, 1)
		_, excluded := m.chanNotRoutable[usedEdge]
		require.True(t, excluded, "disabled edge not hard-excluded")
	})

	t.Run("identical update is imbalance", func(t *testing.T) {
		m, _, _, nodes, route, _, _ := setup(t)

		// Rebuild the flight so the route carries the policy the
		// update will repeat.
		usedEdge, _ := route.edgeFrom(2)
		update := signedUpdate(t, nodes[2].priv, usedEdge.SCID,
			usedEdge.Position, false)
		route.Hops[3].Update = update

		sender := m.payments[testTag(6)]
		var add *CmdAddHTLC
		for _, status := range sender.parts {
			add = status.(*waitForRouteOrInFlight).flight
		}
		require.NotNil(t, add)

		m.process(RemoteUpdateFail{Add: add, Fail: &lnwire.UpdateFailHTLC{
			Reason: failurePacketFrom(t, add, 2,
				&lnwire.FailureMessage{
					Code:   lnwire.CodeTemporaryChannelFailure,
					Update: update,
				}),
		}})

		_, ok := m.chanFailedAtAmount[usedEdge]
		require.True(t, ok, "imbalance ceiling not recorded")
		require.Equal(t, 1, m.directionFailedTimes[usedEdge])
	})

	t.Run("different channel penalizes both", func(t *testing.T) {
		m, _, _, nodes, route, add, _ := setup(t)

		usedEdge, _ := route.edgeFrom(2)
		foreign := lnwire.NewShortChanIDFromInt(999)
		update := signedUpdate(t, nodes[2].priv, foreign, 0, false)

		m.process(RemoteUpdateFail{Add: add, Fail: &lnwire.UpdateFailHTLC{
			Reason: failurePacketFrom(t, add, 2,
				&lnwire.FailureMessage{
					Code:   lnwire.CodeTemporaryChannelFailure,
					Update: update,
				}),
		}})

		_, usedHit := m.chanFailedAtAmount[usedEdge]
		_, foreignHit := m.chanFailedAtAmount[DirDesc{SCID: foreign}]
		require.True(t, usedHit && foreignHit,
			"both channels must be penalized")
	})
}

// TestInvalidSignaturePunishment runs seed scenario five: an update-class
// failure with a bad signature costs the origin 32 times the strange-node
// cap.
func TestInvalidSignaturePunishment(t *testing.T) {
	clock := &fixedClock{}
	pf := &fakePathFinder{}
	m := newWiredMaster(t, clock, pf)

	_, target := newKeyedNode(t)
	channel := newFakeChannel(1, target, 2_000_000)
	nodes, route := makeRoute(t, 4)
	tag := testTag(7)
	add := launchPayment(t, m, pf, tag, channel, target, 600_000, route)

	// Signed by D's key but claimed by C: verification against C fails.
	usedEdge, _ := route.edgeFrom(2)
	update := signedUpdate(t, nodes[3].priv, usedEdge.SCID,
		usedEdge.Position, false)

	m.process(RemoteUpdateFail{Add: add, Fail: &lnwire.UpdateFailHTLC{
		Reason: failurePacketFrom(t, add, 2, &lnwire.FailureMessage{
			Code:   lnwire.CodeTemporaryChannelFailure,
			Update: update,
		}),
	}})

	require.Equal(t, 32*m.cfg.MaxStrangeNodeFailures,
		m.nodeFailedTimes[nodes[2].id])
	require.Empty(t, pf.applied, "forged update must not reach the graph")
}

// TestFinalRecipientFailureTerminal checks that a failure from the last hop
// aborts the payment with the remote failure on record.
func TestFinalRecipientFailureTerminal(t *testing.T) {
	clock := &fixedClock{}
	pf := &fakePathFinder{}
	m := newWiredMaster(t, clock, pf)

	_, target := newKeyedNode(t)
	channel := newFakeChannel(1, target, 2_000_000)
	_, route := makeRoute(t, 3)
	tag := testTag(8)

	var failures []Failure
	m.process(CreateSenderFSM{Tag: tag, Listener: Listener{
		OnFailure: func(fs []Failure) { failures = fs },
	}})
	m.process(SendMultiPart{
		Tag:          tag,
		Target:       target,
		TotalAmount:  300_000,
		CltvExpiry:   100,
		AllowedChans: []Channel{channel},
	})
	m.process(CMDAskForRoute{})
	req := pf.lastRequest(t)
	pf.reply(m, RouteFound{Tag: tag, PartID: req.PartID, Route: route})
	add := channel.sent[0]

	m.process(RemoteUpdateFail{Add: add, Fail: &lnwire.UpdateFailHTLC{
		Reason: failurePacketFrom(t, add, 2, &lnwire.FailureMessage{
			Code: lnwire.CodeIncorrectOrUnknownPaymentDetails,
		}),
	}})

	require.Equal(t, stateAborted, m.payments[tag].state)
	require.NotEmpty(t, failures)
	remote, ok := failures[0].(RemoteFailure)
	require.True(t, ok, "got %T", failures[0])
	require.True(t, remote.isFinalRecipient())
}

// TestUnreadableFailurePunishesTransit checks that an undecryptable packet
// penalizes exactly one internal hop at the strange-node cap.
func TestUnreadableFailurePunishesTransit(t *testing.T) {
	clock := &fixedClock{}
	pf := &fakePathFinder{}
	m := newWiredMaster(t, clock, pf)

	_, target := newKeyedNode(t)
	channel := newFakeChannel(1, target, 2_000_000)
	nodes, route := makeRoute(t, 4)
	tag := testTag(9)
	add := launchPayment(t, m, pf, tag, channel, target, 600_000, route)

	m.process(RemoteUpdateFail{Add: add, Fail: &lnwire.UpdateFailHTLC{
		Reason: make([]byte, 292),
	}})

	punished := 0
	for i, node := range nodes {
		if m.nodeFailedTimes[node.id] == m.cfg.MaxStrangeNodeFailures {
			require.NotZero(t, i, "first hop must not be punished")
			require.NotEqual(t, len(nodes)-1, i,
				"last hop must not be punished")
			punished++
		}
	}
	require.Equal(t, 1, punished)

	sender := m.payments[tag]
	require.NotEmpty(t, sender.failures)
	require.IsType(t, UnreadableRemoteFailure{}, sender.failures[0])
}

// TestRemoteAttemptsExhaustion drives one part through repeated node-class
// failures until the retry budget and slots run dry.
func TestRemoteAttemptsExhaustion(t *testing.T) {
	clock := &fixedClock{}
	pf := &fakePathFinder{}
	m := newWiredMaster(t, clock, pf)

	_, target := newKeyedNode(t)
	channel := newFakeChannel(1, target, 2_000_000)
	channel.slots = 0 // no room to subdivide

	tag := testTag(10)
	var failures []Failure
	m.process(CreateSenderFSM{Tag: tag, Listener: Listener{
		OnFailure: func(fs []Failure) { failures = fs },
	}})
	m.process(SendMultiPart{
		Tag:          tag,
		Target:       target,
		TotalAmount:  500_000,
		CltvExpiry:   100,
		AllowedChans: []Channel{channel},
	})

	sender := m.payments[tag]
	for attempt := 0; ; attempt++ {
		require.Less(t, attempt, 10, "no terminal state reached")
		if sender.state == stateAborted {
			break
		}
		m.process(CMDAskForRoute{})
		req := pf.lastRequest(t)
		_, route := makeRoute(t, 3)
		pf.reply(m, RouteFound{Tag: tag, PartID: req.PartID,
			Route: route})
		add := channel.sent[len(channel.sent)-1]

		m.process(RemoteUpdateFail{Add: add, Fail: &lnwire.UpdateFailHTLC{
			Reason: failurePacketFrom(t, add, 1,
				&lnwire.FailureMessage{
					Code: lnwire.CodeTemporaryNodeFailure,
				}),
		}})
	}

	require.Equal(t, FailRunOutOfRetryAttempts,
		failures[0].(LocalFailure).Code)
}

// TestRemoteFulfillTerminality covers P5: the first fulfill wins, an abort
// can never follow, and late events only prune the parts map. The whole
// payment resolves once channels report empty.
func TestRemoteFulfillTerminality(t *testing.T) {
	clock := &fixedClock{}
	pf := &fakePathFinder{}
	m := newWiredMaster(t, clock, pf)

	_, target := newKeyedNode(t)
	channel := newFakeChannel(1, target, 2_000_000)
	_, route := makeRoute(t, 2)
	tag := testTag(11)

	var (
		succeeded int
		whole     int
		failed    int
	)
	m.process(CreateSenderFSM{Tag: tag, Listener: Listener{
		OnSuccess:               func(RemoteFulfill) { succeeded++ },
		OnFailure:               func([]Failure) { failed++ },
		OnWholePaymentSucceeded: func(FullPaymentTag) { whole++ },
	}})
	m.process(SendMultiPart{
		Tag:          tag,
		Target:       target,
		TotalAmount:  300_000,
		CltvExpiry:   100,
		AllowedChans: []Channel{channel},
	})
	m.process(CMDAskForRoute{})
	req := pf.lastRequest(t)
	pf.reply(m, RouteFound{Tag: tag, PartID: req.PartID, Route: route})
	add := channel.sent[0]

	m.process(RemoteFulfill{Add: add, Preimage: [32]byte{1}})
	require.Equal(t, 1, succeeded)
	require.Equal(t, stateSucceeded, m.payments[tag].state)

	// A straggler fulfill only prunes; an abort attempt is absorbed.
	m.process(RemoteFulfill{Add: add, Preimage: [32]byte{1}})
	m.process(CMDAbort{Tag: tag})
	require.Equal(t, stateSucceeded, m.payments[tag].state)
	require.Equal(t, 1, succeeded)
	require.Zero(t, failed)

	// Channels report nothing left for the tag: the whole payment
	// settles, exactly once.
	m.process(InFlightPayments{Adds: map[FullPaymentTag][]*CmdAddHTLC{}})
	m.process(InFlightPayments{Adds: map[FullPaymentTag][]*CmdAddHTLC{}})
	require.Equal(t, 1, whole)
}

// TestLocalRejectPaths covers the three local-reject arms.
func TestLocalRejectPaths(t *testing.T) {
	_, target := newKeyedNode(t)

	launch := func(t *testing.T, chans ...*fakeChannel) (
		*OutgoingPaymentMaster, *fakePathFinder, FullPaymentTag,
		*CmdAddHTLC, []Failure) {

		clock := &fixedClock{}
		pf := &fakePathFinder{}
		m := newWiredMaster(t, clock, pf)
		tag := testTag(12)

		var failures []Failure
		m.process(CreateSenderFSM{Tag: tag, Listener: Listener{
			OnFailure: func(fs []Failure) { failures = fs },
		}})
		allowed := make([]Channel, len(chans))
		for i, c := range chans {
			allowed[i] = c
		}
		m.process(SendMultiPart{
			Tag:          tag,
			Target:       target,
			TotalAmount:  300_000,
			CltvExpiry:   100,
			AllowedChans: allowed,
		})
		m.process(CMDAskForRoute{})
		req := pf.lastRequest(t)
		_, route := makeRoute(t, 2)
		pf.reply(m, RouteFound{Tag: tag, PartID: req.PartID,
			Route: route})

		var add *CmdAddHTLC
		for _, c := range chans {
			if len(c.sent) > 0 {
				add = c.sent[len(c.sent)-1]
			}
		}
		require.NotNil(t, add)
		return m, pf, tag, add, failures
	}

	t.Run("in principle not sendable", func(t *testing.T) {
		channel := newFakeChannel(1, target, 2_000_000)
		m, _, tag, add, _ := launch(t, channel)

		m.process(LocalReject{
			Reason: RejectInPrincipleNotSendable,
			Add:    add,
		})
		sender := m.payments[tag]
		require.Equal(t, stateAborted, sender.state)
		require.Equal(t, FailPaymentNotSendable,
			sender.failures[0].(LocalFailure).Code)
	})

	t.Run("channel offline reassigns", func(t *testing.T) {
		chanA := newFakeChannel(1, target, 2_000_000)
		chanB := newFakeChannel(2, target, 2_000_000)
		m, _, tag, add, _ := launch(t, chanA, chanB)

		m.process(LocalReject{
			Reason: RejectChannelOffline,
			Add:    add,
		})
		sender := m.payments[tag]
		require.Equal(t, statePending, sender.state)
		require.Len(t, sender.parts, 1)
		for _, status := range sender.parts {
			wait := status.(*waitForRouteOrInFlight)
			require.Nil(t, wait.flight)
			require.Equal(t, lnwire.MilliSatoshi(300_000),
				wait.amount)
		}
	})

	t.Run("busy with no other channel exhausts", func(t *testing.T) {
		chanA := newFakeChannel(1, target, 2_000_000)
		m, _, tag, add, _ := launch(t, chanA)

		// Only one channel: the local-failed set swallows it.
		m.process(LocalReject{Reason: RejectChannelBusy, Add: add})
		sender := m.payments[tag]
		require.Equal(t, stateAborted, sender.state)
		require.Equal(t, FailRunOutOfCapableChans,
			sender.failures[0].(LocalFailure).Code)
	})
}

// TestPartIDsAreOnionKeys checks the part-id / session-key binding and P3:
// part amounts never exceed the commanded total.
func TestPartIDsAreOnionKeys(t *testing.T) {
	clock := &fixedClock{}
	pf := &fakePathFinder{}
	m := newWiredMaster(t, clock, pf)

	_, target := newKeyedNode(t)
	chanA := newFakeChannel(1, target, 700_000)
	chanB := newFakeChannel(2, target, 700_000)

	tag := testTag(13)
	m.process(CreateSenderFSM{Tag: tag})
	m.process(SendMultiPart{
		Tag:          tag,
		Target:       target,
		TotalAmount:  1_000_000,
		AllowedChans: []Channel{chanA, chanB},
	})

	sender := m.payments[tag]
	var total lnwire.MilliSatoshi
	for partID, status := range sender.parts {
		wait := status.(*waitForRouteOrInFlight)
		require.Equal(t, onion.SessionPartID(wait.sessionKey), partID)
		total += wait.amount
	}
	require.LessOrEqual(t, uint64(total), uint64(1_000_000))
	require.Equal(t, lnwire.MilliSatoshi(1_000_000), total)
}
