// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package payment

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/stretchr/testify/require"

	"github.com/lightspan/lightspand/lnwire"
	"github.com/lightspan/lightspand/onion"
)

// fakeChannel is a controllable Channel implementation.
type fakeChannel struct {
	scid        lnwire.ShortChannelID
	peer        lnwire.NodeID
	avail       lnwire.MilliSatoshi
	minSend     lnwire.MilliSatoshi
	maxInFlight lnwire.MilliSatoshi
	slots       int
	operational bool
	sleeping    bool

	sent []*CmdAddHTLC
}

func (c *fakeChannel) ShortChannelID() lnwire.ShortChannelID { return c.scid }
func (c *fakeChannel) PeerID() lnwire.NodeID                 { return c.peer }
func (c *fakeChannel) AvailableForSend() lnwire.MilliSatoshi { return c.avail }
func (c *fakeChannel) MinSendable() lnwire.MilliSatoshi      { return c.minSend }
func (c *fakeChannel) MaxSendInFlight() lnwire.MilliSatoshi  { return c.maxInFlight }
func (c *fakeChannel) OutgoingHtlcSlotsLeft() int            { return c.slots }
func (c *fakeChannel) IsOperational() bool                   { return c.operational }
func (c *fakeChannel) IsSleeping() bool                      { return c.sleeping }
func (c *fakeChannel) SendAdd(cmd *CmdAddHTLC)               { c.sent = append(c.sent, cmd) }

func newFakeChannel(scidInt uint64, peer lnwire.NodeID,
	avail lnwire.MilliSatoshi) *fakeChannel {

	return &fakeChannel{
		scid:        lnwire.NewShortChanIDFromInt(scidInt),
		peer:        peer,
		avail:       avail,
		minSend:     1000,
		maxInFlight: avail,
		slots:       10,
		operational: true,
	}
}

// fakePathFinder records route requests and enforces the one-outstanding
// invariant.
type fakePathFinder struct {
	t *testing.T

	requests    []*RouteRequest
	outstanding int

	capacities map[lnwire.ShortChannelID]lnwire.MilliSatoshi
	applied    []*lnwire.ChannelUpdate
}

func (p *fakePathFinder) FindRoute(_ func(interface{}), req *RouteRequest) {
	p.outstanding++
	require.LessOrEqual(p.t, p.outstanding, 1,
		"more than one outstanding route request")
	p.requests = append(p.requests, req)
}

func (p *fakePathFinder) ApplyChannelUpdate(update *lnwire.ChannelUpdate) {
	p.applied = append(p.applied, update)
}

func (p *fakePathFinder) NodeIDFromUpdate(
	update *lnwire.ChannelUpdate) (lnwire.NodeID, bool) {

	return lnwire.NodeID{}, false
}

func (p *fakePathFinder) ChannelCapacity(
	scid lnwire.ShortChannelID) (lnwire.MilliSatoshi, bool) {

	capacity, ok := p.capacities[scid]
	return capacity, ok
}

// reply feeds one path-finder reply into the master synchronously.
func (p *fakePathFinder) reply(m *OutgoingPaymentMaster, msg interface{}) {
	p.outstanding--
	m.process(msg)
}

// lastRequest returns the newest recorded route request.
func (p *fakePathFinder) lastRequest(t *testing.T) *RouteRequest {
	t.Helper()
	require.NotEmpty(t, p.requests, "no route request recorded")
	return p.requests[len(p.requests)-1]
}

// fixedClock is a settable milliseconds clock.
type fixedClock struct {
	msec int64
}

func (c *fixedClock) now() int64 { return c.msec }

func testPaymentConfig(clock *fixedClock) *Config {
	return &Config{
		MaxDirectionFailures:   4,
		MaxStrangeNodeFailures: 8,
		MaxRemoteAttempts:      3,
		MaxInChannelHtlcs:      6,
		FailedChanRecoveryMsec: 100_000,
		PaymentTimeout:         time.Hour,
		Now:                    clock.now,
	}
}

// newWiredMaster builds a master whose mailbox is stopped so tests drive
// process() synchronously; internal fire-and-forget posts become no-ops.
func newWiredMaster(t *testing.T, clock *fixedClock,
	pf *fakePathFinder) *OutgoingPaymentMaster {

	t.Helper()
	pf.t = t
	if pf.capacities == nil {
		pf.capacities = make(map[lnwire.ShortChannelID]lnwire.MilliSatoshi)
	}
	m := NewOutgoingPaymentMaster(testPaymentConfig(clock), pf)
	m.mail.Stop()
	m.mail.WaitForShutdown()
	return m
}

// newKeyedNode draws a fresh node identity.
func newKeyedNode(t *testing.T) (*btcec.PrivateKey, lnwire.NodeID) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv, lnwire.NewNodeID(priv.PubKey())
}

// testTag fabricates a payment tag from a seed byte.
func testTag(seed byte) FullPaymentTag {
	var tag FullPaymentTag
	tag.PaymentHash[0] = seed
	tag.PaymentSecret[0] = seed ^ 0xFF
	return tag
}

// signedUpdate builds a channel update for the SCID signed by the given
// key, in the named direction.
func signedUpdate(t *testing.T, priv *btcec.PrivateKey,
	scid lnwire.ShortChannelID, position int,
	disabled bool) *lnwire.ChannelUpdate {

	t.Helper()
	update := &lnwire.ChannelUpdate{
		ShortChannelID:  scid,
		Timestamp:       777,
		MessageFlags:    lnwire.ChanUpdateOptionMaxHtlc,
		TimeLockDelta:   40,
		HtlcMinimumMsat: 1,
		BaseFee:         1000,
		FeeRate:         100,
		HtlcMaximumMsat: 10_000_000_000,
	}
	if position == 1 {
		update.ChannelFlags |= lnwire.ChanUpdateDirection
	}
	if disabled {
		update.ChannelFlags |= lnwire.ChanUpdateDisabled
	}
	digest, err := update.DataToSign()
	require.NoError(t, err)
	compact := ecdsa.SignCompact(priv, digest, true)
	copy(update.Signature[:], compact[1:])
	return update
}

// routeNode is one fabricated hop identity.
type routeNode struct {
	priv *btcec.PrivateKey
	id   lnwire.NodeID
}

// makeRoute builds an n-hop route over fresh keys with SCIDs 101, 102, ...
// and the given per-hop policy updates attached.
func makeRoute(t *testing.T, n int) ([]routeNode, *Route) {
	t.Helper()
	nodes := make([]routeNode, n)
	route := &Route{}
	for i := range nodes {
		priv, id := newKeyedNode(t)
		nodes[i] = routeNode{priv: priv, id: id}
		route.Hops = append(route.Hops, Hop{
			NodeID: id,
			PubKey: priv.PubKey(),
			SCID:   lnwire.NewShortChanIDFromInt(uint64(101 + i)),
		})
	}
	return nodes, route
}

// launchPayment drives a payment to the point where its first HTLC is in
// flight on the given route, returning the submitted add.
func launchPayment(t *testing.T, m *OutgoingPaymentMaster,
	pf *fakePathFinder, tag FullPaymentTag, channel *fakeChannel,
	target lnwire.NodeID, amount lnwire.MilliSatoshi,
	route *Route) *CmdAddHTLC {

	t.Helper()
	m.process(CreateSenderFSM{Tag: tag})
	m.process(SendMultiPart{
		Tag:          tag,
		Target:       target,
		TotalAmount:  amount,
		CltvExpiry:   100,
		AllowedChans: []Channel{channel},
	})
	m.process(CMDAskForRoute{})

	req := pf.lastRequest(t)
	require.Equal(t, amount, req.Amount)
	pf.reply(m, RouteFound{Tag: tag, PartID: req.PartID, Route: route})

	require.Len(t, channel.sent, 1)
	return channel.sent[0]
}

// failurePacketFrom fabricates the obfuscated failure packet hop erring
// would return for the given in-flight add.
func failurePacketFrom(t *testing.T, add *CmdAddHTLC, erring int,
	msg *lnwire.FailureMessage) []byte {

	t.Helper()
	packet, err := onion.BuildFailurePacket(add.SharedSecrets[erring], msg)
	require.NoError(t, err)
	for transit := erring - 1; transit >= 0; transit-- {
		packet, err = onion.ObfuscateFailure(
			add.SharedSecrets[transit], packet)
		require.NoError(t, err)
	}
	return packet
}
