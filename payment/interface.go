// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package payment

import (
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/lightspan/lightspand/lnwire"
	"github.com/lightspan/lightspand/onion"
)

// PaymentScope distinguishes the context an outbound payment runs in, so the
// same hash can safely appear in different roles.
type PaymentScope int

const (
	// ScopeLocal is a plain locally-initiated payment.
	ScopeLocal PaymentScope = iota

	// ScopeTrampolineRouted is a payment forwarded on behalf of a
	// trampoline peer.
	ScopeTrampolineRouted
)

// FullPaymentTag uniquely keys one outbound payment across all its retries.
type FullPaymentTag struct {
	PaymentHash   [32]byte
	PaymentSecret [32]byte
	Scope         PaymentScope
}

// DirDesc names one direction of one channel.
type DirDesc struct {
	SCID     lnwire.ShortChannelID
	Position int
}

// Channel is the local channel handle (channel-and-commits pair) the payment
// core queries for capacity and submits HTLCs to. Implementations live in
// the channel machinery, outside this package.
type Channel interface {
	// ShortChannelID identifies the channel.
	ShortChannelID() lnwire.ShortChannelID

	// PeerID is the node on the other end.
	PeerID() lnwire.NodeID

	// AvailableForSend is the spendable balance under the current
	// commitment, net of everything the channel has already accepted.
	AvailableForSend() lnwire.MilliSatoshi

	// MinSendable is the smallest HTLC the channel will carry.
	MinSendable() lnwire.MilliSatoshi

	// MaxSendInFlight caps the total amount this channel allows
	// in flight at once.
	MaxSendInFlight() lnwire.MilliSatoshi

	// OutgoingHtlcSlotsLeft is how many more HTLCs the commitment can
	// hold.
	OutgoingHtlcSlotsLeft() int

	// IsOperational reports whether the peer is connected and the
	// channel usable.
	IsOperational() bool

	// IsSleeping reports whether the channel is merely offline (peer
	// disconnected) rather than closed.
	IsSleeping() bool

	// SendAdd submits one HTLC to the channel.
	SendAdd(cmd *CmdAddHTLC)
}

// CmdAddHTLC is the HTLC submission handed to a channel. It doubles as the
// correlation handle: every channel event referencing the HTLC carries it
// back.
type CmdAddHTLC struct {
	Tag        FullPaymentTag
	PartID     onion.PartID
	Amount     lnwire.MilliSatoshi
	CltvExpiry uint32

	// OnionBlob is the sealed outer onion.
	OnionBlob []byte

	// SharedSecrets are retained to decrypt a failure coming back.
	SharedSecrets [][32]byte

	// Route is the path the onion was built for.
	Route *Route
}

// Hop is one edge of a route: the node reached and the channel entering it.
type Hop struct {
	NodeID lnwire.NodeID
	PubKey *btcec.PublicKey

	// SCID is the channel used to reach NodeID from the previous hop.
	SCID lnwire.ShortChannelID

	// Update is the policy the path-finder used for this edge, kept so a
	// returned failure update can be compared against it.
	Update *lnwire.ChannelUpdate

	Fee       lnwire.MilliSatoshi
	CltvDelta uint16
}

// Route is a found path from one of our direct peers to the target.
type Route struct {
	// Hops is ordered from our direct peer to the final recipient.
	Hops []Hop

	// TotalFee is the fee across all hops.
	TotalFee lnwire.MilliSatoshi
}

// edgeFrom returns the channel leaving hop i toward hop i+1, if any.
func (r *Route) edgeFrom(i int) (DirDesc, bool) {
	if i+1 >= len(r.Hops) {
		return DirDesc{}, false
	}
	next := r.Hops[i+1]
	return DirDesc{SCID: next.SCID, Position: positionBetween(
		r.Hops[i].NodeID, next.NodeID)}, true
}

// edgeInto returns the channel entering hop i, if known.
func (r *Route) edgeInto(i int) (DirDesc, bool) {
	if i < 0 || i >= len(r.Hops) || i == 0 {
		return DirDesc{}, false
	}
	return DirDesc{SCID: r.Hops[i].SCID, Position: positionBetween(
		r.Hops[i-1].NodeID, r.Hops[i].NodeID)}, true
}

// positionBetween derives the BOLT 7 direction bit for an edge from one
// node to another.
func positionBetween(from, to lnwire.NodeID) int {
	if from.IsLess(to) {
		return 0
	}
	return 1
}

// RouteRequest asks the path-finder for one route for one part.
type RouteRequest struct {
	Tag    FullPaymentTag
	PartID onion.PartID

	// Source is the remote end of the chosen local channel.
	Source lnwire.NodeID

	// Target is the payment recipient.
	Target lnwire.NodeID

	Amount     lnwire.MilliSatoshi
	FeeReserve lnwire.MilliSatoshi
	CltvExpiry uint32

	// IgnoreDirections and IgnoreNodes exclude penalized graph elements
	// from the search.
	IgnoreDirections map[DirDesc]struct{}
	IgnoreNodes      map[lnwire.NodeID]struct{}
}

// RouteFound is the path-finder's positive reply.
type RouteFound struct {
	Tag    FullPaymentTag
	PartID onion.PartID
	Route  *Route
}

// NoRouteAvailable is the path-finder's negative reply.
type NoRouteAvailable struct {
	Tag    FullPaymentTag
	PartID onion.PartID
}

// PathFinder is the external route-finding engine. FindRoute must reply
// exactly once, asynchronously, by invoking replyTo with a RouteFound or
// NoRouteAvailable.
type PathFinder interface {
	FindRoute(replyTo func(interface{}), req *RouteRequest)

	// ApplyChannelUpdate feeds a loose update learned from a payment
	// failure into the online graph.
	ApplyChannelUpdate(update *lnwire.ChannelUpdate)

	// NodeIDFromUpdate resolves which node authored an update, when the
	// graph knows the channel.
	NodeIDFromUpdate(update *lnwire.ChannelUpdate) (lnwire.NodeID, bool)

	// ChannelCapacity reports a public channel's total capacity.
	ChannelCapacity(scid lnwire.ShortChannelID) (lnwire.MilliSatoshi, bool)
}

// Channel events delivered back into the payment core. The channel
// machinery posts these to the master, which routes them by tag.

// LocalRejectReason classifies why a channel refused an HTLC locally.
type LocalRejectReason int

const (
	// RejectInPrincipleNotSendable means the HTLC can never be sent as
	// constructed (amount bounds, expiry in the past).
	RejectInPrincipleNotSendable LocalRejectReason = iota

	// RejectChannelOffline means the peer is gone for now.
	RejectChannelOffline

	// RejectChannelBusy covers transient refusals worth retrying
	// elsewhere.
	RejectChannelBusy
)

// LocalReject reports a locally refused HTLC.
type LocalReject struct {
	Reason LocalRejectReason
	Add    *CmdAddHTLC
}

// RemoteFulfill reports the preimage release for one of our HTLCs.
type RemoteFulfill struct {
	Add      *CmdAddHTLC
	Preimage [32]byte
}

// RemoteUpdateFail relays an encrypted failure onion for one of our HTLCs.
type RemoteUpdateFail struct {
	Add  *CmdAddHTLC
	Fail *lnwire.UpdateFailHTLC
}

// RemoteUpdateMalform reports that some hop could not parse our onion at
// all.
type RemoteUpdateMalform struct {
	Add     *CmdAddHTLC
	Malform *lnwire.UpdateFailMalformedHTLC
}

// InFlightPayments is a channel-layer snapshot of every HTLC still present
// in any commitment, keyed by payment tag. It is strictly ordered after the
// channel events that produced it.
type InFlightPayments struct {
	Adds map[FullPaymentTag][]*CmdAddHTLC
}

// TrampolineParams are the fee and expiry terms a trampoline peer
// advertises.
type TrampolineParams struct {
	FeeBase   lnwire.MilliSatoshi
	FeeRate   uint32
	CltvDelta uint16
}

// Listener observes the terminal fate of one payment. All callbacks run on
// the master's goroutine and must not block.
type Listener struct {
	// OnSuccess fires exactly once, on the first fulfill, with the
	// fulfilling HTLC (routes intact) and the preimage.
	OnSuccess func(fulfill RemoteFulfill)

	// OnFailure fires exactly once when the payment aborts, with the
	// reverse-chronological failure record.
	OnFailure func(failures []Failure)

	// OnWholePaymentSucceeded fires once the channels report no
	// leftovers for the tag after success.
	OnWholePaymentSucceeded func(tag FullPaymentTag)
}

// SendMultiPart launches or re-parameterizes one payment.
type SendMultiPart struct {
	Tag    FullPaymentTag
	Target lnwire.NodeID

	// TotalAmount is our share of the payment; the sum of live part
	// amounts never exceeds it.
	TotalAmount lnwire.MilliSatoshi

	// TotalFeeReserve bounds the routing fees across all parts.
	TotalFeeReserve lnwire.MilliSatoshi

	CltvExpiry uint32

	// InvoiceSecret is the payment secret from the invoice.
	InvoiceSecret [32]byte

	// TrampolineVia, when set, routes the payment through a trampoline
	// node: an inner onion to the target is embedded and the outer
	// payment secret is freshly random, never the invoice secret.
	TrampolineVia *lnwire.NodeID

	// AllowedChans are the local channels this payment may use.
	AllowedChans []Channel

	// ClearFailures applies one decay step to the accumulated failure
	// statistics before this send.
	ClearFailures bool
}

// Commands addressed to the master.

// CreateSenderFSM registers a sender for the tag before any channel events
// for it can arrive.
type CreateSenderFSM struct {
	Tag      FullPaymentTag
	Listener Listener
}

// RemoveSenderFSM drops a fully-resolved sender.
type RemoveSenderFSM struct {
	Tag FullPaymentTag
}

// CMDAskForRoute nudges every sender to request a route if it needs one.
type CMDAskForRoute struct{}

// CMDAbort gives up on a payment that has not progressed past waiting.
type CMDAbort struct {
	Tag FullPaymentTag
}

// ChannelFailedAtAmount records an empirical per-channel capacity ceiling:
// the channel failed while carrying its current in-flight usage.
type ChannelFailedAtAmount struct {
	Desc DirDesc
}

// NodeFailed bumps a node's penalty counter.
type NodeFailed struct {
	Node      lnwire.NodeID
	Increment int
}

// ChannelNotRoutable hard-excludes a channel for the rest of the current
// attempt.
type ChannelNotRoutable struct {
	Desc DirDesc
}

// Config bundles the payment core tunables.
type Config struct {
	MaxDirectionFailures   int
	MaxStrangeNodeFailures int
	MaxRemoteAttempts      int
	MaxInChannelHtlcs      int

	// FailedChanRecoveryMsec is the time constant of the linear
	// capacity-failure recovery.
	FailedChanRecoveryMsec int64

	// PaymentTimeout aborts payments stuck waiting for a channel to come
	// back online.
	PaymentTimeout time.Duration

	// Now returns wall time in milliseconds. Defaults to the system
	// clock.
	Now func() int64
}

// now returns the configured clock, defaulting to the system one.
func (cfg *Config) now() int64 {
	if cfg.Now != nil {
		return cfg.Now()
	}
	return time.Now().UnixMilli()
}
