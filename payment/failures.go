// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package payment

import (
	"fmt"

	"github.com/lightspan/lightspand/lnwire"
	"github.com/lightspan/lightspand/onion"
)

// LocalFailureCode is the user-visible tag of a locally-decided payment
// failure.
type LocalFailureCode string

const (
	FailNoRoutesFound          LocalFailureCode = "no-routes-found"
	FailNotEnoughFunds         LocalFailureCode = "not-enough-funds"
	FailPaymentNotSendable     LocalFailureCode = "payment-not-sendable"
	FailRunOutOfRetryAttempts  LocalFailureCode = "run-out-of-retry-attempts"
	FailRunOutOfCapableChans   LocalFailureCode = "run-out-of-capable-channels"
	FailNodeCouldNotParseOnion LocalFailureCode = "node-could-not-parse-onion"
	FailNotRetryingNoDetails   LocalFailureCode = "not-retrying-no-details"
	FailTimedOut               LocalFailureCode = "timed-out"
)

// Failure is one entry of a sender's reverse-chronological failure record.
type Failure interface {
	failure()
	String() string
}

// LocalFailure is a failure decided by the sender itself.
type LocalFailure struct {
	Code   LocalFailureCode
	Amount lnwire.MilliSatoshi
}

func (LocalFailure) failure() {}

func (f LocalFailure) String() string {
	return fmt.Sprintf("local failure %s for %v", f.Code, f.Amount)
}

// RemoteFailure is a decrypted BOLT 4 failure from some hop on the route.
type RemoteFailure struct {
	Decrypted *onion.DecryptedFailure
	Route     *Route
}

func (RemoteFailure) failure() {}

func (f RemoteFailure) String() string {
	origin := "?"
	if f.Decrypted.HopIndex < len(f.Route.Hops) {
		origin = f.Route.Hops[f.Decrypted.HopIndex].NodeID.String()
	}
	return fmt.Sprintf("remote failure %v from %s",
		f.Decrypted.Msg.Code, origin)
}

// OriginNode returns the erring hop's node id.
func (f RemoteFailure) OriginNode() lnwire.NodeID {
	return f.Route.Hops[f.Decrypted.HopIndex].NodeID
}

// UnreadableRemoteFailure records a failure packet no hop secret could
// authenticate.
type UnreadableRemoteFailure struct {
	Route *Route
}

func (UnreadableRemoteFailure) failure() {}

func (f UnreadableRemoteFailure) String() string {
	return fmt.Sprintf("unreadable remote failure on %d-hop route",
		len(f.Route.Hops))
}

// isFinalRecipient reports whether the erring hop is the route's last one.
func (f RemoteFailure) isFinalRecipient() bool {
	return f.Decrypted.HopIndex == len(f.Route.Hops)-1
}

// isPaymentTimeout reports the MPP-timeout code, terminal regardless of
// origin.
func (f RemoteFailure) isPaymentTimeout() bool {
	return f.Decrypted.Msg.Code == lnwire.CodeMPPTimeout
}
