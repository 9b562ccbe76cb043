// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package lnwire

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// mSatScale is the number of milli-satoshis in a single satoshi.
const mSatScale uint64 = 1000

// MilliSatoshi is a unit of 1/1000th of a satoshi. Everything the payment
// core accounts in is expressed in this unit.
type MilliSatoshi uint64

// NewMSatFromSatoshis creates a new MilliSatoshi from a target amount of
// satoshis.
func NewMSatFromSatoshis(sat btcutil.Amount) MilliSatoshi {
	return MilliSatoshi(uint64(sat) * mSatScale)
}

// ToSatoshis converts the target MilliSatoshi amount to satoshis, rounding
// down.
func (m MilliSatoshi) ToSatoshis() btcutil.Amount {
	return btcutil.Amount(uint64(m) / mSatScale)
}

// String returns the string representation of the MilliSatoshi amount.
func (m MilliSatoshi) String() string {
	return fmt.Sprintf("%v mSAT", uint64(m))
}
