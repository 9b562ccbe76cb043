// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package lnwire

import "fmt"

// ShortChannelID is the 64-bit identifier of a public channel. For on-chain
// channels it encodes the position of the funding output within the chain:
// block height, transaction index within the block, and output index within
// the transaction. Hosted channels reuse the same 64-bit space with a
// deterministic hash of both endpoints instead.
type ShortChannelID struct {
	// BlockHeight is the height of the block the funding transaction was
	// confirmed in. Only the lower 24 bits are valid.
	BlockHeight uint32

	// TxIndex is the index of the funding transaction within the block.
	// Only the lower 24 bits are valid.
	TxIndex uint32

	// TxPosition is the index of the funding output within the
	// transaction.
	TxPosition uint16
}

// NewShortChanIDFromInt creates a ShortChannelID from its packed 64-bit
// representation.
func NewShortChanIDFromInt(chanID uint64) ShortChannelID {
	return ShortChannelID{
		BlockHeight: uint32(chanID >> 40),
		TxIndex:     uint32(chanID>>16) & 0xFFFFFF,
		TxPosition:  uint16(chanID),
	}
}

// ToUint64 converts the ShortChannelID into its packed 64-bit representation.
func (c ShortChannelID) ToUint64() uint64 {
	return (uint64(c.BlockHeight) << 40) |
		(uint64(c.TxIndex) << 16) |
		uint64(c.TxPosition)
}

// String generates a human-readable representation of the channel ID.
func (c ShortChannelID) String() string {
	return fmt.Sprintf("%d:%d:%d", c.BlockHeight, c.TxIndex, c.TxPosition)
}
