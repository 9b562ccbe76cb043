// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package lnwire

import (
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// QueryPublicHostedChannels asks a peer to stream every public hosted
// channel announcement and update it knows for the given chain.
type QueryPublicHostedChannels struct {
	ChainHash chainhash.Hash
}

// MsgType returns the message type code.
func (q *QueryPublicHostedChannels) MsgType() MessageType {
	return MsgQueryPublicHostedChans
}

// Encode serializes the query.
func (q *QueryPublicHostedChannels) Encode(w io.Writer) error {
	return writeElement(w, q.ChainHash[:])
}

// Decode deserializes the query.
func (q *QueryPublicHostedChannels) Decode(r io.Reader) error {
	var chain [32]byte
	if err := readElement(r, &chain); err != nil {
		return err
	}
	copy(q.ChainHash[:], chain[:])
	return nil
}

// ReplyPublicHostedChannelsEnd terminates the hosted channel stream.
type ReplyPublicHostedChannelsEnd struct {
	ChainHash chainhash.Hash
}

// MsgType returns the message type code.
func (m *ReplyPublicHostedChannelsEnd) MsgType() MessageType {
	return MsgReplyPublicHostedChansEnd
}

// Encode serializes the message.
func (m *ReplyPublicHostedChannelsEnd) Encode(w io.Writer) error {
	return writeElement(w, m.ChainHash[:])
}

// Decode deserializes the message.
func (m *ReplyPublicHostedChannelsEnd) Decode(r io.Reader) error {
	var chain [32]byte
	if err := readElement(r, &chain); err != nil {
		return err
	}
	copy(m.ChainHash[:], chain[:])
	return nil
}
