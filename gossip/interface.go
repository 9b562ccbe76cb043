// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gossip

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/lightspan/lightspand/lnwire"
)

// RemoteNodeInfo is the addressing material for one candidate sync peer.
type RemoteNodeInfo struct {
	// NodeID is the peer's static identity key.
	NodeID lnwire.NodeID

	// Address is the host:port the peer listens on.
	Address string
}

// PeerPair identifies one Noise session: the random ephemeral key we connect
// with and the remote peer's static key. Every sync worker gets a fresh
// ephemeral key so parallel sessions to the same peer stay distinct.
type PeerPair struct {
	Ephemeral *btcec.PrivateKey
	PeerID    lnwire.NodeID
}

// ConnectionListener receives transport callbacks for one peer session. The
// sync workers implement this by posting the events into their own mailbox.
type ConnectionListener interface {
	// OnOperational fires once the Noise handshake and the Init exchange
	// have completed.
	OnOperational(pair PeerPair, init *lnwire.Init)

	// OnMessage delivers one inbound gossip message.
	OnMessage(pair PeerPair, msg lnwire.Message)

	// OnHostedMessage delivers one inbound hosted-channel message.
	OnHostedMessage(pair PeerPair, msg lnwire.Message)

	// OnDisconnect fires when the session dies for any reason.
	OnDisconnect(pair PeerPair)
}

// Transport is the Noise-encrypted connection layer. It is external to the
// core; implementations deliver callbacks from their own goroutines and the
// workers re-serialize them through their mailboxes.
type Transport interface {
	// Listen attaches a listener to the session identified by pair,
	// dialing info if no session exists yet.
	Listen(listener ConnectionListener, pair PeerPair, info RemoteNodeInfo)

	// SendMany writes a batch of messages to the session.
	SendMany(msgs []lnwire.Message, pair PeerPair)

	// Forget tears down the session and drops all listeners.
	Forget(pair PeerPair)
}

// UpdateDigestInfo is the per-direction digest the local router exposes for
// one known channel.
type UpdateDigestInfo struct {
	// Digests holds the (timestamp, checksum) pair for direction 0 and 1.
	Digests [2]lnwire.UpdateDigest
}

// RouterView is the read-only slice of the router database the sync engine
// consults: per-channel update digests for query derivation and node
// adjacency counts for hosted-channel pre-admission.
type RouterView interface {
	// ChannelDigest returns the digest info for a channel, or false if
	// the channel is unknown to the local graph.
	ChannelDigest(scid lnwire.ShortChannelID) (UpdateDigestInfo, bool)

	// NodeAdjacency returns how many channels the local graph knows for
	// the node.
	NodeAdjacency(node lnwire.NodeID) int
}

// Config bundles the tunables of a sync round.
type Config struct {
	// ChainHash identifies the chain being synced.
	ChainHash chainhash.Hash

	// MaxConnections is the number of parallel sync peers.
	MaxConnections int

	// AcceptThreshold is the corroboration bar: facts are admitted only
	// when strictly more than this many distinct peers confirm them.
	AcceptThreshold int

	// MessagesToAsk caps the number of SCIDs per QueryShortChanIDs batch.
	MessagesToAsk int

	// ChunksToWait is how many completed chunks are batched into one
	// emitted snapshot.
	ChunksToWait int

	// MinCapacity excludes updates advertising a maximum HTLC below this.
	MinCapacity lnwire.MilliSatoshi

	// Hosted-channel admission bounds.
	MinPHCCapacity       lnwire.MilliSatoshi
	MaxPHCCapacity       lnwire.MilliSatoshi
	MaxPHCPerNode        int
	MinNormalChansForPHC int
}
