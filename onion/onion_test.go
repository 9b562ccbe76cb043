// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package onion

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/lightspan/lightspand/lnwire"
)

// testPath builds a payment path of n fresh hops.
func testPath(t *testing.T, n int) []*btcec.PublicKey {
	t.Helper()
	path := make([]*btcec.PublicKey, n)
	for i := range path {
		priv, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		path[i] = priv.PubKey()
	}
	return path
}

// TestPartIDUniqueness draws a batch of session keys and checks the public
// forms never collide.
func TestPartIDUniqueness(t *testing.T) {
	seen := make(map[PartID]struct{})
	for i := 0; i < 64; i++ {
		key, err := NewSessionKey()
		require.NoError(t, err)
		id := SessionPartID(key)
		_, dup := seen[id]
		require.False(t, dup, "part id collision")
		seen[id] = struct{}{}
	}
}

// TestHopSharedSecretsDeterministic checks the blinding chain is a pure
// function of session key and path, and each hop's secret differs.
func TestHopSharedSecretsDeterministic(t *testing.T) {
	sessionKey, err := NewSessionKey()
	require.NoError(t, err)
	path := testPath(t, 4)

	first, err := HopSharedSecrets(sessionKey, path)
	require.NoError(t, err)
	second, err := HopSharedSecrets(sessionKey, path)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, first, 4)

	for i := 1; i < len(first); i++ {
		require.NotEqual(t, first[0], first[i])
	}

	_, err = HopSharedSecrets(sessionKey, nil)
	require.Error(t, err)
}

// TestNewPacketShape seals a three-hop onion and checks the wire framing.
func TestNewPacketShape(t *testing.T) {
	sessionKey, err := NewSessionKey()
	require.NoError(t, err)
	path := testPath(t, 3)
	payloads := [][]byte{{1, 2}, {3, 4, 5}, {6}}

	packet, secrets, err := NewPacket(sessionKey, path, payloads,
		[]byte("assoc"), lnwire.PaymentOnionSize)
	require.NoError(t, err)
	require.Len(t, secrets, 3)
	require.Len(t, packet.RoutingInfo, lnwire.PaymentOnionSize)

	serialized := packet.Serialize()
	require.Len(t, serialized, 1+33+lnwire.PaymentOnionSize+32)
	require.Equal(t, sessionKey.PubKey().SerializeCompressed(),
		serialized[1:34])
}

// TestFailureRoundTrip fabricates a failure at each hop of a four-hop route
// and checks the origin decrypts it back to the right hop, including the
// transit re-obfuscation layers.
func TestFailureRoundTrip(t *testing.T) {
	sessionKey, err := NewSessionKey()
	require.NoError(t, err)
	path := testPath(t, 4)

	secrets, err := HopSharedSecrets(sessionKey, path)
	require.NoError(t, err)

	for erring := 0; erring < 4; erring++ {
		packet, err := BuildFailurePacket(secrets[erring],
			&lnwire.FailureMessage{Code: lnwire.CodeMPPTimeout})
		require.NoError(t, err)

		// Every hop between the erring node and us re-wraps.
		for transit := erring - 1; transit >= 0; transit-- {
			packet, err = ObfuscateFailure(secrets[transit], packet)
			require.NoError(t, err)
		}

		decrypted, err := DecryptFailure(secrets, packet)
		require.NoError(t, err)
		require.Equal(t, erring, decrypted.HopIndex)
		require.Equal(t, lnwire.CodeMPPTimeout, decrypted.Msg.Code)
	}
}

// TestFailureUnreadable checks that garbage fails every hop's HMAC.
func TestFailureUnreadable(t *testing.T) {
	sessionKey, err := NewSessionKey()
	require.NoError(t, err)
	secrets, err := HopSharedSecrets(sessionKey, testPath(t, 3))
	require.NoError(t, err)

	garbage := make([]byte, 292)
	for i := range garbage {
		garbage[i] = byte(i)
	}
	_, err = DecryptFailure(secrets, garbage)
	require.Error(t, err)
}
