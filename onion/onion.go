// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package onion carries the sender-side onion crypto the payment core
// needs: per-part session keys, the per-hop ECDH secret chain, payload
// sealing, and failure-onion decryption.
package onion

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/chacha20"

	"github.com/lightspan/lightspand/lnwire"
)

// PartID is the public form of a part's onion session key. Freshly random
// per HTLC attempt, it uniquely keys the part within its payment.
type PartID [33]byte

// NewSessionKey draws a fresh random onion session key.
func NewSessionKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// SessionPartID derives the part id from a session key.
func SessionPartID(sessionKey *btcec.PrivateKey) PartID {
	var id PartID
	copy(id[:], sessionKey.PubKey().SerializeCompressed())
	return id
}

// sharedSecret computes SHA256 of the compressed ECDH point between the key
// pair, the BOLT 4 way.
func sharedSecret(priv *secp256k1.ModNScalar, pub *btcec.PublicKey) [32]byte {
	var point, result secp256k1.JacobianPoint
	pub.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(priv, &point, &result)
	result.ToAffine()

	compressed := secp256k1.NewPublicKey(&result.X,
		&result.Y).SerializeCompressed()
	return sha256.Sum256(compressed)
}

// HopSharedSecrets runs the BOLT 4 blinding chain along the path, returning
// one shared secret per hop.
func HopSharedSecrets(sessionKey *btcec.PrivateKey,
	path []*btcec.PublicKey) ([][32]byte, error) {

	if len(path) == 0 {
		return nil, fmt.Errorf("empty payment path")
	}

	secrets := make([][32]byte, len(path))
	ephemeral := sessionKey.Key

	for i, hop := range path {
		secrets[i] = sharedSecret(&ephemeral, hop)

		// Blind the ephemeral key for the next hop:
		// b = SHA256(ephPub || ss); eph' = eph * b.
		ephPriv := secp256k1.NewPrivateKey(&ephemeral)
		blind := sha256.Sum256(append(
			ephPriv.PubKey().SerializeCompressed(),
			secrets[i][:]...))

		var factor secp256k1.ModNScalar
		factor.SetBytes(&blind)
		ephemeral.Mul(&factor)
	}
	return secrets, nil
}

// generateKey derives a typed sub-key from a shared secret per BOLT 4:
// HMAC-SHA256 keyed by the ASCII key type.
func generateKey(keyType string, secret [32]byte) [32]byte {
	mac := hmac.New(sha256.New, []byte(keyType))
	mac.Write(secret[:])
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// cipherStream XORs data in place with the ChaCha20 stream keyed by key and
// a zero nonce.
func cipherStream(key [32]byte, data []byte) error {
	var nonce [chacha20.NonceSize]byte
	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return err
	}
	cipher.XORKeyStream(data, data)
	return nil
}

// Packet is a sealed onion ready for CMD_ADD_HTLC: version byte, the session
// public key, the fixed-size routing blob, and the outer HMAC.
type Packet struct {
	Version     byte
	EphemeralPK [33]byte
	RoutingInfo []byte
	HMAC        [32]byte
}

// Serialize flattens the packet to its wire form.
func (p *Packet) Serialize() []byte {
	out := make([]byte, 0, 1+33+len(p.RoutingInfo)+32)
	out = append(out, p.Version)
	out = append(out, p.EphemeralPK[:]...)
	out = append(out, p.RoutingInfo...)
	out = append(out, p.HMAC[:]...)
	return out
}

// NewPacket seals one payload per hop into an onion of the given routing
// blob size (lnwire.PaymentOnionSize for outer onions,
// lnwire.TrampolineOnionSize for inner ones). It returns the packet and the
// per-hop shared secrets the caller must retain to decrypt failures.
func NewPacket(sessionKey *btcec.PrivateKey, path []*btcec.PublicKey,
	payloads [][]byte, assocData []byte, size int) (*Packet, [][32]byte,
	error) {

	if len(path) != len(payloads) {
		return nil, nil, fmt.Errorf("%d hops but %d payloads",
			len(path), len(payloads))
	}
	secrets, err := HopSharedSecrets(sessionKey, path)
	if err != nil {
		return nil, nil, err
	}

	routingInfo := make([]byte, size)
	var nextHMAC [32]byte

	// Wrap layers back to front: shift the blob right, prepend this
	// hop's framed payload and the HMAC of the layer beneath, then
	// stream-encrypt the whole blob for this hop.
	for i := len(path) - 1; i >= 0; i-- {
		var frame bytes.Buffer
		writeVarLen(&frame, uint64(len(payloads[i])))
		frame.Write(payloads[i])
		frame.Write(nextHMAC[:])

		shift := frame.Len()
		if shift > size {
			return nil, nil, fmt.Errorf("hop %d payload of %d "+
				"bytes exceeds onion size %d", i, shift, size)
		}
		copy(routingInfo[shift:], routingInfo[:size-shift])
		copy(routingInfo, frame.Bytes())

		rho := generateKey("rho", secrets[i])
		if err := cipherStream(rho, routingInfo); err != nil {
			return nil, nil, err
		}

		mu := generateKey("mu", secrets[i])
		mac := hmac.New(sha256.New, mu[:])
		mac.Write(routingInfo)
		mac.Write(assocData)
		copy(nextHMAC[:], mac.Sum(nil))
	}

	packet := &Packet{
		RoutingInfo: routingInfo,
		HMAC:        nextHMAC,
	}
	copy(packet.EphemeralPK[:],
		sessionKey.PubKey().SerializeCompressed())
	return packet, secrets, nil
}

// writeVarLen emits the BigSize length prefix framing each hop payload.
func writeVarLen(buf *bytes.Buffer, n uint64) {
	switch {
	case n < 0xfd:
		buf.WriteByte(byte(n))
	case n < 0x10000:
		buf.WriteByte(0xfd)
		buf.WriteByte(byte(n >> 8))
		buf.WriteByte(byte(n))
	default:
		buf.WriteByte(0xfe)
		buf.WriteByte(byte(n >> 24))
		buf.WriteByte(byte(n >> 16))
		buf.WriteByte(byte(n >> 8))
		buf.WriteByte(byte(n))
	}
}

// ObfuscateFailure applies one hop's ammag layer over a failure packet.
// Erring nodes call this once; every transit hop on the return path calls
// it again.
func ObfuscateFailure(secret [32]byte, packet []byte) ([]byte, error) {
	out := append([]byte{}, packet...)
	ammag := generateKey("ammag", secret)
	if err := cipherStream(ammag, out); err != nil {
		return nil, err
	}
	return out, nil
}

// BuildFailurePacket constructs the failure packet an erring hop would
// produce: um-keyed HMAC, length-framed failure message, padding, then one
// ammag layer. Used by the payment tests to fabricate remote failures.
func BuildFailurePacket(secret [32]byte, msg *lnwire.FailureMessage) ([]byte,
	error) {

	body, err := lnwire.EncodeFailureMessage(msg)
	if err != nil {
		return nil, err
	}

	const padTo = 256
	if len(body) > padTo {
		return nil, fmt.Errorf("failure message of %d bytes too large",
			len(body))
	}
	pad := make([]byte, padTo-len(body))

	var payload bytes.Buffer
	payload.WriteByte(byte(len(body) >> 8))
	payload.WriteByte(byte(len(body)))
	payload.Write(body)
	payload.WriteByte(byte(len(pad) >> 8))
	payload.WriteByte(byte(len(pad)))
	payload.Write(pad)

	um := generateKey("um", secret)
	mac := hmac.New(sha256.New, um[:])
	mac.Write(payload.Bytes())

	packet := append(mac.Sum(nil), payload.Bytes()...)
	return ObfuscateFailure(secret, packet)
}

// DecryptedFailure is the outcome of peeling a failure onion back at the
// origin.
type DecryptedFailure struct {
	// HopIndex is the position of the erring node on the route, zero
	// based.
	HopIndex int

	// Msg is the decoded failure.
	Msg *lnwire.FailureMessage
}

// DecryptFailure peels ammag layers with the retained per-hop secrets until
// one hop's um HMAC authenticates the packet. An error means no hop
// authenticated: the failure is unreadable and the caller picks a suspect
// by other means.
func DecryptFailure(secrets [][32]byte, packet []byte) (*DecryptedFailure,
	error) {

	data := append([]byte{}, packet...)
	for i, secret := range secrets {
		ammag := generateKey("ammag", secret)
		if err := cipherStream(ammag, data); err != nil {
			return nil, err
		}
		if len(data) < 34 {
			return nil, fmt.Errorf("failure packet of %d bytes "+
				"too short", len(data))
		}

		um := generateKey("um", secret)
		mac := hmac.New(sha256.New, um[:])
		mac.Write(data[32:])
		if !hmac.Equal(mac.Sum(nil), data[:32]) {
			continue
		}

		failLen := int(data[32])<<8 | int(data[33])
		if 34+failLen > len(data) {
			return nil, fmt.Errorf("failure length %d overruns "+
				"packet", failLen)
		}
		msg, err := lnwire.DecodeFailureMessage(data[34 : 34+failLen])
		if err != nil {
			return nil, err
		}
		return &DecryptedFailure{HopIndex: i, Msg: msg}, nil
	}
	return nil, fmt.Errorf("failure packet unreadable with %d hop secrets",
		len(secrets))
}
