// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package lnwire

import (
	"bytes"
	"hash/crc32"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Init is the first message either side sends on a fresh connection,
// advertising its feature bits.
type Init struct {
	GlobalFeatures *RawFeatureVector
	Features       *RawFeatureVector
}

// MsgType returns the message type code.
func (m *Init) MsgType() MessageType { return MsgInit }

// Encode serializes the message.
func (m *Init) Encode(w io.Writer) error {
	global := m.GlobalFeatures
	if global == nil {
		global = NewRawFeatureVector()
	}
	local := m.Features
	if local == nil {
		local = NewRawFeatureVector()
	}
	return writeElements(w, global, local)
}

// Decode deserializes the message.
func (m *Init) Decode(r io.Reader) error {
	m.GlobalFeatures = NewRawFeatureVector()
	m.Features = NewRawFeatureVector()
	return readElements(r, m.GlobalFeatures, m.Features)
}

// HasExtendedRangeQueries reports whether the peer supports gossip queries
// with the timestamp and checksum TLV extensions, merging the legacy global
// vector per BOLT 9.
func (m *Init) HasExtendedRangeQueries() bool {
	return m.Features.HasFeature(ChannelRangeQueriesExRequired) ||
		m.GlobalFeatures.HasFeature(ChannelRangeQueriesExRequired)
}

// ChannelAnnouncement is the canonical proof that a channel exists between
// two nodes.
type ChannelAnnouncement struct {
	NodeSig1    Sig
	NodeSig2    Sig
	BitcoinSig1 Sig
	BitcoinSig2 Sig

	Features       *RawFeatureVector
	ChainHash      chainhash.Hash
	ShortChannelID ShortChannelID

	NodeID1     NodeID
	NodeID2     NodeID
	BitcoinKey1 NodeID
	BitcoinKey2 NodeID
}

// MsgType returns the message type code.
func (a *ChannelAnnouncement) MsgType() MessageType { return MsgChannelAnnouncement }

// Encode serializes the announcement.
func (a *ChannelAnnouncement) Encode(w io.Writer) error {
	features := a.Features
	if features == nil {
		features = NewRawFeatureVector()
	}
	return writeElements(w,
		a.NodeSig1, a.NodeSig2, a.BitcoinSig1, a.BitcoinSig2,
		features, a.ChainHash[:], a.ShortChannelID,
		a.NodeID1, a.NodeID2, a.BitcoinKey1, a.BitcoinKey2,
	)
}

// Decode deserializes the announcement.
func (a *ChannelAnnouncement) Decode(r io.Reader) error {
	a.Features = NewRawFeatureVector()
	var chain [32]byte
	err := readElements(r,
		&a.NodeSig1, &a.NodeSig2, &a.BitcoinSig1, &a.BitcoinSig2,
		a.Features, &chain, &a.ShortChannelID,
		&a.NodeID1, &a.NodeID2, &a.BitcoinKey1, &a.BitcoinKey2,
	)
	if err != nil {
		return err
	}
	copy(a.ChainHash[:], chain[:])
	return nil
}

// Lite strips the signatures, leaving only the part of the announcement the
// sync machinery and the router care about.
func (a *ChannelAnnouncement) Lite() ChannelAnnouncementLite {
	return ChannelAnnouncementLite{
		ShortChannelID: a.ShortChannelID,
		NodeID1:        a.NodeID1,
		NodeID2:        a.NodeID2,
	}
}

// ChannelAnnouncementLite is a channel announcement with the signatures
// dropped; the sync master only admits announcements corroborated by enough
// peers, so individual signatures carry no extra information.
type ChannelAnnouncementLite struct {
	ShortChannelID ShortChannelID
	NodeID1        NodeID
	NodeID2        NodeID
}

// IsHosted reports whether the SCID matches the deterministic hosted-channel
// hash of the two endpoints, which is how hosted announcements mark
// themselves.
func (a ChannelAnnouncementLite) IsHosted() bool {
	return a.ShortChannelID == HostedShortChannelID(a.NodeID1, a.NodeID2)
}

// HostedShortChannelID derives the SCID a hosted channel between the two
// nodes must carry: the first 8 bytes of SHA256(min(id1,id2) || max(id1,id2))
// interpreted big-endian.
func HostedShortChannelID(a, b NodeID) ShortChannelID {
	lo, hi := a, b
	if hi.IsLess(lo) {
		lo, hi = hi, lo
	}
	var buf [66]byte
	copy(buf[:33], lo[:])
	copy(buf[33:], hi[:])
	digest := chainhash.HashB(buf[:])

	var raw uint64
	for i := 0; i < 8; i++ {
		raw = raw<<8 | uint64(digest[i])
	}
	return NewShortChanIDFromInt(raw)
}

// Channel flag bits of a ChannelUpdate.
const (
	// ChanUpdateDirection selects which endpoint the update comes from:
	// 0 means node 1, 1 means node 2.
	ChanUpdateDirection uint8 = 1 << 0

	// ChanUpdateDisabled marks the direction as unusable for routing.
	ChanUpdateDisabled uint8 = 1 << 1
)

// Message flag bits of a ChannelUpdate.
const (
	// ChanUpdateOptionMaxHtlc signals that the HtlcMaximumMsat field is
	// present.
	ChanUpdateOptionMaxHtlc uint8 = 1 << 0
)

// ChannelUpdate carries one direction's routing policy for a channel.
type ChannelUpdate struct {
	Signature Sig

	ChainHash      chainhash.Hash
	ShortChannelID ShortChannelID
	Timestamp      uint32
	MessageFlags   uint8
	ChannelFlags   uint8
	TimeLockDelta  uint16

	HtlcMinimumMsat MilliSatoshi
	BaseFee         uint32
	FeeRate         uint32

	// HtlcMaximumMsat is only valid when MessageFlags has the max-htlc
	// bit set.
	HtlcMaximumMsat MilliSatoshi
}

// MsgType returns the message type code.
func (u *ChannelUpdate) MsgType() MessageType { return MsgChannelUpdate }

// Encode serializes the update.
func (u *ChannelUpdate) Encode(w io.Writer) error {
	if err := writeElement(w, u.Signature); err != nil {
		return err
	}
	return u.encodeSigned(w)
}

// encodeSigned writes everything the signature covers.
func (u *ChannelUpdate) encodeSigned(w io.Writer) error {
	err := writeElements(w, u.ChainHash[:], u.ShortChannelID, u.Timestamp,
		u.MessageFlags, u.ChannelFlags, u.TimeLockDelta,
		u.HtlcMinimumMsat, u.BaseFee, u.FeeRate)
	if err != nil {
		return err
	}
	if u.MessageFlags&ChanUpdateOptionMaxHtlc != 0 {
		return writeElement(w, u.HtlcMaximumMsat)
	}
	return nil
}

// Decode deserializes the update.
func (u *ChannelUpdate) Decode(r io.Reader) error {
	var chain [32]byte
	err := readElements(r, &u.Signature, &chain, &u.ShortChannelID,
		&u.Timestamp, &u.MessageFlags, &u.ChannelFlags,
		&u.TimeLockDelta, &u.HtlcMinimumMsat, &u.BaseFee, &u.FeeRate)
	if err != nil {
		return err
	}
	copy(u.ChainHash[:], chain[:])
	if u.MessageFlags&ChanUpdateOptionMaxHtlc != 0 {
		return readElement(r, &u.HtlcMaximumMsat)
	}
	return nil
}

// Position returns the direction this update describes: 0 for node 1,
// 1 for node 2.
func (u *ChannelUpdate) Position() int {
	return int(u.ChannelFlags & ChanUpdateDirection)
}

// IsDisabled reports whether this direction is flagged unusable.
func (u *ChannelUpdate) IsDisabled() bool {
	return u.ChannelFlags&ChanUpdateDisabled != 0
}

// HasMaxHtlc reports whether the htlc_maximum_msat field is present.
func (u *ChannelUpdate) HasMaxHtlc() bool {
	return u.MessageFlags&ChanUpdateOptionMaxHtlc != 0
}

// DataToSign returns the double-SHA256 digest the update's signature covers.
func (u *ChannelUpdate) DataToSign() ([]byte, error) {
	var buf bytes.Buffer
	if err := u.encodeSigned(&buf); err != nil {
		return nil, err
	}
	return chainhash.DoubleHashB(buf.Bytes()), nil
}

// VerifySig checks the update signature against the claimed originator.
func (u *ChannelUpdate) VerifySig(node NodeID) bool {
	digest, err := u.DataToSign()
	if err != nil {
		return false
	}
	return u.Signature.Verify(digest, node)
}

// castagnoli is the CRC32C table BOLT 7 checksums are computed with.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes the BOLT 7 CRC32C digest of the update, skipping the
// signature and the timestamp so logically equal updates collide.
func (u *ChannelUpdate) Checksum() uint32 {
	var buf bytes.Buffer
	writeElements(&buf, u.ChainHash[:], u.ShortChannelID, u.MessageFlags,
		u.ChannelFlags, u.TimeLockDelta, u.HtlcMinimumMsat, u.BaseFee,
		u.FeeRate)
	if u.HasMaxHtlc() {
		writeElement(&buf, u.HtlcMaximumMsat)
	}
	return crc32.Checksum(buf.Bytes(), castagnoli)
}

// Core extracts the policy identity of the update: everything that makes two
// updates logically equal regardless of timestamp and signature.
func (u *ChannelUpdate) Core() UpdateCore {
	return UpdateCore{
		ShortChannelID:  u.ShortChannelID,
		Position:        u.Position(),
		MessageFlags:    u.MessageFlags,
		ChannelFlags:    u.ChannelFlags,
		TimeLockDelta:   u.TimeLockDelta,
		HtlcMinimumMsat: u.HtlcMinimumMsat,
		BaseFee:         u.BaseFee,
		FeeRate:         u.FeeRate,
		HtlcMaximumMsat: u.HtlcMaximumMsat,
	}
}

// Lite strips the signature and the chain hash.
func (u *ChannelUpdate) Lite() ChannelUpdateLite {
	return ChannelUpdateLite{
		Core:      u.Core(),
		Timestamp: u.Timestamp,
	}
}

// UpdateCore is the comparable policy identity of a channel update. It is a
// value type usable as a map key.
type UpdateCore struct {
	ShortChannelID  ShortChannelID
	Position        int
	MessageFlags    uint8
	ChannelFlags    uint8
	TimeLockDelta   uint16
	HtlcMinimumMsat MilliSatoshi
	BaseFee         uint32
	FeeRate         uint32
	HtlcMaximumMsat MilliSatoshi
}

// IsDisabled reports whether the direction is flagged unusable.
func (c UpdateCore) IsDisabled() bool {
	return c.ChannelFlags&ChanUpdateDisabled != 0
}

// HasMaxHtlc reports whether the htlc_maximum_msat field is meaningful.
func (c UpdateCore) HasMaxHtlc() bool {
	return c.MessageFlags&ChanUpdateOptionMaxHtlc != 0
}

// ChannelUpdateLite is a channel update with the signature dropped but the
// timestamp kept, so one representative of a confirmed core can still be
// handed to the router.
type ChannelUpdateLite struct {
	Core      UpdateCore
	Timestamp uint32
}

// NodeAnnouncement carries a node's metadata: alias, feature bits and
// network addresses.
type NodeAnnouncement struct {
	Signature Sig

	Features  *RawFeatureVector
	Timestamp uint32
	NodeID    NodeID
	RGBColor  [3]byte
	Alias     [32]byte

	// Addresses is the raw length-prefixed address blob; the payment core
	// never dials nodes itself, so the blob stays opaque here.
	Addresses []byte
}

// MsgType returns the message type code.
func (a *NodeAnnouncement) MsgType() MessageType { return MsgNodeAnnouncement }

// Encode serializes the announcement.
func (a *NodeAnnouncement) Encode(w io.Writer) error {
	features := a.Features
	if features == nil {
		features = NewRawFeatureVector()
	}
	err := writeElements(w, a.Signature, features, a.Timestamp, a.NodeID)
	if err != nil {
		return err
	}
	if _, err := w.Write(a.RGBColor[:]); err != nil {
		return err
	}
	if _, err := w.Write(a.Alias[:]); err != nil {
		return err
	}
	if err := writeElement(w, uint16(len(a.Addresses))); err != nil {
		return err
	}
	_, err = w.Write(a.Addresses)
	return err
}

// Decode deserializes the announcement.
func (a *NodeAnnouncement) Decode(r io.Reader) error {
	a.Features = NewRawFeatureVector()
	err := readElements(r, &a.Signature, a.Features, &a.Timestamp,
		&a.NodeID)
	if err != nil {
		return err
	}
	if _, err := io.ReadFull(r, a.RGBColor[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, a.Alias[:]); err != nil {
		return err
	}
	var addrLen uint16
	if err := readElement(r, &addrLen); err != nil {
		return err
	}
	a.Addresses = make([]byte, addrLen)
	_, err = io.ReadFull(r, a.Addresses)
	return err
}

// DataToSign returns the double-SHA256 digest the announcement signature
// covers.
func (a *NodeAnnouncement) DataToSign() ([]byte, error) {
	var buf bytes.Buffer
	features := a.Features
	if features == nil {
		features = NewRawFeatureVector()
	}
	err := writeElements(&buf, features, a.Timestamp, a.NodeID)
	if err != nil {
		return nil, err
	}
	buf.Write(a.RGBColor[:])
	buf.Write(a.Alias[:])
	if err := writeElement(&buf, uint16(len(a.Addresses))); err != nil {
		return nil, err
	}
	buf.Write(a.Addresses)
	return chainhash.DoubleHashB(buf.Bytes()), nil
}

// VerifySig checks the announcement against its own claimed node ID.
func (a *NodeAnnouncement) VerifySig() bool {
	digest, err := a.DataToSign()
	if err != nil {
		return false
	}
	return a.Signature.Verify(digest, a.NodeID)
}
