// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package lnwire

import (
	"encoding/binary"
	"io"
)

// FeatureBit represents a feature advertised in an Init or NodeAnnouncement
// message. Even bits are compulsory, the next odd bit is the optional form of
// the same feature.
type FeatureBit uint16

const (
	// DataLossProtectRequired/Optional signal the option_data_loss_protect
	// channel re-establishment extension.
	DataLossProtectRequired FeatureBit = 0
	DataLossProtectOptional FeatureBit = 1

	// GossipQueriesRequired/Optional signal support for the BOLT 7 gossip
	// query protocol.
	GossipQueriesRequired FeatureBit = 6
	GossipQueriesOptional FeatureBit = 7

	// ChannelRangeQueriesExRequired/Optional signal support for gossip
	// queries carrying the timestamp and checksum extension TLVs. Sync
	// workers refuse peers that advertise neither bit.
	ChannelRangeQueriesExRequired FeatureBit = 10
	ChannelRangeQueriesExOptional FeatureBit = 11

	// PaymentSecretRequired/Optional signal support for the payment_secret
	// field of the final onion payload.
	PaymentSecretRequired FeatureBit = 14
	PaymentSecretOptional FeatureBit = 15

	// BasicMPPRequired/Optional signal support for receiving multi-part
	// payments.
	BasicMPPRequired FeatureBit = 16
	BasicMPPOptional FeatureBit = 17
)

// RawFeatureVector is a set of feature bits, encoded on the wire as a
// big-endian bit string with leading zero bytes trimmed.
type RawFeatureVector struct {
	features map[FeatureBit]struct{}
}

// NewRawFeatureVector creates a feature vector with the given bits set.
func NewRawFeatureVector(bits ...FeatureBit) *RawFeatureVector {
	fv := &RawFeatureVector{features: make(map[FeatureBit]struct{})}
	for _, bit := range bits {
		fv.Set(bit)
	}
	return fv
}

// IsSet returns whether a particular bit is enabled in the vector.
func (fv *RawFeatureVector) IsSet(bit FeatureBit) bool {
	if fv == nil || fv.features == nil {
		return false
	}
	_, ok := fv.features[bit]
	return ok
}

// Set marks a bit as enabled.
func (fv *RawFeatureVector) Set(bit FeatureBit) {
	if fv.features == nil {
		fv.features = make(map[FeatureBit]struct{})
	}
	fv.features[bit] = struct{}{}
}

// HasFeature returns whether either the compulsory or the optional form of
// the feature identified by its even bit is set.
func (fv *RawFeatureVector) HasFeature(evenBit FeatureBit) bool {
	return fv.IsSet(evenBit) || fv.IsSet(evenBit^1)
}

// serializedSize returns the number of bytes needed to hold the highest set
// bit.
func (fv *RawFeatureVector) serializedSize() int {
	max := -1
	for bit := range fv.features {
		if int(bit) > max {
			max = int(bit)
		}
	}
	return max/8 + 1
}

// Encode writes the feature vector prefixed with its 2-byte length.
func (fv *RawFeatureVector) Encode(w io.Writer) error {
	size := 0
	if fv != nil && len(fv.features) > 0 {
		size = fv.serializedSize()
	}

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(size))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}

	data := make([]byte, size)
	for bit := range fv.features {
		byteIndex := int(bit) / 8
		bitIndex := uint(bit) % 8
		data[size-byteIndex-1] |= 1 << bitIndex
	}
	_, err := w.Write(data)
	return err
}

// Decode reads a length-prefixed feature vector.
func (fv *RawFeatureVector) Decode(r io.Reader) error {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint16(lenBuf[:])

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}

	fv.features = make(map[FeatureBit]struct{})
	for i := uint16(0); i < size*8; i++ {
		byteIndex := int(i / 8)
		bitIndex := uint(i % 8)
		if data[int(size)-byteIndex-1]&(1<<bitIndex) != 0 {
			fv.Set(FeatureBit(i))
		}
	}
	return nil
}
