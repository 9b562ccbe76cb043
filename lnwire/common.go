// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package lnwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// NodeID is a compressed secp256k1 public key identifying a node.
type NodeID [33]byte

// NewNodeID converts a parsed public key into its wire form.
func NewNodeID(pub *btcec.PublicKey) NodeID {
	var id NodeID
	copy(id[:], pub.SerializeCompressed())
	return id
}

// ParsePubKey parses the node ID back into a usable public key.
func (n NodeID) ParsePubKey() (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(n[:])
}

// String returns the hex encoding of the node ID.
func (n NodeID) String() string {
	return fmt.Sprintf("%x", n[:])
}

// IsLess establishes the canonical BOLT 7 node ordering used when a channel
// announcement must name its endpoints in ascending key order.
func (n NodeID) IsLess(other NodeID) bool {
	for i := range n {
		if n[i] != other[i] {
			return n[i] < other[i]
		}
	}
	return false
}

// Sig is a 64-byte compact ECDSA signature as carried on the wire.
type Sig [64]byte

// ToSignature parses the compact r||s form into an ecdsa.Signature usable
// for verification.
func (s Sig) ToSignature() (*ecdsa.Signature, error) {
	var r, ss btcec.ModNScalar
	if overflow := r.SetByteSlice(s[:32]); overflow {
		return nil, fmt.Errorf("sig r value overflows")
	}
	if overflow := ss.SetByteSlice(s[32:]); overflow {
		return nil, fmt.Errorf("sig s value overflows")
	}
	return ecdsa.NewSignature(&r, &ss), nil
}

// Verify checks the signature over the given 32-byte digest against the
// node's public key.
func (s Sig) Verify(digest []byte, node NodeID) bool {
	sig, err := s.ToSignature()
	if err != nil {
		return false
	}
	pub, err := node.ParsePubKey()
	if err != nil {
		return false
	}
	return sig.Verify(digest, pub)
}

// writeElements encodes a sequence of wire primitives to w. Supported kinds
// mirror the fields the messages in this package carry.
func writeElements(w io.Writer, elements ...interface{}) error {
	for _, element := range elements {
		if err := writeElement(w, element); err != nil {
			return err
		}
	}
	return nil
}

func writeElement(w io.Writer, element interface{}) error {
	switch e := element.(type) {
	case uint8:
		_, err := w.Write([]byte{e})
		return err

	case uint16:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], e)
		_, err := w.Write(b[:])
		return err

	case uint32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], e)
		_, err := w.Write(b[:])
		return err

	case uint64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], e)
		_, err := w.Write(b[:])
		return err

	case MilliSatoshi:
		return writeElement(w, uint64(e))

	case ShortChannelID:
		return writeElement(w, e.ToUint64())

	case NodeID:
		_, err := w.Write(e[:])
		return err

	case Sig:
		_, err := w.Write(e[:])
		return err

	case [32]byte:
		_, err := w.Write(e[:])
		return err

	case []byte:
		_, err := w.Write(e)
		return err

	case *RawFeatureVector:
		return e.Encode(w)

	default:
		return fmt.Errorf("unknown element type %T", element)
	}
}

// readElements decodes a sequence of wire primitives from r into the given
// pointers.
func readElements(r io.Reader, elements ...interface{}) error {
	for _, element := range elements {
		if err := readElement(r, element); err != nil {
			return err
		}
	}
	return nil
}

func readElement(r io.Reader, element interface{}) error {
	switch e := element.(type) {
	case *uint8:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = b[0]
		return nil

	case *uint16:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = binary.BigEndian.Uint16(b[:])
		return nil

	case *uint32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = binary.BigEndian.Uint32(b[:])
		return nil

	case *uint64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = binary.BigEndian.Uint64(b[:])
		return nil

	case *MilliSatoshi:
		var v uint64
		if err := readElement(r, &v); err != nil {
			return err
		}
		*e = MilliSatoshi(v)
		return nil

	case *ShortChannelID:
		var v uint64
		if err := readElement(r, &v); err != nil {
			return err
		}
		*e = NewShortChanIDFromInt(v)
		return nil

	case *NodeID:
		_, err := io.ReadFull(r, e[:])
		return err

	case *Sig:
		_, err := io.ReadFull(r, e[:])
		return err

	case *[32]byte:
		_, err := io.ReadFull(r, e[:])
		return err

	case *RawFeatureVector:
		return e.Decode(r)

	default:
		return fmt.Errorf("unknown element type %T", element)
	}
}

// tlvRecord is one raw TLV record: a varint-free BigSize-coded type, a
// length, and an opaque value.
type tlvRecord struct {
	typ   uint64
	value []byte
}

// writeBigSize encodes n using the Lightning BigSize varint format.
func writeBigSize(w io.Writer, n uint64) error {
	switch {
	case n < 0xfd:
		return writeElement(w, uint8(n))
	case n < 0x10000:
		if err := writeElement(w, uint8(0xfd)); err != nil {
			return err
		}
		return writeElement(w, uint16(n))
	case n < 0x100000000:
		if err := writeElement(w, uint8(0xfe)); err != nil {
			return err
		}
		return writeElement(w, uint32(n))
	default:
		if err := writeElement(w, uint8(0xff)); err != nil {
			return err
		}
		return writeElement(w, n)
	}
}

// readBigSize decodes a BigSize varint.
func readBigSize(r io.Reader) (uint64, error) {
	var discriminant uint8
	if err := readElement(r, &discriminant); err != nil {
		return 0, err
	}
	switch discriminant {
	case 0xff:
		var v uint64
		err := readElement(r, &v)
		return v, err
	case 0xfe:
		var v uint32
		err := readElement(r, &v)
		return uint64(v), err
	case 0xfd:
		var v uint16
		err := readElement(r, &v)
		return uint64(v), err
	default:
		return uint64(discriminant), nil
	}
}

// writeTLV appends one TLV record to w.
func writeTLV(w io.Writer, rec tlvRecord) error {
	if err := writeBigSize(w, rec.typ); err != nil {
		return err
	}
	if err := writeBigSize(w, uint64(len(rec.value))); err != nil {
		return err
	}
	_, err := w.Write(rec.value)
	return err
}

// readTLVStream consumes r to EOF, returning the raw records in order. Even
// unknown types are the caller's problem per the it's-ok-to-be-odd rule.
func readTLVStream(r io.Reader) ([]tlvRecord, error) {
	var records []tlvRecord
	for {
		typ, err := readBigSize(r)
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		length, err := readBigSize(r)
		if err != nil {
			return nil, err
		}
		value := make([]byte, length)
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, err
		}
		records = append(records, tlvRecord{typ: typ, value: value})
	}
}
