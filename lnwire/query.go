// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package lnwire

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ShortChanIDEncoding is the encoding byte prefixing every encoded SCID (and
// query flag) list inside the gossip query messages.
type ShortChanIDEncoding uint8

const (
	// EncodingSortedPlain is a sorted array of raw big-endian SCIDs.
	EncodingSortedPlain ShortChanIDEncoding = 0

	// EncodingSortedZlib is the same array behind a zlib stream.
	EncodingSortedZlib ShortChanIDEncoding = 1
)

// Query flag bits of the encoded-query-flags TLV, one flag per requested
// SCID.
const (
	QueryFlagAnnouncement uint64 = 1 << 0
	QueryFlagUpdate1      uint64 = 1 << 1
	QueryFlagUpdate2      uint64 = 1 << 2
	QueryFlagNodeAnn1     uint64 = 1 << 3
	QueryFlagNodeAnn2     uint64 = 1 << 4
)

// maxBlockHeight requests the whole chain when used as numBlocks.
const maxBlockHeight uint32 = math.MaxUint32

const (
	replyChannelRangeTimestampsType uint64 = 1
	replyChannelRangeChecksumsType  uint64 = 3
	queryShortIDsFlagsType          uint64 = 1
	queryChannelRangeOptionsType    uint64 = 1

	// queryOptionTimestamps/Checksums ask the peer to attach the extended
	// TLVs to its ReplyChannelRange messages.
	queryOptionTimestamps uint64 = 1 << 0
	queryOptionChecksums  uint64 = 1 << 1
)

// QueryChannelRange asks a peer for all SCIDs it knows within a block span.
type QueryChannelRange struct {
	ChainHash        chainhash.Hash
	FirstBlockHeight uint32
	NumBlocks        uint32

	// WantTimestamps/WantChecksums request the extended reply TLVs. Both
	// are always set by the sync workers here; peers without the
	// extension are evicted at handshake time.
	WantTimestamps bool
	WantChecksums  bool
}

// NewFullQueryChannelRange builds the query the short-id sync phase opens
// with: the entire chain, with both extension TLVs requested.
func NewFullQueryChannelRange(chain chainhash.Hash) *QueryChannelRange {
	return &QueryChannelRange{
		ChainHash:        chain,
		FirstBlockHeight: 0,
		NumBlocks:        maxBlockHeight,
		WantTimestamps:   true,
		WantChecksums:    true,
	}
}

// MsgType returns the message type code.
func (q *QueryChannelRange) MsgType() MessageType { return MsgQueryChannelRange }

// Encode serializes the query.
func (q *QueryChannelRange) Encode(w io.Writer) error {
	err := writeElements(w, q.ChainHash[:], q.FirstBlockHeight, q.NumBlocks)
	if err != nil {
		return err
	}

	var opts uint64
	if q.WantTimestamps {
		opts |= queryOptionTimestamps
	}
	if q.WantChecksums {
		opts |= queryOptionChecksums
	}
	if opts == 0 {
		return nil
	}

	var optBuf bytes.Buffer
	if err := writeBigSize(&optBuf, opts); err != nil {
		return err
	}
	return writeTLV(w, tlvRecord{
		typ:   queryChannelRangeOptionsType,
		value: optBuf.Bytes(),
	})
}

// Decode deserializes the query.
func (q *QueryChannelRange) Decode(r io.Reader) error {
	var chain [32]byte
	if err := readElements(r, &chain, &q.FirstBlockHeight, &q.NumBlocks); err != nil {
		return err
	}
	copy(q.ChainHash[:], chain[:])

	records, err := readTLVStream(r)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.typ != queryChannelRangeOptionsType {
			continue
		}
		opts, err := readBigSize(bytes.NewReader(rec.value))
		if err != nil {
			return err
		}
		q.WantTimestamps = opts&queryOptionTimestamps != 0
		q.WantChecksums = opts&queryOptionChecksums != 0
	}
	return nil
}

// UpdateDigest is the (timestamp, checksum) pair a peer advertises for one
// direction of a channel inside a ReplyChannelRange.
type UpdateDigest struct {
	Timestamp uint32
	Checksum  uint32
}

// ShouldRequest implements the BOLT 7 should_request_update rule: the peer's
// copy is worth asking for iff its timestamp is strictly newer, or equal
// with a different checksum.
func (d UpdateDigest) ShouldRequest(ours UpdateDigest) bool {
	if d.Timestamp != ours.Timestamp {
		return d.Timestamp > ours.Timestamp
	}
	return d.Checksum != ours.Checksum
}

// ReplyChannelRange is one block of a peer's answer to QueryChannelRange.
// The three parallel slices must be equal length for the reply to be
// considered holistic by the sync master.
type ReplyChannelRange struct {
	ChainHash        chainhash.Hash
	FirstBlockHeight uint32
	NumBlocks        uint32
	SyncComplete     bool

	Encoding ShortChanIDEncoding
	ShortChanIDs []ShortChannelID

	// Timestamps and Checksums carry one pair per SCID, ordered the same
	// way: index 0 is direction 0, index 1 is direction 1.
	Timestamps [][2]UpdateDigest
	Checksums  [][2]uint32
}

// IsHolistic reports whether the parallel arrays agree in length. Replies
// failing this are discarded whole by the master.
func (m *ReplyChannelRange) IsHolistic() bool {
	return len(m.ShortChanIDs) == len(m.Timestamps) &&
		len(m.ShortChanIDs) == len(m.Checksums)
}

// MsgType returns the message type code.
func (m *ReplyChannelRange) MsgType() MessageType { return MsgReplyChannelRange }

// Encode serializes the reply.
func (m *ReplyChannelRange) Encode(w io.Writer) error {
	var complete uint8
	if m.SyncComplete {
		complete = 1
	}
	err := writeElements(w, m.ChainHash[:], m.FirstBlockHeight,
		m.NumBlocks, complete)
	if err != nil {
		return err
	}

	if err := encodeShortChanIDs(w, m.Encoding, m.ShortChanIDs); err != nil {
		return err
	}

	if len(m.Timestamps) > 0 {
		var buf bytes.Buffer
		buf.WriteByte(byte(EncodingSortedPlain))
		for _, pair := range m.Timestamps {
			if err := writeElements(&buf, pair[0].Timestamp,
				pair[1].Timestamp); err != nil {
				return err
			}
		}
		err := writeTLV(w, tlvRecord{
			typ:   replyChannelRangeTimestampsType,
			value: buf.Bytes(),
		})
		if err != nil {
			return err
		}
	}

	if len(m.Checksums) > 0 {
		var buf bytes.Buffer
		for _, pair := range m.Checksums {
			if err := writeElements(&buf, pair[0], pair[1]); err != nil {
				return err
			}
		}
		err := writeTLV(w, tlvRecord{
			typ:   replyChannelRangeChecksumsType,
			value: buf.Bytes(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Decode deserializes the reply.
func (m *ReplyChannelRange) Decode(r io.Reader) error {
	var (
		chain    [32]byte
		complete uint8
	)
	err := readElements(r, &chain, &m.FirstBlockHeight, &m.NumBlocks,
		&complete)
	if err != nil {
		return err
	}
	copy(m.ChainHash[:], chain[:])
	m.SyncComplete = complete != 0

	m.Encoding, m.ShortChanIDs, err = decodeShortChanIDs(r)
	if err != nil {
		return err
	}

	records, err := readTLVStream(r)
	if err != nil {
		return err
	}
	for _, rec := range records {
		switch rec.typ {
		case replyChannelRangeTimestampsType:
			if len(rec.value) < 1 {
				return fmt.Errorf("empty timestamps tlv")
			}
			body := rec.value[1:]
			if len(body)%8 != 0 {
				return fmt.Errorf("odd timestamps tlv size %d",
					len(body))
			}
			m.Timestamps = make([][2]UpdateDigest, 0, len(body)/8)
			for i := 0; i+8 <= len(body); i += 8 {
				m.Timestamps = append(m.Timestamps, [2]UpdateDigest{
					{Timestamp: binary.BigEndian.Uint32(body[i:])},
					{Timestamp: binary.BigEndian.Uint32(body[i+4:])},
				})
			}

		case replyChannelRangeChecksumsType:
			if len(rec.value)%8 != 0 {
				return fmt.Errorf("odd checksums tlv size %d",
					len(rec.value))
			}
			m.Checksums = make([][2]uint32, 0, len(rec.value)/8)
			for i := 0; i+8 <= len(rec.value); i += 8 {
				m.Checksums = append(m.Checksums, [2]uint32{
					binary.BigEndian.Uint32(rec.value[i:]),
					binary.BigEndian.Uint32(rec.value[i+4:]),
				})
			}
		}
	}

	// Fold checksums into the digest view so callers only consult
	// Timestamps for the combined rule.
	for i := range m.Timestamps {
		if i < len(m.Checksums) {
			m.Timestamps[i][0].Checksum = m.Checksums[i][0]
			m.Timestamps[i][1].Checksum = m.Checksums[i][1]
		}
	}
	return nil
}

// QueryShortChanIDs asks a peer for the gossip messages covering a batch of
// SCIDs, filtered per SCID by the query flags.
type QueryShortChanIDs struct {
	ChainHash chainhash.Hash

	Encoding ShortChanIDEncoding
	ShortChanIDs []ShortChannelID

	// Flags carries one query-flag bitfield per SCID, same order.
	Flags []uint64
}

// MsgType returns the message type code.
func (q *QueryShortChanIDs) MsgType() MessageType { return MsgQueryShortChanIDs }

// Encode serializes the query.
func (q *QueryShortChanIDs) Encode(w io.Writer) error {
	if err := writeElement(w, q.ChainHash[:]); err != nil {
		return err
	}
	if err := encodeShortChanIDs(w, q.Encoding, q.ShortChanIDs); err != nil {
		return err
	}

	if len(q.Flags) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(EncodingSortedPlain))
	for _, flag := range q.Flags {
		if err := writeBigSize(&buf, flag); err != nil {
			return err
		}
	}
	return writeTLV(w, tlvRecord{
		typ:   queryShortIDsFlagsType,
		value: buf.Bytes(),
	})
}

// Decode deserializes the query.
func (q *QueryShortChanIDs) Decode(r io.Reader) error {
	var chain [32]byte
	if err := readElement(r, &chain); err != nil {
		return err
	}
	copy(q.ChainHash[:], chain[:])

	var err error
	q.Encoding, q.ShortChanIDs, err = decodeShortChanIDs(r)
	if err != nil {
		return err
	}

	records, err := readTLVStream(r)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.typ != queryShortIDsFlagsType {
			continue
		}
		if len(rec.value) < 1 {
			return fmt.Errorf("empty query flags tlv")
		}
		flagReader := bytes.NewReader(rec.value[1:])
		q.Flags = nil
		for flagReader.Len() > 0 {
			flag, err := readBigSize(flagReader)
			if err != nil {
				return err
			}
			q.Flags = append(q.Flags, flag)
		}
	}
	return nil
}

// ReplyShortChanIDsEnd terminates the peer's stream of gossip messages for
// one QueryShortChanIDs batch.
type ReplyShortChanIDsEnd struct {
	ChainHash chainhash.Hash
	Complete  bool
}

// MsgType returns the message type code.
func (m *ReplyShortChanIDsEnd) MsgType() MessageType { return MsgReplyShortChanIDsEnd }

// Encode serializes the message.
func (m *ReplyShortChanIDsEnd) Encode(w io.Writer) error {
	var complete uint8
	if m.Complete {
		complete = 1
	}
	return writeElements(w, m.ChainHash[:], complete)
}

// Decode deserializes the message.
func (m *ReplyShortChanIDsEnd) Decode(r io.Reader) error {
	var (
		chain    [32]byte
		complete uint8
	)
	if err := readElements(r, &chain, &complete); err != nil {
		return err
	}
	copy(m.ChainHash[:], chain[:])
	m.Complete = complete != 0
	return nil
}

// encodeShortChanIDs writes the length-prefixed encoded SCID array.
func encodeShortChanIDs(w io.Writer, encoding ShortChanIDEncoding,
	ids []ShortChannelID) error {

	var body bytes.Buffer
	switch encoding {
	case EncodingSortedPlain:
		for _, id := range ids {
			if err := writeElement(&body, id); err != nil {
				return err
			}
		}

	case EncodingSortedZlib:
		zw := zlib.NewWriter(&body)
		for _, id := range ids {
			if err := writeElement(zw, id); err != nil {
				return err
			}
		}
		if err := zw.Close(); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown scid encoding %d", encoding)
	}

	if err := writeElement(w, uint16(body.Len()+1)); err != nil {
		return err
	}
	if err := writeElement(w, uint8(encoding)); err != nil {
		return err
	}
	_, err := w.Write(body.Bytes())
	return err
}

// decodeShortChanIDs reads the length-prefixed encoded SCID array.
func decodeShortChanIDs(r io.Reader) (ShortChanIDEncoding, []ShortChannelID,
	error) {

	var length uint16
	if err := readElement(r, &length); err != nil {
		return 0, nil, err
	}
	if length == 0 {
		return EncodingSortedPlain, nil, nil
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	encoding := ShortChanIDEncoding(body[0])
	body = body[1:]

	var idReader io.Reader
	switch encoding {
	case EncodingSortedPlain:
		idReader = bytes.NewReader(body)

	case EncodingSortedZlib:
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return 0, nil, err
		}
		defer zr.Close()
		idReader = zr

	default:
		return 0, nil, fmt.Errorf("unknown scid encoding %d", encoding)
	}

	var ids []ShortChannelID
	for {
		var raw uint64
		err := readElement(idReader, &raw)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return 0, nil, err
		}
		ids = append(ids, NewShortChanIDFromInt(raw))
	}
	return encoding, ids, nil
}
