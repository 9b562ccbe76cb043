// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package lnwire

import "bytes"

// BOLT 4 onion payload TLV record types.
const (
	RecordAmtToForward       uint64 = 2
	RecordOutgoingCltv       uint64 = 4
	RecordOutgoingChanID     uint64 = 6
	RecordPaymentData        uint64 = 8
	RecordEncryptedData      uint64 = 10
	RecordBlindingPoint      uint64 = 12
	RecordPaymentMetadata    uint64 = 16
	RecordInvoiceFeatures    uint64 = 66097
	RecordOutgoingNodeID     uint64 = 66098
	RecordInvoiceRoutingInfo uint64 = 66099
	RecordTrampolineOnion    uint64 = 66100
	RecordKeysendPreimage    uint64 = 5482373484
)

// Onion packet sizes.
const (
	// PaymentOnionSize is the fixed size of the outer payment onion.
	PaymentOnionSize = 1300

	// TrampolineOnionSize is the fixed size of the inner trampoline
	// onion.
	TrampolineOnionSize = 400
)

// OnionPayload is an ordered TLV stream destined for one hop.
type OnionPayload struct {
	records []tlvRecord
}

// AddRecord appends one raw record. Types must be added in ascending order;
// the builder does not reorder.
func (p *OnionPayload) AddRecord(typ uint64, value []byte) {
	p.records = append(p.records, tlvRecord{typ: typ, value: value})
}

// AddAmtToForward appends the amount record.
func (p *OnionPayload) AddAmtToForward(amt MilliSatoshi) {
	p.AddRecord(RecordAmtToForward, truncatedUint64(uint64(amt)))
}

// AddOutgoingCltv appends the CLTV record.
func (p *OnionPayload) AddOutgoingCltv(cltv uint32) {
	p.AddRecord(RecordOutgoingCltv, truncatedUint64(uint64(cltv)))
}

// AddOutgoingChanID appends the next-channel record for an intermediate hop.
func (p *OnionPayload) AddOutgoingChanID(scid ShortChannelID) {
	var buf [8]byte
	raw := scid.ToUint64()
	for i := 0; i < 8; i++ {
		buf[i] = byte(raw >> (56 - 8*i))
	}
	p.AddRecord(RecordOutgoingChanID, buf[:])
}

// AddPaymentData appends the final-hop payment secret and total amount.
func (p *OnionPayload) AddPaymentData(secret [32]byte, total MilliSatoshi) {
	value := make([]byte, 0, 32+8)
	value = append(value, secret[:]...)
	value = append(value, truncatedUint64(uint64(total))...)
	p.AddRecord(RecordPaymentData, value)
}

// AddTrampolineOnion embeds the inner trampoline onion.
func (p *OnionPayload) AddTrampolineOnion(packet []byte) {
	p.AddRecord(RecordTrampolineOnion, packet)
}

// Serialize returns the BigSize-framed TLV stream.
func (p *OnionPayload) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	for _, rec := range p.records {
		if err := writeTLV(&buf, rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// truncatedUint64 encodes n as a tu64: big-endian with leading zero bytes
// stripped.
func truncatedUint64(n uint64) []byte {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(n >> (56 - 8*i))
	}
	start := 0
	for start < 7 && buf[start] == 0 {
		start++
	}
	return buf[start:]
}
