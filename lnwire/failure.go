// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package lnwire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Flag bits partitioning the BOLT 4 failure code space.
const (
	// FlagBadOnion signals the erring node could not parse the onion.
	FlagBadOnion FailCode = 0x8000

	// FlagPerm marks a permanent failure.
	FlagPerm FailCode = 0x4000

	// FlagNode marks a failure of a node rather than a channel.
	FlagNode FailCode = 0x2000

	// FlagUpdate signals the failure message embeds a channel update.
	FlagUpdate FailCode = 0x1000
)

// FailCode is a BOLT 4 failure code.
type FailCode uint16

// Failure codes the payment core reacts to. Codes it has no special handling
// for fall through to the generic transit-failure path.
const (
	CodeInvalidRealm                FailCode = FlagBadOnion | 1
	CodeTemporaryNodeFailure        FailCode = FlagNode | 2
	CodePermanentNodeFailure        FailCode = FlagPerm | FlagNode | 2
	CodeRequiredNodeFeatureMissing  FailCode = FlagPerm | FlagNode | 3
	CodeInvalidOnionVersion         FailCode = FlagBadOnion | FlagPerm | 4
	CodeInvalidOnionHmac            FailCode = FlagBadOnion | FlagPerm | 5
	CodeInvalidOnionKey             FailCode = FlagBadOnion | FlagPerm | 6
	CodeTemporaryChannelFailure     FailCode = FlagUpdate | 7
	CodePermanentChannelFailure     FailCode = FlagPerm | 8
	CodeRequiredChannelFeatureMissing FailCode = FlagPerm | 9
	CodeUnknownNextPeer             FailCode = FlagPerm | 10
	CodeAmountBelowMinimum          FailCode = FlagUpdate | 11
	CodeFeeInsufficient             FailCode = FlagUpdate | 12
	CodeIncorrectCltvExpiry         FailCode = FlagUpdate | 13
	CodeExpiryTooSoon               FailCode = FlagUpdate | 14
	CodeIncorrectOrUnknownPaymentDetails FailCode = FlagPerm | 15
	CodeFinalIncorrectCltvExpiry    FailCode = 18
	CodeFinalIncorrectHtlcAmount    FailCode = 19
	CodeChannelDisabled             FailCode = FlagUpdate | 20
	CodeExpiryTooFar                FailCode = 21
	CodeInvalidOnionPayload         FailCode = FlagPerm | 22
	CodeMPPTimeout                  FailCode = 23
)

// IsNodeClass reports whether the failure blames a node.
func (c FailCode) IsNodeClass() bool { return c&FlagNode != 0 }

// IsUpdateClass reports whether the failure embeds a channel update.
func (c FailCode) IsUpdateClass() bool { return c&FlagUpdate != 0 }

// IsBadOnion reports whether the erring node claims it could not parse our
// onion.
func (c FailCode) IsBadOnion() bool { return c&FlagBadOnion != 0 }

// String returns a terse description of the code.
func (c FailCode) String() string {
	switch c {
	case CodeTemporaryNodeFailure:
		return "TemporaryNodeFailure"
	case CodePermanentNodeFailure:
		return "PermanentNodeFailure"
	case CodeTemporaryChannelFailure:
		return "TemporaryChannelFailure"
	case CodePermanentChannelFailure:
		return "PermanentChannelFailure"
	case CodeUnknownNextPeer:
		return "UnknownNextPeer"
	case CodeAmountBelowMinimum:
		return "AmountBelowMinimum"
	case CodeFeeInsufficient:
		return "FeeInsufficient"
	case CodeIncorrectCltvExpiry:
		return "IncorrectCltvExpiry"
	case CodeExpiryTooSoon:
		return "ExpiryTooSoon"
	case CodeIncorrectOrUnknownPaymentDetails:
		return "IncorrectOrUnknownPaymentDetails"
	case CodeChannelDisabled:
		return "ChannelDisabled"
	case CodeMPPTimeout:
		return "MPPTimeout"
	default:
		return fmt.Sprintf("FailCode(%#x)", uint16(c))
	}
}

// FailureMessage is a decoded BOLT 4 failure. Update-class failures carry
// the erring channel's update; bad-onion failures carry the onion hash.
type FailureMessage struct {
	Code FailCode

	// Update is set for update-class codes.
	Update *ChannelUpdate

	// Payload is whatever trailed the code for the remaining classes.
	Payload []byte
}

// EncodeFailureMessage serializes a failure for embedding in a failure
// packet: 2-byte code, then the class-specific body.
func EncodeFailureMessage(msg *FailureMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeElement(&buf, uint16(msg.Code)); err != nil {
		return nil, err
	}
	if msg.Code.IsUpdateClass() && msg.Update != nil {
		var upd bytes.Buffer
		if err := msg.Update.Encode(&upd); err != nil {
			return nil, err
		}
		// Update-class bodies may carry class-specific prefixes before
		// the length-prefixed update; encoding always emits the bare
		// form, decoding tolerates both.
		if err := writeElement(&buf, uint16(upd.Len())); err != nil {
			return nil, err
		}
		buf.Write(upd.Bytes())
	} else if len(msg.Payload) > 0 {
		buf.Write(msg.Payload)
	}
	return buf.Bytes(), nil
}

// DecodeFailureMessage parses the failure body carried inside a failure
// packet.
func DecodeFailureMessage(data []byte) (*FailureMessage, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("failure message too short: %d bytes",
			len(data))
	}
	msg := &FailureMessage{
		Code: FailCode(binary.BigEndian.Uint16(data[:2])),
	}
	body := data[2:]

	if !msg.Code.IsUpdateClass() {
		msg.Payload = body
		return msg, nil
	}

	// Some update-class codes prefix the update with extra fields
	// (htlc_msat for temporary_channel_failure relatives). Scan forward
	// for a plausible length-prefixed update: the prefix sizes in the
	// spec are 0 or 8 bytes.
	for _, skip := range []int{0, 8} {
		if len(body) < skip+2 {
			continue
		}
		updLen := int(binary.BigEndian.Uint16(body[skip : skip+2]))
		updBytes := body[skip+2:]
		if updLen == 0 || updLen > len(updBytes) {
			continue
		}
		var update ChannelUpdate
		err := update.Decode(bytes.NewReader(updBytes[:updLen]))
		if err == nil {
			msg.Update = &update
			return msg, nil
		}
	}
	return nil, fmt.Errorf("update-class failure %v without parsable "+
		"update", msg.Code)
}

// UpdateFailHTLC is the channel-level message relaying an encrypted failure
// packet back to the payment origin.
type UpdateFailHTLC struct {
	ChanID [32]byte
	ID     uint64
	Reason []byte
}

// MsgType returns the message type code.
func (m *UpdateFailHTLC) MsgType() MessageType { return MsgUpdateFailHTLC }

// Encode serializes the message.
func (m *UpdateFailHTLC) Encode(w io.Writer) error {
	err := writeElements(w, m.ChanID, m.ID, uint16(len(m.Reason)))
	if err != nil {
		return err
	}
	_, err = w.Write(m.Reason)
	return err
}

// Decode deserializes the message.
func (m *UpdateFailHTLC) Decode(r io.Reader) error {
	var reasonLen uint16
	if err := readElements(r, &m.ChanID, &m.ID, &reasonLen); err != nil {
		return err
	}
	m.Reason = make([]byte, reasonLen)
	_, err := io.ReadFull(r, m.Reason)
	return err
}

// UpdateFailMalformedHTLC is sent when a hop could not parse the onion at
// all and therefore could not produce an encrypted failure.
type UpdateFailMalformedHTLC struct {
	ChanID       [32]byte
	ID           uint64
	ShaOnionBlob [32]byte
	FailureCode  FailCode
}

// MsgType returns the message type code.
func (m *UpdateFailMalformedHTLC) MsgType() MessageType {
	return MsgUpdateFailMalformedHTLC
}

// Encode serializes the message.
func (m *UpdateFailMalformedHTLC) Encode(w io.Writer) error {
	return writeElements(w, m.ChanID, m.ID, m.ShaOnionBlob,
		uint16(m.FailureCode))
}

// Decode deserializes the message.
func (m *UpdateFailMalformedHTLC) Decode(r io.Reader) error {
	var code uint16
	err := readElements(r, &m.ChanID, &m.ID, &m.ShaOnionBlob, &code)
	if err != nil {
		return err
	}
	m.FailureCode = FailCode(code)
	return nil
}
