// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package lnwire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageType is the 2-byte big-endian type prefix carried before every
// Lightning wire message.
type MessageType uint16

// Message type codes. The hosted-channel queries live in the custom odd
// range so unaware peers ignore them.
const (
	MsgInit                     MessageType = 16
	MsgUpdateFailHTLC           MessageType = 131
	MsgUpdateFailMalformedHTLC  MessageType = 135
	MsgChannelAnnouncement      MessageType = 256
	MsgNodeAnnouncement         MessageType = 257
	MsgChannelUpdate            MessageType = 258
	MsgQueryShortChanIDs        MessageType = 261
	MsgReplyShortChanIDsEnd     MessageType = 262
	MsgQueryChannelRange        MessageType = 263
	MsgReplyChannelRange        MessageType = 264
	MsgQueryPublicHostedChans   MessageType = 54513
	MsgReplyPublicHostedChansEnd MessageType = 54515
)

// String returns a human readable description of the message type.
func (t MessageType) String() string {
	switch t {
	case MsgInit:
		return "Init"
	case MsgUpdateFailHTLC:
		return "UpdateFailHTLC"
	case MsgUpdateFailMalformedHTLC:
		return "UpdateFailMalformedHTLC"
	case MsgChannelAnnouncement:
		return "ChannelAnnouncement"
	case MsgNodeAnnouncement:
		return "NodeAnnouncement"
	case MsgChannelUpdate:
		return "ChannelUpdate"
	case MsgQueryShortChanIDs:
		return "QueryShortChanIDs"
	case MsgReplyShortChanIDsEnd:
		return "ReplyShortChanIDsEnd"
	case MsgQueryChannelRange:
		return "QueryChannelRange"
	case MsgReplyChannelRange:
		return "ReplyChannelRange"
	case MsgQueryPublicHostedChans:
		return "QueryPublicHostedChannels"
	case MsgReplyPublicHostedChansEnd:
		return "ReplyPublicHostedChannelsEnd"
	default:
		return fmt.Sprintf("<unknown(%d)>", uint16(t))
	}
}

// Message is implemented by every Lightning wire message this package knows
// how to encode and decode.
type Message interface {
	// MsgType returns the 2-byte type prefix of the message.
	MsgType() MessageType

	// Encode writes the message body (without the type prefix) to w.
	Encode(w io.Writer) error

	// Decode reads the message body (without the type prefix) from r.
	Decode(r io.Reader) error
}

// makeEmptyMessage creates a zero value of the message matching the given
// type code.
func makeEmptyMessage(msgType MessageType) (Message, error) {
	switch msgType {
	case MsgInit:
		return &Init{}, nil
	case MsgUpdateFailHTLC:
		return &UpdateFailHTLC{}, nil
	case MsgUpdateFailMalformedHTLC:
		return &UpdateFailMalformedHTLC{}, nil
	case MsgChannelAnnouncement:
		return &ChannelAnnouncement{}, nil
	case MsgNodeAnnouncement:
		return &NodeAnnouncement{}, nil
	case MsgChannelUpdate:
		return &ChannelUpdate{}, nil
	case MsgQueryShortChanIDs:
		return &QueryShortChanIDs{}, nil
	case MsgReplyShortChanIDsEnd:
		return &ReplyShortChanIDsEnd{}, nil
	case MsgQueryChannelRange:
		return &QueryChannelRange{}, nil
	case MsgReplyChannelRange:
		return &ReplyChannelRange{}, nil
	case MsgQueryPublicHostedChans:
		return &QueryPublicHostedChannels{}, nil
	case MsgReplyPublicHostedChansEnd:
		return &ReplyPublicHostedChannelsEnd{}, nil
	default:
		return nil, fmt.Errorf("unknown message type %v", msgType)
	}
}

// WriteMessage writes the type prefix followed by the encoded message body.
func WriteMessage(w io.Writer, msg Message) error {
	var typeBuf [2]byte
	binary.BigEndian.PutUint16(typeBuf[:], uint16(msg.MsgType()))
	if _, err := w.Write(typeBuf[:]); err != nil {
		return err
	}
	return msg.Encode(w)
}

// ReadMessage reads the type prefix, allocates the matching message, and
// decodes the body. Unknown message types are an error the transport layer
// is expected to tolerate by skipping the frame.
func ReadMessage(r io.Reader) (Message, error) {
	var typeBuf [2]byte
	if _, err := io.ReadFull(r, typeBuf[:]); err != nil {
		return nil, err
	}
	msgType := MessageType(binary.BigEndian.Uint16(typeBuf[:]))

	msg, err := makeEmptyMessage(msgType)
	if err != nil {
		return nil, err
	}
	if err := msg.Decode(r); err != nil {
		return nil, err
	}
	return msg, nil
}
