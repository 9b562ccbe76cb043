// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package lnwire implements the Lightning wire messages the sync and payment
cores exchange with peers: the BOLT 7 gossip query family with the
timestamp and checksum extensions, channel and node announcements, the
hosted-channel queries, BOLT 4 failure messages, and the onion payload TLV
records.

Messages implement the Message interface with a 2-byte big-endian type
prefix driven by ReadMessage and WriteMessage.
*/
package lnwire
