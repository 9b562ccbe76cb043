// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package routerdb persists the vetted routing snapshots the gossip sync
// emits and serves the digest and adjacency views the sync masters consult.
package routerdb

import (
	"encoding/binary"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/lightspan/lightspand/gossip"
	"github.com/lightspan/lightspand/lnwire"
)

// Key prefixes. Channel records are keyed by SCID, update records by SCID
// and direction, and the adjacency index by node then SCID.
const (
	prefixChannel   = 'c'
	prefixUpdate    = 'u'
	prefixAdjacency = 'n'
)

// DB is a goleveldb-backed router store.
type DB struct {
	ldb *leveldb.DB
}

// Open opens (creating if missing) the router database at path.
func Open(path string) (*DB, error) {
	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &DB{ldb: ldb}, nil
}

// Close releases the underlying store.
func (db *DB) Close() error {
	return db.ldb.Close()
}

func channelKey(scid lnwire.ShortChannelID) []byte {
	key := make([]byte, 9)
	key[0] = prefixChannel
	binary.BigEndian.PutUint64(key[1:], scid.ToUint64())
	return key
}

func updateKey(scid lnwire.ShortChannelID, position int) []byte {
	key := make([]byte, 10)
	key[0] = prefixUpdate
	binary.BigEndian.PutUint64(key[1:], scid.ToUint64())
	key[9] = byte(position)
	return key
}

func adjacencyKey(node lnwire.NodeID, scid lnwire.ShortChannelID) []byte {
	key := make([]byte, 1+33+8)
	key[0] = prefixAdjacency
	copy(key[1:], node[:])
	binary.BigEndian.PutUint64(key[34:], scid.ToUint64())
	return key
}

// encodeUpdate flattens one confirmed update: timestamp, checksum, then the
// policy core.
func encodeUpdate(update lnwire.ChannelUpdateLite) []byte {
	core := update.Core
	value := make([]byte, 4+4+2+8+4+4+8+1+1)
	binary.BigEndian.PutUint32(value[0:], update.Timestamp)
	binary.BigEndian.PutUint32(value[4:], checksumOf(core))
	binary.BigEndian.PutUint16(value[8:], core.TimeLockDelta)
	binary.BigEndian.PutUint64(value[10:], uint64(core.HtlcMinimumMsat))
	binary.BigEndian.PutUint32(value[18:], core.BaseFee)
	binary.BigEndian.PutUint32(value[22:], core.FeeRate)
	binary.BigEndian.PutUint64(value[26:], uint64(core.HtlcMaximumMsat))
	value[34] = core.MessageFlags
	value[35] = core.ChannelFlags
	return value
}

// checksumOf reproduces the BOLT 7 update checksum from a bare core.
func checksumOf(core lnwire.UpdateCore) uint32 {
	update := lnwire.ChannelUpdate{
		ShortChannelID:  core.ShortChannelID,
		MessageFlags:    core.MessageFlags,
		ChannelFlags:    core.ChannelFlags,
		TimeLockDelta:   core.TimeLockDelta,
		HtlcMinimumMsat: core.HtlcMinimumMsat,
		BaseFee:         core.BaseFee,
		FeeRate:         core.FeeRate,
		HtlcMaximumMsat: core.HtlcMaximumMsat,
	}
	return update.Checksum()
}

// ApplyRoutingData folds one vetted snapshot into the store atomically:
// announcements and updates are upserted, excluded channels removed whole.
func (db *DB) ApplyRoutingData(data *gossip.PureRoutingData) error {
	batch := new(leveldb.Batch)

	for _, ann := range data.Announces {
		value := make([]byte, 66)
		copy(value[:33], ann.NodeID1[:])
		copy(value[33:], ann.NodeID2[:])
		batch.Put(channelKey(ann.ShortChannelID), value)
		batch.Put(adjacencyKey(ann.NodeID1, ann.ShortChannelID), nil)
		batch.Put(adjacencyKey(ann.NodeID2, ann.ShortChannelID), nil)
	}

	for _, update := range data.Updates {
		batch.Put(updateKey(update.Core.ShortChannelID,
			update.Core.Position), encodeUpdate(update))
	}

	for _, core := range data.Excluded {
		if err := db.removeChannel(batch, core.ShortChannelID); err != nil {
			return err
		}
	}

	log.Debugf("applying snapshot: %d announces, %d updates, %d excluded",
		len(data.Announces), len(data.Updates), len(data.Excluded))
	return db.ldb.Write(batch, nil)
}

// removeChannel queues the deletion of a channel, its updates, and its
// adjacency entries.
func (db *DB) removeChannel(batch *leveldb.Batch,
	scid lnwire.ShortChannelID) error {

	value, err := db.ldb.Get(channelKey(scid), nil)
	if err == nil && len(value) == 66 {
		var node1, node2 lnwire.NodeID
		copy(node1[:], value[:33])
		copy(node2[:], value[33:])
		batch.Delete(adjacencyKey(node1, scid))
		batch.Delete(adjacencyKey(node2, scid))
	} else if err != nil && err != errors.ErrNotFound {
		return err
	}

	batch.Delete(channelKey(scid))
	batch.Delete(updateKey(scid, 0))
	batch.Delete(updateKey(scid, 1))
	return nil
}

// HasChannel reports whether the channel is known.
func (db *DB) HasChannel(scid lnwire.ShortChannelID) bool {
	ok, err := db.ldb.Has(channelKey(scid), nil)
	return err == nil && ok
}

// ChannelDigest implements gossip.RouterView: the per-direction timestamp
// and checksum pair of a known channel.
func (db *DB) ChannelDigest(
	scid lnwire.ShortChannelID) (gossip.UpdateDigestInfo, bool) {

	if !db.HasChannel(scid) {
		return gossip.UpdateDigestInfo{}, false
	}

	var info gossip.UpdateDigestInfo
	for position := 0; position < 2; position++ {
		value, err := db.ldb.Get(updateKey(scid, position), nil)
		if err == errors.ErrNotFound {
			continue
		}
		if err != nil || len(value) < 8 {
			continue
		}
		info.Digests[position] = lnwire.UpdateDigest{
			Timestamp: binary.BigEndian.Uint32(value[0:]),
			Checksum:  binary.BigEndian.Uint32(value[4:]),
		}
	}
	return info, true
}

// NodeAdjacency implements gossip.RouterView: how many channels the store
// knows for the node.
func (db *DB) NodeAdjacency(node lnwire.NodeID) int {
	prefix := make([]byte, 34)
	prefix[0] = prefixAdjacency
	copy(prefix[1:], node[:])

	iter := db.ldb.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	count := 0
	for iter.Next() {
		count++
	}
	return count
}
