// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package payment implements the outgoing multi-part payment engine.

An OutgoingPaymentMaster owns the set of in-flight payments and the global
failure statistics, and serializes all route requests to the external
path-finder: at most one request is outstanding at any instant. Each
payment is an OutgoingPaymentSender state machine that splits its amount
into shards over the local channels, seals one onion per shard, and reacts
to local and remote failures by re-homing, subdividing, or finally
aborting the payment. Shard failures never surface to listeners before the
retry budget is exhausted; terminal states are reported exactly once and
are absorbing.
*/
package payment
