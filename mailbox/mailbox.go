// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mailbox implements the cooperative actor primitive every state
// machine in the sync and payment cores runs on: a private FIFO drained by a
// single consumer goroutine. Posting is fire-and-forget and never blocks the
// sender; within one mailbox messages are processed strictly in arrival
// order.
package mailbox

import (
	"sync"
	"time"
)

// Mailbox is an unbounded message queue with a dedicated consumer goroutine.
type Mailbox struct {
	name    string
	process func(interface{})

	mtx     sync.Mutex
	cond    *sync.Cond
	queue   []interface{}
	stopped bool

	wg sync.WaitGroup
}

// New creates a mailbox and starts its consumer. Every message posted is
// handed to process on that single goroutine.
func New(name string, process func(interface{})) *Mailbox {
	m := &Mailbox{
		name:    name,
		process: process,
	}
	m.cond = sync.NewCond(&m.mtx)

	m.wg.Add(1)
	go m.consume()
	return m
}

// Name returns the identifier the mailbox was created with.
func (m *Mailbox) Name() string {
	return m.name
}

// Post enqueues one message. It is a no-op once the mailbox is stopped.
func (m *Mailbox) Post(msg interface{}) {
	m.mtx.Lock()
	if !m.stopped {
		m.queue = append(m.queue, msg)
		m.cond.Signal()
	}
	m.mtx.Unlock()
}

// PostDelayed posts msg after the given delay. The returned function cancels
// the pending post; cancelling after delivery is a no-op.
func (m *Mailbox) PostDelayed(msg interface{}, delay time.Duration) func() {
	timer := time.AfterFunc(delay, func() {
		m.Post(msg)
	})
	return func() { timer.Stop() }
}

// Stop terminates the consumer once the already-queued messages drain. It is
// idempotent and safe to call from inside process.
func (m *Mailbox) Stop() {
	m.mtx.Lock()
	if !m.stopped {
		m.stopped = true
		m.cond.Signal()
	}
	m.mtx.Unlock()
}

// WaitForShutdown blocks until the consumer goroutine has exited. Must not
// be called from inside process.
func (m *Mailbox) WaitForShutdown() {
	m.wg.Wait()
}

func (m *Mailbox) consume() {
	defer m.wg.Done()

	for {
		m.mtx.Lock()
		for len(m.queue) == 0 && !m.stopped {
			m.cond.Wait()
		}
		if len(m.queue) == 0 && m.stopped {
			m.mtx.Unlock()
			return
		}
		msg := m.queue[0]
		m.queue = m.queue[1:]
		m.mtx.Unlock()

		m.process(msg)
	}
}
