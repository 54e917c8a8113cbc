// Copyright 2018 Comcast Cable Communications Management, LLC
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dispatch implements the sticky-key dispatch engine: the
// hard part of the repository (spec §4.3). It pulls entries from a
// cursor, fans them out to consumers under a sticky-key and ordering
// constraint, enforces permit-based backpressure, and decides when to
// request another read.
package dispatch

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/consumer"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/cursor"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/entry"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/joined"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/position"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/ratelimit"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/redelivery"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/selector"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/pkg/log"
)

// SubscriptionType reported by this dispatcher, per spec §6.
const SubscriptionType = "Key_Shared"

// Selector is the subset of *selector.Ring the engine depends on, so
// tests can substitute a trivial fake without standing up a whole
// consistent-hash ring.
type Selector interface {
	Select(key []byte) (*consumer.Consumer, bool)
	AddConsumer(c *consumer.Consumer)
	RemoveConsumer(c *consumer.Consumer)
}

// Config controls the ambient, non-correctness-affecting knobs listed
// in spec §6.
type Config struct {
	// ReadBatchSize bounds how many entries a single ReadEntries call
	// requests.
	ReadBatchSize int

	// DispatchThrottlingOnNonBacklogConsumerEnabled enables the rate
	// limiter even when the cursor has no backlog (spec §6).
	DispatchThrottlingOnNonBacklogConsumerEnabled bool
}

func (c Config) withDefaults() Config {
	if c.ReadBatchSize <= 0 {
		c.ReadBatchSize = 100
	}
	return c
}

// Dispatcher is the Key_Shared sticky-key dispatch engine. All
// exported methods that mutate state are safe for concurrent use;
// internally they serialize through a single mutex exactly as spec §5
// requires ("all dispatcher operations that mutate state execute
// under a per-dispatcher mutex").
type Dispatcher struct {
	cfg Config

	cur     cursor.Cursor
	sel     Selector
	limiter ratelimit.Limiter

	mu        sync.Mutex
	consumers map[*consumer.Consumer]Transport
	joinedAt  *joined.Table
	redeliver *redelivery.Set

	readInFlight  bool
	terminal      bool
	terminalErr   error
	stuckOnReplay bool

	// scratch is the reusable grouping map (spec §5/§9: "a
	// thread-local scratch map is used for grouped to avoid per-cycle
	// allocation; it is cleared at cycle start"). In this
	// single-goroutine-owned-by-the-lock model it is simply a
	// per-dispatcher field cleared (not freed) every cycle.
	scratch      map[*consumer.Consumer][]*entry.Entry
	scratchOrder []*consumer.Consumer

	doorbell chan struct{}
	closeCh  chan struct{}
	closeOne sync.Once
}

// New returns a ready-to-run Dispatcher and starts its background
// doorbell loop, which is how asynchronous send/read completions
// re-enter the dispatcher without the completion callback acquiring
// the lock inline (spec §9).
func New(cur cursor.Cursor, sel Selector, limiter ratelimit.Limiter, cfg Config) *Dispatcher {
	d := &Dispatcher{
		cfg:       cfg.withDefaults(),
		cur:       cur,
		sel:       sel,
		limiter:   limiter,
		consumers: make(map[*consumer.Consumer]Transport),
		joinedAt:  joined.New(),
		redeliver: redelivery.New(),
		scratch:   make(map[*consumer.Consumer][]*entry.Entry),
		doorbell:  make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
	}
	go d.loop()
	return d
}

// Close stops the background doorbell loop. In-flight sends are not
// awaited; it is the caller's responsibility to drain consumers
// first.
func (d *Dispatcher) Close() {
	d.closeOne.Do(func() { close(d.closeCh) })
}

func (d *Dispatcher) loop() {
	for {
		select {
		case <-d.doorbell:
			d.mu.Lock()
			d.tryRead()
			d.mu.Unlock()
		case <-d.closeCh:
			return
		}
	}
}

// ReadMoreEntries is the thread-safe trigger mentioned throughout the
// concurrency model: safe to call from any goroutine, including a
// consumer-send completion callback, without acquiring the dispatcher
// lock inline. Multiple calls before the doorbell is drained coalesce
// into a single wakeup, which is correct here since tryRead always
// re-reads current state rather than consuming a per-ring token.
func (d *Dispatcher) ReadMoreEntries() {
	select {
	case d.doorbell <- struct{}{}:
	default:
	}
}

// tryRead must be called holding d.mu.
func (d *Dispatcher) tryRead() {
	if d.readInFlight || d.terminal {
		return
	}
	d.readInFlight = true
	max := d.cfg.ReadBatchSize
	d.cur.ReadEntries(max, func(batch []*entry.Entry, rt entry.ReadType, err error) {
		d.mu.Lock()
		d.readInFlight = false
		d.mu.Unlock()

		if err != nil {
			d.handleReadError(err)
			return
		}
		d.OnEntriesRead(batch, rt)
	})
}

func (d *Dispatcher) handleReadError(err error) {
	switch {
	case errors.Is(err, cursor.ErrNoMoreEntries):
		// Transient: a later ack or AddConsumer re-triggers a read.
	case errors.Is(err, cursor.ErrCursorClosed), errors.Is(err, cursor.ErrManagedLedgerTerminated):
		d.mu.Lock()
		d.terminal = true
		d.terminalErr = err
		d.mu.Unlock()
		log.Warnf("dispatcher: stopping reads, terminal cursor error: %v\n", err)
	default:
		log.Warnf("dispatcher: unexpected read error, will retry on next trigger: %v\n", err)
	}
}

// AddConsumer registers c with the selector and, if it is joining a
// subscription that already has other consumers and undelivered
// backlog, gates it behind a join barrier (spec §4.3).
func (d *Dispatcher) AddConsumer(c *consumer.Consumer, t Transport) {
	d.mu.Lock()
	wasEmpty := len(d.consumers) == 0
	d.consumers[c] = t
	d.sel.AddConsumer(c)
	if !wasEmpty && d.cur.NumberOfEntriesSinceFirstNotAckedMessage() > 1 {
		d.joinedAt.Set(c, d.cur.ReadPosition())
	}
	d.mu.Unlock()

	d.ReadMoreEntries()
}

// RemoveConsumer deregisters c from the selector and the
// recently-joined table. Entries already dispatched to c that are
// later negatively acknowledged reappear through the replay path
// (Transport.Send's done callback), not through this method.
func (d *Dispatcher) RemoveConsumer(c *consumer.Consumer) {
	d.mu.Lock()
	delete(d.consumers, c)
	d.sel.RemoveConsumer(c)
	d.joinedAt.Delete(c)
	d.mu.Unlock()
}

// OnAcknowledgementProcessed re-triggers a read if any consumer is
// gated behind a join barrier, since the mark-delete position may now
// have advanced past it. It also prunes the redelivery set of any
// position the mark-delete advance has caught up to, preserving the
// invariant that the redelivery set never holds an already-acked
// position.
func (d *Dispatcher) OnAcknowledgementProcessed() {
	d.mu.Lock()
	d.redeliver.RemoveLessOrEqual(d.cur.MarkDeletePosition())
	hasJoined := d.joinedAt.Len() > 0
	d.mu.Unlock()

	if hasJoined {
		d.ReadMoreEntries()
	}
}

// GetMessagesToReplayNow returns up to max positions from the
// redelivery set, unless the dispatcher is latched in the
// stuck-on-replays state, in which case it returns nothing exactly
// once and clears the latch (spec §4.3.2).
func (d *Dispatcher) GetMessagesToReplayNow(max int) []position.Position {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stuckOnReplay {
		d.stuckOnReplay = false
		return nil
	}
	return d.redeliver.Range(max, func(position.Position) bool { return true })
}

// AsyncReplayEntries forwards positions to the cursor tagged as a
// replay read.
func (d *Dispatcher) AsyncReplayEntries(positions []position.Position) {
	if len(positions) == 0 {
		return
	}
	d.cur.Replay(positions, func(batch []*entry.Entry, rt entry.ReadType, err error) {
		if err != nil {
			log.Warnf("dispatcher: replay read failed: %v\n", err)
			return
		}
		d.OnEntriesRead(batch, rt)
	})
}

// OnEntriesRead is the core dispatch routine (spec §4.3).
func (d *Dispatcher) OnEntriesRead(batch []*entry.Entry, rt entry.ReadType) {
	d.mu.Lock()

	if len(batch) == 0 {
		d.mu.Unlock()
		d.ReadMoreEntries()
		return
	}

	if len(d.consumers) == 0 {
		for _, e := range batch {
			e.Release()
		}
		d.cur.Rewind()
		d.mu.Unlock()
		return
	}

	for k := range d.scratch {
		delete(d.scratch, k)
	}
	d.scratchOrder = d.scratchOrder[:0]

	for _, e := range batch {
		c, ok := d.sel.Select(e.StickyKey())
		if !ok {
			// The selector disagrees with len(d.consumers) > 0; treat
			// as undeliverable rather than panic.
			d.redeliver.Add(e.Position())
			e.Release()
			continue
		}
		if _, exists := d.scratch[c]; !exists {
			d.scratchOrder = append(d.scratchOrder, c)
		}
		d.scratch[c] = append(d.scratch[c], e)
	}

	groups := append([]*consumer.Consumer(nil), d.scratchOrder...)
	remaining := int32(len(groups))

	var totalSent, totalBytes int64

	for _, c := range groups {
		group := d.scratch[c]
		capN := len(group)
		if permits := int(c.AvailablePermits()); permits < capN {
			capN = permits
		}

		sendable, overflow := d.applyJoinBarrier(c, group, capN)

		if rt == entry.Replay {
			for _, e := range sendable {
				d.redeliver.Remove(e.Position())
			}
		}

		for _, e := range overflow {
			d.redeliver.Add(e.Position())
			e.Release()
		}

		if len(sendable) == 0 {
			if atomic.AddInt32(&remaining, -1) == 0 {
				d.ReadMoreEntries()
			}
			continue
		}

		n := int64(len(sendable))
		var bytes int64
		for _, e := range sendable {
			bytes += int64(len(e.Payload()))
		}
		totalSent += n
		totalBytes += bytes
		c.GrantPermits(-n)

		transport := d.consumers[c]
		positions := make([]position.Position, len(sendable))
		for i, e := range sendable {
			positions[i] = e.Position()
		}

		transport.Send(sendable, rt, func(err error) {
			if err != nil {
				d.mu.Lock()
				for _, p := range positions {
					d.redeliver.Add(p)
				}
				d.mu.Unlock()
			}
			if atomic.AddInt32(&remaining, -1) == 0 {
				d.ReadMoreEntries()
			}
		})
	}

	if d.limiter != nil && d.limiter.IsPresent() &&
		(d.cfg.DispatchThrottlingOnNonBacklogConsumerEnabled || !d.cur.IsActive()) {
		d.limiter.TryDispatchPermit(totalSent, totalBytes)
	}

	if totalSent == 0 && d.joinedAt.Len() == 0 {
		d.stuckOnReplay = true
		d.mu.Unlock()
		d.ReadMoreEntries()
		return
	}

	d.mu.Unlock()
}

// applyJoinBarrier is the ordering filter from spec §4.3.1. Must be
// called holding d.mu.
func (d *Dispatcher) applyJoinBarrier(c *consumer.Consumer, group []*entry.Entry, capN int) (sendable, overflow []*entry.Entry) {
	barrier, gated := d.joinedAt.Get(c)
	if !gated {
		return splitAtCap(group, capN)
	}

	if barrier.LessOrEqual(d.cur.MarkDeletePosition().Next()) {
		d.joinedAt.Delete(c)
		return splitAtCap(group, capN)
	}

	limit := capN
	if limit > len(group) {
		limit = len(group)
	}
	k := 0
	for k < limit && group[k].Position().Less(barrier) {
		k++
	}
	return group[:k], group[k:]
}

func splitAtCap(group []*entry.Entry, capN int) (sendable, overflow []*entry.Entry) {
	if capN >= len(group) {
		return group, nil
	}
	if capN < 0 {
		capN = 0
	}
	return group[:capN], group[capN:]
}

// TerminalError returns the error that stopped reads, if any.
func (d *Dispatcher) TerminalError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.terminalErr
}

// Compile-time check that *selector.Ring satisfies Selector.
var _ Selector = (*selector.Ring)(nil)
