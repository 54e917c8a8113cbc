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

package cursor

import (
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/entry"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/position"
)

// ReadOnlyState mirrors the small state machine a read-only cursor
// moves through: it starts with no backing ledger resolved, and is
// closed synchronously on Close.
type ReadOnlyState int

const (
	// NoLedger is the initial state, before the first read resolves
	// which ledger to start from.
	NoLedger ReadOnlyState = iota
	// Open is the normal operating state.
	Open
	// Closed is terminal.
	Closed
)

// ReadOnlyCursor is a Cursor variant that refuses writes: it never
// acknowledges and keeps no persistent state across process restarts.
// It is used by passive readers (for example admin tooling that tails
// a subscription without participating in dispatch).
type ReadOnlyCursor struct {
	log   *Log
	state ReadOnlyState

	readPos                 position.Position
	messagesConsumedCounter int64
}

// NewReadOnlyCursor creates a read-only cursor over log. If fromHead
// is true, readPos is set to the first position after the current log
// head (i.e. the tail at construction time); otherwise it starts at
// start.
//
// messagesConsumedCounter is initialized so that it appears to have
// already consumed everything when the log is empty (zero), or the
// negation of the number of entries between readPos and the log tail
// otherwise — this lets a "has more to read" check uniformly test the
// counter's sign regardless of how it got here, per the read-only
// cursor's counter sign convention.
func NewReadOnlyCursor(log *Log, fromHead bool, start position.Position) *ReadOnlyCursor {
	c := &ReadOnlyCursor{log: log, state: NoLedger}

	if fromHead {
		c.readPos = log.Tail()
	} else {
		c.readPos = start
	}

	tail := log.Tail()
	remaining := tail.EntryID - c.readPos.EntryID
	if remaining < 0 {
		remaining = 0
	}
	c.messagesConsumedCounter = -remaining

	return c
}

// ReadPosition returns the next position this cursor will yield.
func (c *ReadOnlyCursor) ReadPosition() position.Position { return c.readPos }

// HasMoreToRead reports whether the counter's sign indicates there is
// still backlog to consume: negative means "behind the tail as of
// construction", zero or positive means "caught up".
func (c *ReadOnlyCursor) HasMoreToRead() bool {
	return c.messagesConsumedCounter < 0
}

// State returns the cursor's current lifecycle state.
func (c *ReadOnlyCursor) State() ReadOnlyState { return c.state }

// SkipEntries advances readPos by n entries, exclusive of the current
// position, via the position-arithmetic routine (Position.Next
// applied n times would also work; EntryID is advanced directly here
// since this cursor never crosses a ledger boundary).
func (c *ReadOnlyCursor) SkipEntries(n int64) {
	c.readPos = position.New(c.readPos.LedgerID, c.readPos.EntryID+n)
	c.messagesConsumedCounter += n
}

// ReadEntries reads up to max entries starting at readPos, advancing
// it and the consumed counter. It never touches mark-delete: this
// cursor keeps no persistent acknowledgement state.
func (c *ReadOnlyCursor) ReadEntries(max int, cb ReadCallback) {
	go func() {
		if c.state == Closed {
			cb(nil, entry.Normal, ErrCursorClosed)
			return
		}

		batch := c.log.slice(c.readPos, max)
		if len(batch) == 0 {
			cb(nil, entry.Normal, ErrNoMoreEntries)
			return
		}

		c.readPos = batch[len(batch)-1].Position().Next()
		c.messagesConsumedCounter += int64(len(batch))
		if c.state == NoLedger {
			c.state = Open
		}

		cb(batch, entry.Normal, nil)
	}()
}

// Close sets state to Closed synchronously and invokes done
// immediately: this cursor keeps no persistent state to flush.
func (c *ReadOnlyCursor) Close(done func()) {
	c.state = Closed
	if done != nil {
		done()
	}
}
