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
	"sync"

	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/entry"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/position"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/redelivery"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/wire"
)

// Log is a minimal, single-ledger, in-memory append-only log. Durable
// storage and the real log format are explicitly out of scope for the
// dispatcher (see spec §1 Non-goals); Log exists only so ManagedCursor
// has something to read from in tests and examples.
type Log struct {
	mu       sync.Mutex
	ledgerID int64
	entries  []*entry.Entry
}

// NewLog returns an empty Log using the given ledger id for every
// appended entry.
func NewLog(ledgerID int64) *Log {
	return &Log{ledgerID: ledgerID}
}

// Append adds a new entry with the given sticky key and payload,
// returning its assigned Position.
func (l *Log) Append(stickyKey, payload []byte) position.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := position.New(l.ledgerID, int64(len(l.entries)))
	env := &wire.Envelope{PartitionKey: stickyKey, Compression: wire.CompressionType_NONE}
	l.entries = append(l.entries, entry.New(pos, env, payload, nil))
	return pos
}

// Tail returns the position just past the last appended entry (the
// position a read would next need to reach).
func (l *Log) Tail() position.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return position.New(l.ledgerID, int64(len(l.entries)))
}

// slice returns up to max entries starting at from (inclusive).
func (l *Log) slice(from position.Position, max int) []*entry.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if from.LedgerID != l.ledgerID || from.EntryID < 0 || int(from.EntryID) >= len(l.entries) {
		return nil
	}
	end := int(from.EntryID) + max
	if end > len(l.entries) {
		end = len(l.entries)
	}
	out := make([]*entry.Entry, end-int(from.EntryID))
	copy(out, l.entries[from.EntryID:end])
	return out
}

func (l *Log) at(p position.Position) (*entry.Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p.LedgerID != l.ledgerID || p.EntryID < 0 || int(p.EntryID) >= len(l.entries) {
		return nil, false
	}
	return l.entries[p.EntryID], true
}

// ManagedCursor is a reference, in-memory Cursor implementation backed
// by a Log. It is deliberately simple: real cursor persistence,
// compaction, and ledger rollover belong to the surrounding
// managed-ledger system, out of scope here.
type ManagedCursor struct {
	mu sync.Mutex

	log        *Log
	readPos    position.Position
	lastRead   position.Position
	markDelete position.Position
	unacked    *redelivery.Set

	closed     bool
	terminated bool
}

// NewManagedCursor returns a cursor over log, starting reads at start.
func NewManagedCursor(log *Log, start position.Position) *ManagedCursor {
	return &ManagedCursor{
		log:        log,
		readPos:    start,
		lastRead:   start.Prev(),
		markDelete: start.Prev(),
		unacked:    redelivery.New(),
	}
}

// ReadEntries implements Cursor.
func (c *ManagedCursor) ReadEntries(max int, cb ReadCallback) {
	go func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			cb(nil, entry.Normal, ErrCursorClosed)
			return
		}
		if c.terminated {
			c.mu.Unlock()
			cb(nil, entry.Normal, ErrManagedLedgerTerminated)
			return
		}

		batch := c.log.slice(c.readPos, max)
		if len(batch) == 0 {
			c.mu.Unlock()
			cb(nil, entry.Normal, ErrNoMoreEntries)
			return
		}

		for _, e := range batch {
			c.unacked.Add(e.Position())
		}
		c.lastRead = batch[len(batch)-1].Position()
		c.readPos = c.lastRead.Next()
		c.mu.Unlock()

		cb(batch, entry.Normal, nil)
	}()
}

// Replay implements Cursor.
func (c *ManagedCursor) Replay(positions []position.Position, cb ReadCallback) {
	go func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			cb(nil, entry.Replay, ErrCursorClosed)
			return
		}

		batch := make([]*entry.Entry, 0, len(positions))
		for _, p := range positions {
			if e, ok := c.log.at(p); ok {
				batch = append(batch, e)
			}
			// Positions no longer present in the log are silently
			// dropped, per the cursor contract.
		}
		c.mu.Unlock()

		cb(batch, entry.Replay, nil)
	}()
}

// Rewind implements Cursor.
func (c *ManagedCursor) Rewind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readPos = c.markDelete.Next()
}

// ReadPosition implements Cursor.
func (c *ManagedCursor) ReadPosition() position.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readPos
}

// MarkDeletePosition implements Cursor.
func (c *ManagedCursor) MarkDeletePosition() position.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markDelete
}

// NumberOfEntriesSinceFirstNotAckedMessage implements Cursor. Only
// meaningful within a single ledger, which is all this reference
// implementation ever uses.
func (c *ManagedCursor) NumberOfEntriesSinceFirstNotAckedMessage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unacked.Len() == 0 {
		return 0
	}
	first := c.unacked.All()[0]
	return c.lastRead.EntryID - first.EntryID + 1
}

// IsActive implements Cursor: true once there is no unread backlog.
func (c *ManagedCursor) IsActive() bool {
	c.mu.Lock()
	tail := c.log.Tail()
	readPos := c.readPos
	c.mu.Unlock()
	return !readPos.Less(tail)
}

// Ack acknowledges pos (cumulatively or individually) and advances
// MarkDeletePosition to the greatest position with no unacked
// predecessor.
func (c *ManagedCursor) Ack(pos position.Position, mode AckMode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if mode == AckCumulative {
		for _, p := range c.unacked.All() {
			if p.LessOrEqual(pos) {
				c.unacked.Remove(p)
			}
		}
	} else {
		c.unacked.Remove(pos)
	}

	if c.unacked.Len() == 0 {
		c.markDelete = c.lastRead
		return
	}
	c.markDelete = c.unacked.All()[0].Prev()
}

// Close implements a synchronous close: no persistent state to flush.
func (c *ManagedCursor) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Terminate marks the backing managed ledger as terminated: no
// further reads will ever succeed.
func (c *ManagedCursor) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminated = true
}
