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

// Package cursor defines the contract the dispatch engine consumes
// for reading, replaying, and acknowledging entries against a
// durable-log-backed subscription cursor. The durable log itself,
// and how mark-delete is persisted, are out of scope; this package
// only defines the shape the dispatcher needs.
package cursor

import (
	"errors"

	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/entry"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/position"
)

// Transient and terminal cursor errors, per the error-handling design.
// Transient errors pause reading until a later ack or consumer
// addition re-triggers one; terminal errors stop reading permanently.
var (
	// ErrNoMoreEntries is transient: the log has no more entries past
	// readPosition right now.
	ErrNoMoreEntries = errors.New("cursor: no more entries")
	// ErrManagedLedgerTerminated is terminal: the backing log will
	// never produce another entry.
	ErrManagedLedgerTerminated = errors.New("cursor: managed ledger terminated")
	// ErrCursorClosed is terminal: the cursor itself has been closed.
	ErrCursorClosed = errors.New("cursor: closed")
)

// ReadCallback is invoked exactly once per ReadEntries/Replay call,
// from an arbitrary goroutine, once entries have been fetched (or the
// fetch has failed). Implementations of Cursor must not invoke it
// synchronously from within ReadEntries/Replay, mirroring the
// "suspension point" semantics in the concurrency model: the caller's
// goroutine (the dispatch loop) must not block waiting on it.
type ReadCallback func(batch []*entry.Entry, readType entry.ReadType, err error)

// Cursor is the contract the dispatch engine consumes. Implementations
// must be safe for the call pattern the dispatcher uses: one read or
// replay in flight at a time, Ack/Rewind/accessors called from the
// goroutine holding the dispatcher lock.
type Cursor interface {
	// ReadEntries asynchronously reads up to max entries starting at
	// ReadPosition, advancing it, and invokes cb with readType Normal.
	ReadEntries(max int, cb ReadCallback)

	// Replay asynchronously re-delivers entries at the given
	// positions, invoking cb with readType Replay. Positions no longer
	// present in the log (already trimmed/deleted) are silently
	// dropped from the batch; the returned subset via cb reports which
	// positions were actually scheduled.
	Replay(positions []position.Position, cb ReadCallback)

	// Rewind resets ReadPosition to MarkDeletePosition().Next().
	Rewind()

	// ReadPosition returns the next position the cursor will yield.
	ReadPosition() position.Position

	// MarkDeletePosition returns the greatest position such that it
	// and all its predecessors have been acknowledged.
	MarkDeletePosition() position.Position

	// NumberOfEntriesSinceFirstNotAckedMessage reports how many
	// entries have been read since the oldest currently-unacked
	// message, used to decide whether a joining consumer sees a
	// non-empty backlog.
	NumberOfEntriesSinceFirstNotAckedMessage() int64

	// IsActive reports whether the cursor is caught up with the log
	// tail (true) or still has unread backlog behind it (false). The
	// dispatcher always applies its rate limiter to an inactive cursor,
	// and to an active one only when non-backlog throttling is enabled.
	IsActive() bool
}

// AckMode selects cumulative vs. individual acknowledgement,
// mirroring the source connector's processing-guarantee-driven choice
// (see core/source).
type AckMode int

const (
	// AckCumulative acknowledges every position up to and including
	// the given one.
	AckCumulative AckMode = iota
	// AckIndividual acknowledges exactly the given position.
	AckIndividual
)
