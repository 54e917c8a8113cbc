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

// Package position defines the totally ordered log coordinate used
// throughout the dispatcher: a (ledgerID, entryID) pair.
package position

import "fmt"

// Position is an immutable coordinate into the durable log. It is
// ordered lexicographically by (LedgerID, EntryID).
type Position struct {
	LedgerID int64
	EntryID  int64
}

// Zero is the smallest possible Position, the position of the
// implicit entry immediately before the start of the log.
var Zero = Position{LedgerID: -1, EntryID: -1}

// New returns a Position for the given ledger/entry pair.
func New(ledgerID, entryID int64) Position {
	return Position{LedgerID: ledgerID, EntryID: entryID}
}

// Compare returns -1, 0 or 1 if p is respectively less than, equal
// to, or greater than other.
func (p Position) Compare(other Position) int {
	switch {
	case p.LedgerID != other.LedgerID:
		if p.LedgerID < other.LedgerID {
			return -1
		}
		return 1
	case p.EntryID != other.EntryID:
		if p.EntryID < other.EntryID {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// Less reports whether p comes strictly before other.
func (p Position) Less(other Position) bool { return p.Compare(other) < 0 }

// LessOrEqual reports whether p comes before or at other.
func (p Position) LessOrEqual(other Position) bool { return p.Compare(other) <= 0 }

// Equal reports whether p and other name the same coordinate.
func (p Position) Equal(other Position) bool { return p.Compare(other) == 0 }

// Next returns the Position immediately following p: same ledger,
// entryID+1. Ledger rollover (the "else the first entry of the
// successor ledger" half of the data model's definition) is resolved
// by NextAcrossLedger, for callers that know the ledger has been
// sealed; ledger boundaries themselves are log-storage state and out
// of scope for this package.
func (p Position) Next() Position {
	return Position{LedgerID: p.LedgerID, EntryID: p.EntryID + 1}
}

// Prev returns the Position immediately preceding p within the same
// ledger. Like Next, it does not resolve ledger boundaries.
func (p Position) Prev() Position {
	return Position{LedgerID: p.LedgerID, EntryID: p.EntryID - 1}
}

// NextAcrossLedger returns the first Position of the ledger following
// p's, for callers that know p's ledger has been sealed with
// entryCount entries and p.EntryID+1 has run past it.
func (p Position) NextAcrossLedger(entryCount, nextLedgerID int64) Position {
	if p.EntryID+1 < entryCount {
		return p.Next()
	}
	return Position{LedgerID: nextLedgerID, EntryID: 0}
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.LedgerID, p.EntryID)
}

// Range is a half-open [Start, End) span of Positions. Within the
// module only this package's tests use it.
type Range struct {
	Start Position
	End   Position
}

// Contains reports whether p falls within [r.Start, r.End).
func (r Range) Contains(p Position) bool {
	return r.Start.LessOrEqual(p) && p.Less(r.End)
}
