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

// Package joined holds the recently-joined table: the join-snapshot
// read positions of consumers that joined a non-empty backlog.
package joined

import "github.com/pepper-iot/pulsar-keyshared-dispatcher/core/position"

// ConsumerID identifies a consumer by reference identity. Callers
// should key the table with the consumer's own pointer; the table
// never owns the consumer and must be cleaned up by both the selector
// and the table together when a consumer is removed, never just one.
type ConsumerID interface{}

// Table maps a consumer identity to the readPosition snapshot taken
// when it joined. It is not safe for concurrent use; callers hold the
// dispatcher lock.
type Table struct {
	snapshot map[ConsumerID]position.Position
}

// New returns an empty Table.
func New() *Table {
	return &Table{snapshot: make(map[ConsumerID]position.Position)}
}

// Set records the join-snapshot Position for c.
func (t *Table) Set(c ConsumerID, barrier position.Position) {
	t.snapshot[c] = barrier
}

// Get returns c's barrier Position and whether c is present.
func (t *Table) Get(c ConsumerID) (position.Position, bool) {
	p, ok := t.snapshot[c]
	return p, ok
}

// Delete removes c from the table, whether because it left the
// subscription or because its barrier has opened.
func (t *Table) Delete(c ConsumerID) {
	delete(t.snapshot, c)
}

// Len reports how many consumers are currently gated.
func (t *Table) Len() int { return len(t.snapshot) }
