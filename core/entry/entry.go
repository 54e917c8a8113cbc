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

// Package entry defines the reference-counted record read from the
// durable log: a Position plus a payload buffer and a peekable sticky
// key extracted from the payload's envelope without consuming it.
package entry

import (
	"sync/atomic"

	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/position"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/wire"
)

// ReadType distinguishes a fresh read from a replayed one, driving
// redelivery-set cleanup on successful dispatch.
type ReadType int

const (
	// Normal is a forward read via readEntries.
	Normal ReadType = iota
	// Replay is a read of previously undelivered positions via
	// asyncReplayEntries.
	Replay
)

func (rt ReadType) String() string {
	if rt == Replay {
		return "Replay"
	}
	return "Normal"
}

// Entry is a reference-counted record owned by exactly one party at a
// time. Whoever last owns it (the transport on a successful send, the
// dispatcher on a refusal) must call Release exactly once.
type Entry struct {
	pos      position.Position
	envelope *wire.Envelope
	payload  []byte

	refs    int32
	release func(*Entry)
}

// New returns an Entry for pos, wrapping its decoded wire.Envelope and
// its raw (still possibly compressed) payload bytes.
// onRelease, if non-nil, is invoked exactly once when the Entry's
// refcount reaches zero, to return the payload buffer to a pool.
func New(pos position.Position, envelope *wire.Envelope, payload []byte, onRelease func(*Entry)) *Entry {
	return &Entry{
		pos:      pos,
		envelope: envelope,
		payload:  payload,
		refs:     1,
		release:  onRelease,
	}
}

// Position returns the Entry's log coordinate.
func (e *Entry) Position() position.Position { return e.pos }

// StickyKey returns the routing key extracted from the envelope
// without touching the (possibly compressed) payload that follows it.
func (e *Entry) StickyKey() []byte {
	if e.envelope == nil {
		return nil
	}
	return e.envelope.PartitionKey
}

// Topic returns the topic name carried in the envelope.
func (e *Entry) Topic() string {
	if e.envelope == nil {
		return ""
	}
	return e.envelope.Topic
}

// Envelope returns the decoded metadata envelope.
func (e *Entry) Envelope() *wire.Envelope { return e.envelope }

// Payload returns the raw (possibly compressed) payload bytes.
func (e *Entry) Payload() []byte { return e.payload }

// Retain increments the reference count. Used when a single Entry
// must be handed to more than one observer (for example a consumer
// send and an audit log) without prematurely releasing buffers.
func (e *Entry) Retain() {
	atomic.AddInt32(&e.refs, 1)
}

// Release decrements the reference count, invoking the release
// callback once it reaches zero. Calling Release more times than the
// Entry has owners is a programmer error and will panic, since it
// indicates a buffer would otherwise be returned to its pool twice.
func (e *Entry) Release() {
	remaining := atomic.AddInt32(&e.refs, -1)
	if remaining < 0 {
		panic("entry: Release called more times than Retain")
	}
	if remaining == 0 && e.release != nil {
		e.release(e)
	}
}
