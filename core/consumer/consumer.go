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

// Package consumer models a single subscriber on a Key_Shared
// subscription: an identity with mutable permit/liveness state.
// Consumers are referentially unique; equality is identity, never
// value, since two consumers can otherwise share every field.
package consumer

import "sync/atomic"

// Consumer is a live subscriber. The zero value is not usable; use
// New. A *Consumer's identity (its pointer) is what the selector, the
// recently-joined table, and the dispatch engine key off of.
type Consumer struct {
	name string

	permits int64 // atomic
	alive   int32 // atomic, 1 == true
}

// New returns a ready Consumer with name and initial permits.
func New(name string, permits int64) *Consumer {
	return &Consumer{name: name, permits: permits, alive: 1}
}

// Name returns the consumer's display name.
func (c *Consumer) Name() string { return c.name }

// AvailablePermits returns the number of additional messages this
// consumer can currently accept.
func (c *Consumer) AvailablePermits() int64 {
	return atomic.LoadInt64(&c.permits)
}

// GrantPermits increases the available permit count by n (n may be
// negative to decrement, used by the dispatcher after a send).
func (c *Consumer) GrantPermits(n int64) {
	atomic.AddInt64(&c.permits, n)
}

// SetPermits overwrites the available permit count, used by a
// transport acknowledging a flow-control update out of band.
func (c *Consumer) SetPermits(n int64) {
	atomic.StoreInt64(&c.permits, n)
}

// IsAlive reports whether the consumer is still connected.
func (c *Consumer) IsAlive() bool {
	return atomic.LoadInt32(&c.alive) == 1
}

// MarkDead flags the consumer as disconnected. It does not deregister
// it from any registry; callers (selector, recently-joined table, the
// dispatch engine) must each drop their own reference.
func (c *Consumer) MarkDead() {
	atomic.StoreInt32(&c.alive, 0)
}
