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

// Package ratelimit defines the dispatch rate limiter contract the
// engine consumes. Limiter internals (the bucket algorithm, refill
// policy) are explicitly out of scope per spec §1 Non-goals; this
// package's TokenBucket exists only so the engine has something real
// to call in tests and examples.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is best-effort and non-blocking: TryDispatchPermit never
// waits for capacity to free up, it just reports whether it was
// available right now.
type Limiter interface {
	// IsPresent reports whether a limiter is configured at all. A nil
	// or absent limiter means dispatch proceeds unthrottled.
	IsPresent() bool

	// TryDispatchPermit attempts to consume msgCount messages and
	// byteCount bytes of budget. It returns false (without partially
	// consuming budget) if either dimension would go negative.
	TryDispatchPermit(msgCount, byteCount int64) bool
}

// TokenBucket is a minimal best-effort limiter bounding both message
// count and byte count per refill interval.
type TokenBucket struct {
	mu sync.Mutex

	msgCapacity, byteCapacity   int64
	msgTokens, byteTokens       int64
	refillInterval              time.Duration
	lastRefill                  time.Time
	now                         func() time.Time
}

// NewTokenBucket returns a TokenBucket that allows msgCapacity
// messages and byteCapacity bytes per refillInterval.
func NewTokenBucket(msgCapacity, byteCapacity int64, refillInterval time.Duration) *TokenBucket {
	return &TokenBucket{
		msgCapacity:    msgCapacity,
		byteCapacity:   byteCapacity,
		msgTokens:      msgCapacity,
		byteTokens:     byteCapacity,
		refillInterval: refillInterval,
		now:            time.Now,
		lastRefill:     time.Now(),
	}
}

// IsPresent implements Limiter.
func (t *TokenBucket) IsPresent() bool { return t != nil }

func (t *TokenBucket) maybeRefill() {
	now := t.now()
	if now.Sub(t.lastRefill) < t.refillInterval {
		return
	}
	t.msgTokens = t.msgCapacity
	t.byteTokens = t.byteCapacity
	t.lastRefill = now
}

// TryDispatchPermit implements Limiter.
func (t *TokenBucket) TryDispatchPermit(msgCount, byteCount int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.maybeRefill()

	if t.msgTokens < msgCount || t.byteTokens < byteCount {
		return false
	}
	t.msgTokens -= msgCount
	t.byteTokens -= byteCount
	return true
}
