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

// Package selector maps a sticky key to the single live consumer that
// currently owns its hash slot. How the ring is built and rebalanced
// is explicitly out of the dispatch engine's concern (spec §1
// Non-goals); this package supplies one concrete, deterministic,
// consistent-hashing implementation so the rest of the module has
// something real to dispatch against.
package selector

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/consumer"
)

// replicas is the number of virtual nodes placed on the ring per
// consumer. More replicas spread a consumer's slots more evenly
// around the ring at the cost of a larger slots slice.
const replicas = 100

// Ring is a consistent-hash ring selector. It is safe for concurrent
// Select calls; AddConsumer/RemoveConsumer are expected to be called
// by a caller already holding the dispatcher lock, per the selector
// contract (§4.1: "callers hold the dispatcher lock during
// reshaping").
type Ring struct {
	mu sync.RWMutex

	slots     []uint64
	owners    map[uint64]*consumer.Consumer
	consumers map[*consumer.Consumer]bool
}

// New returns an empty Ring.
func New() *Ring {
	return &Ring{
		owners:    make(map[uint64]*consumer.Consumer),
		consumers: make(map[*consumer.Consumer]bool),
	}
}

func hashKey(b []byte) uint64 {
	sum := blake2b.Sum256(b)
	return binary.BigEndian.Uint64(sum[:8])
}

// AddConsumer inserts c's virtual nodes into the ring. Only the slots
// landing between c's neighbors move; every other consumer's slots
// are untouched (consistent hashing's defining property).
func (r *Ring) AddConsumer(c *consumer.Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.consumers[c] {
		return
	}
	r.consumers[c] = true

	// The pointer tag disambiguates virtual-node hashes for two
	// distinct consumers that share a display name: Consumer equality
	// is identity, never name.
	tag := fmt.Sprintf("%p", c)
	for i := 0; i < replicas; i++ {
		h := hashKey([]byte(tag + "#" + strconv.Itoa(i)))
		r.owners[h] = c
		r.slots = append(r.slots, h)
	}
	sort.Slice(r.slots, func(i, j int) bool { return r.slots[i] < r.slots[j] })
}

// RemoveConsumer deregisters c and removes its virtual nodes.
func (r *Ring) RemoveConsumer(c *consumer.Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.consumers[c] {
		return
	}
	delete(r.consumers, c)

	kept := r.slots[:0]
	for _, h := range r.slots {
		if r.owners[h] == c {
			delete(r.owners, h)
			continue
		}
		kept = append(kept, h)
	}
	r.slots = kept
}

// Select returns the live consumer currently owning key's hash slot,
// and false if the ring has no consumers.
func (r *Ring) Select(key []byte) (*consumer.Consumer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.slots) == 0 {
		return nil, false
	}

	h := hashKey(key)
	i := sort.Search(len(r.slots), func(i int) bool { return r.slots[i] >= h })
	if i == len(r.slots) {
		i = 0
	}
	return r.owners[r.slots[i]], true
}

// Len reports how many consumers are currently registered.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.consumers)
}
