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

// Package redelivery holds the in-memory, ordered set of Positions
// awaiting re-dispatch.
package redelivery

import (
	"sort"

	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/position"
)

// Set is an ordered collection of Positions. Duplicates collapse. It
// is not safe for concurrent use; callers hold the dispatcher lock.
type Set struct {
	// positions is kept sorted ascending. Membership changes happen at
	// dispatch-cycle granularity (tens to low-thousands of entries), so
	// a sorted slice with binary search is simpler to reason about
	// correctly than a generic ordered-map dependency would be here.
	// Range() still allocates its result slice on every call.
	positions []position.Position
}

// New returns an empty Set.
func New() *Set {
	return &Set{}
}

func (s *Set) search(p position.Position) int {
	return sort.Search(len(s.positions), func(i int) bool {
		return !s.positions[i].Less(p)
	})
}

// Add inserts p if it is not already present.
func (s *Set) Add(p position.Position) {
	i := s.search(p)
	if i < len(s.positions) && s.positions[i].Equal(p) {
		return
	}
	s.positions = append(s.positions, position.Zero)
	copy(s.positions[i+1:], s.positions[i:])
	s.positions[i] = p
}

// Remove deletes p from the set, if present.
func (s *Set) Remove(p position.Position) {
	i := s.search(p)
	if i >= len(s.positions) || !s.positions[i].Equal(p) {
		return
	}
	s.positions = append(s.positions[:i], s.positions[i+1:]...)
}

// Contains reports whether p is in the set.
func (s *Set) Contains(p position.Position) bool {
	i := s.search(p)
	return i < len(s.positions) && s.positions[i].Equal(p)
}

// Len returns the number of positions in the set.
func (s *Set) Len() int { return len(s.positions) }

// RemoveLessOrEqual drops every position <= upTo. Used after the
// mark-delete position advances, to uphold the invariant that the
// redelivery set never contains positions <= mark-delete.
func (s *Set) RemoveLessOrEqual(upTo position.Position) {
	i := sort.Search(len(s.positions), func(i int) bool {
		return upTo.Less(s.positions[i])
	})
	s.positions = s.positions[:copy(s.positions, s.positions[i:])]
}

// Range calls fn for up to max positions in ascending order, stopping
// early if fn returns false. It returns the positions visited.
func (s *Set) Range(max int, fn func(position.Position) bool) []position.Position {
	if max <= 0 || max > len(s.positions) {
		max = len(s.positions)
	}
	out := make([]position.Position, 0, max)
	for _, p := range s.positions {
		if len(out) >= max {
			break
		}
		out = append(out, p)
		if !fn(p) {
			break
		}
	}
	return out
}

// All returns every position currently held, in ascending order. The
// returned slice is owned by the caller.
func (s *Set) All() []position.Position {
	out := make([]position.Position, len(s.positions))
	copy(out, s.positions)
	return out
}
