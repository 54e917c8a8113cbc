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

package dispatch

import "github.com/pepper-iot/pulsar-keyshared-dispatcher/core/entry"

// Transport is the per-consumer send path: an asynchronous,
// non-blocking hand-off of entries to one consumer's connection. It
// must never be called from under the dispatcher lock in a way that
// blocks; real implementations hand off to the network and return
// immediately.
//
// A Transport always releases every entry it is given exactly once,
// whether the send ultimately succeeds or fails — the
// dispatcher never releases an entry once it has been handed to
// Send. done is invoked exactly once, from any goroutine, once the
// outcome (including a disconnect) is known. A non-nil error models
// "the transport's unack timeout will eventually redeliver this" —
// the dispatcher requeues the affected positions immediately rather
// than modeling the real timer, since the timer itself belongs to the
// surrounding broker (out of scope here; see spec §1 Non-goals).
type Transport interface {
	Send(entries []*entry.Entry, readType entry.ReadType, done func(err error))
}
