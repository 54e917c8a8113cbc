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

package conn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/frame"
)

// requestIDProperty is the Envelope property key a Dispatcher uses to
// correlate a response frame with the request that caused it,
// adapted from the teacher's RequestID-keyed frame.Dispatcher down to
// this module's property-bag Envelope (it has no dedicated RequestID
// field).
const requestIDProperty = "_request_id"

// Dispatcher correlates response frames with pending requests, mirroring
// the teacher's frame.Dispatcher but keyed off an Envelope property
// instead of a protobuf RequestID field.
type Dispatcher struct {
	mu      sync.Mutex
	pending map[string]chan frame.Frame

	nextID uint64
}

// NewDispatcher returns a ready-to-use Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{pending: make(map[string]chan frame.Frame)}
}

// NextRequestID returns a fresh, process-unique request id.
func (d *Dispatcher) NextRequestID() string {
	return fmt.Sprintf("req-%d", atomic.AddUint64(&d.nextID, 1))
}

// Register returns a channel that receives the single response frame
// tagged with requestID, and a cancel func that must be called once
// the caller stops waiting (whether or not a response arrived).
func (d *Dispatcher) Register(requestID string) (resp <-chan frame.Frame, cancel func(), err error) {
	ch := make(chan frame.Frame, 1)

	d.mu.Lock()
	if _, exists := d.pending[requestID]; exists {
		d.mu.Unlock()
		return nil, nil, fmt.Errorf("conn: request id %q already registered", requestID)
	}
	d.pending[requestID] = ch
	d.mu.Unlock()

	return ch, func() {
		d.mu.Lock()
		delete(d.pending, requestID)
		d.mu.Unlock()
	}, nil
}

// Dispatch routes f to whichever caller registered for its request
// id, if any. It is intended to be called from a Conn.Read
// frameHandler. Frames with no matching registration, or no request
// id at all, are silently dropped — they are unsolicited or
// late-arriving after the waiter gave up.
func (d *Dispatcher) Dispatch(f frame.Frame) {
	if f.Envelope == nil {
		return
	}
	id, ok := f.Envelope.Properties[requestIDProperty]
	if !ok {
		return
	}

	d.mu.Lock()
	ch, exists := d.pending[id]
	d.mu.Unlock()
	if !exists {
		return
	}

	select {
	case ch <- f:
	default:
	}
}
