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

// Package pub implements a dispatch.Transport over core/conn: the
// consumer-facing send path that hands a batch of entries to one
// consumer's network connection and awaits a receipt, adapted from
// the teacher's client-side core/pub.Producer (which sent messages
// *to* a Pulsar broker) onto the dispatcher's own egress direction
// (sending entries *to* a consumer).
package pub

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/conn"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/entry"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/wire"
)

// ErrClosedTransport is returned (via done) when Send is called on a
// closed NetTransport.
var ErrClosedTransport = errors.New("transport is closed")

const (
	propSendRequestID = "_request_id"
	propSendOutcome   = "_send_outcome"
	propSendError     = "_send_error"

	outcomeReceipt = "receipt"
	outcomeError   = "error"
)

// NetTransport sends entries to a single consumer over a core/conn.Conn,
// implementing core/dispatch.Transport.
type NetTransport struct {
	Conn       *conn.Conn
	Dispatcher *conn.Dispatcher

	mu       sync.RWMutex
	isClosed bool
	closedc  chan struct{}

	seqID uint64
}

// NewNetTransport returns a ready-to-use NetTransport.
func NewNetTransport(c *conn.Conn, d *conn.Dispatcher) *NetTransport {
	return &NetTransport{
		Conn:       c,
		Dispatcher: d,
		closedc:    make(chan struct{}),
	}
}

// Send implements core/dispatch.Transport. It returns at once and does
// the work on its own goroutine so the dispatcher's lock is never held
// across it; that goroutine releases every entry exactly once, after
// invoking done.
func (t *NetTransport) Send(entries []*entry.Entry, readType entry.ReadType, done func(err error)) {
	go t.send(entries, readType, done)
}

func (t *NetTransport) send(entries []*entry.Entry, readType entry.ReadType, done func(err error)) {
	defer func() {
		for _, e := range entries {
			e.Release()
		}
	}()

	t.mu.RLock()
	closed := t.isClosed
	t.mu.RUnlock()
	if closed {
		done(ErrClosedTransport)
		return
	}

	reqID := fmt.Sprintf("send-%d", atomic.AddUint64(&t.seqID, 1))
	resp, cancel, err := t.Dispatcher.Register(reqID)
	if err != nil {
		done(err)
		return
	}
	defer cancel()

	for _, e := range entries {
		env := &wire.Envelope{
			PartitionKey: e.StickyKey(),
			Topic:        e.Topic(),
			Properties: map[string]string{
				propSendRequestID: reqID,
				"_read_type":      readType.String(),
			},
		}
		if err := t.Conn.SendFrame(env, e.Payload()); err != nil {
			done(err)
			return
		}
	}

	select {
	case <-t.Conn.Closed():
		done(ErrClosedTransport)
	case f := <-resp:
		if f.Envelope.Properties[propSendOutcome] == outcomeError {
			done(errors.New(f.Envelope.Properties[propSendError]))
			return
		}
		done(nil)
	}
}

// Close marks the transport closed; any Send already in flight will
// observe Conn.Closed() and fail.
func (t *NetTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isClosed {
		return nil
	}
	t.isClosed = true
	close(t.closedc)
	return t.Conn.Close()
}

// Closed returns a channel that unblocks once Close has been called.
func (t *NetTransport) Closed() <-chan struct{} {
	return t.closedc
}
