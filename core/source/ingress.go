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

package source

import (
	"context"

	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/frame"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/manage"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/pkg/log"
)

// FrameSource is the subset of *manage.ManagedIngress a Connector
// reads network-delivered records from.
type FrameSource interface {
	Frames() <-chan frame.Frame
	Errs() <-chan error
}

var _ FrameSource = (*manage.ManagedIngress)(nil)

// Run drives the network ingestion loop: every frame src delivers is
// decoded into a Record via Deliver and appended to the log, using
// fallbackTopic when the frame's envelope carries no topic of its own
// (spec §4.5, §4.8). It blocks until ctx is done or src stops
// producing frames.
//
// A frame is acknowledged immediately after Append, since durable
// storage is this Connector's unit of work. Append reports no error,
// so Run never calls a Record's Fail.
func (c *Connector) Run(ctx context.Context, src FrameSource, fallbackTopic string) {
	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-src.Errs():
			if !ok {
				return
			}
			log.Warnf("source: ingress error on topic %s: %v\n", fallbackTopic, err)

		case f, ok := <-src.Frames():
			if !ok {
				return
			}
			c.deliverFrame(f, fallbackTopic)
		}
	}
}

func (c *Connector) deliverFrame(f frame.Frame, fallbackTopic string) {
	var topic string
	var stickyKey []byte
	if f.Envelope != nil {
		topic = f.Envelope.Topic
		stickyKey = f.Envelope.PartitionKey
	}

	rec := c.Deliver(topic, fallbackTopic, stickyKey, f.Payload)
	rec.Ack()
}
