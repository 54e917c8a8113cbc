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

// Package source implements the pluggable ingress side: a Connector
// delivers externally produced records into the topic's log, wrapping
// each in a Record whose ack/fail semantics depend on the configured
// processing guarantee.
package source

import (
	"regexp"
	"strings"
	"sync"

	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/cursor"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/position"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/pkg/config"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/pkg/log"
)

// Record is the per-message envelope handed to downstream processing
// code for each arrived message (spec §4.5).
type Record struct {
	Payload []byte
	Topic   string

	// Ack acknowledges the record. Under EffectivelyOnce this is
	// cumulative (everything up to and including this record's
	// position); otherwise it is individual.
	Ack func()

	// Fail reports processing failure. Under EffectivelyOnce this is
	// fatal: it invokes the Connector's FatalHandler (if one is set)
	// with the record's topic, position and error; the Connector itself
	// keeps accepting records. Under weaker guarantees it is a no-op,
	// since the broker's own unack timeout will redeliver the message.
	Fail func(err error)
}

// FatalHandler is invoked when Fail is called under EffectivelyOnce.
type FatalHandler func(topic string, pos position.Position, err error)

// Log is the subset of *cursor.Log a Connector appends into.
type Log interface {
	Append(stickyKey, payload []byte) position.Position
}

// AckSink is the subset of *cursor.ManagedCursor a Connector acks
// against.
type AckSink interface {
	Ack(pos position.Position, mode cursor.AckMode)
}

// Connector delivers externally produced records into a topic's log.
// It resolves pattern subscriptions to their expanded topic list for
// introspection and tracks every topic it has seen a message from.
type Connector struct {
	guarantee config.ProcessingGuarantee
	pattern   *regexp.Regexp
	fatal     FatalHandler

	log  Log
	sink AckSink

	mu     sync.Mutex
	topics map[string]bool
}

// New returns a Connector. pattern, if non-empty, is compiled as a
// regular expression used by Topics to report which concrete topics
// this source has observed under a pattern subscription; an empty
// pattern means a single fixed topic subscription.
func New(guarantee config.ProcessingGuarantee, pattern string, log_ Log, sink AckSink, fatal FatalHandler) (*Connector, error) {
	c := &Connector{
		guarantee: guarantee,
		log:       log_,
		sink:      sink,
		fatal:     fatal,
		topics:    make(map[string]bool),
	}
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		c.pattern = re
	}
	return c, nil
}

// Deliver appends payload (under stickyKey) to the log on behalf of
// topic and returns the Record a caller uses to ack or fail it.
// fallbackTopic is used when topic is empty, matching "topic name...
// else from the subscription" (spec §4.5).
func (c *Connector) Deliver(topic, fallbackTopic string, stickyKey, payload []byte) Record {
	if topic == "" {
		topic = fallbackTopic
	}

	c.mu.Lock()
	c.topics[topic] = true
	c.mu.Unlock()

	pos := c.log.Append(stickyKey, payload)
	mode := cursor.AckIndividual
	if c.guarantee == config.EffectivelyOnce {
		mode = cursor.AckCumulative
	}

	return Record{
		Payload: payload,
		Topic:   topic,
		Ack: func() {
			c.sink.Ack(pos, mode)
		},
		Fail: func(err error) {
			if c.guarantee == config.EffectivelyOnce {
				if c.fatal != nil {
					c.fatal(topic, pos, err)
				}
				return
			}
			log.Debugf("source: record failed under %s, relying on unack redelivery: %v\n", c.guarantee, err)
		},
	}
}

// Topics reports every concrete topic this connector has delivered at
// least one record for. Under a pattern subscription this is the
// expanded topic list; under a fixed subscription it is at most one
// entry.
func (c *Connector) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

// Matches reports whether topic matches this connector's pattern. With
// no pattern configured it reports true for every topic.
func (c *Connector) Matches(topic string) bool {
	if c.pattern == nil {
		return true
	}
	return c.pattern.MatchString(topic)
}

// ExpandTopicName strips a common "persistent://tenant/namespace/"
// prefix for display purposes, matching the short names used in log
// lines elsewhere in the module.
func ExpandTopicName(full string) string {
	if i := strings.LastIndex(full, "/"); i >= 0 {
		return full[i+1:]
	}
	return full
}
