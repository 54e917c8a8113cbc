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
	"context"
	"fmt"

	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/wire"
)

// AuthConfig carries credentials for the ingress handshake.
type AuthConfig struct {
	AuthMethod string
	AuthData   []byte
}

// handshake property keys, namespaced so they never collide with a
// real record's envelope properties.
const (
	propHandshakeKind = "_handshake"
	propTopic         = "_topic"
	propAuthMethod    = "_auth_method"
	propError         = "_error"

	handshakeConnect   = "connect"
	handshakeConnected = "connected"
)

// Connector encapsulates the CONNECT <-> CONNECTED request/response
// cycle a source.Connector performs once per dial, adapted from the
// teacher's api.CommandConnect handshake down to this module's own
// Envelope-property-tagged frames.
type Connector struct {
	Conn       *Conn
	Dispatcher *Dispatcher
	AuthConfig AuthConfig
}

// NewConnector returns a ready-to-use Connector.
func NewConnector(c *Conn, d *Dispatcher, ac AuthConfig) *Connector {
	return &Connector{Conn: c, Dispatcher: d, AuthConfig: ac}
}

// Connect sends a handshake frame for topic and waits for a CONNECTED
// (or error) response. ctx should carry a timeout; it's required to
// complete successfully before the connection is used to deliver
// records.
func (c *Connector) Connect(ctx context.Context, topic string) (*wire.Envelope, error) {
	reqID := c.Dispatcher.NextRequestID()
	resp, cancel, err := c.Dispatcher.Register(reqID)
	if err != nil {
		return nil, err
	}
	defer cancel()

	props := map[string]string{
		propHandshakeKind: handshakeConnect,
		propTopic:         topic,
		requestIDProperty: reqID,
	}
	if c.AuthConfig.AuthMethod != "" {
		props[propAuthMethod] = c.AuthConfig.AuthMethod
	}

	env := &wire.Envelope{
		Topic:      topic,
		Properties: props,
	}
	if c.AuthConfig.AuthData != nil {
		env.PartitionKey = c.AuthConfig.AuthData
	}

	if err := c.Conn.SendFrame(env, nil); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f := <-resp:
		if f.Envelope.Properties[propHandshakeKind] == handshakeConnected {
			return f.Envelope, nil
		}
		return nil, fmt.Errorf("conn: handshake failed: %s", f.Envelope.Properties[propError])
	}
}
