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

// Package manage supervises the ingress connection a core/source.Connector
// reads from: dial, handshake, and transparent reconnect with backoff
// on disconnect, adapted from the teacher's ManagedConsumer (which
// supervised a Pulsar client-side sub.Consumer) onto this module's own
// core/conn.Conn ingress transport.
package manage

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/conn"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/frame"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/pkg/log"
)

// IngressConfig configures a ManagedIngress.
type IngressConfig struct {
	Address    string
	Topic      string
	AuthConfig conn.AuthConfig
	TLSConfig  *tls.Config // nil disables TLS

	QueueSize int

	DialTimeout           time.Duration
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
}

// SetDefaults returns a modified config with zero values replaced.
func (c IngressConfig) SetDefaults() IngressConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.InitialReconnectDelay <= 0 {
		c.InitialReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 5 * time.Minute
	}
	return c
}

// ManagedIngress wraps a core/conn.Conn with reconnect logic so
// core/source.Connector always has a live connection to read frames
// from, transparently redialing on disconnect.
type ManagedIngress struct {
	cfg IngressConfig

	frames chan frame.Frame
	errs   chan error

	mu             sync.RWMutex // protects following
	current        *conn.Conn   // either current is nil and wait isn't, or vice versa
	waitc          chan struct{}
	stopManageChan chan struct{}
}

// NewManagedIngress dials cfg.Address and keeps the connection alive
// in the background until Close is called.
func NewManagedIngress(cfg IngressConfig) *ManagedIngress {
	cfg = cfg.SetDefaults()

	m := &ManagedIngress{
		cfg:            cfg,
		frames:         make(chan frame.Frame, cfg.QueueSize),
		errs:           make(chan error, 1),
		waitc:          make(chan struct{}),
		stopManageChan: make(chan struct{}),
	}

	go m.manage()

	return m
}

// Frames returns the channel of frames decoded from the current (or
// any prior) underlying connection.
func (m *ManagedIngress) Frames() <-chan frame.Frame {
	return m.frames
}

// Errs surfaces asynchronous dial/read errors for logging; it is
// non-blocking and drops errors if nobody is listening.
func (m *ManagedIngress) Errs() <-chan error {
	return m.errs
}

func (m *ManagedIngress) sendErr(err error) {
	select {
	case m.errs <- err:
	default:
	}
}

func (m *ManagedIngress) dial(ctx context.Context) (*conn.Conn, error) {
	var c *conn.Conn
	var err error
	if m.cfg.TLSConfig != nil {
		c, err = conn.NewTLSConn(m.cfg.Address, m.cfg.TLSConfig, m.cfg.DialTimeout)
	} else {
		c, err = conn.NewTCPConn(m.cfg.Address, m.cfg.DialTimeout)
	}
	if err != nil {
		return nil, err
	}

	d := conn.NewDispatcher()
	connector := conn.NewConnector(c, d, m.cfg.AuthConfig)

	go func() {
		_ = c.Read(func(f frame.Frame) {
			d.Dispatch(f)
			// Handshake replies are answered through d; they are not
			// records and never reach Frames.
			if f.Envelope != nil && f.Envelope.Properties["_handshake"] != "" {
				return
			}
			select {
			case m.frames <- f:
			case <-c.Closed():
			}
		})
	}()

	if _, err := connector.Connect(ctx, m.cfg.Topic); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// reconnect blocks, retrying with exponential backoff, until a new
// connection is established.
func (m *ManagedIngress) reconnect(initial bool) *conn.Conn {
	retryDelay := m.cfg.InitialReconnectDelay

	for attempt := 1; ; attempt++ {
		if initial {
			initial = false
		} else {
			<-time.After(retryDelay)
			if retryDelay < m.cfg.MaxReconnectDelay {
				if retryDelay *= 2; retryDelay > m.cfg.MaxReconnectDelay {
					retryDelay = m.cfg.MaxReconnectDelay
				}
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
		log.Debugf("reconnecting ingress topic:%v attempt:%d\n", m.cfg.Topic, attempt)
		c, err := m.dial(ctx)
		cancel()
		if err != nil {
			m.sendErr(err)
			continue
		}
		log.Debugf("reconnect ingress success, topic:%v\n", m.cfg.Topic)
		return c
	}
}

func (m *ManagedIngress) set(c *conn.Conn) {
	m.mu.Lock()
	m.current = c
	if m.waitc != nil {
		close(m.waitc)
		m.waitc = nil
	}
	m.mu.Unlock()
}

func (m *ManagedIngress) unset() {
	m.mu.Lock()
	if m.waitc == nil {
		m.waitc = make(chan struct{})
	}
	m.current = nil
	m.mu.Unlock()
}

func (m *ManagedIngress) manage() {
	defer m.unset()

	c := m.reconnect(true)
	m.set(c)

	for {
		select {
		case <-c.Closed():
			// fall through to reconnect
		case <-m.stopManageChan:
			return
		}

		m.unset()
		c = m.reconnect(false)
		m.set(c)
	}
}

// Close stops the background reconnect loop and closes the current
// connection.
func (m *ManagedIngress) Close() error {
	close(m.stopManageChan)

	m.mu.RLock()
	c := m.current
	m.mu.RUnlock()
	if c != nil {
		return c.Close()
	}
	return nil
}
