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

// Package conn is the ingress transport for core/source: framed reads
// and writes of core/wire.Envelope-tagged records over TCP/TLS,
// adapted from the teacher's Pulsar binary-protocol connection down
// to this module's own, smaller frame format (core/frame).
package conn

import (
	"bytes"
	"crypto/tls"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/frame"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/wire"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/pkg/log"
)

// NewTCPConn creates a Conn using a TCPv4 connection to addr.
func NewTCPConn(addr string, timeout time.Duration) (*Conn, error) {
	addr = strings.TrimPrefix(addr, "pulsar://")

	d := net.Dialer{
		DualStack: false,
		Timeout:   timeout,
	}
	c, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	return &Conn{
		Rc:      c,
		W:       c,
		Closedc: make(chan struct{}),
	}, nil
}

// NewTLSConn creates a Conn using a TCPv4+TLS connection to addr.
func NewTLSConn(addr string, tlsCfg *tls.Config, timeout time.Duration) (*Conn, error) {
	addr = strings.TrimPrefix(addr, "pulsar://")

	d := net.Dialer{
		DualStack: false,
		Timeout:   timeout,
	}
	c, err := tls.DialWithDialer(&d, "tcp", addr, tlsCfg)
	if err != nil {
		return nil, err
	}

	return &Conn{
		Rc:      c,
		W:       c,
		Closedc: make(chan struct{}),
	}, nil
}

// Conn reads and writes Frames over an underlying connection (Rc, W).
type Conn struct {
	Rc io.ReadCloser

	Wmu sync.Mutex // protects W to ensure frames aren't interleaved
	W   io.Writer

	Cmu      sync.Mutex // protects following
	IsClosed bool
	Closedc  chan struct{}
}

// Close closes the underlying connection. This causes Read to
// unblock and return an error, and the closed channel to unblock.
func (c *Conn) Close() error {
	c.Cmu.Lock()
	defer c.Cmu.Unlock()

	if c.IsClosed {
		return nil
	}

	err := c.Rc.Close()
	close(c.Closedc)
	c.IsClosed = true

	return err
}

// Closed returns a channel that unblocks once the connection has been
// closed and is no longer usable.
func (c *Conn) Closed() <-chan struct{} {
	return c.Closedc
}

// Read blocks reading frames from Rc until an error occurs, passing
// each to frameHandler sequentially from the calling goroutine. Any
// error closes the connection. Once Read returns, the Conn should be
// considered unusable.
func (c *Conn) Read(frameHandler func(f frame.Frame)) error {
	for {
		var f frame.Frame
		if err := f.Decode(c.Rc); err != nil {
			_ = c.Close()
			return err
		}
		log.Debugf("receive frame %v", f)
		frameHandler(f)
	}
}

// SendFrame writes envelope and payload as one frame. It is safe to
// use concurrently.
func (c *Conn) SendFrame(envelope *wire.Envelope, payload []byte) error {
	return c.writeFrame(&frame.Frame{
		Envelope: envelope,
		Payload:  payload,
	})
}

var bufPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, bufSize))
	},
}

const bufSize = 5 * 1024
const bufLimit = 50
const smallBufSize = 500
const smallBufThreshold = 500
const smalleBufLimit = 1000

var bufPoolChan = make(chan bool, bufLimit)

func getBuf() *bytes.Buffer {
	bufPoolChan <- true
	b := bufPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

func putBuf(b *bytes.Buffer) {
	bufPool.Put(b)
	<-bufPoolChan
}

var smallBufPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, smallBufSize))
	},
}

var smallBufPoolChan = make(chan bool, smalleBufLimit)

func getSmallBuf() *bytes.Buffer {
	smallBufPoolChan <- true
	b := smallBufPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

func putSmallBuf(b *bytes.Buffer) {
	smallBufPool.Put(b)
	<-smallBufPoolChan
}

// writeFrame encodes f and writes it to the wire in a thread-safe
// manner, drawing from the small buffer pool for payloads below
// smallBufThreshold to avoid over-allocating for the common case of
// small control-ish records.
func (c *Conn) writeFrame(f *frame.Frame) error {
	log.Debugf("send frame %v", f)
	var b *bytes.Buffer
	if len(f.Payload) < smallBufThreshold {
		b = getSmallBuf()
		defer putSmallBuf(b)
	} else {
		b = getBuf()
		defer putBuf(b)
	}

	if err := f.Encode(b); err != nil {
		return err
	}

	c.Wmu.Lock()
	_, err := b.WriteTo(c.W)
	c.Wmu.Unlock()

	return err
}
