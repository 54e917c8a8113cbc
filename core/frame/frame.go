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

package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/golang/protobuf/proto"

	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/wire"
)

// MaxFrameSize bounds a single frame, matching the original Pulsar
// binary protocol's framing limit.
//
// https://pulsar.incubator.apache.org/docs/latest/project/BinaryProtocol/#Framing-5l6bym
const MaxFrameSize = 5 * 1024 * 1024 // 5mb

// magicNumber identifies the checksum that follows it, as defined by
// the pulsar protocol this framing is adapted from.
var magicNumber = [...]byte{0x0e, 0x01}

// crcTable is the Castagnoli CRC-32 table the pulsar wire protocol
// specifies for frame checksums.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// frameChecksum accumulates bytes written to it and reports their
// CRC32-C checksum. It implements io.Writer so it can sit behind a
// TeeReader during decode or be written into directly during encode.
type frameChecksum struct {
	h uint32
	n int
}

func (c *frameChecksum) Write(p []byte) (int, error) {
	if c.n == 0 {
		c.h = crc32.Checksum(p, crcTable)
	} else {
		c.h = crc32.Update(c.h, crcTable, p)
	}
	c.n += len(p)
	return len(p), nil
}

func (c *frameChecksum) compute() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, c.h)
	return buf
}

// Frame is one length-prefixed unit on the ingress wire: an Envelope
// (wire metadata: sticky key, topic, compression, properties) plus
// its raw payload bytes, adapted from the teacher's Pulsar "Payload
// command" framing onto this module's own core/wire.Envelope instead
// of api.BaseCommand/api.MessageMetadata.
//
//	+------------------------------------------------------------------------------------------------+
//	| totalSize (4) | magicNumber (2) | checksum (4, CRC32-C) | metadataSize (4) | metadata | payload |
//	+------------------------------------------------------------------------------------------------+
type Frame struct {
	Envelope *wire.Envelope
	Payload  []byte
}

// Equal returns true if other is structurally equal to f.
func (f *Frame) Equal(other Frame) bool {
	if !proto.Equal(f.Envelope, other.Envelope) {
		return false
	}
	return bytes.Equal(f.Payload, other.Payload)
}

// Decode reads and validates one Frame from r.
func (f *Frame) Decode(r io.Reader) error {
	buf32 := make([]byte, 4)

	if _, err := io.ReadFull(r, buf32); err != nil {
		return err
	}
	totalSize := binary.BigEndian.Uint32(buf32)
	if frameSize := int(totalSize) + 4; frameSize > MaxFrameSize {
		return fmt.Errorf("frame size (%d) cannot be greater than max frame size (%d)", frameSize, MaxFrameSize)
	}

	lr := &io.LimitedReader{N: int64(totalSize), R: r}

	var magic [2]byte
	if _, err := io.ReadFull(lr, magic[:]); err != nil {
		return err
	}
	if magic != magicNumber {
		return fmt.Errorf("frame: missing checksum magic number, got 0x%X", magic)
	}

	expectedChksum := make([]byte, 4)
	if _, err := io.ReadFull(lr, expectedChksum); err != nil {
		return err
	}

	var chksum frameChecksum
	lr.R = io.TeeReader(lr.R, &chksum)

	if _, err := io.ReadFull(lr, buf32); err != nil {
		return err
	}
	metadataSize := binary.BigEndian.Uint32(buf32)
	if metadataSize > MaxFrameSize {
		return fmt.Errorf("frame metadata size (%d) cannot be greater than max frame size (%d)", metadataSize, MaxFrameSize)
	}

	metaBuf := make([]byte, metadataSize)
	if _, err := io.ReadFull(lr, metaBuf); err != nil {
		return err
	}
	f.Envelope = new(wire.Envelope)
	if err := proto.Unmarshal(metaBuf, f.Envelope); err != nil {
		return err
	}

	var wirePayload []byte
	if lr.N > 0 {
		if lr.N > MaxFrameSize {
			return fmt.Errorf("frame payload size (%d) cannot be greater than max frame size (%d)", lr.N, MaxFrameSize)
		}
		wirePayload = make([]byte, lr.N)
		if _, err := io.ReadFull(lr, wirePayload); err != nil {
			return err
		}
	}

	if computed := chksum.compute(); !bytes.Equal(computed, expectedChksum) {
		return fmt.Errorf("checksum mismatch: computed (0x%X) does not match given checksum (0x%X)", computed, expectedChksum)
	}

	decoded, err := wire.Decompress(f.Envelope.Compression, wirePayload, int(f.Envelope.UncompressedSize))
	if err != nil {
		return fmt.Errorf("frame: decompress payload: %w", err)
	}
	f.Payload = decoded

	return nil
}

// Encode writes f to w in the wire format described on Frame, compressing
// the payload per f.Envelope.Compression before it goes on the wire
// (spec §3: the envelope's CompressionType governs the payload codec,
// never the metadata ahead of it). f.Envelope.UncompressedSize is set
// to the pre-compression payload length so Decode can size its output
// buffer.
func (f *Frame) Encode(w io.Writer) error {
	f.Envelope.UncompressedSize = uint32(len(f.Payload))
	wirePayload, err := wire.Compress(f.Envelope.Compression, f.Payload)
	if err != nil {
		return fmt.Errorf("frame: compress payload: %w", err)
	}

	encodedMetadata, err := proto.Marshal(f.Envelope)
	if err != nil {
		return err
	}
	metadataSize := uint32(len(encodedMetadata))

	totalSize := uint32(2) + 4 + 4 + metadataSize + uint32(len(wirePayload))
	if frameSize := totalSize + 4; frameSize > MaxFrameSize {
		return fmt.Errorf("encoded frame size (%d bytes) is larger than max allowed frame size (%d bytes)", frameSize, MaxFrameSize)
	}

	if err := binary.Write(w, binary.BigEndian, totalSize); err != nil {
		return err
	}
	if _, err := w.Write(magicNumber[:]); err != nil {
		return err
	}

	var chksum frameChecksum
	if err := binary.Write(&chksum, binary.BigEndian, metadataSize); err != nil {
		return err
	}
	if _, err := chksum.Write(encodedMetadata); err != nil {
		return err
	}
	if _, err := chksum.Write(wirePayload); err != nil {
		return err
	}
	if _, err := w.Write(chksum.compute()); err != nil {
		return err
	}

	if err := binary.Write(w, binary.BigEndian, metadataSize); err != nil {
		return err
	}
	if _, err := w.Write(encodedMetadata); err != nil {
		return err
	}
	_, err = w.Write(wirePayload)
	return err
}
