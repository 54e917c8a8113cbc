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

// Package wire defines the small protobuf envelope carried ahead of
// every entry's payload on the wire. It plays the role the teacher's
// pkg/api.MessageMetadata plays for the Pulsar binary protocol, scaled
// down to exactly what the dispatcher's peekStickyKey() needs:
// extracting the sticky key without touching (let alone decompressing)
// the payload.
package wire

import "github.com/golang/protobuf/proto"

// CompressionType mirrors Pulsar's own MessageMetadata.CompressionType
// wire enum.
type CompressionType int32

const (
	CompressionType_NONE   CompressionType = 0
	CompressionType_LZ4    CompressionType = 1
	CompressionType_ZLIB   CompressionType = 2
	CompressionType_ZSTD   CompressionType = 3
	CompressionType_SNAPPY CompressionType = 4
)

func (c CompressionType) String() string {
	switch c {
	case CompressionType_NONE:
		return "NONE"
	case CompressionType_LZ4:
		return "LZ4"
	case CompressionType_ZLIB:
		return "ZLIB"
	case CompressionType_ZSTD:
		return "ZSTD"
	case CompressionType_SNAPPY:
		return "SNAPPY"
	default:
		return "UNKNOWN"
	}
}

// Envelope precedes every entry payload on the wire. PartitionKey is
// the bytes used for sticky-key routing; it is always present
// uncompressed and un-encrypted so a peek never needs to touch the
// (possibly compressed) payload that follows it.
type Envelope struct {
	PartitionKey     []byte            `protobuf:"bytes,1,opt,name=partition_key,json=partitionKey,proto3" json:"partition_key,omitempty"`
	Topic            string            `protobuf:"bytes,2,opt,name=topic,proto3" json:"topic,omitempty"`
	SequenceId       uint64            `protobuf:"varint,3,opt,name=sequence_id,json=sequenceId,proto3" json:"sequence_id,omitempty"`
	Compression      CompressionType   `protobuf:"varint,4,opt,name=compression,proto3,enum=wire.CompressionType" json:"compression,omitempty"`
	UncompressedSize uint32            `protobuf:"varint,5,opt,name=uncompressed_size,json=uncompressedSize,proto3" json:"uncompressed_size,omitempty"`
	Properties       map[string]string `protobuf:"bytes,6,rep,name=properties,proto3" json:"properties,omitempty" protobuf_key:"bytes,1,opt,name=key,proto3" protobuf_val:"bytes,2,opt,name=value,proto3"`
}

func (m *Envelope) Reset()         { *m = Envelope{} }
func (m *Envelope) String() string { return proto.CompactTextString(m) }
func (*Envelope) ProtoMessage()    {}

// Marshal encodes the envelope.
func Marshal(e *Envelope) ([]byte, error) {
	return proto.Marshal(e)
}

// Unmarshal decodes an envelope from b into a fresh Envelope.
func Unmarshal(b []byte) (*Envelope, error) {
	e := new(Envelope)
	if err := proto.Unmarshal(b, e); err != nil {
		return nil, err
	}
	return e, nil
}
