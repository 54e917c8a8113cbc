package wire

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("sticky-key-dispatch-payload "), 64)

	for _, ct := range []CompressionType{
		CompressionType_NONE,
		CompressionType_LZ4,
		CompressionType_ZSTD,
		CompressionType_SNAPPY,
		CompressionType_ZLIB,
	} {
		t.Run(ct.String(), func(t *testing.T) {
			compressed, err := Compress(ct, payload)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}

			decompressed, err := Decompress(ct, compressed, len(payload))
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}

			if !bytes.Equal(decompressed, payload) {
				t.Fatalf("round trip mismatch for %s: got %d bytes, want %d bytes", ct, len(decompressed), len(payload))
			}
		})
	}
}

func TestEnvelopeMarshalUnmarshal(t *testing.T) {
	e := &Envelope{
		PartitionKey:     []byte("order-42"),
		Topic:            "orders",
		SequenceId:       7,
		Compression:      CompressionType_ZSTD,
		UncompressedSize: 1024,
		Properties:       map[string]string{"trace-id": "abc"},
	}

	b, err := Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if !bytes.Equal(got.PartitionKey, e.PartitionKey) {
		t.Fatalf("PartitionKey = %q, want %q", got.PartitionKey, e.PartitionKey)
	}
	if got.Topic != e.Topic || got.SequenceId != e.SequenceId || got.Compression != e.Compression {
		t.Fatalf("decoded envelope mismatch: %+v", got)
	}
	if got.Properties["trace-id"] != "abc" {
		t.Fatalf("Properties[trace-id] = %q, want abc", got.Properties["trace-id"])
	}
}
