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

package wire

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compress encodes src using the given CompressionType. It returns src
// unmodified for CompressionType_NONE.
func Compress(t CompressionType, src []byte) ([]byte, error) {
	switch t {
	case CompressionType_NONE:
		return src, nil

	case CompressionType_LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(src); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buf.Bytes(), nil

	case CompressionType_ZSTD:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd compress: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(src, nil), nil

	case CompressionType_SNAPPY:
		return snappy.Encode(nil, src), nil

	case CompressionType_ZLIB:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(src); err != nil {
			return nil, fmt.Errorf("zlib compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("zlib compress: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("unsupported compression type %v", t)
	}
}

// Decompress decodes src, previously produced by Compress with the
// same CompressionType and original uncompressed size uncompressedSize
// (used only as a size hint for the decoder's output buffer).
func Decompress(t CompressionType, src []byte, uncompressedSize int) ([]byte, error) {
	switch t {
	case CompressionType_NONE:
		return src, nil

	case CompressionType_LZ4:
		r := lz4.NewReader(bytes.NewReader(src))
		out := make([]byte, 0, uncompressedSize)
		buf := bytes.NewBuffer(out)
		if _, err := io.Copy(buf, r); err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return buf.Bytes(), nil

	case CompressionType_ZSTD:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		defer dec.Close()
		return dec.DecodeAll(src, make([]byte, 0, uncompressedSize))

	case CompressionType_SNAPPY:
		dst := make([]byte, 0, uncompressedSize)
		return snappy.Decode(dst, src)

	case CompressionType_ZLIB:
		r, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("zlib decompress: %w", err)
		}
		defer r.Close()
		out := bytes.NewBuffer(make([]byte, 0, uncompressedSize))
		if _, err := io.Copy(out, r); err != nil {
			return nil, fmt.Errorf("zlib decompress: %w", err)
		}
		return out.Bytes(), nil

	default:
		return nil, fmt.Errorf("unsupported compression type %v", t)
	}
}
