// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Codec identifies the compression algorithm of the original embedded
// in a compressed image. Values are stored in manifests; changing them
// breaks image compatibility.
type Codec uint8

const (
	// CodecZstd is zstd at the default level. The default for new
	// compressed images: good ratio with fast streaming decode.
	CodecZstd Codec = 1

	// CodecLZ4 is the LZ4 frame format. Fastest decode, weakest ratio.
	CodecLZ4 Codec = 2

	// CodecXZ is the xz container (LZMA2). Best ratio, slowest decode;
	// meant for rarely updated modules on small partitions.
	CodecXZ Codec = 3
)

// String returns the name used in entry suffixes and on the command
// line.
func (c Codec) String() string {
	switch c {
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	case CodecXZ:
		return "xz"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCodec parses a codec from its string representation.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	case "xz":
		return CodecXZ, nil
	default:
		return 0, fmt.Errorf("unknown compression codec: %q", name)
	}
}

// originalEntryName is the container entry holding the compressed
// original for codec c.
func originalEntryName(c Codec) string {
	return OriginalEntryPrefix + c.String()
}

// newDecompressor wraps source in a streaming decoder for c. The
// returned closer releases decoder resources; it does not close
// source.
func newDecompressor(c Codec, source io.Reader) (io.Reader, func(), error) {
	switch c {
	case CodecZstd:
		decoder, err := zstd.NewReader(source)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd reader: %w", err)
		}
		return decoder, decoder.Close, nil

	case CodecLZ4:
		return lz4.NewReader(source), func() {}, nil

	case CodecXZ:
		reader, err := xz.NewReader(source)
		if err != nil {
			return nil, nil, fmt.Errorf("xz reader: %w", err)
		}
		return reader, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported compression codec: %s", c)
	}
}

// newCompressor wraps destination in a streaming encoder for c. The
// caller must Close the returned writer to flush the final frame; that
// does not close destination.
func newCompressor(c Codec, destination io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecZstd:
		encoder, err := zstd.NewWriter(destination, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return encoder, nil

	case CodecLZ4:
		return lz4.NewWriter(destination), nil

	case CodecXZ:
		writer, err := xz.NewWriter(destination)
		if err != nil {
			return nil, fmt.Errorf("xz writer: %w", err)
		}
		return writer, nil

	default:
		return nil, fmt.Errorf("unsupported compression codec: %s", c)
	}
}
