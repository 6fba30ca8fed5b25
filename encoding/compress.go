package encoding

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Account data cells above the configured threshold are stored compressed.
// Encoders and decoders are pooled; zstd instances are expensive to build.

var (
	encoderPool sync.Pool
	decoderPool sync.Pool
)

// Compress returns the zstd frame for data.
func Compress(data []byte) ([]byte, error) {
	if enc, ok := encoderPool.Get().(*zstd.Encoder); ok {
		out := enc.EncodeAll(data, nil)
		encoderPool.Put(enc)
		return out, nil
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	out := enc.EncodeAll(data, nil)
	encoderPool.Put(enc)
	return out, nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	if dec, ok := decoderPool.Get().(*zstd.Decoder); ok {
		out, err := dec.DecodeAll(data, nil)
		decoderPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		return out, nil
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	out, err := dec.DecodeAll(data, nil)
	decoderPool.Put(dec)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}
