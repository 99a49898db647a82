package utils

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdInitErr error
)

func initZstd() {
	zstdOnce.Do(func() {
		zstdEncoder, zstdInitErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdInitErr != nil {
			return
		}
		zstdDecoder, zstdInitErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
}

// ZstdCompress compresses data in one shot. Safe for concurrent use.
func ZstdCompress(data []byte) ([]byte, error) {
	initZstd()
	if zstdInitErr != nil {
		return nil, fmt.Errorf("init zstd: %w", zstdInitErr)
	}
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2+64)), nil
}

// ZstdDecompress reverses ZstdCompress.
func ZstdDecompress(data []byte) ([]byte, error) {
	initZstd()
	if zstdInitErr != nil {
		return nil, fmt.Errorf("init zstd: %w", zstdInitErr)
	}
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}
