// Package artifact stores fitted model state as compressed JSON blobs.
package artifact

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Shared coders. EncodeAll and DecodeAll are safe for concurrent use.
var (
	zenc *zstd.Encoder
	zdec *zstd.Decoder
)

func init() {
	var err error
	zenc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic(fmt.Sprintf("artifact: zstd encoder: %v", err))
	}
	zdec, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(256<<20))
	if err != nil {
		panic(fmt.Sprintf("artifact: zstd decoder: %v", err))
	}
}

// Encode marshals v to JSON and compresses it with zstd.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal artifact: %w", err)
	}
	return zenc.EncodeAll(data, make([]byte, 0, len(data)/4)), nil
}

// Decode reverses Encode into v.
func Decode(blob []byte, v any) error {
	data, err := zdec.DecodeAll(blob, nil)
	if err != nil {
		return fmt.Errorf("failed to decompress artifact: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal artifact: %w", err)
	}
	return nil
}
