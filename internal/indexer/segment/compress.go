package segment

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Compression selects how the document table and dictionary blocks are
// stored.
type Compression uint32

const (
	CompressionNone Compression = 0
	CompressionZSTD Compression = 1
)

// ParseCompression maps a config value to a Compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "zstd":
		return CompressionZSTD, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("unknown segment compression %q", name)
	}
}

func (c Compression) String() string {
	if c == CompressionZSTD {
		return "zstd"
	}
	return "none"
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func compressBlock(data []byte, c Compression) []byte {
	if c != CompressionZSTD {
		return data
	}
	enc := getZstdEncoder()
	defer zstdEncoderPool.Put(enc)
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2))
}

func decompressBlock(data []byte, c Compression) ([]byte, error) {
	if c != CompressionZSTD {
		return data, nil
	}
	dec := getZstdDecoder()
	defer zstdDecoderPool.Put(dec)
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing block: %w", err)
	}
	return out, nil
}
