package dataset

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Compression of a persisted dataset body.
type Compression string

const (
	CompressionZstd Compression = "zstd"
	CompressionNone Compression = "none"
)

// zstd encoders and decoders are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("dataset: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("dataset: zstd decoder initialization failed: " + err.Error())
	}
}

// bodyPrefix is the storage directory holding every dataset body.
const bodyPrefix = "datasets/"

// BodyPath returns the storage path of a dataset body.
func BodyPath(id string, c Compression) string {
	if c == CompressionZstd {
		return bodyPrefix + id + ".json.zst"
	}
	return bodyPrefix + id + ".json"
}

// EncodeRecords serializes records as a JSON array, compressed per c.
func EncodeRecords(records []Record, c Compression) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal records: %w", err)
	}
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/4)), nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", c)
	}
}

// DecodeRecords reverses EncodeRecords. The compression is taken from the
// body path suffix.
func DecodeRecords(path string, body []byte) ([]Record, error) {
	data := body
	if strings.HasSuffix(path, ".zst") {
		var err error
		data, err = zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
		}
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	return records, nil
}
