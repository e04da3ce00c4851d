package utils

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// CompressionAlgorithm defines supported compression methods
type CompressionAlgorithm string

const (
	CompressionNone   CompressionAlgorithm = "none"
	CompressionBrotli CompressionAlgorithm = "br"
	// CompressionGzip is read-only: older journal entries may carry it,
	// but nothing writes it any more.
	CompressionGzip CompressionAlgorithm = "gzip"
)

// compressionThreshold is the size below which payloads are stored as-is.
const compressionThreshold = 1024

// CompressData compresses data using the specified algorithm
func CompressData(data []byte, algorithm CompressionAlgorithm) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	switch algorithm {
	case CompressionNone:
		return data, nil

	case CompressionBrotli:
		var buf bytes.Buffer
		writer := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("failed to write to brotli writer: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("failed to close brotli writer: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}

// DecompressData decompresses data using the specified algorithm
func DecompressData(compressed []byte, algorithm CompressionAlgorithm) ([]byte, error) {
	if len(compressed) == 0 {
		return compressed, nil
	}

	switch algorithm {
	case CompressionNone:
		return compressed, nil

	case CompressionGzip:
		reader, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer reader.Close()

		data, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read from gzip reader: %w", err)
		}
		return data, nil

	case CompressionBrotli:
		data, err := io.ReadAll(brotli.NewReader(bytes.NewReader(compressed)))
		if err != nil {
			return nil, fmt.Errorf("failed to read from brotli reader: %w", err)
		}
		return data, nil

	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}

// GetBestCompression chooses the compression method based on payload size.
// Small payloads are not worth the framing overhead.
func GetBestCompression(data []byte) CompressionAlgorithm {
	if len(data) < compressionThreshold {
		return CompressionNone
	}
	return CompressionBrotli
}

// Pack compresses data with the best algorithm and prefixes the algorithm
// name so Unpack can reverse it without out-of-band metadata.
func Pack(data []byte) ([]byte, error) {
	algorithm := GetBestCompression(data)
	compressed, err := CompressData(data, algorithm)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(algorithm)+1+len(compressed))
	out = append(out, algorithm...)
	out = append(out, ':')
	return append(out, compressed...), nil
}

// Unpack reverses Pack. Legacy gzip entries are also accepted.
func Unpack(packed []byte) ([]byte, error) {
	i := bytes.IndexByte(packed, ':')
	if i <= 0 {
		return nil, fmt.Errorf("packed payload has no algorithm prefix")
	}
	return DecompressData(packed[i+1:], CompressionAlgorithm(packed[:i]))
}
