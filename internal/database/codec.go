package database

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeEmbedding packs an embedding into a little-endian float32 blob.
// A nil or empty embedding encodes to nil so it is stored as NULL.
func EncodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeEmbedding unpacks a blob written by EncodeEmbedding.
func DecodeEmbedding(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(data))
	}
	return DecodeEmbeddingInto(nil, data), nil
}

// DecodeEmbeddingInto decodes data into dst, reusing its capacity.
// The caller must ensure len(data) is a multiple of 4.
func DecodeEmbeddingInto(dst []float32, data []byte) []float32 {
	n := len(data) / 4
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return dst
}
