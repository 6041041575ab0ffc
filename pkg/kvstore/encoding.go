package kvstore

import (
	"encoding/binary"
	"math"
)

// encodeFloat32LE serializes vec as a little-endian float32 byte stream
// (length 4*D), a compact fixed-width encoding that decodes without a
// length prefix or delimiter.
func encodeFloat32LE(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeFloat32LE is the exported inverse of encodeFloat32LE, used by
// pkg/vectorindex and pkg/semantic to read back EmbeddingRecord.embedding.
func DecodeFloat32LE(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

// EncodeFloat32LE is the exported form of encodeFloat32LE.
func EncodeFloat32LE(vec []float32) []byte { return encodeFloat32LE(vec) }
