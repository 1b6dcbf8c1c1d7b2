package cache

import (
	"encoding/binary"
	"encoding/json"
	"math"
)

// EncodeJSON marshals a cache payload. JSON is used for query responses and
// feature vectors; embeddings use the compact binary codec below.
func EncodeJSON(v interface{}) ([]byte, bool) {
	b, err := json.Marshal(v)
	return b, err == nil
}

// DecodeJSON unmarshals a cache payload into out
func DecodeJSON(b []byte, out interface{}) bool {
	return json.Unmarshal(b, out) == nil
}

// EncodeVector packs a float32 vector as little-endian 4-byte words
func EncodeVector(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// DecodeVector unpacks a vector encoded by EncodeVector. Returns false on a
// malformed length so a corrupt entry reads as a miss.
func DecodeVector(b []byte) ([]float32, bool) {
	if len(b)%4 != 0 {
		return nil, false
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, true
}
