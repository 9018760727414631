// Package vector holds the embedding BLOB codec and cosine math.
package vector

import (
	"encoding/binary"
	"fmt"
	"math"

	"gwi.com/chatvec/internal/errortypes"
)

// Encode packs v as little-endian IEEE-754 float32 values without a length
// prefix. The result is exactly 4*len(v) bytes.
func Encode(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// Decode is the inverse of Encode. The length is derived from the BLOB size,
// which must be a multiple of 4.
func Decode(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errortypes.FormatError(
			fmt.Errorf("blob length %d is not a multiple of 4", len(b)),
			"invalid embedding blob",
		)
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
