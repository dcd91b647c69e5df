package wire

import (
	"encoding/gob"
	"fmt"
)

// countingWriter discards bytes while tracking how many were written.
type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

// SizeInBits reports the gob-serialized size of v in bits (byte count × 8).
// The measurement runs through the same encoding that carries v over the
// transfer boundary, entirely in memory, so reduced-precision payloads
// report proportionally smaller sizes.
func SizeInBits(v interface{}) (int64, error) {
	var cw countingWriter
	if err := gob.NewEncoder(&cw).Encode(v); err != nil {
		return 0, fmt.Errorf("wire: measuring size: %w", err)
	}
	return cw.n * 8, nil
}
