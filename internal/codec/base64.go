// Package codec implements the binary-safe text encoding carried in
// websocket text frames. Payloads are standard base64; decoding is bounded
// by a fixed capacity and truncates anything beyond it.
package codec

import (
	"bytes"
	"encoding/base64"
)

// DefaultCapacity is the largest decoded payload kept per frame.
const DefaultCapacity = 65536

// Encode returns the padded standard base64 form of src.
func Encode(src []byte) string {
	return base64.StdEncoding.EncodeToString(src)
}

// Decoder decodes inbound payloads into at most Capacity bytes.
type Decoder struct {
	Capacity int
}

func NewDecoder(capacity int) Decoder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return Decoder{Capacity: capacity}
}

// Decode accepts padded or unpadded standard base64. Only as much input as
// is needed to fill Capacity is read; the result never exceeds Capacity.
// Malformed input ends decoding and whatever was decoded before it is
// returned.
func (d Decoder) Decode(src []byte) []byte {
	capacity := d.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	src = bytes.TrimRight(src, "=")
	if max := (capacity + 2) / 3 * 4; len(src) > max {
		src = src[:max]
	}

	dst := make([]byte, base64.RawStdEncoding.DecodedLen(len(src)))
	n, _ := base64.RawStdEncoding.Decode(dst, src)
	if n > capacity {
		n = capacity
	}
	return dst[:n]
}
