// Package wire implements the two frame packet formats shared by the
// producer and the sink: a raw image/depth packet and a timestamped
// landmark packet. Both are length-prefixed little-endian records carried
// on a persistent TCP stream.
package wire

import (
	"errors"
	"fmt"
)

// Wire format errors.
var (
	// ErrDimensionMismatch is returned when the depth and RGB planes of a
	// raw packet do not describe the same width and height.
	ErrDimensionMismatch = errors.New("depth and rgb dimensions do not match")

	// ErrPacketTooLarge is returned when a length prefix exceeds MaxPacketSize.
	ErrPacketTooLarge = errors.New("packet exceeds maximum size")
)

// MaxPacketSize bounds the body size a decoder will allocate from a length
// prefix. A 4K raw frame is about 41 MiB; anything larger means the stream
// is corrupt or desynchronized.
const MaxPacketSize = 64 << 20

// Variant selects one of the two packet formats. Exactly one variant is
// carried per session; the producer and the sink agree on it out of band
// through configuration, never by negotiation on the wire.
type Variant string

const (
	// VariantRaw streams width/height plus full depth and RGB planes.
	VariantRaw Variant = "raw"

	// VariantLandmarks streams a timestamped textual landmark payload.
	VariantLandmarks Variant = "landmarks"
)

// ParseVariant maps a configuration string to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case VariantRaw, VariantLandmarks:
		return Variant(s), nil
	}
	return "", fmt.Errorf("unknown wire variant %q", s)
}
