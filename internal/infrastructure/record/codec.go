// ABOUTME: Fixed-size wire layout for stylus sample records
// ABOUTME: Packed little-endian fields at stable offsets with zeroed padding
package record

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/harper/pencil-bridge/internal/domain/sample"
)

// Size is the byte size of one record slot. It must stay a power of two to
// line up with the native producer's allocation.
const Size = 32

// Field offsets, packed with no implicit padding.
const (
	offPositionX  = 0
	offPositionY  = 4
	offPressure   = 8
	offTiltX      = 12
	offTiltY      = 16
	offButtons    = 20
	offEstimation = 22
	offPadding    = 26
)

// Build-time checks: fields fit in Size and Size is a power of two.
const (
	_ = uint(Size - (offEstimation + 4))
	_ = uint(0) - uint(Size&(Size-1))
)

var order = binary.LittleEndian

// Encode writes s into dst[:Size] and zeroes the reserved padding.
// Panics if dst is shorter than Size.
func Encode(dst []byte, s sample.Sample) {
	if len(dst) < Size {
		panic(fmt.Sprintf("record: encode into %d bytes, need %d", len(dst), Size))
	}

	putFloat(dst[offPositionX:], s.Position.X)
	putFloat(dst[offPositionY:], s.Position.Y)
	putFloat(dst[offPressure:], s.Pressure)
	putFloat(dst[offTiltX:], s.Tilt.X)
	putFloat(dst[offTiltY:], s.Tilt.Y)
	order.PutUint16(dst[offButtons:], uint16(s.Buttons))
	order.PutUint32(dst[offEstimation:], s.EstimationUpdateIndex)
	clear(dst[offPadding:Size])
}

// Decode reads one record from src[:Size]. Padding bytes are ignored.
// Panics if src is shorter than Size.
func Decode(src []byte) sample.Sample {
	if len(src) < Size {
		panic(fmt.Sprintf("record: decode from %d bytes, need %d", len(src), Size))
	}

	return sample.Sample{
		Position: sample.Vec2{
			X: getFloat(src[offPositionX:]),
			Y: getFloat(src[offPositionY:]),
		},
		Pressure: getFloat(src[offPressure:]),
		Tilt: sample.Vec2{
			X: getFloat(src[offTiltX:]),
			Y: getFloat(src[offTiltY:]),
		},
		Buttons:               sample.Buttons(order.Uint16(src[offButtons:])),
		EstimationUpdateIndex: order.Uint32(src[offEstimation:]),
	}
}

func putFloat(b []byte, f float32) {
	order.PutUint32(b, math.Float32bits(f))
}

func getFloat(b []byte) float32 {
	return math.Float32frombits(order.Uint32(b))
}
