// ABOUTME: Tests for the fixed-size record wire layout
// ABOUTME: Verifies byte offsets, padding handling, and short-buffer panics
package record

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/harper/pencil-bridge/internal/domain/sample"
)

func TestEncode_Offsets(t *testing.T) {
	s := sample.Sample{
		Position:              sample.Vec2{X: 1.25, Y: -3.5},
		Pressure:              0.5,
		Tilt:                  sample.Vec2{X: -1, Y: 1},
		Buttons:               sample.Tip | sample.Predicted,
		EstimationUpdateIndex: 0xdeadbeef,
	}

	buf := make([]byte, Size)
	Encode(buf, s)

	floats := map[int]float32{0: 1.25, 4: -3.5, 8: 0.5, 12: -1, 16: 1}
	for off, want := range floats {
		got := math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
		if got != want {
			t.Errorf("offset %d: expected %v, got %v", off, want, got)
		}
	}

	if b := binary.LittleEndian.Uint16(buf[20:]); b != 0x41 {
		t.Errorf("buttons: expected 0x41, got %#x", b)
	}

	if idx := binary.LittleEndian.Uint32(buf[22:]); idx != 0xdeadbeef {
		t.Errorf("estimation index: expected 0xdeadbeef, got %#x", idx)
	}

	for i := 26; i < Size; i++ {
		if buf[i] != 0x00 {
			t.Errorf("padding byte %d should be 0x00, got 0x%02x", i, buf[i])
		}
	}
}

func TestDecode_IgnoresPadding(t *testing.T) {
	s := sample.Sample{
		Position: sample.Vec2{X: 10, Y: 20},
		Pressure: 1,
		Buttons:  sample.EstimationUpdate | sample.ExpectsForceUpdate,
	}

	buf := make([]byte, Size)
	Encode(buf, s)
	for i := 26; i < Size; i++ {
		buf[i] = 0xff
	}

	if got := Decode(buf); got != s {
		t.Errorf("expected %+v, got %+v", s, got)
	}
}

func TestEncode_ClearsStalePadding(t *testing.T) {
	buf := make([]byte, Size)
	for i := range buf {
		buf[i] = 0xaa
	}

	Encode(buf, sample.Sample{})

	for i := range buf {
		if buf[i] != 0 {
			t.Fatalf("byte %d: expected 0, got 0x%02x", i, buf[i])
		}
	}
}

func TestDecode_ShortBufferPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for short buffer")
		}
	}()

	Decode(make([]byte, Size-1))
}
