// ABOUTME: Tests for sample record flags and bit layout
// ABOUTME: Verifies classification, derived flags, and press-bit patching
package sample

import (
	"testing"
)

func TestButtons_LayoutBits(t *testing.T) {
	cases := map[Buttons]uint16{
		Tip:                   0x01,
		ExpectsForceUpdate:    0x02,
		ExpectsAzimuthUpdate:  0x04,
		ExpectsAltitudeUpdate: 0x08,
		ExpectsLocationUpdate: 0x10,
		EstimationUpdate:      0x20,
		Predicted:             0x40,
		BarrelTap:             0x80,
	}
	for bit, want := range cases {
		if uint16(bit) != want {
			t.Errorf("bit %#x: expected %#x", uint16(bit), want)
		}
	}
	if ExpectsMask != 0x1e {
		t.Errorf("expected expects mask 0x1e, got %#x", uint16(ExpectsMask))
	}
}

func TestSample_Kind(t *testing.T) {
	tests := []struct {
		name    string
		buttons Buttons
		want    Kind
	}{
		{"confirmed", Tip, KindConfirmed},
		{"confirmed with expects", ExpectsForceUpdate | ExpectsLocationUpdate, KindConfirmed},
		{"estimation", EstimationUpdate, KindEstimationUpdate},
		{"predicted", Predicted | Tip, KindPredicted},
		{"both bits", EstimationUpdate | Predicted, KindEstimationUpdate},
		{"barrel tap", BarrelTap, KindBarrelTap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Sample{Buttons: tt.buttons}
			if got := s.Kind(); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			trusted := tt.want == KindConfirmed || tt.want == KindBarrelTap
			if s.IsConfirmed() != trusted {
				t.Errorf("IsConfirmed mismatch for %s", tt.want)
			}
		})
	}
}

func TestSample_WithPressed(t *testing.T) {
	s := Sample{
		Position:              Vec2{X: 1.5, Y: -2},
		Pressure:              0.75,
		Tilt:                  Vec2{X: 0.1, Y: -0.2},
		Buttons:               Predicted | ExpectsAzimuthUpdate,
		EstimationUpdateIndex: 42,
	}

	pressed := s.WithPressed(true)
	if !pressed.IsPressed() {
		t.Fatal("expected pressed")
	}
	if pressed.Buttons != s.Buttons|Tip {
		t.Errorf("only tip bit should change, got %#x", uint16(pressed.Buttons))
	}
	if pressed.Position != s.Position || pressed.Pressure != s.Pressure || pressed.Tilt != s.Tilt ||
		pressed.EstimationUpdateIndex != s.EstimationUpdateIndex {
		t.Errorf("non-press fields changed: %+v", pressed)
	}

	released := pressed.WithPressed(false)
	if released != s {
		t.Errorf("expected round trip to original, got %+v", released)
	}
}

func TestSample_ExpectingUpdates(t *testing.T) {
	s := Sample{Buttons: ExpectingMask(Force, Location)}

	got := s.ExpectingUpdates()
	if len(got) != 2 || got[0] != Force || got[1] != Location {
		t.Fatalf("expected [force location], got %v", got)
	}
	if !s.ExpectsUpdate() {
		t.Error("expected ExpectsUpdate")
	}
	if s.ExpectsUpdateFor(Azimuth) {
		t.Error("azimuth should not be expected")
	}
	if Property(9).Bit() != 0 {
		t.Error("unknown property should map to no bit")
	}
}
