// ABOUTME: Stylus sample record and the versioned buttons bit layout
// ABOUTME: Derived flags are always recomputed from the buttons mask
package sample

// LayoutVersion identifies the buttons bit assignment shared with the native producer.
// Bump it whenever a bit below changes meaning.
const LayoutVersion = 1

type Buttons uint16

// Bit assignments, layout version 1.
const (
	Tip                   Buttons = 1 << 0
	ExpectsForceUpdate    Buttons = 1 << 1
	ExpectsAzimuthUpdate  Buttons = 1 << 2
	ExpectsAltitudeUpdate Buttons = 1 << 3
	ExpectsLocationUpdate Buttons = 1 << 4
	EstimationUpdate      Buttons = 1 << 5
	Predicted             Buttons = 1 << 6
	BarrelTap             Buttons = 1 << 7
)

const (
	expectsShift = 1
	expectsWidth = 4

	// ExpectsMask covers the four "expecting future update" bits.
	ExpectsMask Buttons = (1<<expectsWidth - 1) << expectsShift

	// untrusted covers the bits that make the tip bit unreliable. BarrelTap
	// is a label only; the producer writes those records with an authoritative
	// tip bit of zero.
	untrusted = EstimationUpdate | Predicted
)

// Build-time layout checks (a nonzero operand overflows uint and fails the
// build): the expects bits are exactly bits 1-4 and overlap no other flag.
const (
	_ = uint(0) - uint(ExpectsMask^(ExpectsForceUpdate|ExpectsAzimuthUpdate|ExpectsAltitudeUpdate|ExpectsLocationUpdate))
	_ = uint(0) - uint(ExpectsMask&(Tip|untrusted|BarrelTap))
	_ = uint(0) - uint((Tip|BarrelTap)&untrusted)
)

type Property uint8

const (
	Force Property = iota
	Azimuth
	Altitude
	Location
)

var propertyBits = [...]Buttons{
	Force:    ExpectsForceUpdate,
	Azimuth:  ExpectsAzimuthUpdate,
	Altitude: ExpectsAltitudeUpdate,
	Location: ExpectsLocationUpdate,
}

func (p Property) String() string {
	switch p {
	case Force:
		return "force"
	case Azimuth:
		return "azimuth"
	case Altitude:
		return "altitude"
	case Location:
		return "location"
	default:
		return "unknown"
	}
}

// Bit returns the expects-update bit for p, or 0 for an unknown property.
func (p Property) Bit() Buttons {
	if int(p) >= len(propertyBits) {
		return 0
	}
	return propertyBits[p]
}

// ExpectingMask builds the expects-update bits for the given properties.
func ExpectingMask(props ...Property) Buttons {
	var b Buttons
	for _, p := range props {
		b |= p.Bit()
	}
	return b
}

type Kind uint8

const (
	KindConfirmed Kind = iota
	KindEstimationUpdate
	KindPredicted
	KindBarrelTap
)

func (k Kind) String() string {
	switch k {
	case KindConfirmed:
		return "confirmed"
	case KindEstimationUpdate:
		return "estimation_update"
	case KindPredicted:
		return "predicted"
	case KindBarrelTap:
		return "barrel_tap"
	default:
		return "unknown"
	}
}

type Vec2 struct {
	X float32
	Y float32
}

// Sample is one stylus record as written by the producer.
type Sample struct {
	Position              Vec2
	Pressure              float32
	Tilt                  Vec2
	Buttons               Buttons
	EstimationUpdateIndex uint32
}

func (s Sample) IsPressed() bool          { return s.Buttons&Tip != 0 }
func (s Sample) IsEstimationUpdate() bool { return s.Buttons&EstimationUpdate != 0 }
func (s Sample) IsPredicted() bool        { return s.Buttons&Predicted != 0 }
func (s Sample) IsBarrelTap() bool        { return s.Buttons&BarrelTap != 0 }
func (s Sample) ExpectsUpdate() bool      { return s.Buttons&ExpectsMask != 0 }

// IsConfirmed reports whether the tip bit of s is authoritative.
func (s Sample) IsConfirmed() bool { return s.Buttons&untrusted == 0 }

func (s Sample) ExpectsUpdateFor(p Property) bool {
	bit := p.Bit()
	return bit != 0 && s.Buttons&bit != 0
}

func (s Sample) ExpectingUpdates() []Property {
	var out []Property
	for p := range propertyBits {
		if s.Buttons&propertyBits[p] != 0 {
			out = append(out, Property(p))
		}
	}
	return out
}

// Kind classifies s. A record carrying both the estimation and predicted bits
// classifies as an estimation update; either way its tip bit is untrusted.
// KindBarrelTap is a confirmed record that happens to carry the barrel-tap bit.
func (s Sample) Kind() Kind {
	switch {
	case s.IsEstimationUpdate():
		return KindEstimationUpdate
	case s.IsPredicted():
		return KindPredicted
	case s.IsBarrelTap():
		return KindBarrelTap
	default:
		return KindConfirmed
	}
}

// WithPressed returns a copy of s with only the tip bit changed.
func (s Sample) WithPressed(pressed bool) Sample {
	if pressed {
		s.Buttons |= Tip
	} else {
		s.Buttons &^= Tip
	}
	return s
}
