package volume

import (
	"fmt"
	"math"
	"strings"
)

// PixelType is the nominal storage type of an image.
type PixelType int

const (
	UInt8 PixelType = iota
	Int16
	UInt16
	Int32
	Float32
	Float64
)

var pixelTypeNames = map[PixelType]string{
	UInt8:   "uint8",
	Int16:   "int16",
	UInt16:  "uint16",
	Int32:   "int32",
	Float32: "float32",
	Float64: "float64",
}

func (p PixelType) String() string {
	if s, ok := pixelTypeNames[p]; ok {
		return s
	}
	return fmt.Sprintf("PixelType(%d)", int(p))
}

// ParsePixelType accepts the names returned by String.
func ParsePixelType(s string) (PixelType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range pixelTypeNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("volume: unknown pixel type %q", s)
}

// IsInteger reports whether values of this type are whole numbers.
func (p PixelType) IsInteger() bool {
	return p != Float32 && p != Float64
}

// Range returns the representable value range.
func (p PixelType) Range() (lo, hi float64) {
	switch p {
	case UInt8:
		return 0, math.MaxUint8
	case Int16:
		return math.MinInt16, math.MaxInt16
	case UInt16:
		return 0, math.MaxUint16
	case Int32:
		return math.MinInt32, math.MaxInt32
	case Float32:
		return -math.MaxFloat32, math.MaxFloat32
	default:
		return -math.MaxFloat64, math.MaxFloat64
	}
}

// Convert maps v into the value domain of p. Integer types round half away
// from zero and saturate; Float32 rounds to single precision.
func (p PixelType) Convert(v float64) float64 {
	switch p {
	case Float64:
		return v
	case Float32:
		return float64(float32(v))
	}
	if math.IsNaN(v) {
		return 0
	}
	lo, hi := p.Range()
	v = math.Round(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
