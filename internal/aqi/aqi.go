// Package aqi discretizes continuous PM10 estimates into the six ordinal
// classes of the air-quality index product.
package aqi

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Undefined is the class assigned to NaN input and to values at or below the
// lowest boundary.
const Undefined = -9999

// NumClasses is the number of ordinal classes.
const NumClasses = 6

// DefaultBounds are the PM10 boundaries (µg/m³) of the index classes. Class
// i (1..5) covers (Bounds[i-1], Bounds[i]]; class 6 is everything above
// Bounds[5].
var DefaultBounds = []float64{0.1, 54, 154, 254, 354, 424}

// Scale is a monotonic partition of the PM10 domain.
type Scale struct {
	bounds []float64
}

// NewScale validates bounds and returns a Scale. Exactly NumClasses strictly
// increasing, finite boundaries are required.
func NewScale(bounds []float64) (Scale, error) {
	if len(bounds) != NumClasses {
		return Scale{}, fmt.Errorf("aqi: need %d bounds, got %d", NumClasses, len(bounds))
	}
	for i, b := range bounds {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return Scale{}, fmt.Errorf("aqi: bound %d is not finite", i)
		}
		if i > 0 && b <= bounds[i-1] {
			return Scale{}, fmt.Errorf("aqi: bounds must be strictly increasing (%v <= %v)", b, bounds[i-1])
		}
	}
	return Scale{bounds: append([]float64(nil), bounds...)}, nil
}

// DefaultScale returns the scale built from DefaultBounds.
func DefaultScale() Scale {
	s, _ := NewScale(DefaultBounds)
	return s
}

// Bounds returns a copy of the boundaries.
func (s Scale) Bounds() []float64 {
	return append([]float64(nil), s.bounds...)
}

// Classify maps x to its class in 1..6, or Undefined.
func (s Scale) Classify(x float64) int {
	if math.IsNaN(x) || x <= s.bounds[0] {
		return Undefined
	}
	for i := 1; i < NumClasses; i++ {
		if x <= s.bounds[i] {
			return i
		}
	}
	return NumClasses
}

// Expression renders the scale as a numpy expression over variable v, as
// accepted by gdal_calc.py --calc.
func (s Scale) Expression(v string) string {
	expr := strconv.Itoa(NumClasses)
	for i := NumClasses - 1; i >= 1; i-- {
		expr = fmt.Sprintf("where(%s<=%s,%d,%s)", v, fmtBound(s.bounds[i]), i, expr)
	}
	expr = fmt.Sprintf("where(%s<=%s,%d,%s)", v, fmtBound(s.bounds[0]), Undefined, expr)
	return fmt.Sprintf("where(isnan(%s),%d,%s)", v, Undefined, expr)
}

// String renders the boundaries for logs.
func (s Scale) String() string {
	parts := make([]string, len(s.bounds))
	for i, b := range s.bounds {
		parts[i] = fmtBound(b)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func fmtBound(b float64) string {
	return strconv.FormatFloat(b, 'g', -1, 64)
}
