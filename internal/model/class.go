package model

import "math"

// Class is a discrete salinity class under the Venice System.
type Class string

const (
	ClassFreshwater  Class = "Freshwater"
	ClassOligohaline Class = "Oligohaline"
	ClassMesohaline  Class = "Mesohaline"
	ClassPolyhaline  Class = "Polyhaline"
	ClassEuhaline    Class = "Euhaline"
)

// Classes lists every salinity class in increasing-salinity order.
var Classes = []Class{
	ClassFreshwater, ClassOligohaline, ClassMesohaline, ClassPolyhaline, ClassEuhaline,
}

// Venice System boundaries (practical salinity units).
const (
	oligohalineFloorPSU = 0.5
	mesohalineFloorPSU  = 5.0
	polyhalineFloorPSU  = 18.0
	euhalineFloorPSU    = 30.0
)

// ClassifySalinity maps an observed or modeled mean salinity to its Venice
// System class. Returns ok=false for missing (NaN) input.
func ClassifySalinity(psu float64) (Class, bool) {
	if math.IsNaN(psu) {
		return "", false
	}
	switch {
	case psu < oligohalineFloorPSU:
		return ClassFreshwater, true
	case psu < mesohalineFloorPSU:
		return ClassOligohaline, true
	case psu < polyhalineFloorPSU:
		return ClassMesohaline, true
	case psu < euhalineFloorPSU:
		return ClassPolyhaline, true
	default:
		return ClassEuhaline, true
	}
}

// IsEstuarine reports whether c indicates tidal/salinity influence. The
// brackish classes are the positive "tidal-influenced" signal; Euhaline is
// open marine water, not an estuarine reach.
func (c Class) IsEstuarine() bool {
	switch c {
	case ClassOligohaline, ClassMesohaline, ClassPolyhaline:
		return true
	}
	return false
}

// ConfidenceLevel is the ordered bucket a prediction probability falls into.
type ConfidenceLevel string

const (
	ConfidenceHigh    ConfidenceLevel = "HIGH"
	ConfidenceMedium  ConfidenceLevel = "MEDIUM"
	ConfidenceLow     ConfidenceLevel = "LOW"
	ConfidenceVeryLow ConfidenceLevel = "VERY-LOW"
)

// ConfidenceThresholds holds the probability floors for the HIGH, MEDIUM and
// LOW buckets. Anything at or below the LOW floor is VERY-LOW.
type ConfidenceThresholds struct {
	High   float64 `yaml:"high" mapstructure:"high"`
	Medium float64 `yaml:"medium" mapstructure:"medium"`
	Low    float64 `yaml:"low" mapstructure:"low"`
}

// Bucket maps a class-probability margin to a confidence level.
func (t ConfidenceThresholds) Bucket(prob float64) ConfidenceLevel {
	switch {
	case prob > t.High:
		return ConfidenceHigh
	case prob > t.Medium:
		return ConfidenceMedium
	case prob > t.Low:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}
