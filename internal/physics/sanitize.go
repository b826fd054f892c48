// Package physics attaches physical-model features (discharge, salinity,
// temperature) to feature rows, sampling gridded model output at each
// segment's midpoint.
package physics

import "math"

// Raw is an unsanitized sample straight off the grid.
type Raw struct {
	DischargeM3S float64
	SalinityPSU  float64
	TemperatureC float64
}

// Policy holds the sentinel and plausibility ceilings applied to raw samples.
type Policy struct {
	FillValue       float64
	MaxSalinityPSU  float64
	MaxDischargeM3S float64
	MinTempC        float64
	MaxTempC        float64
}

// Sanitize maps implausible or sentinel values to NaN. A value above its
// ceiling means "no data", never "at the ceiling": clipping would conflate
// hypersaline cells with fill values. Sanitize is idempotent; applying it to
// its own output changes nothing.
func (p Policy) Sanitize(raw Raw) Raw {
	out := raw
	if p.missing(out.DischargeM3S) || out.DischargeM3S < 0 || out.DischargeM3S > p.MaxDischargeM3S {
		out.DischargeM3S = math.NaN()
	}
	if p.missing(out.SalinityPSU) || out.SalinityPSU < 0 || out.SalinityPSU > p.MaxSalinityPSU {
		out.SalinityPSU = math.NaN()
	}
	if p.missing(out.TemperatureC) || out.TemperatureC < p.MinTempC || out.TemperatureC > p.MaxTempC {
		out.TemperatureC = math.NaN()
	}
	return out
}

func (p Policy) missing(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return true
	}
	// Fill sentinels come back off float32 grids with rounding noise.
	return p.FillValue != 0 && math.Abs(v) >= math.Abs(p.FillValue)*0.999
}
