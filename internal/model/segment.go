// Package model holds the core domain types for the estuarine salinity
// classification pipeline: segments, regions, salinity classes, feature
// schemas, and the pipeline error taxonomy.
package model

import (
	"math"
	"time"

	"github.com/twpayne/go-geom"
)

// Region is one of the fixed macro-regions the river network is partitioned
// into. Regions are the unit of parallelism and the spatial-holdout key.
type Region string

// The seven GRIT macro-regions.
const (
	RegionAfrica       Region = "AF"
	RegionAsia         Region = "AS"
	RegionEurope       Region = "EU"
	RegionNorthAmerica Region = "NA"
	RegionSouthAmerica Region = "SA"
	RegionSiberia      Region = "SI"
	RegionSouthPacific Region = "SP"
)

// AllRegions lists every known region in canonical order.
var AllRegions = []Region{
	RegionAfrica, RegionAsia, RegionEurope, RegionNorthAmerica,
	RegionSouthAmerica, RegionSiberia, RegionSouthPacific,
}

// ValidRegion reports whether r is one of the known macro-regions.
func ValidRegion(r Region) bool {
	for _, known := range AllRegions {
		if r == known {
			return true
		}
	}
	return false
}

// EstuaryType is the categorical estuary typology code attached to segments
// that fall inside a typed estuary catchment (Dürr 2011 coding).
type EstuaryType int

const (
	EstuaryNone         EstuaryType = 0
	EstuaryDelta        EstuaryType = 1
	EstuaryTidalSystem  EstuaryType = 2
	EstuaryLagoon       EstuaryType = 3
	EstuaryFjord        EstuaryType = 4
	EstuaryCoastalPlain EstuaryType = 5
)

// Topology holds the network- and geometry-derived attributes of a segment.
// These are computed once at ingestion and immutable afterwards.
type Topology struct {
	StrahlerOrder   int         `json:"strahler_order"`
	LengthM         float64     `json:"length_m"`
	UpstreamAreaKM2 float64     `json:"upstream_area_km2"`
	DownstreamID    string      `json:"downstream_id"` // empty at the ocean sink
	ElevationM      float64     `json:"elevation_m"`
	Slope           float64     `json:"slope"`
	Sinuosity       float64     `json:"sinuosity"`
	IsMainstem      bool        `json:"is_mainstem"`
	IsOceanSink     bool        `json:"is_ocean_sink"`
	DistToOceanKM   float64     `json:"dist_to_ocean_km"` // NaN until the extractor walks the network
	EstuaryType     EstuaryType `json:"estuary_type"`
	InTypedEstuary  bool        `json:"in_typed_estuary"`
}

// PhysicsFeatures carries sanitized physical-model values sampled at the
// segment midpoint. NaN means missing (sentinel or implausible at source).
type PhysicsFeatures struct {
	DischargeM3S float64 `json:"discharge_m3s"`
	SalinityPSU  float64 `json:"salinity_psu"`
	TemperatureC float64 `json:"temperature_c"`
}

// CoastalFeatures carries attributes resolved from the nearest coastal
// transect. Nil on a segment means no transect within the association radius.
type CoastalFeatures struct {
	TransectID     string  `json:"transect_id"`
	DistanceKM     float64 `json:"distance_km"`
	TidalRangeM    float64 `json:"tidal_range_m"`
	WaveHeightP50  float64 `json:"wave_height_p50"`
	WaveHeightP95  float64 `json:"wave_height_p95"`
	NearshoreSlope float64 `json:"nearshore_slope"`
	FracTrees      float64 `json:"frac_trees"`
	FracCrop       float64 `json:"frac_crop"`
	FracBuilt      float64 `json:"frac_built"`
	FracWetland    float64 `json:"frac_wetland"`
	FracMangrove   float64 `json:"frac_mangrove"`
}

// Prediction is the pair of columns the Prediction Engine writes. The two
// fields are always written together: both set or both absent.
type Prediction struct {
	Label       Class           `json:"label"`
	Confidence  ConfidenceLevel `json:"confidence"`
	Probability float64         `json:"probability"`
}

// Segment is one reach of the river network, the atomic classification unit.
type Segment struct {
	ID       string           `json:"id"`
	Region   Region           `json:"region"`
	Geometry *geom.LineString `json:"-"`
	Topology Topology         `json:"topology"`

	// GroundTruthPSU is the observed mean salinity where a field measurement
	// exists; NaN otherwise. Never overwritten by predictions.
	GroundTruthPSU float64 `json:"ground_truth_psu"`

	Physics *PhysicsFeatures `json:"physics,omitempty"`
	Coastal *CoastalFeatures `json:"coastal,omitempty"`

	Prediction *Prediction `json:"prediction,omitempty"`

	IngestedAt time.Time `json:"ingested_at"`
}

// Midpoint returns the representative sampling location for the segment:
// the vertex nearest the middle of the line.
func (s *Segment) Midpoint() (lon, lat float64) {
	if s.Geometry == nil || s.Geometry.NumCoords() == 0 {
		return 0, 0
	}
	c := s.Geometry.Coord(s.Geometry.NumCoords() / 2)
	return c[0], c[1]
}

// HasGroundTruth reports whether a field salinity observation is attached.
func (s *Segment) HasGroundTruth() bool {
	return !math.IsNaN(s.GroundTruthPSU)
}

// Transect is one point of the dense coastal transect dataset.
type Transect struct {
	ID  string  `json:"id"`
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`

	TidalRangeM    float64 `json:"tidal_range_m"`
	WaveHeightP50  float64 `json:"wave_height_p50"`
	WaveHeightP95  float64 `json:"wave_height_p95"`
	NearshoreSlope float64 `json:"nearshore_slope"`
	FracTrees      float64 `json:"frac_trees"`
	FracCrop       float64 `json:"frac_crop"`
	FracBuilt      float64 `json:"frac_built"`
	FracWetland    float64 `json:"frac_wetland"`
	FracMangrove   float64 `json:"frac_mangrove"`
}
