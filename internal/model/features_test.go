package model

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureSchema_VersionTracksColumns(t *testing.T) {
	a := NewFeatureSchema([]string{"dist_to_ocean_km", "strahler_order"})
	b := NewFeatureSchema([]string{"dist_to_ocean_km", "strahler_order"})
	c := NewFeatureSchema([]string{"strahler_order", "dist_to_ocean_km"})

	assert.Equal(t, a.Version, b.Version)
	assert.NotEqual(t, a.Version, c.Version, "order is part of schema identity")
}

func TestFeatureSchema_Validate(t *testing.T) {
	base := NewFeatureSchema([]string{"a", "b", "c"})

	require.NoError(t, base.Validate(NewFeatureSchema([]string{"a", "b", "c"})))

	var mismatch *SchemaMismatchError

	err := base.Validate(NewFeatureSchema([]string{"a", "b"}))
	require.ErrorAs(t, err, &mismatch)
	assert.Contains(t, mismatch.Detail, "count")

	err = base.Validate(NewFeatureSchema([]string{"a", "c", "b"}))
	require.ErrorAs(t, err, &mismatch)
	assert.Contains(t, mismatch.Detail, "position")
}

func TestFeatureRow_MissingRoundTrip(t *testing.T) {
	row := FeatureRow{
		SegmentID: "seg-1",
		Region:    RegionEurope,
		Values:    []float64{1.5, math.NaN(), 3.0},
		LabelPSU:  math.NaN(),
	}

	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Contains(t, string(data), "null", "missing values persist as null, not a sentinel")

	var back FeatureRow
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 1.5, back.Values[0])
	assert.True(t, math.IsNaN(back.Values[1]))
	assert.Equal(t, 3.0, back.Values[2])
	assert.False(t, back.HasLabel())
}
