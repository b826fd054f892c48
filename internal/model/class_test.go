package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifySalinity(t *testing.T) {
	tests := []struct {
		name string
		psu  float64
		want Class
	}{
		{"fresh", 0.1, ClassFreshwater},
		{"fresh upper edge", 0.49, ClassFreshwater},
		{"oligohaline floor", 0.5, ClassOligohaline},
		{"mesohaline floor", 5.0, ClassMesohaline},
		{"polyhaline floor", 18.0, ClassPolyhaline},
		{"euhaline floor", 30.0, ClassEuhaline},
		{"hypersaline still euhaline", 44.0, ClassEuhaline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ClassifySalinity(tt.psu)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifySalinity_Missing(t *testing.T) {
	_, ok := ClassifySalinity(math.NaN())
	assert.False(t, ok)
}

func TestIsEstuarine(t *testing.T) {
	assert.False(t, ClassFreshwater.IsEstuarine())
	assert.True(t, ClassOligohaline.IsEstuarine())
	assert.True(t, ClassMesohaline.IsEstuarine())
	assert.True(t, ClassPolyhaline.IsEstuarine())
	assert.False(t, ClassEuhaline.IsEstuarine(), "open marine water is not an estuarine reach")
}

func TestConfidenceBucket(t *testing.T) {
	thresholds := ConfidenceThresholds{High: 0.75, Medium: 0.60, Low: 0.45}

	tests := []struct {
		prob float64
		want ConfidenceLevel
	}{
		{0.90, ConfidenceHigh},
		{0.76, ConfidenceHigh},
		{0.75, ConfidenceMedium}, // floors are exclusive
		{0.61, ConfidenceMedium},
		{0.60, ConfidenceLow},
		{0.46, ConfidenceLow},
		{0.45, ConfidenceVeryLow},
		{0.10, ConfidenceVeryLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, thresholds.Bucket(tt.prob), "prob %.2f", tt.prob)
	}
}
