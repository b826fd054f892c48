package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/estuary-atlas/estuary-cli/internal/model"
)

func testSegment(id, downstream string, lengthM float64, sink bool) model.Segment {
	line := geom.NewLineStringFlat(geom.XY, []float64{10, 45, 10.1, 45.1, 10.2, 45.2})
	line.SetSRID(4326)
	return model.Segment{
		ID:       id,
		Region:   model.RegionEurope,
		Geometry: line,
		Topology: model.Topology{
			StrahlerOrder:   3,
			LengthM:         lengthM,
			UpstreamAreaKM2: 120,
			DownstreamID:    downstream,
			IsOceanSink:     sink,
			Sinuosity:       1.2,
		},
		GroundTruthPSU: math.NaN(),
	}
}

func TestExtract_DownstreamDistances(t *testing.T) {
	// a -> b -> c, c drains to the ocean.
	segs := []model.Segment{
		testSegment("a", "b", 4000, false),
		testSegment("b", "c", 6000, false),
		testSegment("c", "", 2000, true),
	}

	res, err := Extract(segs, Options{MaxDownstreamHops: 100})
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)
	assert.Empty(t, res.Excluded)

	// Distance is measured from the segment midpoint along the network.
	assert.InDelta(t, 6+2+2, res.DistKM["a"], 1e-9)
	assert.InDelta(t, 2+3, res.DistKM["b"], 1e-9)
	assert.InDelta(t, 1, res.DistKM["c"], 1e-9)

	distIdx := res.Schema.Index(ColDistToOceanKM)
	require.GreaterOrEqual(t, distIdx, 0)
	for _, row := range res.Rows {
		assert.InDelta(t, res.DistKM[row.SegmentID], row.Values[distIdx], 1e-9)
	}
}

func TestExtract_DerivedFeatures(t *testing.T) {
	segs := []model.Segment{testSegment("c", "", 2000, true)}
	segs[0].GroundTruthPSU = 12.0

	res, err := Extract(segs, Options{})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	row := res.Rows[0]

	get := func(col string) float64 {
		idx := res.Schema.Index(col)
		require.GreaterOrEqual(t, idx, 0, col)
		return row.Values[idx]
	}

	assert.InDelta(t, math.Log1p(1), get(ColLogDistToOcean), 1e-9)
	assert.InDelta(t, 2.0, get(ColLengthKM), 1e-9)
	assert.InDelta(t, math.Log1p(120), get(ColLogUpstreamArea), 1e-9)
	assert.InDelta(t, 1*3, get(ColDistXStrahler), 1e-9)
	assert.InDelta(t, 120.0/(2.0+1), get(ColAreaPerLength), 1e-9)
	assert.InDelta(t, 45.1, get(ColAbsLatitude), 1e-9)

	assert.True(t, row.HasLabel())
	class, ok := row.Class()
	require.True(t, ok)
	assert.Equal(t, model.ClassMesohaline, class)
}

func TestExtract_CycleExcludedNotFatal(t *testing.T) {
	segs := []model.Segment{
		testSegment("x", "y", 1000, false),
		testSegment("y", "x", 1000, false),
		testSegment("ok", "", 2000, true),
	}

	res, err := Extract(segs, Options{MaxDownstreamHops: 100})
	require.NoError(t, err, "a cycle aborts its segments, not the region")

	require.Len(t, res.Rows, 1)
	assert.Equal(t, "ok", res.Rows[0].SegmentID)
	assert.Len(t, res.Excluded, 2)
	for _, e := range res.Excluded {
		assert.Contains(t, e.Reason, "does not terminate")
	}
}

func TestExtract_ChainOffNetworkExcluded(t *testing.T) {
	segs := []model.Segment{
		testSegment("a", "ghost", 1000, false),
		testSegment("dead-end", "", 1000, false), // no downstream, not a sink
		testSegment("ok", "", 500, true),
	}

	res, err := Extract(segs, Options{})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "ok", res.Rows[0].SegmentID)
	assert.Len(t, res.Excluded, 2)
}

func TestExtract_RejectsMixedRegions(t *testing.T) {
	segs := []model.Segment{
		testSegment("a", "", 1000, true),
		testSegment("b", "", 1000, true),
	}
	segs[1].Region = model.RegionAsia

	_, err := Extract(segs, Options{})
	var integrity *model.DataIntegrityError
	require.ErrorAs(t, err, &integrity)
}

func TestExtract_RejectsDuplicateIDs(t *testing.T) {
	segs := []model.Segment{
		testSegment("a", "", 1000, true),
		testSegment("a", "", 1000, true),
	}

	_, err := Extract(segs, Options{})
	var integrity *model.DataIntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Contains(t, integrity.Reason, "duplicate")
}

func TestWiden(t *testing.T) {
	schema := model.NewFeatureSchema([]string{"a", "b"})
	rows := []model.FeatureRow{
		{SegmentID: "s1", Values: []float64{1, 2}},
	}

	out, err := Widen(schema, rows, []string{"c", "d"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, out.Schema.Columns)
	require.Len(t, out.Rows[0].Values, 4)
	assert.True(t, math.IsNaN(out.Rows[0].Values[2]), "new columns start missing")

	out.Set(&out.Rows[0], "c", 9.5)
	assert.Equal(t, 9.5, out.Rows[0].Values[2])

	// Re-widening with the same group reuses the columns.
	again, err := Widen(out.Schema, out.Rows, []string{"c", "d"})
	require.NoError(t, err)
	assert.Equal(t, out.Schema.Version, again.Schema.Version)

	// A schema holding only half the group is corrupt.
	partial := model.NewFeatureSchema([]string{"a", "b", "c"})
	_, err = Widen(partial, rows, []string{"c", "d"})
	var mismatch *model.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
}
