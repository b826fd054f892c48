package segment

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/estuary-atlas/estuary-cli/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func storeSegment(id string, region model.Region, labelPSU float64) model.Segment {
	line := geom.NewLineStringFlat(geom.XY, []float64{-70, -33, -70.1, -33.1})
	line.SetSRID(4326)
	return model.Segment{
		ID:       id,
		Region:   region,
		Geometry: line,
		Topology: model.Topology{
			StrahlerOrder: 2,
			LengthM:       1500,
			DistToOceanKM: math.NaN(),
		},
		GroundTruthPSU: labelPSU,
	}
}

func TestSQLite_SegmentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.InsertSegments(ctx, []model.Segment{
		storeSegment("s1", model.RegionSouthAmerica, 7.5),
		storeSegment("s2", model.RegionSouthAmerica, math.NaN()),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	segs, err := store.SegmentsByRegion(ctx, model.RegionSouthAmerica)
	require.NoError(t, err)
	require.Len(t, segs, 2)

	assert.Equal(t, "s1", segs[0].ID)
	assert.Equal(t, 7.5, segs[0].GroundTruthPSU)
	assert.True(t, segs[0].HasGroundTruth())
	assert.False(t, segs[1].HasGroundTruth())
	assert.True(t, math.IsNaN(segs[0].Topology.DistToOceanKM), "distance starts unset")
	assert.Nil(t, segs[0].Prediction)
	require.NotNil(t, segs[0].Geometry)
	assert.Equal(t, 2, segs[0].Geometry.NumCoords())
}

func TestSQLite_DuplicateBatchRejected(t *testing.T) {
	store := newTestStore(t)

	_, err := store.InsertSegments(context.Background(), []model.Segment{
		storeSegment("dup", model.RegionAfrica, math.NaN()),
		storeSegment("dup", model.RegionAfrica, math.NaN()),
	})
	var integrity *model.DataIntegrityError
	require.ErrorAs(t, err, &integrity)
}

func TestSQLite_SetDistances(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.InsertSegments(ctx, []model.Segment{
		storeSegment("s1", model.RegionEurope, math.NaN()),
	})
	require.NoError(t, err)

	require.NoError(t, store.SetDistances(ctx, model.RegionEurope, map[string]float64{"s1": 42.5}))

	segs, err := store.SegmentsByRegion(ctx, model.RegionEurope)
	require.NoError(t, err)
	assert.Equal(t, 42.5, segs[0].Topology.DistToOceanKM)
}

func TestSQLite_FeatureRowsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.InsertSegments(ctx, []model.Segment{
		storeSegment("s1", model.RegionAsia, 3.0),
	})
	require.NoError(t, err)

	schema := model.NewFeatureSchema([]string{"dist_to_ocean_km", "strahler_order"})
	rows := []model.FeatureRow{
		{SegmentID: "s1", Region: model.RegionAsia, Values: []float64{12.5, math.NaN()}, LabelPSU: 3.0},
	}
	require.NoError(t, store.ReplaceFeatureRows(ctx, model.RegionAsia, schema, rows))

	gotSchema, gotRows, err := store.FeatureRows(ctx, []model.Region{model.RegionAsia})
	require.NoError(t, err)
	assert.Equal(t, schema.Version, gotSchema.Version)
	assert.Equal(t, schema.Columns, gotSchema.Columns)
	require.Len(t, gotRows, 1)
	assert.Equal(t, 12.5, gotRows[0].Values[0])
	assert.True(t, math.IsNaN(gotRows[0].Values[1]))
	assert.Equal(t, 3.0, gotRows[0].LabelPSU)
}

func TestSQLite_FeatureRowsRebuiltInFull(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.InsertSegments(ctx, []model.Segment{
		storeSegment("s1", model.RegionAsia, math.NaN()),
		storeSegment("s2", model.RegionAsia, math.NaN()),
	})
	require.NoError(t, err)

	schema := model.NewFeatureSchema([]string{"a"})
	require.NoError(t, store.ReplaceFeatureRows(ctx, model.RegionAsia, schema, []model.FeatureRow{
		{SegmentID: "s1", Region: model.RegionAsia, Values: []float64{1}, LabelPSU: math.NaN()},
		{SegmentID: "s2", Region: model.RegionAsia, Values: []float64{2}, LabelPSU: math.NaN()},
	}))

	// A rebuild with fewer rows must not leave stale rows behind.
	wider := model.NewFeatureSchema([]string{"a", "b"})
	require.NoError(t, store.ReplaceFeatureRows(ctx, model.RegionAsia, wider, []model.FeatureRow{
		{SegmentID: "s1", Region: model.RegionAsia, Values: []float64{1, 9}, LabelPSU: math.NaN()},
	}))

	gotSchema, gotRows, err := store.FeatureRows(ctx, []model.Region{model.RegionAsia})
	require.NoError(t, err)
	assert.Equal(t, wider.Version, gotSchema.Version)
	assert.Len(t, gotRows, 1)
}

func TestSQLite_MixedSchemaVersionsRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.InsertSegments(ctx, []model.Segment{
		storeSegment("s1", model.RegionAsia, math.NaN()),
		storeSegment("s2", model.RegionEurope, math.NaN()),
	})
	require.NoError(t, err)

	require.NoError(t, store.ReplaceFeatureRows(ctx, model.RegionAsia,
		model.NewFeatureSchema([]string{"a"}),
		[]model.FeatureRow{{SegmentID: "s1", Region: model.RegionAsia, Values: []float64{1}, LabelPSU: math.NaN()}}))
	require.NoError(t, store.ReplaceFeatureRows(ctx, model.RegionEurope,
		model.NewFeatureSchema([]string{"a", "b"}),
		[]model.FeatureRow{{SegmentID: "s2", Region: model.RegionEurope, Values: []float64{1, 2}, LabelPSU: math.NaN()}}))

	_, _, err = store.FeatureRows(ctx, []model.Region{model.RegionAsia, model.RegionEurope})
	var mismatch *model.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Contains(t, mismatch.Detail, "mixed")
}

func TestSQLite_ReplacePredictions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.InsertSegments(ctx, []model.Segment{
		storeSegment("s1", model.RegionAfrica, math.NaN()),
		storeSegment("s2", model.RegionAfrica, math.NaN()),
	})
	require.NoError(t, err)

	require.NoError(t, store.ReplacePredictions(ctx, model.RegionAfrica, map[string]model.Prediction{
		"s1": {Label: model.ClassMesohaline, Confidence: model.ConfidenceHigh, Probability: 0.88},
		"s2": {Label: model.ClassFreshwater, Confidence: model.ConfidenceLow, Probability: 0.5},
	}))

	segs, err := store.SegmentsByRegion(ctx, model.RegionAfrica)
	require.NoError(t, err)
	for _, seg := range segs {
		require.NotNil(t, seg.Prediction, "label and confidence land together")
	}
	assert.Equal(t, model.ClassMesohaline, segs[0].Prediction.Label)
	assert.Equal(t, model.ConfidenceHigh, segs[0].Prediction.Confidence)

	// A rerun covering fewer segments clears the ones it no longer predicts.
	require.NoError(t, store.ReplacePredictions(ctx, model.RegionAfrica, map[string]model.Prediction{
		"s1": {Label: model.ClassOligohaline, Confidence: model.ConfidenceMedium, Probability: 0.65},
	}))
	segs, err = store.SegmentsByRegion(ctx, model.RegionAfrica)
	require.NoError(t, err)
	assert.Equal(t, model.ClassOligohaline, segs[0].Prediction.Label)
	assert.Nil(t, segs[1].Prediction)
}

func TestSQLite_TransectsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.InsertTransects(ctx, []model.Transect{
		{ID: "T42", Lon: 10, Lat: 45, TidalRangeM: 2.5, FracMangrove: 0.1},
		{ID: "T100", Lon: 11, Lat: 45, TidalRangeM: math.NaN()},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ts, err := store.Transects(ctx)
	require.NoError(t, err)
	require.Len(t, ts, 2)
	assert.Equal(t, "T100", ts[0].ID) // ordered by id
	assert.True(t, math.IsNaN(ts[0].TidalRangeM))
	assert.Equal(t, 2.5, ts[1].TidalRangeM)
}

func TestSQLite_RegionStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.InsertSegments(ctx, []model.Segment{
		storeSegment("s1", model.RegionEurope, 2.0),
		storeSegment("s2", model.RegionEurope, math.NaN()),
		storeSegment("s3", model.RegionAfrica, math.NaN()),
	})
	require.NoError(t, err)

	require.NoError(t, store.ReplacePredictions(ctx, model.RegionEurope, map[string]model.Prediction{
		"s1": {Label: model.ClassFreshwater, Confidence: model.ConfidenceHigh, Probability: 0.9},
	}))

	stats, err := store.RegionStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, model.RegionAfrica, stats[0].Region)
	assert.Equal(t, 1, stats[0].Segments)

	assert.Equal(t, model.RegionEurope, stats[1].Region)
	assert.Equal(t, 2, stats[1].Segments)
	assert.Equal(t, 1, stats[1].Labeled)
	assert.Equal(t, 1, stats[1].Predicted)
}
