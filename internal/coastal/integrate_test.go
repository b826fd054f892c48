package coastal

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/estuary-atlas/estuary-cli/internal/model"
	"github.com/estuary-atlas/estuary-cli/internal/segment"
)

func newIntegrateStore(t *testing.T) segment.Store {
	t.Helper()
	store, err := segment.NewSQLite(filepath.Join(t.TempDir(), "coastal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func seedCoastalSegment(t *testing.T, store segment.Store) {
	t.Helper()
	ctx := context.Background()

	line := geom.NewLineStringFlat(geom.XY, []float64{10, 44.99, 10, 45, 10, 45.01})
	line.SetSRID(4326)
	_, err := store.InsertSegments(ctx, []model.Segment{{
		ID: "seg-1", Region: model.RegionEurope, Geometry: line,
		Topology:       model.Topology{LengthM: 1000, DistToOceanKM: 3},
		GroundTruthPSU: math.NaN(),
	}})
	require.NoError(t, err)

	schema := model.NewFeatureSchema([]string{"dist_to_ocean_km"})
	rows := []model.FeatureRow{{
		SegmentID: "seg-1", Region: model.RegionEurope,
		Values: []float64{3}, LabelPSU: math.NaN(),
	}}
	require.NoError(t, store.ReplaceFeatureRows(ctx, model.RegionEurope, schema, rows))
}

func TestIntegrateRegions_ShrunkenRadiusRerunNullsCoastalColumns(t *testing.T) {
	store := newIntegrateStore(t)
	ctx := context.Background()
	regions := []model.Region{model.RegionEurope}

	seedCoastalSegment(t, store)

	// One transect roughly 7.4 km north of the segment midpoint.
	_, err := store.InsertTransects(ctx, []model.Transect{{
		ID: "T1", Lon: 10, Lat: 45.0665,
		TidalRangeM: 2.5, WaveHeightP50: 1.1, WaveHeightP95: 2.8,
		NearshoreSlope: 0.02,
		FracTrees:      0.4, FracCrop: 0.1, FracBuilt: 0.05,
		FracWetland: 0.2, FracMangrove: 0.0,
	}})
	require.NoError(t, err)

	require.NoError(t, IntegrateRegions(ctx, store, regions, Options{MaxAssociationKM: 10}))

	schema, rows, err := store.FeatureRows(ctx, regions)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	tidalIdx := schema.Index(ColTidalRangeM)
	require.GreaterOrEqual(t, tidalIdx, 0)
	v, ok := rows[0].Value(tidalIdx)
	require.True(t, ok)
	assert.Equal(t, 2.5, v)

	// Rerun with the radius tightened below the transect distance. The
	// segment is beyond the radius now, so every coastal column must come
	// back null instead of keeping the wider run's attribution.
	require.NoError(t, IntegrateRegions(ctx, store, regions, Options{MaxAssociationKM: 5}))

	schema, rows, err = store.FeatureRows(ctx, regions)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	for _, col := range Columns() {
		idx := schema.Index(col)
		require.GreaterOrEqual(t, idx, 0)
		_, ok := rows[0].Value(idx)
		assert.False(t, ok, "column %s must be null beyond the radius", col)
	}
}

func TestIntegrateRegions_NoTransectsIsInsufficientData(t *testing.T) {
	store := newIntegrateStore(t)
	seedCoastalSegment(t, store)

	err := IntegrateRegions(context.Background(), store, []model.Region{model.RegionEurope}, Options{MaxAssociationKM: 5})
	var insufficient *model.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
}
