package predict

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/estuary-atlas/estuary-cli/internal/ml"
	"github.com/estuary-atlas/estuary-cli/internal/model"
	"github.com/estuary-atlas/estuary-cli/internal/segment"
)

var testThresholds = model.ConfidenceThresholds{High: 0.75, Medium: 0.60, Low: 0.45}

func newStore(t *testing.T) segment.Store {
	t.Helper()
	store, err := segment.NewSQLite(filepath.Join(t.TempDir(), "predict.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// trainedArtifact fits a small model on dist-to-ocean: near means brackish.
func trainedArtifact(t *testing.T) *ml.ModelArtifact {
	t.Helper()

	store := newStore(t)
	schema := model.NewFeatureSchema([]string{"dist_to_ocean_km"})
	line := geom.NewLineStringFlat(geom.XY, []float64{10, 45, 10.1, 45.1})
	line.SetSRID(4326)

	var segs []model.Segment
	var rows []model.FeatureRow
	for i := 0; i < 120; i++ {
		dist := float64(i * 2)
		label := 0.1
		if dist < 40 {
			label = 12.0
		}
		id := string(rune('a'+i%26)) + string(rune('0'+i/26))
		segs = append(segs, model.Segment{
			ID: id, Region: model.RegionAfrica, Geometry: line, GroundTruthPSU: label,
		})
		rows = append(rows, model.FeatureRow{
			SegmentID: id, Region: model.RegionAfrica, Values: []float64{dist}, LabelPSU: label,
		})
	}
	ctx := context.Background()
	_, err := store.InsertSegments(ctx, segs)
	require.NoError(t, err)
	require.NoError(t, store.ReplaceFeatureRows(ctx, model.RegionAfrica, schema, rows))

	artifact, err := ml.Train(ctx, store, ml.TrainOptions{
		HoldoutRegion:  model.RegionSouthPacific,
		MinLabeledRows: 50,
		CVFolds:        3,
		Seed:           42,
		Grid:           []ml.Hyperparameters{{Trees: 10, MaxDepth: 5, MinLeafSize: 3}},
	})
	require.NoError(t, err)
	return artifact
}

func TestRow_BucketsConfidence(t *testing.T) {
	artifact := trainedArtifact(t)

	p := Row(artifact, []float64{1}, testThresholds)
	assert.Equal(t, model.ClassMesohaline, p.Label)
	assert.Equal(t, model.ConfidenceHigh, p.Confidence)
	assert.Greater(t, p.Probability, 0.75)

	p = Row(artifact, []float64{200}, testThresholds)
	assert.Equal(t, model.ClassFreshwater, p.Label)
}

func TestRegion_WritesLabelAndConfidenceTogether(t *testing.T) {
	artifact := trainedArtifact(t)
	store := newStore(t)
	ctx := context.Background()

	line := geom.NewLineStringFlat(geom.XY, []float64{10, 45, 10.1, 45.1})
	line.SetSRID(4326)
	_, err := store.InsertSegments(ctx, []model.Segment{
		{ID: "n1", Region: model.RegionEurope, Geometry: line, GroundTruthPSU: math.NaN()},
		{ID: "n2", Region: model.RegionEurope, Geometry: line, GroundTruthPSU: math.NaN()},
	})
	require.NoError(t, err)
	require.NoError(t, store.ReplaceFeatureRows(ctx, model.RegionEurope, artifact.Schema, []model.FeatureRow{
		{SegmentID: "n1", Region: model.RegionEurope, Values: []float64{3}, LabelPSU: math.NaN()},
		{SegmentID: "n2", Region: model.RegionEurope, Values: []float64{180}, LabelPSU: math.NaN()},
	}))

	require.NoError(t, Region(ctx, store, artifact, model.RegionEurope, Options{Confidence: testThresholds}))

	segs, err := store.SegmentsByRegion(ctx, model.RegionEurope)
	require.NoError(t, err)
	for _, seg := range segs {
		require.NotNil(t, seg.Prediction)
		assert.NotEmpty(t, seg.Prediction.Label)
		assert.NotEmpty(t, seg.Prediction.Confidence)
	}
	assert.Equal(t, model.ClassMesohaline, segs[0].Prediction.Label)
	assert.Equal(t, model.ClassFreshwater, segs[1].Prediction.Label)
}

func TestRegion_SchemaMismatchFailsFast(t *testing.T) {
	artifact := trainedArtifact(t)
	store := newStore(t)
	ctx := context.Background()

	line := geom.NewLineStringFlat(geom.XY, []float64{10, 45, 10.1, 45.1})
	line.SetSRID(4326)
	_, err := store.InsertSegments(ctx, []model.Segment{
		{ID: "n1", Region: model.RegionEurope, Geometry: line, GroundTruthPSU: math.NaN()},
	})
	require.NoError(t, err)

	drifted := model.NewFeatureSchema([]string{"dist_to_ocean_km", "extra_column"})
	require.NoError(t, store.ReplaceFeatureRows(ctx, model.RegionEurope, drifted, []model.FeatureRow{
		{SegmentID: "n1", Region: model.RegionEurope, Values: []float64{3, 1}, LabelPSU: math.NaN()},
	}))

	err = Region(ctx, store, artifact, model.RegionEurope, Options{Confidence: testThresholds})
	var mismatch *model.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)

	// Nothing was written.
	segs, err := store.SegmentsByRegion(ctx, model.RegionEurope)
	require.NoError(t, err)
	assert.Nil(t, segs[0].Prediction)
}
