// Package predict applies a trained model artifact to feature rows and
// persists the label/confidence pair per region.
package predict

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/estuary-atlas/estuary-cli/internal/ml"
	"github.com/estuary-atlas/estuary-cli/internal/model"
	"github.com/estuary-atlas/estuary-cli/internal/segment"
)

// Options configures the prediction engine.
type Options struct {
	Confidence model.ConfidenceThresholds
	Workers    int
}

// Row runs the ensemble on one feature vector. Confidence is the top-class
// probability bucketed at the configured thresholds.
func Row(artifact *ml.ModelArtifact, values []float64, thresholds model.ConfidenceThresholds) model.Prediction {
	classIdx, prob := artifact.Forest.Predict(values)
	return model.Prediction{
		Label:       artifact.Classes[classIdx],
		Confidence:  thresholds.Bucket(prob),
		Probability: prob,
	}
}

// Region predicts every feature row of one region and replaces the region's
// stored predictions in a single transaction. The schema recorded with the
// artifact must structurally match the rows' schema; a drifted feature table
// fails fast rather than feeding misaligned columns to the ensemble.
func Region(ctx context.Context, store segment.Store, artifact *ml.ModelArtifact, region model.Region, opts Options) error {
	log := zap.L().With(
		zap.String("component", "predict"),
		zap.String("region", string(region)),
		zap.String("artifact_id", artifact.ID),
	)

	schema, rows, err := store.FeatureRows(ctx, []model.Region{region})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		log.Warn("no feature rows in region, nothing to predict")
		return nil
	}
	if err := artifact.Schema.Validate(schema); err != nil {
		return eris.Wrapf(err, "predict: region %s", region)
	}

	predictions := make(map[string]model.Prediction, len(rows))
	for i := range rows {
		predictions[rows[i].SegmentID] = Row(artifact, rows[i].Values, opts.Confidence)
	}

	if err := store.ReplacePredictions(ctx, region, predictions); err != nil {
		return err
	}

	byConfidence := map[model.ConfidenceLevel]int{}
	for _, p := range predictions {
		byConfidence[p.Confidence]++
	}
	log.Info("region predicted",
		zap.Int("segments", len(predictions)),
		zap.Int("high", byConfidence[model.ConfidenceHigh]),
		zap.Int("medium", byConfidence[model.ConfidenceMedium]),
		zap.Int("low", byConfidence[model.ConfidenceLow]),
		zap.Int("very_low", byConfidence[model.ConfidenceVeryLow]),
	)
	return nil
}

// Regions predicts several regions in parallel against one shared artifact;
// the forest is read-only after load.
func Regions(ctx context.Context, store segment.Store, artifact *ml.ModelArtifact, regions []model.Region, opts Options) error {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, region := range regions {
		region := region
		g.Go(func() error {
			return Region(gCtx, store, artifact, region, opts)
		})
	}
	return g.Wait()
}
