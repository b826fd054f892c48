package ml

import (
	"context"
	"math/rand"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/estuary-atlas/estuary-cli/internal/model"
	"github.com/estuary-atlas/estuary-cli/internal/segment"
)

// TrainOptions configures one training run.
type TrainOptions struct {
	HoldoutRegion  model.Region
	MinLabeledRows int
	CVFolds        int
	Seed           int64
	Grid           []Hyperparameters
}

// ExpandGrid enumerates the full hyperparameter cross product in a fixed
// order, so tie-breaking during selection is stable across runs.
func ExpandGrid(trees, depths, leaves []int) []Hyperparameters {
	var grid []Hyperparameters
	for _, t := range trees {
		for _, d := range depths {
			for _, l := range leaves {
				grid = append(grid, Hyperparameters{Trees: t, MaxDepth: d, MinLeafSize: l})
			}
		}
	}
	return grid
}

// Dataset is the labeled design matrix for one training run after the
// holdout region has been excluded.
type Dataset struct {
	Schema  model.FeatureSchema
	Xs      [][]float64
	Ys      []int
	Regions []model.Region // per-row provenance, used to audit the holdout
}

// Train runs the full training pipeline: load labeled non-holdout rows,
// hyperparameter selection by k-fold CV inside those rows, final fit, and
// artifact assembly.
func Train(ctx context.Context, store segment.Store, opts TrainOptions) (*ModelArtifact, error) {
	log := zap.L().With(
		zap.String("component", "ml.train"),
		zap.String("holdout", string(opts.HoldoutRegion)),
	)

	ds, err := LoadTrainingData(ctx, store, opts.HoldoutRegion)
	if err != nil {
		return nil, err
	}
	if len(ds.Xs) < opts.MinLabeledRows {
		return nil, &model.InsufficientDataError{
			Stage: "train", Have: len(ds.Xs), Required: opts.MinLabeledRows,
		}
	}
	if err := ds.AssertExcludes(opts.HoldoutRegion); err != nil {
		return nil, err
	}

	log.Info("training data loaded",
		zap.Int("rows", len(ds.Xs)),
		zap.Int("features", len(ds.Schema.Columns)),
	)

	best, bestAcc := SelectHyperparameters(ds, opts)
	log.Info("hyperparameters selected",
		zap.Int("trees", best.Trees),
		zap.Int("max_depth", best.MaxDepth),
		zap.Int("min_leaf_size", best.MinLeafSize),
		zap.Float64("cv_accuracy", bestAcc),
	)

	forest, importances := FitForest(ds.Xs, ds.Ys, len(model.Classes), best, opts.Seed)

	artifact := newArtifact()
	artifact.Schema = ds.Schema
	artifact.Classes = append([]model.Class{}, model.Classes...)
	artifact.HoldoutRegion = opts.HoldoutRegion
	artifact.TrainedRows = len(ds.Xs)
	artifact.Hyperparameters = best
	artifact.CVAccuracy = bestAcc
	artifact.Importances = rankImportances(ds.Schema.Columns, importances)
	artifact.Forest = forest

	log.Info("model trained", zap.String("artifact_id", artifact.ID))
	return artifact, nil
}

// LoadTrainingData assembles the labeled design matrix from every region
// except the holdout. The holdout region is never even queried; exclusion
// happens before rows exist in memory, not by filtering afterwards.
func LoadTrainingData(ctx context.Context, store segment.Store, holdout model.Region) (*Dataset, error) {
	var regions []model.Region
	for _, r := range model.AllRegions {
		if r != holdout {
			regions = append(regions, r)
		}
	}

	schema, rows, err := store.FeatureRows(ctx, regions)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{Schema: schema}
	for i := range rows {
		if !rows[i].HasLabel() {
			continue
		}
		class, ok := model.ClassifySalinity(rows[i].LabelPSU)
		if !ok {
			continue
		}
		ds.Xs = append(ds.Xs, rows[i].Values)
		ds.Ys = append(ds.Ys, classIndex(class))
		ds.Regions = append(ds.Regions, rows[i].Region)
	}
	return ds, nil
}

// AssertExcludes verifies no row of the dataset belongs to the holdout
// region. A violation is a data-integrity failure, not a recoverable
// condition: a contaminated fit silently inflates every downstream score.
func (ds *Dataset) AssertExcludes(holdout model.Region) error {
	for i, r := range ds.Regions {
		if r == holdout {
			return &model.DataIntegrityError{
				Region:  holdout,
				Subject: "training dataset",
				Reason:  "holdout region row present at index " + strconv.Itoa(i),
			}
		}
	}
	return nil
}

// SelectHyperparameters scores every grid point by k-fold cross-validation
// inside the dataset and returns the accuracy-maximizing point. Ties keep
// the earliest grid entry so the search is reproducible.
func SelectHyperparameters(ds *Dataset, opts TrainOptions) (Hyperparameters, float64) {
	folds := assignFolds(len(ds.Xs), opts.CVFolds, opts.Seed)

	var best Hyperparameters
	bestAcc := -1.0
	for _, hp := range opts.Grid {
		acc := crossValidate(ds, folds, opts.CVFolds, hp, opts.Seed)
		if acc > bestAcc {
			best, bestAcc = hp, acc
		}
	}
	return best, bestAcc
}

func crossValidate(ds *Dataset, folds []int, k int, hp Hyperparameters, seed int64) float64 {
	correct, total := 0, 0
	for fold := 0; fold < k; fold++ {
		var trainXs [][]float64
		var trainYs []int
		var testIdx []int
		for i := range ds.Xs {
			if folds[i] == fold {
				testIdx = append(testIdx, i)
			} else {
				trainXs = append(trainXs, ds.Xs[i])
				trainYs = append(trainYs, ds.Ys[i])
			}
		}
		if len(trainXs) == 0 || len(testIdx) == 0 {
			continue
		}
		forest, _ := FitForest(trainXs, trainYs, len(model.Classes), hp, seed+int64(fold))
		for _, i := range testIdx {
			class, _ := forest.Predict(ds.Xs[i])
			if class == ds.Ys[i] {
				correct++
			}
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}

// assignFolds shuffles row indices with the run seed and deals them round
// robin into k folds.
func assignFolds(n, k int, seed int64) []int {
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(n)
	folds := make([]int, n)
	for pos, i := range perm {
		folds[i] = pos % k
	}
	return folds
}

func rankImportances(columns []string, scores []float64) []FeatureImportance {
	out := make([]FeatureImportance, len(columns))
	for i, name := range columns {
		out[i] = FeatureImportance{Name: name, Score: scores[i]}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	return out
}

func classIndex(c model.Class) int {
	for i, known := range model.Classes {
		if known == c {
			return i
		}
	}
	return -1
}
