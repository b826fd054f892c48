// Package segment implements the canonical per-region segment store behind
// a single Store interface, with SQLite and Postgres backends, plus the
// shapefile ingest boundary that populates it.
package segment

import (
	"context"

	"github.com/estuary-atlas/estuary-cli/internal/model"
)

// RegionStats summarizes store contents for one region.
type RegionStats struct {
	Region      model.Region
	Segments    int
	Labeled     int
	Predicted   int
	FeatureRows int
}

// Store is the persistence interface for segments, transects, feature rows
// and predictions. The store is read-only to the pipeline core except for
// the two prediction columns and the one-time distance backfill.
type Store interface {
	// Segments
	InsertSegments(ctx context.Context, segs []model.Segment) (int64, error)
	SegmentsByRegion(ctx context.Context, region model.Region) ([]model.Segment, error)

	// SetDistances backfills the topology distance-to-ocean column for a
	// region. Called once by the feature extractor; values are immutable
	// afterwards.
	SetDistances(ctx context.Context, region model.Region, distKM map[string]float64) error

	// Transects
	InsertTransects(ctx context.Context, ts []model.Transect) (int64, error)
	Transects(ctx context.Context) ([]model.Transect, error)

	// Feature table. Rows for a region are replaced wholesale; there is no
	// incremental patching.
	ReplaceFeatureRows(ctx context.Context, region model.Region, schema model.FeatureSchema, rows []model.FeatureRow) error
	FeatureRows(ctx context.Context, regions []model.Region) (model.FeatureSchema, []model.FeatureRow, error)

	// ReplacePredictions overwrites the prediction pair for every segment of
	// a region in one transaction. Segments absent from preds have their
	// pair cleared, never half-written.
	ReplacePredictions(ctx context.Context, region model.Region, preds map[string]model.Prediction) error

	RegionStats(ctx context.Context) ([]RegionStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
