package coastal

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/estuary-atlas/estuary-cli/internal/features"
	"github.com/estuary-atlas/estuary-cli/internal/model"
	"github.com/estuary-atlas/estuary-cli/internal/segment"
)

// Coastal feature columns, appended after the physics group.
const (
	ColCoastDistKM    = "coast_dist_km"
	ColTidalRangeM    = "tidal_range_m"
	ColWaveP50        = "swh_p50"
	ColWaveP95        = "swh_p95"
	ColNearshoreSlope = "ns_slope"
	ColFracTrees      = "frac_trees"
	ColFracCrop       = "frac_crop"
	ColFracBuilt      = "frac_built"
	ColFracWetland    = "frac_wetland"
	ColFracMangrove   = "frac_mangrove"
)

// Columns returns the coastal feature columns in schema order.
func Columns() []string {
	return []string{
		ColCoastDistKM, ColTidalRangeM, ColWaveP50, ColWaveP95,
		ColNearshoreSlope, ColFracTrees, ColFracCrop, ColFracBuilt,
		ColFracWetland, ColFracMangrove,
	}
}

// Options configures the integrator.
type Options struct {
	MaxAssociationKM float64
	Workers          int
}

// IntegrateRegion widens one region's feature rows with the nearest-transect
// coastal group. Segments with no transect within the association radius
// keep every coastal column null; coastal attributes far from the coast are
// not physically meaningful.
func IntegrateRegion(ctx context.Context, store segment.Store, loc *Locator, region model.Region, opts Options) error {
	log := zap.L().With(
		zap.String("component", "coastal.integrate"),
		zap.String("region", string(region)),
	)

	schema, rows, err := store.FeatureRows(ctx, []model.Region{region})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		log.Warn("no feature rows in region, run extract first")
		return nil
	}

	segs, err := store.SegmentsByRegion(ctx, region)
	if err != nil {
		return err
	}
	midpoints := make(map[string][2]float64, len(segs))
	for i := range segs {
		lon, lat := segs[i].Midpoint()
		midpoints[segs[i].ID] = [2]float64{lon, lat}
	}

	out, err := features.Widen(schema, rows, Columns())
	if err != nil {
		return err
	}

	associated := 0
	for i := range out.Rows {
		row := &out.Rows[i]
		mid, ok := midpoints[row.SegmentID]
		if !ok {
			out.Null(row, Columns())
			continue
		}
		t, distKM, ok := loc.Nearest(mid[0], mid[1])
		if !ok {
			// A rerun with a tighter radius must not keep the wider
			// run's attribution.
			out.Null(row, Columns())
			continue
		}
		associated++

		out.Set(row, ColCoastDistKM, distKM)
		out.Set(row, ColTidalRangeM, t.TidalRangeM)
		out.Set(row, ColWaveP50, t.WaveHeightP50)
		out.Set(row, ColWaveP95, t.WaveHeightP95)
		out.Set(row, ColNearshoreSlope, t.NearshoreSlope)
		out.Set(row, ColFracTrees, t.FracTrees)
		out.Set(row, ColFracCrop, t.FracCrop)
		out.Set(row, ColFracBuilt, t.FracBuilt)
		out.Set(row, ColFracWetland, t.FracWetland)
		out.Set(row, ColFracMangrove, t.FracMangrove)
	}

	if err := store.ReplaceFeatureRows(ctx, region, out.Schema, out.Rows); err != nil {
		return err
	}

	log.Info("coastal integrated",
		zap.Int("rows", len(out.Rows)),
		zap.Int("associated", associated),
		zap.String("schema", out.Schema.Version),
	)
	return nil
}

// IntegrateRegions builds the transect index once and runs the regions in
// parallel against it; the locator is read-only after construction.
func IntegrateRegions(ctx context.Context, store segment.Store, regions []model.Region, opts Options) error {
	transects, err := store.Transects(ctx)
	if err != nil {
		return err
	}
	if len(transects) == 0 {
		return &model.InsufficientDataError{
			Stage: "coastal", Have: 0, Required: 1,
		}
	}
	loc := NewLocator(transects, opts.MaxAssociationKM)

	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, region := range regions {
		region := region
		g.Go(func() error {
			if err := IntegrateRegion(gCtx, store, loc, region, opts); err != nil {
				return eris.Wrapf(err, "coastal: region %s", region)
			}
			return nil
		})
	}
	return g.Wait()
}
