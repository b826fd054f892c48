package physics

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/estuary-atlas/estuary-cli/internal/features"
	"github.com/estuary-atlas/estuary-cli/internal/model"
	"github.com/estuary-atlas/estuary-cli/internal/segment"
)

// Physical-model feature columns, appended after the base group.
const (
	ColDischarge      = "discharge_m3s"
	ColLogDischarge   = "log_discharge"
	ColSalinity       = "salinity_psu"
	ColLogSalinity    = "log_salinity"
	ColTemperature    = "temperature_c"
	ColDischargeXDist = "discharge_x_dist"
)

// Columns returns the physics feature columns in schema order.
func Columns() []string {
	return []string{
		ColDischarge, ColLogDischarge, ColSalinity, ColLogSalinity,
		ColTemperature, ColDischargeXDist,
	}
}

// Options configures the integrator.
type Options struct {
	Policy  Policy
	Workers int
}

// IntegrateRegion samples the grid at every segment midpoint of one region
// and widens the region's feature rows with the sanitized physics group.
// Missing samples null the columns, never the row.
func IntegrateRegion(ctx context.Context, store segment.Store, sampler Sampler, region model.Region, opts Options) error {
	log := zap.L().With(
		zap.String("component", "physics.integrate"),
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

	distIdx := schema.Index(features.ColDistToOceanKM)
	if distIdx < 0 {
		return &model.SchemaMismatchError{
			Expected: features.BaseColumns(),
			Got:      schema.Columns,
			Detail:   "feature rows lack the base topology group",
		}
	}

	out, err := features.Widen(schema, rows, Columns())
	if err != nil {
		return err
	}

	sampled := 0
	for i := range out.Rows {
		row := &out.Rows[i]
		mid, ok := midpoints[row.SegmentID]
		if !ok {
			// Row for a segment the store no longer has; null the
			// columns so nothing from an earlier run survives.
			out.Null(row, Columns())
			continue
		}

		raw := opts.Policy.Sanitize(sampler.Sample(mid[0], mid[1]))
		dist := row.Values[distIdx]

		out.Set(row, ColDischarge, raw.DischargeM3S)
		out.Set(row, ColLogDischarge, math.Log1p(raw.DischargeM3S))
		out.Set(row, ColSalinity, raw.SalinityPSU)
		out.Set(row, ColLogSalinity, math.Log1p(raw.SalinityPSU))
		out.Set(row, ColTemperature, raw.TemperatureC)
		// Interaction only when both inputs exist; NaN propagates otherwise.
		out.Set(row, ColDischargeXDist, raw.DischargeM3S*dist)

		if !math.IsNaN(raw.DischargeM3S) || !math.IsNaN(raw.SalinityPSU) || !math.IsNaN(raw.TemperatureC) {
			sampled++
		}
	}

	if err := store.ReplaceFeatureRows(ctx, region, out.Schema, out.Rows); err != nil {
		return err
	}

	log.Info("physics integrated",
		zap.Int("rows", len(out.Rows)),
		zap.Int("sampled", sampled),
		zap.String("schema", out.Schema.Version),
	)
	return nil
}

// IntegrateRegions runs physics integration region-parallel.
func IntegrateRegions(ctx context.Context, store segment.Store, sampler Sampler, regions []model.Region, opts Options) error {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, region := range regions {
		region := region
		g.Go(func() error {
			if err := IntegrateRegion(gCtx, store, sampler, region, opts); err != nil {
				return eris.Wrapf(err, "physics: region %s", region)
			}
			return nil
		})
	}
	return g.Wait()
}
