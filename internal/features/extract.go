// Package features implements the topology feature extractor: per-segment
// network and geometry features plus ground-truth attachment.
package features

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/estuary-atlas/estuary-cli/internal/model"
	"github.com/estuary-atlas/estuary-cli/internal/segment"
)

// Base feature column names, in schema order. Integrators append their own
// groups after these.
const (
	ColDistToOceanKM   = "dist_to_ocean_km"
	ColLogDistToOcean  = "log_dist_to_ocean"
	ColStrahlerOrder   = "strahler_order"
	ColLengthKM        = "length_km"
	ColUpstreamArea    = "upstream_area_km2"
	ColLogUpstreamArea = "log_upstream_area"
	ColElevationM      = "elevation_m"
	ColElevationDropM  = "elevation_drop_m"
	ColSlope           = "slope"
	ColSinuosity       = "sinuosity"
	ColIsMainstem      = "is_mainstem"
	ColLatitude        = "latitude"
	ColLongitude       = "longitude"
	ColAbsLatitude     = "abs_latitude"
	ColDistXStrahler   = "dist_x_strahler"
	ColAreaPerLength   = "area_per_length"
	ColInTypedEstuary  = "in_typed_estuary"
	ColEstuaryType     = "estuary_type"
)

// BaseColumns returns the ordered base feature columns.
func BaseColumns() []string {
	return []string{
		ColDistToOceanKM, ColLogDistToOcean, ColStrahlerOrder, ColLengthKM,
		ColUpstreamArea, ColLogUpstreamArea, ColElevationM, ColElevationDropM,
		ColSlope, ColSinuosity, ColIsMainstem, ColLatitude, ColLongitude,
		ColAbsLatitude, ColDistXStrahler, ColAreaPerLength,
		ColInTypedEstuary, ColEstuaryType,
	}
}

// Options configures the extractor.
type Options struct {
	// MaxDownstreamHops bounds the downstream walk; exceeding it means the
	// chain does not terminate (a topology cycle).
	MaxDownstreamHops int
	Workers           int
}

// Result is the outcome of extracting one region.
type Result struct {
	Region   model.Region
	Schema   model.FeatureSchema
	Rows     []model.FeatureRow
	DistKM   map[string]float64
	Excluded []model.DataIntegrityError
}

// Extract computes one feature row per segment of a region. Segments whose
// downstream chain never reaches an ocean sink within the hop bound are
// excluded from the output and reported in Result.Excluded; the rest of the
// region still extracts.
func Extract(segs []model.Segment, opts Options) (*Result, error) {
	if len(segs) == 0 {
		return nil, eris.New("features: no segments to extract")
	}
	if opts.MaxDownstreamHops <= 0 {
		opts.MaxDownstreamHops = 10000
	}

	region := segs[0].Region
	byID := make(map[string]*model.Segment, len(segs))
	for i := range segs {
		if segs[i].Region != region {
			return nil, &model.DataIntegrityError{
				Region: region, Subject: "segment " + segs[i].ID,
				Reason: "segment from region " + string(segs[i].Region) + " mixed into extraction batch",
			}
		}
		if _, dup := byID[segs[i].ID]; dup {
			return nil, &model.DataIntegrityError{
				Region: region, Subject: "segment " + segs[i].ID, Reason: "duplicate segment id",
			}
		}
		byID[segs[i].ID] = &segs[i]
	}

	walker := newDownstreamWalker(byID, opts.MaxDownstreamHops)

	res := &Result{
		Region: region,
		Schema: model.NewFeatureSchema(BaseColumns()),
		DistKM: make(map[string]float64, len(segs)),
	}

	for i := range segs {
		seg := &segs[i]
		walk, err := walker.walk(seg.ID)
		if err != nil {
			var integrity *model.DataIntegrityError
			if eris.As(err, &integrity) {
				res.Excluded = append(res.Excluded, *integrity)
				continue
			}
			return nil, err
		}

		distKM := walk.distKM + seg.Topology.LengthM/2/1000
		res.DistKM[seg.ID] = distKM

		lon, lat := seg.Midpoint()
		lengthKM := seg.Topology.LengthM / 1000
		area := seg.Topology.UpstreamAreaKM2
		strahler := float64(seg.Topology.StrahlerOrder)

		row := model.FeatureRow{
			SegmentID: seg.ID,
			Region:    region,
			LabelPSU:  seg.GroundTruthPSU,
			Values: []float64{
				distKM,
				math.Log1p(distKM),
				strahler,
				lengthKM,
				area,
				math.Log1p(area),
				seg.Topology.ElevationM,
				seg.Topology.ElevationM - walk.sinkElevationM,
				seg.Topology.Slope,
				seg.Topology.Sinuosity,
				boolFeature(seg.Topology.IsMainstem),
				lat,
				lon,
				math.Abs(lat),
				distKM * strahler,
				area / (lengthKM + 1),
				boolFeature(seg.Topology.InTypedEstuary),
				float64(seg.Topology.EstuaryType),
			},
		}
		res.Rows = append(res.Rows, row)
	}

	if len(res.Excluded) > 0 {
		zap.L().Warn("features: excluded segments with non-terminating topology",
			zap.String("region", string(region)),
			zap.Int("excluded", len(res.Excluded)),
		)
	}

	return res, nil
}

type walkResult struct {
	distKM         float64
	sinkElevationM float64
}

// downstreamWalker memoizes walks down the network so a region extracts in
// time linear in segment count.
type downstreamWalker struct {
	byID    map[string]*model.Segment
	maxHops int
	memo    map[string]walkResult
}

func newDownstreamWalker(byID map[string]*model.Segment, maxHops int) *downstreamWalker {
	return &downstreamWalker{
		byID:    byID,
		maxHops: maxHops,
		memo:    make(map[string]walkResult, len(byID)),
	}
}

// walk returns the along-network distance from a segment's downstream end
// to the ocean sink, and the sink elevation. The walk follows downstream
// links only; straight-line shortcuts mislead in braided deltas.
func (w *downstreamWalker) walk(id string) (walkResult, error) {
	var path []string
	onPath := make(map[string]bool)

	cur := id
	for hops := 0; ; hops++ {
		if res, ok := w.memo[cur]; ok {
			return w.unwind(path, res), nil
		}
		seg, ok := w.byID[cur]
		if !ok {
			return walkResult{}, &model.DataIntegrityError{
				Subject: "segment " + id,
				Reason:  "downstream link " + cur + " not present in region",
			}
		}
		if onPath[cur] || hops > w.maxHops {
			return walkResult{}, &model.DataIntegrityError{
				Region: seg.Region, Subject: "segment " + id,
				Reason: "downstream chain does not terminate (cycle at " + cur + ")",
			}
		}
		if seg.Topology.IsOceanSink || seg.Topology.DownstreamID == "" {
			if !seg.Topology.IsOceanSink {
				// A chain ending off-network is as untrustworthy as a cycle.
				return walkResult{}, &model.DataIntegrityError{
					Region: seg.Region, Subject: "segment " + id,
					Reason: "downstream chain ends at " + cur + " which is not an ocean sink",
				}
			}
			w.memo[cur] = walkResult{distKM: 0, sinkElevationM: seg.Topology.ElevationM}
			return w.unwind(path, w.memo[cur]), nil
		}

		onPath[cur] = true
		path = append(path, cur)
		cur = seg.Topology.DownstreamID
	}
}

// unwind fills the memo for every segment on the walked path, accumulating
// link lengths from the tail back up.
func (w *downstreamWalker) unwind(path []string, terminal walkResult) walkResult {
	res := terminal
	for i := len(path) - 1; i >= 0; i-- {
		seg := w.byID[path[i]]
		// Distance from this segment's downstream end: everything below it,
		// including the downstream neighbor's own length.
		next := w.byID[seg.Topology.DownstreamID]
		hop := 0.0
		if next != nil {
			hop = next.Topology.LengthM / 1000
		}
		res = walkResult{distKM: res.distKM + hop, sinkElevationM: res.sinkElevationM}
		w.memo[path[i]] = res
	}
	if len(path) == 0 {
		return terminal
	}
	return w.memo[path[0]]
}

// ExtractRegions runs extraction for several regions in parallel and
// persists each region's rows and distances. Regions are independent; one
// worker owns a whole region so no segment's row is split across workers.
func ExtractRegions(ctx context.Context, store segment.Store, regions []model.Region, opts Options) error {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, region := range regions {
		region := region
		g.Go(func() error {
			log := zap.L().With(
				zap.String("component", "features.extract"),
				zap.String("region", string(region)),
			)

			segs, err := store.SegmentsByRegion(gCtx, region)
			if err != nil {
				return err
			}
			if len(segs) == 0 {
				log.Warn("no segments in region, skipping")
				return nil
			}

			res, err := Extract(segs, opts)
			if err != nil {
				return eris.Wrapf(err, "features: extract region %s", region)
			}

			if err := store.SetDistances(gCtx, region, res.DistKM); err != nil {
				return err
			}
			if err := store.ReplaceFeatureRows(gCtx, region, res.Schema, res.Rows); err != nil {
				return err
			}

			labeled := 0
			for i := range res.Rows {
				if res.Rows[i].HasLabel() {
					labeled++
				}
			}
			log.Info("region extracted",
				zap.Int("rows", len(res.Rows)),
				zap.Int("labeled", labeled),
				zap.Int("excluded", len(res.Excluded)),
				zap.String("schema", res.Schema.Version),
			)
			return nil
		})
	}

	return g.Wait()
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
