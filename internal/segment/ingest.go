package segment

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/estuary-atlas/estuary-cli/internal/model"
)

// Ingest is the boundary that populates the segment store from source
// shapefiles. Coordinate reference handling and raw download live with the
// data-preparation collaborators; files arriving here are EPSG:4326.

// shapefileFields builds a lowercase field name to index map for a reader.
func shapefileFields(reader *shp.Reader) map[string]int {
	fields := reader.Fields()
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		idx[strings.ToLower(name)] = i
	}
	return idx
}

// dbfFieldWidth is the name capacity of a DBF field header. Source datasets
// use longer names; writers truncate them, so lookups must too.
const dbfFieldWidth = 11

func attr(reader *shp.Reader, fieldIdx map[string]int, name string) (string, bool) {
	if len(name) > dbfFieldWidth {
		name = name[:dbfFieldWidth]
	}
	i, ok := fieldIdx[name]
	if !ok {
		return "", false
	}
	val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
	if val == "" {
		return "", false
	}
	return val, true
}

func attrFloat(reader *shp.Reader, fieldIdx map[string]int, name string) float64 {
	s, ok := attr(reader, fieldIdx, name)
	if !ok {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func attrInt(reader *shp.Reader, fieldIdx map[string]int, name string) int {
	f := attrFloat(reader, fieldIdx, name)
	if math.IsNaN(f) {
		return 0
	}
	return int(f)
}

func attrBool(reader *shp.Reader, fieldIdx map[string]int, name string) bool {
	return attrInt(reader, fieldIdx, name) != 0
}

// polyLineToLineString flattens a shapefile PolyLine into a single
// LineString, concatenating parts in order. Returns nil for empty shapes.
func polyLineToLineString(pl *shp.PolyLine) *geom.LineString {
	if pl == nil || len(pl.Points) == 0 {
		return nil
	}
	flat := make([]float64, 0, len(pl.Points)*2)
	for _, p := range pl.Points {
		flat = append(flat, p.X, p.Y)
	}
	return geom.NewLineStringFlat(geom.XY, flat).SetSRID(4326)
}

// ReadSegments parses a river-network shapefile into segments for one
// region. Records with missing or non-line geometry are skipped and
// counted, not silently dropped without record.
func ReadSegments(shpPath string, region model.Region) ([]model.Segment, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := shapefileFields(reader)
	now := time.Now().UTC()

	var segs []model.Segment
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		id, ok := attr(reader, fieldIdx, "global_id")
		if !ok {
			skipped++
			continue
		}

		pl, ok := shape.(*shp.PolyLine)
		if !ok {
			skipped++
			continue
		}
		ls := polyLineToLineString(pl)
		if ls == nil {
			skipped++
			continue
		}

		estuaryType := model.EstuaryType(attrInt(reader, fieldIdx, "estuary_typ"))
		seg := model.Segment{
			ID:       id,
			Region:   region,
			Geometry: ls,
			Topology: model.Topology{
				StrahlerOrder:   attrInt(reader, fieldIdx, "strahler_order"),
				LengthM:         zeroIfNaN(attrFloat(reader, fieldIdx, "length")),
				UpstreamAreaKM2: zeroIfNaN(attrFloat(reader, fieldIdx, "drainage_area_out")),
				DownstreamID:    firstAttr(reader, fieldIdx, "downstream_id", "ds_id"),
				ElevationM:      zeroIfNaN(attrFloat(reader, fieldIdx, "elevation")),
				Slope:           zeroIfNaN(attrFloat(reader, fieldIdx, "slope")),
				Sinuosity:       zeroIfNaN(attrFloat(reader, fieldIdx, "sinuousity")),
				IsMainstem:      attrBool(reader, fieldIdx, "is_mainstem"),
				IsOceanSink:     attrBool(reader, fieldIdx, "is_coastal_outlet"),
				DistToOceanKM:   math.NaN(),
				EstuaryType:     estuaryType,
				InTypedEstuary:  estuaryType != model.EstuaryNone,
			},
			GroundTruthPSU: attrFloat(reader, fieldIdx, "salinity_mean_psu"),
			IngestedAt:     now,
		}
		segs = append(segs, seg)
	}

	if skipped > 0 {
		zap.L().Warn("ingest: skipped segment records",
			zap.String("region", string(region)),
			zap.Int("skipped", skipped),
		)
	}

	return segs, nil
}

// ReadTransects parses a coastal transect point shapefile.
func ReadTransects(shpPath string) ([]model.Transect, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open transect shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := shapefileFields(reader)

	var ts []model.Transect
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		pt, ok := shape.(*shp.Point)
		if !ok {
			skipped++
			continue
		}
		id, ok := attr(reader, fieldIdx, "transect_id")
		if !ok {
			skipped++
			continue
		}

		mhhw := attrFloat(reader, fieldIdx, "mhhw")
		mllw := attrFloat(reader, fieldIdx, "mllw")
		tidalRange := math.NaN()
		if !math.IsNaN(mhhw) && !math.IsNaN(mllw) {
			tidalRange = mhhw - mllw
		}

		ts = append(ts, model.Transect{
			ID:             id,
			Lon:            pt.X,
			Lat:            pt.Y,
			TidalRangeM:    tidalRange,
			WaveHeightP50:  attrFloat(reader, fieldIdx, "swh_p50"),
			WaveHeightP95:  attrFloat(reader, fieldIdx, "swh_p95"),
			NearshoreSlope: attrFloat(reader, fieldIdx, "ns"),
			FracTrees:      attrFloat(reader, fieldIdx, "lu_trees"),
			FracCrop:       attrFloat(reader, fieldIdx, "lu_crop"),
			FracBuilt:      attrFloat(reader, fieldIdx, "lu_built"),
			FracWetland:    attrFloat(reader, fieldIdx, "lu_wet"),
			FracMangrove:   attrFloat(reader, fieldIdx, "lu_mangr"),
		})
	}

	if skipped > 0 {
		zap.L().Warn("ingest: skipped transect records", zap.Int("skipped", skipped))
	}

	return ts, nil
}

// IngestRegion loads a region's segment shapefile into the store.
func IngestRegion(ctx context.Context, store Store, region model.Region, shpPath string) (int64, error) {
	log := zap.L().With(
		zap.String("component", "segment.ingest"),
		zap.String("region", string(region)),
	)

	segs, err := ReadSegments(shpPath, region)
	if err != nil {
		return 0, err
	}
	if len(segs) == 0 {
		return 0, &model.DataIntegrityError{
			Region: region, Subject: "segment shapefile", Reason: "no usable line records",
		}
	}

	n, err := store.InsertSegments(ctx, segs)
	if err != nil {
		return n, err
	}

	log.Info("segments ingested", zap.Int64("rows", n), zap.String("path", shpPath))
	return n, nil
}

// IngestTransects loads the coastal transect shapefile into the store.
func IngestTransects(ctx context.Context, store Store, shpPath string) (int64, error) {
	ts, err := ReadTransects(shpPath)
	if err != nil {
		return 0, err
	}

	n, err := store.InsertTransects(ctx, ts)
	if err != nil {
		return n, err
	}

	zap.L().Info("transects ingested",
		zap.String("component", "segment.ingest"),
		zap.Int64("rows", n),
		zap.String("path", shpPath),
	)
	return n, nil
}

func zeroIfNaN(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return f
}

func firstAttr(reader *shp.Reader, fieldIdx map[string]int, names ...string) string {
	for _, n := range names {
		if v, ok := attr(reader, fieldIdx, n); ok {
			return v
		}
	}
	return ""
}
