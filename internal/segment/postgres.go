package segment

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/estuary-atlas/estuary-cli/internal/db"
	"github.com/estuary-atlas/estuary-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. Geometry is kept as EWKB
// bytea; a PostGIS deployment can expose it with ST_GeomFromEWKB views
// without the pipeline depending on PostGIS itself.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS segments (
	id                TEXT PRIMARY KEY,
	region            TEXT NOT NULL,
	geom              BYTEA NOT NULL,
	strahler_order    INTEGER NOT NULL,
	length_m          DOUBLE PRECISION NOT NULL,
	upstream_area_km2 DOUBLE PRECISION NOT NULL,
	downstream_id     TEXT NOT NULL DEFAULT '',
	elevation_m       DOUBLE PRECISION NOT NULL,
	slope             DOUBLE PRECISION NOT NULL,
	sinuosity         DOUBLE PRECISION NOT NULL,
	is_mainstem       BOOLEAN NOT NULL DEFAULT false,
	is_ocean_sink     BOOLEAN NOT NULL DEFAULT false,
	dist_to_ocean_km  DOUBLE PRECISION,
	estuary_type      INTEGER NOT NULL DEFAULT 0,
	in_typed_estuary  BOOLEAN NOT NULL DEFAULT false,
	ground_truth_psu  DOUBLE PRECISION,
	predicted_label   TEXT,
	confidence_level  TEXT,
	probability       DOUBLE PRECISION,
	ingested_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transects (
	id              TEXT PRIMARY KEY,
	lon             DOUBLE PRECISION NOT NULL,
	lat             DOUBLE PRECISION NOT NULL,
	tidal_range_m   DOUBLE PRECISION,
	wave_height_p50 DOUBLE PRECISION,
	wave_height_p95 DOUBLE PRECISION,
	nearshore_slope DOUBLE PRECISION,
	frac_trees      DOUBLE PRECISION,
	frac_crop       DOUBLE PRECISION,
	frac_built      DOUBLE PRECISION,
	frac_wetland    DOUBLE PRECISION,
	frac_mangrove   DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS feature_schemas (
	version    TEXT PRIMARY KEY,
	columns    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS feature_rows (
	segment_id     TEXT PRIMARY KEY REFERENCES segments(id),
	region         TEXT NOT NULL,
	schema_version TEXT NOT NULL REFERENCES feature_schemas(version),
	row            JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_segments_region ON segments(region);
CREATE INDEX IF NOT EXISTS idx_feature_rows_region ON feature_rows(region);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var segmentCopyColumns = []string{
	"id", "region", "geom", "strahler_order", "length_m", "upstream_area_km2",
	"downstream_id", "elevation_m", "slope", "sinuosity", "is_mainstem",
	"is_ocean_sink", "dist_to_ocean_km", "estuary_type", "in_typed_estuary",
	"ground_truth_psu", "ingested_at",
}

func (s *PostgresStore) InsertSegments(ctx context.Context, segs []model.Segment) (int64, error) {
	seen := make(map[string]bool, len(segs))
	rows := make([][]any, 0, len(segs))
	for i := range segs {
		seg := &segs[i]
		if seen[seg.ID] {
			return 0, &model.DataIntegrityError{
				Region: seg.Region, Subject: "segment " + seg.ID, Reason: "duplicate segment id in batch",
			}
		}
		seen[seg.ID] = true

		geomBytes, err := ewkb.Marshal(seg.Geometry, ewkb.NDR)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: encode geometry for %s", seg.ID)
		}
		ingested := seg.IngestedAt
		if ingested.IsZero() {
			ingested = time.Now().UTC()
		}
		rows = append(rows, []any{
			seg.ID, string(seg.Region), geomBytes,
			seg.Topology.StrahlerOrder, seg.Topology.LengthM, seg.Topology.UpstreamAreaKM2,
			seg.Topology.DownstreamID, seg.Topology.ElevationM, seg.Topology.Slope,
			seg.Topology.Sinuosity, seg.Topology.IsMainstem, seg.Topology.IsOceanSink,
			nullFloat(seg.Topology.DistToOceanKM), int(seg.Topology.EstuaryType),
			seg.Topology.InTypedEstuary, nullFloat(seg.GroundTruthPSU), ingested,
		})
	}

	return db.CopyFrom(ctx, s.pool, "segments", segmentCopyColumns, rows)
}

func (s *PostgresStore) SegmentsByRegion(ctx context.Context, region model.Region) ([]model.Segment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, region, geom, strahler_order, length_m, upstream_area_km2,
		       downstream_id, elevation_m, slope, sinuosity, is_mainstem,
		       is_ocean_sink, dist_to_ocean_km, estuary_type, in_typed_estuary,
		       ground_truth_psu, predicted_label, confidence_level, probability, ingested_at
		FROM segments WHERE region = $1 ORDER BY id`,
		string(region),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query segments for %s", region)
	}
	defer rows.Close()

	var segs []model.Segment
	for rows.Next() {
		var seg model.Segment
		var regionStr, downstream string
		var geomBytes []byte
		var estuaryType int
		var dist, truth, prob sql.NullFloat64
		var label, conf sql.NullString

		if err := rows.Scan(
			&seg.ID, &regionStr, &geomBytes,
			&seg.Topology.StrahlerOrder, &seg.Topology.LengthM, &seg.Topology.UpstreamAreaKM2,
			&downstream, &seg.Topology.ElevationM, &seg.Topology.Slope, &seg.Topology.Sinuosity,
			&seg.Topology.IsMainstem, &seg.Topology.IsOceanSink, &dist, &estuaryType,
			&seg.Topology.InTypedEstuary, &truth, &label, &conf, &prob, &seg.IngestedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan segment")
		}

		seg.Region = model.Region(regionStr)
		seg.Topology.DownstreamID = downstream
		seg.Topology.EstuaryType = model.EstuaryType(estuaryType)
		seg.Topology.DistToOceanKM = floatOrNaN(dist)
		seg.GroundTruthPSU = floatOrNaN(truth)

		g, err := ewkb.Unmarshal(geomBytes)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: decode geometry for %s", seg.ID)
		}
		ls, ok := g.(*geom.LineString)
		if !ok {
			return nil, &model.DataIntegrityError{
				Region: seg.Region, Subject: "segment " + seg.ID, Reason: "stored geometry is not a LineString",
			}
		}
		seg.Geometry = ls

		if label.Valid != conf.Valid {
			return nil, &model.DataIntegrityError{
				Region: seg.Region, Subject: "segment " + seg.ID,
				Reason: "prediction pair is half-written (label and confidence must both be set or both null)",
			}
		}
		if label.Valid {
			seg.Prediction = &model.Prediction{
				Label:       model.Class(label.String),
				Confidence:  model.ConfidenceLevel(conf.String),
				Probability: prob.Float64,
			}
		}
		segs = append(segs, seg)
	}
	return segs, eris.Wrap(rows.Err(), "postgres: iterate segments")
}

func (s *PostgresStore) SetDistances(ctx context.Context, region model.Region, distKM map[string]float64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin set distances")
	}
	defer tx.Rollback(ctx)

	for id, d := range distKM {
		if _, err := tx.Exec(ctx,
			`UPDATE segments SET dist_to_ocean_km = $1 WHERE id = $2 AND region = $3`,
			nullFloat(d), id, string(region),
		); err != nil {
			return eris.Wrapf(err, "postgres: set distance for %s", id)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit set distances")
}

var transectCopyColumns = []string{
	"id", "lon", "lat", "tidal_range_m", "wave_height_p50", "wave_height_p95",
	"nearshore_slope", "frac_trees", "frac_crop", "frac_built", "frac_wetland", "frac_mangrove",
}

func (s *PostgresStore) InsertTransects(ctx context.Context, ts []model.Transect) (int64, error) {
	rows := make([][]any, 0, len(ts))
	for _, t := range ts {
		rows = append(rows, []any{
			t.ID, t.Lon, t.Lat,
			nullFloat(t.TidalRangeM), nullFloat(t.WaveHeightP50), nullFloat(t.WaveHeightP95),
			nullFloat(t.NearshoreSlope), nullFloat(t.FracTrees), nullFloat(t.FracCrop),
			nullFloat(t.FracBuilt), nullFloat(t.FracWetland), nullFloat(t.FracMangrove),
		})
	}
	return db.CopyFrom(ctx, s.pool, "transects", transectCopyColumns, rows)
}

func (s *PostgresStore) Transects(ctx context.Context) ([]model.Transect, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, lon, lat, tidal_range_m, wave_height_p50, wave_height_p95,
		       nearshore_slope, frac_trees, frac_crop, frac_built, frac_wetland, frac_mangrove
		FROM transects ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query transects")
	}
	defer rows.Close()

	var ts []model.Transect
	for rows.Next() {
		var t model.Transect
		var tidal, p50, p95, slope, trees, crop, built, wet, mang sql.NullFloat64
		if err := rows.Scan(&t.ID, &t.Lon, &t.Lat, &tidal, &p50, &p95,
			&slope, &trees, &crop, &built, &wet, &mang); err != nil {
			return nil, eris.Wrap(err, "postgres: scan transect")
		}
		t.TidalRangeM = floatOrNaN(tidal)
		t.WaveHeightP50 = floatOrNaN(p50)
		t.WaveHeightP95 = floatOrNaN(p95)
		t.NearshoreSlope = floatOrNaN(slope)
		t.FracTrees = floatOrNaN(trees)
		t.FracCrop = floatOrNaN(crop)
		t.FracBuilt = floatOrNaN(built)
		t.FracWetland = floatOrNaN(wet)
		t.FracMangrove = floatOrNaN(mang)
		ts = append(ts, t)
	}
	return ts, eris.Wrap(rows.Err(), "postgres: iterate transects")
}

func (s *PostgresStore) ReplaceFeatureRows(ctx context.Context, region model.Region, schema model.FeatureSchema, rows []model.FeatureRow) error {
	colsJSON, err := json.Marshal(schema.Columns)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal schema columns")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace feature rows")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO feature_schemas (version, columns) VALUES ($1, $2)
		 ON CONFLICT (version) DO NOTHING`,
		schema.Version, colsJSON,
	); err != nil {
		return eris.Wrap(err, "postgres: upsert feature schema")
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM feature_rows WHERE region = $1`, string(region),
	); err != nil {
		return eris.Wrapf(err, "postgres: clear feature rows for %s", region)
	}

	for i := range rows {
		rowJSON, err := json.Marshal(rows[i])
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal feature row %s", rows[i].SegmentID)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO feature_rows (segment_id, region, schema_version, row) VALUES ($1, $2, $3, $4)`,
			rows[i].SegmentID, string(region), schema.Version, rowJSON,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert feature row %s", rows[i].SegmentID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace feature rows")
}

func (s *PostgresStore) FeatureRows(ctx context.Context, regions []model.Region) (model.FeatureSchema, []model.FeatureRow, error) {
	var schema model.FeatureSchema

	regionStrs := make([]string, len(regions))
	for i, r := range regions {
		regionStrs[i] = string(r)
	}

	query := `SELECT segment_id, schema_version, row FROM feature_rows`
	var args []any
	if len(regions) > 0 {
		query += ` WHERE region = ANY($1)`
		args = append(args, regionStrs)
	}
	query += ` ORDER BY segment_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return schema, nil, eris.Wrap(err, "postgres: query feature rows")
	}
	defer rows.Close()

	var out []model.FeatureRow
	version := ""
	for rows.Next() {
		var segID, ver string
		var rowJSON []byte
		if err := rows.Scan(&segID, &ver, &rowJSON); err != nil {
			return schema, nil, eris.Wrap(err, "postgres: scan feature row")
		}
		if version == "" {
			version = ver
		} else if ver != version {
			return schema, nil, &model.SchemaMismatchError{
				Detail: "feature table holds mixed schema versions " + version + " and " + ver + "; rebuild stale regions",
			}
		}
		var fr model.FeatureRow
		if err := json.Unmarshal(rowJSON, &fr); err != nil {
			return schema, nil, eris.Wrapf(err, "postgres: unmarshal feature row %s", segID)
		}
		out = append(out, fr)
	}
	if err := rows.Err(); err != nil {
		return schema, nil, eris.Wrap(err, "postgres: iterate feature rows")
	}

	if version != "" {
		var colsJSON []byte
		err := s.pool.QueryRow(ctx,
			`SELECT columns FROM feature_schemas WHERE version = $1`, version,
		).Scan(&colsJSON)
		if err != nil {
			return schema, nil, eris.Wrapf(err, "postgres: load feature schema %s", version)
		}
		var cols []string
		if err := json.Unmarshal(colsJSON, &cols); err != nil {
			return schema, nil, eris.Wrap(err, "postgres: unmarshal schema columns")
		}
		schema = model.FeatureSchema{Version: version, Columns: cols}
	}

	return schema, out, nil
}

func (s *PostgresStore) ReplacePredictions(ctx context.Context, region model.Region, preds map[string]model.Prediction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace predictions")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE segments SET predicted_label = NULL, confidence_level = NULL, probability = NULL WHERE region = $1`,
		string(region),
	); err != nil {
		return eris.Wrapf(err, "postgres: clear predictions for %s", region)
	}

	for id, p := range preds {
		if _, err := tx.Exec(ctx,
			`UPDATE segments SET predicted_label = $1, confidence_level = $2, probability = $3 WHERE id = $4 AND region = $5`,
			string(p.Label), string(p.Confidence), p.Probability, id, string(region),
		); err != nil {
			return eris.Wrapf(err, "postgres: set prediction for %s", id)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace predictions")
}

func (s *PostgresStore) RegionStats(ctx context.Context) ([]RegionStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.region,
		       COUNT(*) AS segments,
		       COUNT(s.ground_truth_psu) AS labeled,
		       COUNT(s.predicted_label) AS predicted,
		       (SELECT COUNT(*) FROM feature_rows f WHERE f.region = s.region) AS feature_rows
		FROM segments s GROUP BY s.region ORDER BY s.region`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query region stats")
	}
	defer rows.Close()

	var stats []RegionStats
	for rows.Next() {
		var st RegionStats
		var region string
		if err := rows.Scan(&region, &st.Segments, &st.Labeled, &st.Predicted, &st.FeatureRows); err != nil {
			return nil, eris.Wrap(err, "postgres: scan region stats")
		}
		st.Region = model.Region(region)
		stats = append(stats, st)
	}
	return stats, eris.Wrap(rows.Err(), "postgres: iterate region stats")
}
