package segment

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	_ "modernc.org/sqlite"

	"github.com/estuary-atlas/estuary-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS segments (
	id               TEXT PRIMARY KEY,
	region           TEXT NOT NULL,
	geom             BLOB NOT NULL,
	strahler_order   INTEGER NOT NULL,
	length_m         REAL NOT NULL,
	upstream_area_km2 REAL NOT NULL,
	downstream_id    TEXT NOT NULL DEFAULT '',
	elevation_m      REAL NOT NULL,
	slope            REAL NOT NULL,
	sinuosity        REAL NOT NULL,
	is_mainstem      INTEGER NOT NULL DEFAULT 0,
	is_ocean_sink    INTEGER NOT NULL DEFAULT 0,
	dist_to_ocean_km REAL,
	estuary_type     INTEGER NOT NULL DEFAULT 0,
	in_typed_estuary INTEGER NOT NULL DEFAULT 0,
	ground_truth_psu REAL,
	predicted_label  TEXT,
	confidence_level TEXT,
	probability      REAL,
	ingested_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS transects (
	id               TEXT PRIMARY KEY,
	lon              REAL NOT NULL,
	lat              REAL NOT NULL,
	tidal_range_m    REAL,
	wave_height_p50  REAL,
	wave_height_p95  REAL,
	nearshore_slope  REAL,
	frac_trees       REAL,
	frac_crop        REAL,
	frac_built       REAL,
	frac_wetland     REAL,
	frac_mangrove    REAL
);

CREATE TABLE IF NOT EXISTS feature_schemas (
	version    TEXT PRIMARY KEY,
	columns    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS feature_rows (
	segment_id     TEXT PRIMARY KEY REFERENCES segments(id),
	region         TEXT NOT NULL,
	schema_version TEXT NOT NULL REFERENCES feature_schemas(version),
	row            TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_segments_region ON segments(region);
CREATE INDEX IF NOT EXISTS idx_feature_rows_region ON feature_rows(region);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertSegments(ctx context.Context, segs []model.Segment) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert segments")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO segments (
			id, region, geom, strahler_order, length_m, upstream_area_km2,
			downstream_id, elevation_m, slope, sinuosity, is_mainstem,
			is_ocean_sink, dist_to_ocean_km, estuary_type, in_typed_estuary,
			ground_truth_psu, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert segment")
	}
	defer stmt.Close()

	seen := make(map[string]bool, len(segs))
	var n int64
	for i := range segs {
		seg := &segs[i]
		if seen[seg.ID] {
			return n, &model.DataIntegrityError{
				Region: seg.Region, Subject: "segment " + seg.ID, Reason: "duplicate segment id in batch",
			}
		}
		seen[seg.ID] = true

		geomBytes, err := ewkb.Marshal(seg.Geometry, ewkb.NDR)
		if err != nil {
			return n, eris.Wrapf(err, "sqlite: encode geometry for %s", seg.ID)
		}

		ingested := seg.IngestedAt
		if ingested.IsZero() {
			ingested = time.Now().UTC()
		}

		if _, err := stmt.ExecContext(ctx,
			seg.ID, string(seg.Region), geomBytes,
			seg.Topology.StrahlerOrder, seg.Topology.LengthM, seg.Topology.UpstreamAreaKM2,
			seg.Topology.DownstreamID, seg.Topology.ElevationM, seg.Topology.Slope,
			seg.Topology.Sinuosity, boolInt(seg.Topology.IsMainstem), boolInt(seg.Topology.IsOceanSink),
			nullFloat(seg.Topology.DistToOceanKM), int(seg.Topology.EstuaryType),
			boolInt(seg.Topology.InTypedEstuary), nullFloat(seg.GroundTruthPSU), ingested,
		); err != nil {
			return n, eris.Wrapf(err, "sqlite: insert segment %s", seg.ID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return n, eris.Wrap(err, "sqlite: commit insert segments")
	}
	return n, nil
}

const segmentColumns = `
	id, region, geom, strahler_order, length_m, upstream_area_km2,
	downstream_id, elevation_m, slope, sinuosity, is_mainstem, is_ocean_sink,
	dist_to_ocean_km, estuary_type, in_typed_estuary, ground_truth_psu,
	predicted_label, confidence_level, probability, ingested_at`

func (s *SQLiteStore) SegmentsByRegion(ctx context.Context, region model.Region) ([]model.Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE region = ? ORDER BY id`,
		string(region),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query segments for %s", region)
	}
	defer rows.Close()

	var segs []model.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segs = append(segs, *seg)
	}
	return segs, eris.Wrap(rows.Err(), "sqlite: iterate segments")
}

func (s *SQLiteStore) SetDistances(ctx context.Context, region model.Region, distKM map[string]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin set distances")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE segments SET dist_to_ocean_km = ? WHERE id = ? AND region = ?`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare set distance")
	}
	defer stmt.Close()

	for id, d := range distKM {
		if _, err := stmt.ExecContext(ctx, nullFloat(d), id, string(region)); err != nil {
			return eris.Wrapf(err, "sqlite: set distance for %s", id)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit set distances")
}

func (s *SQLiteStore) InsertTransects(ctx context.Context, ts []model.Transect) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert transects")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transects (
			id, lon, lat, tidal_range_m, wave_height_p50, wave_height_p95,
			nearshore_slope, frac_trees, frac_crop, frac_built, frac_wetland, frac_mangrove
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert transect")
	}
	defer stmt.Close()

	var n int64
	for _, t := range ts {
		if _, err := stmt.ExecContext(ctx,
			t.ID, t.Lon, t.Lat,
			nullFloat(t.TidalRangeM), nullFloat(t.WaveHeightP50), nullFloat(t.WaveHeightP95),
			nullFloat(t.NearshoreSlope), nullFloat(t.FracTrees), nullFloat(t.FracCrop),
			nullFloat(t.FracBuilt), nullFloat(t.FracWetland), nullFloat(t.FracMangrove),
		); err != nil {
			return n, eris.Wrapf(err, "sqlite: insert transect %s", t.ID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return n, eris.Wrap(err, "sqlite: commit insert transects")
	}
	return n, nil
}

func (s *SQLiteStore) Transects(ctx context.Context) ([]model.Transect, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lon, lat, tidal_range_m, wave_height_p50, wave_height_p95,
		       nearshore_slope, frac_trees, frac_crop, frac_built, frac_wetland, frac_mangrove
		FROM transects ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query transects")
	}
	defer rows.Close()

	var ts []model.Transect
	for rows.Next() {
		var t model.Transect
		var tidal, p50, p95, slope, trees, crop, built, wet, mang sql.NullFloat64
		if err := rows.Scan(&t.ID, &t.Lon, &t.Lat, &tidal, &p50, &p95,
			&slope, &trees, &crop, &built, &wet, &mang); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan transect")
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
	return ts, eris.Wrap(rows.Err(), "sqlite: iterate transects")
}

func (s *SQLiteStore) ReplaceFeatureRows(ctx context.Context, region model.Region, schema model.FeatureSchema, rows []model.FeatureRow) error {
	colsJSON, err := json.Marshal(schema.Columns)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal schema columns")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace feature rows")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO feature_schemas (version, columns) VALUES (?, ?)
		 ON CONFLICT (version) DO NOTHING`,
		schema.Version, string(colsJSON),
	); err != nil {
		return eris.Wrap(err, "sqlite: upsert feature schema")
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM feature_rows WHERE region = ?`, string(region),
	); err != nil {
		return eris.Wrapf(err, "sqlite: clear feature rows for %s", region)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO feature_rows (segment_id, region, schema_version, row) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert feature row")
	}
	defer stmt.Close()

	for i := range rows {
		rowJSON, err := json.Marshal(rows[i])
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal feature row %s", rows[i].SegmentID)
		}
		if _, err := stmt.ExecContext(ctx,
			rows[i].SegmentID, string(region), schema.Version, string(rowJSON),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert feature row %s", rows[i].SegmentID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit replace feature rows")
}

func (s *SQLiteStore) FeatureRows(ctx context.Context, regions []model.Region) (model.FeatureSchema, []model.FeatureRow, error) {
	var schema model.FeatureSchema

	query := `SELECT segment_id, schema_version, row FROM feature_rows`
	var args []any
	if len(regions) > 0 {
		query += ` WHERE region IN (?` + repeatPlaceholder(len(regions)-1) + `)`
		for _, r := range regions {
			args = append(args, string(r))
		}
	}
	query += ` ORDER BY segment_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return schema, nil, eris.Wrap(err, "sqlite: query feature rows")
	}
	defer rows.Close()

	var out []model.FeatureRow
	version := ""
	for rows.Next() {
		var segID, ver, rowJSON string
		if err := rows.Scan(&segID, &ver, &rowJSON); err != nil {
			return schema, nil, eris.Wrap(err, "sqlite: scan feature row")
		}
		if version == "" {
			version = ver
		} else if ver != version {
			return schema, nil, &model.SchemaMismatchError{
				Detail: "feature table holds mixed schema versions " + version + " and " + ver + "; rebuild stale regions",
			}
		}
		var fr model.FeatureRow
		if err := json.Unmarshal([]byte(rowJSON), &fr); err != nil {
			return schema, nil, eris.Wrapf(err, "sqlite: unmarshal feature row %s", segID)
		}
		out = append(out, fr)
	}
	if err := rows.Err(); err != nil {
		return schema, nil, eris.Wrap(err, "sqlite: iterate feature rows")
	}

	if version != "" {
		var colsJSON string
		err := s.db.QueryRowContext(ctx,
			`SELECT columns FROM feature_schemas WHERE version = ?`, version,
		).Scan(&colsJSON)
		if err != nil {
			return schema, nil, eris.Wrapf(err, "sqlite: load feature schema %s", version)
		}
		var cols []string
		if err := json.Unmarshal([]byte(colsJSON), &cols); err != nil {
			return schema, nil, eris.Wrap(err, "sqlite: unmarshal schema columns")
		}
		schema = model.FeatureSchema{Version: version, Columns: cols}
	}

	return schema, out, nil
}

func (s *SQLiteStore) ReplacePredictions(ctx context.Context, region model.Region, preds map[string]model.Prediction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace predictions")
	}
	defer tx.Rollback()

	// Full-region replace: clear first so a rerun never leaves a stale pair
	// behind for segments missing from this run's prediction set.
	if _, err := tx.ExecContext(ctx,
		`UPDATE segments SET predicted_label = NULL, confidence_level = NULL, probability = NULL WHERE region = ?`,
		string(region),
	); err != nil {
		return eris.Wrapf(err, "sqlite: clear predictions for %s", region)
	}

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE segments SET predicted_label = ?, confidence_level = ?, probability = ? WHERE id = ? AND region = ?`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare set prediction")
	}
	defer stmt.Close()

	for id, p := range preds {
		if _, err := stmt.ExecContext(ctx,
			string(p.Label), string(p.Confidence), p.Probability, id, string(region),
		); err != nil {
			return eris.Wrapf(err, "sqlite: set prediction for %s", id)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit replace predictions")
}

func (s *SQLiteStore) RegionStats(ctx context.Context) ([]RegionStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.region,
		       COUNT(*) AS segments,
		       SUM(CASE WHEN s.ground_truth_psu IS NOT NULL THEN 1 ELSE 0 END) AS labeled,
		       SUM(CASE WHEN s.predicted_label IS NOT NULL THEN 1 ELSE 0 END) AS predicted,
		       (SELECT COUNT(*) FROM feature_rows f WHERE f.region = s.region) AS feature_rows
		FROM segments s GROUP BY s.region ORDER BY s.region`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query region stats")
	}
	defer rows.Close()

	var stats []RegionStats
	for rows.Next() {
		var st RegionStats
		var region string
		if err := rows.Scan(&region, &st.Segments, &st.Labeled, &st.Predicted, &st.FeatureRows); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan region stats")
		}
		st.Region = model.Region(region)
		stats = append(stats, st)
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: iterate region stats")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanSegment(row scannable) (*model.Segment, error) {
	var seg model.Segment
	var region, downstream string
	var geomBytes []byte
	var mainstem, sink, inEstuary int
	var estuaryType int
	var dist, truth, prob sql.NullFloat64
	var label, conf sql.NullString

	if err := row.Scan(
		&seg.ID, &region, &geomBytes,
		&seg.Topology.StrahlerOrder, &seg.Topology.LengthM, &seg.Topology.UpstreamAreaKM2,
		&downstream, &seg.Topology.ElevationM, &seg.Topology.Slope, &seg.Topology.Sinuosity,
		&mainstem, &sink, &dist, &estuaryType, &inEstuary, &truth,
		&label, &conf, &prob, &seg.IngestedAt,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan segment")
	}

	seg.Region = model.Region(region)
	seg.Topology.DownstreamID = downstream
	seg.Topology.IsMainstem = mainstem != 0
	seg.Topology.IsOceanSink = sink != 0
	seg.Topology.InTypedEstuary = inEstuary != 0
	seg.Topology.EstuaryType = model.EstuaryType(estuaryType)
	seg.Topology.DistToOceanKM = floatOrNaN(dist)
	seg.GroundTruthPSU = floatOrNaN(truth)

	g, err := ewkb.Unmarshal(geomBytes)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode geometry for %s", seg.ID)
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

	return &seg, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullFloat(f float64) any {
	if math.IsNaN(f) {
		return nil
	}
	return f
}

func floatOrNaN(f sql.NullFloat64) float64 {
	if !f.Valid {
		return math.NaN()
	}
	return f.Float64
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
