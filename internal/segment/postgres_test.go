package segment

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estuary-atlas/estuary-cli/internal/model"
)

func TestPostgres_ReplacePredictionsIsTransactional(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresFromPool(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE segments SET predicted_label = NULL`).
		WithArgs("AF").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectExec(`UPDATE segments SET predicted_label = \$1`).
		WithArgs("Mesohaline", "HIGH", 0.88, "s1", "AF").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = store.ReplacePredictions(context.Background(), model.RegionAfrica, map[string]model.Prediction{
		"s1": {Label: model.ClassMesohaline, Confidence: model.ConfidenceHigh, Probability: 0.88},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReplacePredictionsRollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresFromPool(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE segments SET predicted_label = NULL`).
		WithArgs("AF").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = store.ReplacePredictions(context.Background(), model.RegionAfrica, map[string]model.Prediction{
		"s1": {Label: model.ClassMesohaline, Confidence: model.ConfidenceHigh, Probability: 0.88},
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Transects(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresFromPool(mock)

	rows := pgxmock.NewRows([]string{
		"id", "lon", "lat", "tidal_range_m", "wave_height_p50", "wave_height_p95",
		"nearshore_slope", "frac_trees", "frac_crop", "frac_built", "frac_wetland", "frac_mangrove",
	}).AddRow("T42", 10.0, 45.0, 2.5, 1.1, 3.2, 0.01, 0.4, 0.1, 0.0, 0.2, 0.05)
	mock.ExpectQuery(`SELECT id, lon, lat, tidal_range_m`).WillReturnRows(rows)

	ts, err := store.Transects(context.Background())
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, "T42", ts[0].ID)
	assert.Equal(t, 2.5, ts[0].TidalRangeM)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FeatureRowsMixedVersions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresFromPool(mock)

	rows := pgxmock.NewRows([]string{"segment_id", "schema_version", "row"}).
		AddRow("s1", "aaaa", []byte(`{"segment_id":"s1","region":"AF","values":[1],"label_psu":null}`)).
		AddRow("s2", "bbbb", []byte(`{"segment_id":"s2","region":"AF","values":[1,2],"label_psu":null}`))
	mock.ExpectQuery(`SELECT segment_id, schema_version, row FROM feature_rows`).
		WillReturnRows(rows)

	_, _, err = store.FeatureRows(context.Background(), []model.Region{model.RegionAfrica})
	var mismatch *model.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.NoError(t, mock.ExpectationsWereMet())
}
