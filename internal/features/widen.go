package features

import (
	"math"

	"github.com/estuary-atlas/estuary-cli/internal/model"
)

// Widened is a feature table mid-rewrite: the schema extended with a new
// column group and every row padded to match.
type Widened struct {
	Schema model.FeatureSchema
	Rows   []model.FeatureRow
	index  map[string]int
}

// Widen appends cols to the schema, padding every row with NaN. Re-running a
// stage against rows it already widened reuses the existing columns instead
// of appending duplicates; a schema carrying only part of the group is
// corrupt and rejected.
func Widen(schema model.FeatureSchema, rows []model.FeatureRow, cols []string) (*Widened, error) {
	colSet := schema.Columns
	found := 0
	for _, c := range cols {
		if schema.Index(c) >= 0 {
			found++
		}
	}
	present := found == len(cols)
	switch {
	case found == 0:
		colSet = append(append([]string{}, schema.Columns...), cols...)
	case !present:
		return nil, &model.SchemaMismatchError{
			Expected: cols,
			Got:      schema.Columns,
			Detail:   "existing schema carries part of the column group",
		}
	}

	out := &Widened{
		Schema: model.NewFeatureSchema(colSet),
		Rows:   rows,
		index:  make(map[string]int, len(colSet)),
	}
	for i, c := range colSet {
		out.index[c] = i
	}

	if !present {
		pad := len(cols)
		for i := range out.Rows {
			values := make([]float64, len(schema.Columns), len(schema.Columns)+pad)
			copy(values, out.Rows[i].Values)
			for j := 0; j < pad; j++ {
				values = append(values, math.NaN())
			}
			out.Rows[i].Values = values
		}
	}
	return out, nil
}

// Set writes one named column of a row.
func (w *Widened) Set(row *model.FeatureRow, col string, v float64) {
	row.Values[w.index[col]] = v
}

// Null clears every named column of a row. Integrators call it on rows they
// cannot attribute this run, so reused columns never carry values from a
// previous run's inputs.
func (w *Widened) Null(row *model.FeatureRow, cols []string) {
	for _, c := range cols {
		row.Values[w.index[c]] = math.NaN()
	}
}
