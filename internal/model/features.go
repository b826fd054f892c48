package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// FeatureSchema is the versioned, ordered set of feature columns carried
// alongside every feature table and model artifact. Two schemas are
// compatible only when they agree on column identity AND order; the schema
// hash makes that check cheap and explicit.
type FeatureSchema struct {
	Version string   `json:"version"`
	Columns []string `json:"columns"`
}

// NewFeatureSchema builds a schema over the given ordered columns, deriving
// the version hash from column identity and order.
func NewFeatureSchema(columns []string) FeatureSchema {
	sum := sha256.Sum256([]byte(strings.Join(columns, "\x1f")))
	return FeatureSchema{
		Version: hex.EncodeToString(sum[:8]),
		Columns: append([]string(nil), columns...),
	}
}

// Index returns the position of a column, or -1 when absent.
func (s FeatureSchema) Index(column string) int {
	for i, c := range s.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Validate checks structural compatibility against another schema. It
// returns a SchemaMismatchError naming the first divergence rather than a
// bare presence check.
func (s FeatureSchema) Validate(other FeatureSchema) error {
	if len(s.Columns) != len(other.Columns) {
		return &SchemaMismatchError{
			Expected: s.Columns,
			Got:      other.Columns,
			Detail:   "column count differs",
		}
	}
	for i, c := range s.Columns {
		if other.Columns[i] != c {
			return &SchemaMismatchError{
				Expected: s.Columns,
				Got:      other.Columns,
				Detail:   "column " + c + " expected at position " + strconv.Itoa(i) + ", found " + other.Columns[i],
			}
		}
	}
	if s.Version != other.Version {
		return &SchemaMismatchError{
			Expected: s.Columns,
			Got:      other.Columns,
			Detail:   "schema version " + other.Version + " does not match " + s.Version,
		}
	}
	return nil
}

// FeatureRow is the flattened join of all feature groups for one segment.
// Values are positional against the row's schema; NaN marks a missing
// column. A missing upstream feature nulls the column, never drops the row.
type FeatureRow struct {
	SegmentID string    `json:"segment_id"`
	Region    Region    `json:"region"`
	Values    []float64 `json:"-"`

	// LabelPSU is the ground-truth salinity carried through for training;
	// NaN when the segment has no observation.
	LabelPSU float64 `json:"-"`
}

// Value returns the feature at position i and whether it is present.
func (r *FeatureRow) Value(i int) (float64, bool) {
	if i < 0 || i >= len(r.Values) {
		return 0, false
	}
	v := r.Values[i]
	return v, !math.IsNaN(v)
}

// HasLabel reports whether the row carries a ground-truth observation.
func (r *FeatureRow) HasLabel() bool { return !math.IsNaN(r.LabelPSU) }

// Class returns the Venice class of the ground-truth label.
func (r *FeatureRow) Class() (Class, bool) { return ClassifySalinity(r.LabelPSU) }

// featureRowJSON is the persisted form: NaN becomes null so the row
// round-trips through JSON columns.
type featureRowJSON struct {
	SegmentID string     `json:"segment_id"`
	Region    Region     `json:"region"`
	Values    []*float64 `json:"values"`
	LabelPSU  *float64   `json:"label_psu"`
}

// MarshalJSON encodes missing values as nulls.
func (r FeatureRow) MarshalJSON() ([]byte, error) {
	out := featureRowJSON{SegmentID: r.SegmentID, Region: r.Region}
	out.Values = make([]*float64, len(r.Values))
	for i, v := range r.Values {
		if !math.IsNaN(v) {
			val := v
			out.Values[i] = &val
		}
	}
	if !math.IsNaN(r.LabelPSU) {
		l := r.LabelPSU
		out.LabelPSU = &l
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes nulls back to NaN.
func (r *FeatureRow) UnmarshalJSON(data []byte) error {
	var in featureRowJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.SegmentID = in.SegmentID
	r.Region = in.Region
	r.Values = make([]float64, len(in.Values))
	for i, v := range in.Values {
		if v == nil {
			r.Values[i] = math.NaN()
		} else {
			r.Values[i] = *v
		}
	}
	if in.LabelPSU == nil {
		r.LabelPSU = math.NaN()
	} else {
		r.LabelPSU = *in.LabelPSU
	}
	return nil
}
