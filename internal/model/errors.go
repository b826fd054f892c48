package model

import "fmt"

// DataIntegrityError reports malformed source data: a non-terminating
// downstream chain, duplicate segment IDs, or a geometry/attribute count
// mismatch. The offending region's run is aborted, never retried.
type DataIntegrityError struct {
	Region  Region
	Subject string // segment or dataset the problem was found in
	Reason  string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: %s in region %s: %s", e.Subject, e.Region, e.Reason)
}

// SchemaMismatchError reports a feature-table schema that diverges from the
// schema a model artifact was trained against. Fatal, never coerced.
type SchemaMismatchError struct {
	Expected []string
	Got      []string
	Detail   string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: %s (expected %d columns, got %d)",
		e.Detail, len(e.Expected), len(e.Got))
}

// InsufficientDataError reports too little labeled data to train, or an
// entire region without a single in-range coastal transect.
type InsufficientDataError struct {
	Stage    string
	Have     int
	Required int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: have %d rows, need %d", e.Stage, e.Have, e.Required)
}
