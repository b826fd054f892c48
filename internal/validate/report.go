// Package validate runs the independent post-prediction validation methods
// and assembles the run report. No method short-circuits another; every
// method reports even when an earlier one fails.
package validate

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/estuary-atlas/estuary-cli/internal/model"
)

// ClassMetrics are per-class precision/recall/F1 over the holdout.
type ClassMetrics struct {
	Class     model.Class `yaml:"class"`
	Support   int         `yaml:"support"`
	Precision float64     `yaml:"precision"`
	Recall    float64     `yaml:"recall"`
	F1        float64     `yaml:"f1"`
}

// BinResult is one distance stratum's outcome.
type BinResult struct {
	MinKM             float64 `yaml:"min_km"`
	MaxKM             float64 `yaml:"max_km,omitempty"` // 0 means unbounded
	Segments          int     `yaml:"segments"`
	EstuarineFraction float64 `yaml:"estuarine_fraction"`
	MaxEstuarine      float64 `yaml:"max_estuarine"`
	Pass              bool    `yaml:"pass"`
}

// MethodResult is one validation method's record: name, coverage, verdict.
type MethodResult struct {
	Method        string         `yaml:"method"`
	Regions       []model.Region `yaml:"regions"`
	Pass          bool           `yaml:"pass"`
	Informational bool           `yaml:"informational,omitempty"`

	Metrics map[string]float64 `yaml:"metrics,omitempty"`
	Classes []ClassMetrics     `yaml:"classes,omitempty"`
	Bins    []BinResult        `yaml:"bins,omitempty"`
	Notes   []string           `yaml:"notes,omitempty"`
}

// Report is the full validation run. Pass is the conjunction of the binding
// methods; informational methods never flip it.
type Report struct {
	GeneratedAt   time.Time      `yaml:"generated_at"`
	ArtifactID    string         `yaml:"artifact_id"`
	HoldoutRegion model.Region   `yaml:"holdout_region"`
	Methods       []MethodResult `yaml:"methods"`
	Pass          bool           `yaml:"pass"`
}

func (r *Report) finalize() {
	r.Pass = true
	for _, m := range r.Methods {
		if !m.Informational && !m.Pass {
			r.Pass = false
		}
	}
}

// Write serializes the report as YAML.
func (r *Report) Write(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "validate: marshal report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "validate: write report")
	}
	return nil
}
