package ml

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/estuary-atlas/estuary-cli/internal/model"
)

// FeatureImportance is one entry of the descending importance ranking.
type FeatureImportance struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// ModelArtifact is one immutable training run: the ensemble, the exact
// feature schema it expects, and the provenance needed to audit it. A new
// run produces a new artifact; nothing ever rewrites an existing one.
type ModelArtifact struct {
	ID            string              `json:"id"`
	CreatedAt     time.Time           `json:"created_at"`
	Schema        model.FeatureSchema `json:"schema"`
	Classes       []model.Class       `json:"classes"`
	HoldoutRegion model.Region        `json:"holdout_region"`
	TrainedRows   int                 `json:"trained_rows"`

	Hyperparameters Hyperparameters     `json:"hyperparameters"`
	CVAccuracy      float64             `json:"cv_accuracy"`
	Importances     []FeatureImportance `json:"importances"`

	Forest *Forest `json:"forest"`
}

func newArtifact() *ModelArtifact {
	return &ModelArtifact{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
}

// Save writes the artifact as JSON.
func (a *ModelArtifact) Save(path string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return eris.Wrap(err, "ml: marshal artifact")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "ml: write artifact")
	}
	return nil
}

// LoadArtifact reads an artifact from disk.
func LoadArtifact(path string) (*ModelArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ml: read artifact")
	}
	var a ModelArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, eris.Wrap(err, "ml: unmarshal artifact")
	}
	if a.Forest == nil || len(a.Schema.Columns) == 0 {
		return nil, eris.Errorf("ml: artifact %s is incomplete", path)
	}
	return &a, nil
}

// ClassIndex maps a class to its position in the artifact's class order.
func (a *ModelArtifact) ClassIndex(c model.Class) int {
	for i, known := range a.Classes {
		if known == c {
			return i
		}
	}
	return -1
}
