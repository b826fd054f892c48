package validate

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/estuary-atlas/estuary-cli/internal/config"
	"github.com/estuary-atlas/estuary-cli/internal/ml"
	"github.com/estuary-atlas/estuary-cli/internal/model"
	"github.com/estuary-atlas/estuary-cli/internal/physics"
	"github.com/estuary-atlas/estuary-cli/internal/segment"
)

// Savenije (2012) tidal intrusion length scaling, km per (m³/s)^0.2.
const (
	savenijeCoefficient = 30.0
	savenijeExponent    = 0.2
)

// Options configures a validation run.
type Options struct {
	MinHoldoutAccuracy float64
	DistanceBins       []config.DistanceBin
}

// Run executes every validation method against the classified store and
// assembles the report. Methods score the predictions the store holds; none
// of them re-runs the model, so the report describes exactly what a
// downstream consumer of the store would read.
func Run(ctx context.Context, store segment.Store, artifact *ml.ModelArtifact, opts Options) (*Report, error) {
	log := zap.L().With(
		zap.String("component", "validate"),
		zap.String("artifact_id", artifact.ID),
	)

	report := &Report{
		GeneratedAt:   time.Now().UTC(),
		ArtifactID:    artifact.ID,
		HoldoutRegion: artifact.HoldoutRegion,
	}

	holdout, err := holdoutAccuracy(ctx, store, artifact, opts)
	if err != nil {
		return nil, err
	}
	report.Methods = append(report.Methods, *holdout)

	plausibility, err := distancePlausibility(ctx, store, opts)
	if err != nil {
		return nil, err
	}
	report.Methods = append(report.Methods, *plausibility)

	agreement, err := crossSignalAgreement(ctx, store)
	if err != nil {
		return nil, err
	}
	report.Methods = append(report.Methods, *agreement)

	proxy, err := dischargeProxy(ctx, store)
	if err != nil {
		return nil, err
	}
	report.Methods = append(report.Methods, *proxy)

	report.finalize()
	for _, m := range report.Methods {
		log.Info("method finished",
			zap.String("method", m.Method),
			zap.Bool("pass", m.Pass),
			zap.Bool("informational", m.Informational),
		)
	}
	return report, nil
}

// holdoutAccuracy scores the stored predictions against the ground truth of
// the holdout region only. These segments never touched training or
// hyperparameter selection, so this is the one honest generalization
// estimate. The stored predictions are scored as-is, never recomputed: a
// store classified by a different artifact shows up as that artifact's
// accuracy, and a never-predicted store fails instead of reporting a number
// nothing downstream would ever read.
func holdoutAccuracy(ctx context.Context, store segment.Store, artifact *ml.ModelArtifact, opts Options) (*MethodResult, error) {
	result := &MethodResult{
		Method:  "holdout_accuracy",
		Regions: []model.Region{artifact.HoldoutRegion},
		Metrics: map[string]float64{},
	}

	segs, err := store.SegmentsByRegion(ctx, artifact.HoldoutRegion)
	if err != nil {
		return nil, err
	}

	numClasses := len(artifact.Classes)
	confusion := make([][]int, numClasses)
	for i := range confusion {
		confusion[i] = make([]int, numClasses)
	}

	labeled, scored, correct, unknown := 0, 0, 0, 0
	for i := range segs {
		seg := &segs[i]
		truth, ok := model.ClassifySalinity(seg.GroundTruthPSU)
		if !ok {
			continue
		}
		labeled++
		if seg.Prediction == nil {
			continue
		}
		ti, pi := artifact.ClassIndex(truth), artifact.ClassIndex(seg.Prediction.Label)
		if ti < 0 || pi < 0 {
			unknown++
			continue
		}
		scored++
		confusion[ti][pi]++
		if ti == pi {
			correct++
		}
	}

	if labeled == 0 {
		result.Pass = false
		result.Notes = append(result.Notes, "no ground-truth segments in holdout region")
		return result, nil
	}
	if unknown > 0 {
		result.Notes = append(result.Notes,
			fmt.Sprintf("%d segments carry classes outside the artifact's class set", unknown))
	}
	if scored == 0 {
		result.Pass = false
		result.Notes = append(result.Notes, "holdout region has no stored predictions, run predict before validate")
		return result, nil
	}
	if scored < labeled {
		result.Notes = append(result.Notes,
			fmt.Sprintf("%d ground-truth segments have no stored prediction", labeled-scored))
	}

	accuracy := float64(correct) / float64(scored)
	result.Metrics["accuracy"] = accuracy
	result.Metrics["labeled_rows"] = float64(scored)
	result.Pass = accuracy >= opts.MinHoldoutAccuracy

	for ci, class := range artifact.Classes {
		support, predicted, tp := 0, 0, confusion[ci][ci]
		for cj := range artifact.Classes {
			support += confusion[ci][cj]
			predicted += confusion[cj][ci]
		}
		if support == 0 {
			continue
		}
		m := ClassMetrics{Class: class, Support: support}
		if predicted > 0 {
			m.Precision = float64(tp) / float64(predicted)
		}
		m.Recall = float64(tp) / float64(support)
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		result.Classes = append(result.Classes, m)
	}
	return result, nil
}

// distancePlausibility checks the estuarine fraction of predictions in each
// distance-to-ocean stratum against its declared ceiling. A near-coast bin
// saturated with estuarine labels or inland bins leaking them both signal a
// degenerate model even when holdout accuracy looks fine.
func distancePlausibility(ctx context.Context, store segment.Store, opts Options) (*MethodResult, error) {
	result := &MethodResult{
		Method:  "distance_plausibility",
		Regions: model.AllRegions,
		Pass:    true,
	}

	type binTally struct{ total, estuarine int }
	tallies := make([]binTally, len(opts.DistanceBins))

	for _, region := range model.AllRegions {
		segs, err := store.SegmentsByRegion(ctx, region)
		if err != nil {
			return nil, err
		}
		for i := range segs {
			seg := &segs[i]
			if seg.Prediction == nil || math.IsNaN(seg.Topology.DistToOceanKM) {
				continue
			}
			dist := seg.Topology.DistToOceanKM
			for b, bin := range opts.DistanceBins {
				if dist < bin.MinKM {
					continue
				}
				if bin.MaxKM > 0 && dist >= bin.MaxKM {
					continue
				}
				tallies[b].total++
				if seg.Prediction.Label.IsEstuarine() {
					tallies[b].estuarine++
				}
				break
			}
		}
	}

	binned := 0
	for b, bin := range opts.DistanceBins {
		br := BinResult{
			MinKM:        bin.MinKM,
			MaxKM:        bin.MaxKM,
			Segments:     tallies[b].total,
			MaxEstuarine: bin.MaxEstuarine,
			Pass:         true,
		}
		if tallies[b].total > 0 {
			binned += tallies[b].total
			br.EstuarineFraction = float64(tallies[b].estuarine) / float64(tallies[b].total)
			br.Pass = br.EstuarineFraction <= bin.MaxEstuarine
		}
		if !br.Pass {
			result.Pass = false
		}
		result.Bins = append(result.Bins, br)
	}

	// Every bin empty means nothing was predicted, not that the
	// predictions are plausible.
	if binned == 0 {
		result.Pass = false
		result.Notes = append(result.Notes, "no stored predictions fall in any distance bin, run predict before validate")
	}
	return result, nil
}

// crossSignalAgreement compares each stored predicted class with the class
// the physical model's own salinity field implies. The two signals share no
// training path, so their agreement rate is an independent sanity check.
// Informational: the physical model is itself imperfect near coasts.
func crossSignalAgreement(ctx context.Context, store segment.Store) (*MethodResult, error) {
	result := &MethodResult{
		Method:        "cross_signal_agreement",
		Regions:       model.AllRegions,
		Informational: true,
		Pass:          true,
		Metrics:       map[string]float64{},
	}

	hasSalinity := false
	var agreements []float64
	for _, region := range model.AllRegions {
		predicted, err := storedPredictions(ctx, store, region)
		if err != nil {
			return nil, err
		}
		if len(predicted) == 0 {
			continue
		}

		schema, rows, err := store.FeatureRows(ctx, []model.Region{region})
		if err != nil {
			return nil, err
		}
		salIdx := schema.Index(physics.ColSalinity)
		if salIdx < 0 {
			continue
		}
		hasSalinity = true

		for i := range rows {
			label, ok := predicted[rows[i].SegmentID]
			if !ok {
				continue
			}
			psu, ok := rows[i].Value(salIdx)
			if !ok {
				continue
			}
			implied, ok := model.ClassifySalinity(psu)
			if !ok {
				continue
			}
			if label == implied {
				agreements = append(agreements, 1)
			} else {
				agreements = append(agreements, 0)
			}
		}
	}

	result.Metrics["compared_rows"] = float64(len(agreements))
	switch {
	case len(agreements) > 0:
		result.Metrics["agreement"] = stat.Mean(agreements, nil)
	case !hasSalinity:
		result.Notes = append(result.Notes, "feature rows carry no modeled salinity, method skipped")
	default:
		result.Notes = append(result.Notes, "no predicted rows with modeled salinity present")
	}
	return result, nil
}

// storedPredictions maps segment id to stored predicted class for one region.
func storedPredictions(ctx context.Context, store segment.Store, region model.Region) (map[string]model.Class, error) {
	segs, err := store.SegmentsByRegion(ctx, region)
	if err != nil {
		return nil, err
	}
	predicted := make(map[string]model.Class, len(segs))
	for i := range segs {
		if segs[i].Prediction != nil {
			predicted[segs[i].ID] = segs[i].Prediction.Label
		}
	}
	return predicted, nil
}

// dischargeProxy applies the Savenije tidal-intrusion scaling: river
// discharge Q implies a tidal length L of roughly 30·Q^0.2 km. Segments
// inside L should mostly be estuarine; the reported fraction is an
// order-of-magnitude check, not a binding threshold.
func dischargeProxy(ctx context.Context, store segment.Store) (*MethodResult, error) {
	result := &MethodResult{
		Method:        "discharge_proxy",
		Regions:       model.AllRegions,
		Informational: true,
		Pass:          true,
		Metrics:       map[string]float64{},
	}

	hasDischarge := false
	inside, insideEstuarine := 0, 0
	for _, region := range model.AllRegions {
		segs, err := store.SegmentsByRegion(ctx, region)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]*model.Segment, len(segs))
		for i := range segs {
			byID[segs[i].ID] = &segs[i]
		}

		schema, rows, err := store.FeatureRows(ctx, []model.Region{region})
		if err != nil {
			return nil, err
		}
		disIdx := schema.Index(physics.ColDischarge)
		if disIdx < 0 {
			continue
		}
		hasDischarge = true

		for i := range rows {
			q, ok := rows[i].Value(disIdx)
			if !ok || q <= 0 {
				continue
			}
			seg := byID[rows[i].SegmentID]
			if seg == nil || seg.Prediction == nil || math.IsNaN(seg.Topology.DistToOceanKM) {
				continue
			}
			tidalLengthKM := savenijeCoefficient * math.Pow(q, savenijeExponent)
			if seg.Topology.DistToOceanKM > tidalLengthKM {
				continue
			}
			inside++
			if seg.Prediction.Label.IsEstuarine() {
				insideEstuarine++
			}
		}
	}

	result.Metrics["segments_inside_tidal_length"] = float64(inside)
	switch {
	case inside > 0:
		result.Metrics["estuarine_fraction"] = float64(insideEstuarine) / float64(inside)
	case !hasDischarge:
		result.Notes = append(result.Notes, "feature rows carry no discharge, method skipped")
	default:
		result.Notes = append(result.Notes, "no predicted segments inside any discharge-implied tidal length")
	}
	return result, nil
}

// Summary renders a one-line verdict for logs and CLI output.
func (r *Report) Summary() string {
	passed, binding := 0, 0
	for _, m := range r.Methods {
		if m.Informational {
			continue
		}
		binding++
		if m.Pass {
			passed++
		}
	}
	verdict := "FAIL"
	if r.Pass {
		verdict = "PASS"
	}
	return fmt.Sprintf("validation %s (%d/%d binding methods passed, holdout %s)",
		verdict, passed, binding, r.HoldoutRegion)
}
