package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/estuary-atlas/estuary-cli/internal/coastal"
	"github.com/estuary-atlas/estuary-cli/internal/features"
	"github.com/estuary-atlas/estuary-cli/internal/ml"
	"github.com/estuary-atlas/estuary-cli/internal/model"
	"github.com/estuary-atlas/estuary-cli/internal/physics"
	"github.com/estuary-atlas/estuary-cli/internal/predict"
	"github.com/estuary-atlas/estuary-cli/internal/validate"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run extract, physics, coastal, train, predict and validate in order",
	Long: `Runs every pipeline stage over all regions against an already-ingested
store. Feature rows are rebuilt in full; a failing stage aborts the run
before the next stage starts.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate(); err != nil {
			return err
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		log := zap.L().With(zap.String("command", "pipeline"))
		regions := model.AllRegions

		holdoutStr, _ := cmd.Flags().GetString("holdout")
		if holdoutStr == "" {
			holdoutStr = cfg.Train.HoldoutRegion
		}
		holdout := model.Region(holdoutStr)
		if !model.ValidRegion(holdout) {
			return eris.Errorf("unknown holdout region %q", holdoutStr)
		}

		log.Info("stage start", zap.String("stage", "extract"))
		if err := features.ExtractRegions(ctx, store, regions, features.Options{
			MaxDownstreamHops: cfg.Extract.MaxDownstreamHops,
			Workers:           cfg.Extract.Workers,
		}); err != nil {
			return eris.Wrap(err, "pipeline: extract")
		}

		if cfg.Physics.GridDir != "" {
			log.Info("stage start", zap.String("stage", "physics"))
			grids, err := physics.OpenGridSet(cfg.Physics.GridDir)
			if err != nil {
				return err
			}
			if err := physics.IntegrateRegions(ctx, store, grids, regions, physics.Options{
				Policy: physics.Policy{
					FillValue:       cfg.Physics.FillValue,
					MaxSalinityPSU:  cfg.Physics.MaxSalinityPSU,
					MaxDischargeM3S: cfg.Physics.MaxDischargeM3S,
					MinTempC:        cfg.Physics.MinTempC,
					MaxTempC:        cfg.Physics.MaxTempC,
				},
				Workers: cfg.Extract.Workers,
			}); err != nil {
				return eris.Wrap(err, "pipeline: physics")
			}
		} else {
			log.Warn("physics.grid_dir not set, skipping physics stage")
		}

		log.Info("stage start", zap.String("stage", "coastal"))
		if err := coastal.IntegrateRegions(ctx, store, regions, coastal.Options{
			MaxAssociationKM: cfg.Coastal.MaxAssociationKM,
			Workers:          cfg.Coastal.Workers,
		}); err != nil {
			return eris.Wrap(err, "pipeline: coastal")
		}

		log.Info("stage start", zap.String("stage", "train"))
		artifact, err := ml.Train(ctx, store, ml.TrainOptions{
			HoldoutRegion:  holdout,
			MinLabeledRows: cfg.Train.MinLabeledRows,
			CVFolds:        cfg.Train.CVFolds,
			Seed:           cfg.Train.Seed,
			Grid: ml.ExpandGrid(
				cfg.Train.Grid.Trees,
				cfg.Train.Grid.MaxDepth,
				cfg.Train.Grid.MinLeafSize,
			),
		})
		if err != nil {
			return eris.Wrap(err, "pipeline: train")
		}
		modelPath, _ := cmd.Flags().GetString("model-out")
		if err := artifact.Save(modelPath); err != nil {
			return err
		}

		log.Info("stage start", zap.String("stage", "predict"))
		if err := predict.Regions(ctx, store, artifact, regions, predict.Options{
			Confidence: cfg.Predict.Confidence,
			Workers:    cfg.Extract.Workers,
		}); err != nil {
			return eris.Wrap(err, "pipeline: predict")
		}

		log.Info("stage start", zap.String("stage", "validate"))
		report, err := validate.Run(ctx, store, artifact, validate.Options{
			MinHoldoutAccuracy: cfg.Validation.MinHoldoutAccuracy,
			DistanceBins:       cfg.Validation.DistanceBins,
		})
		if err != nil {
			return eris.Wrap(err, "pipeline: validate")
		}
		reportPath, _ := cmd.Flags().GetString("report-out")
		if err := report.Write(reportPath); err != nil {
			return err
		}

		fmt.Println(report.Summary())
		if !report.Pass {
			return errValidationFailed
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	pipelineCmd.Flags().String("holdout", "", "holdout region code (default: from config)")
	pipelineCmd.Flags().String("model-out", "model.json", "artifact output path")
	pipelineCmd.Flags().String("report-out", "report.yaml", "validation report output path")
	rootCmd.AddCommand(pipelineCmd)
}
